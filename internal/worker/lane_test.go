package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLaneRunsOneAtATimeInOrder(t *testing.T) {
	lane := New(Options{}, nil)
	defer lane.Close()

	var (
		running atomic.Int32
		maxSeen atomic.Int32
		mu      sync.Mutex
		order   []int
	)

	block := make(chan struct{})
	started := make(chan struct{})
	var first sync.WaitGroup
	first.Go(func() {
		_ = lane.Do(context.Background(), "blocker", func(context.Context) error {
			close(started)
			<-block
			return nil
		})
	})
	<-started

	var wg sync.WaitGroup
	for i := range 5 {
		// Submit in a fixed order so FIFO can be checked.
		require.Eventually(t, func() bool { return lane.Pending() == i }, time.Second, time.Millisecond)
		wg.Go(func() {
			err := lane.Do(context.Background(), "job", func(context.Context) error {
				n := running.Add(1)
				defer running.Add(-1)
				if n > maxSeen.Load() {
					maxSeen.Store(n)
				}
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		})
	}
	require.Eventually(t, func() bool { return lane.Pending() == 5 }, time.Second, time.Millisecond)
	close(block)
	wg.Wait()
	first.Wait()

	assert.Equal(t, int32(1), maxSeen.Load())
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
	assert.Equal(t, int64(6), lane.Executed())
}

func TestLaneDropsJobCancelledWhileQueued(t *testing.T) {
	lane := New(Options{}, nil)
	defer lane.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	var first sync.WaitGroup
	first.Go(func() {
		_ = lane.Do(context.Background(), "blocker", func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	})
	<-started

	var ran atomic.Bool
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- lane.Do(ctx, "queued", func(context.Context) error {
			ran.Store(true)
			return nil
		})
	}()
	require.Eventually(t, func() bool { return lane.Pending() == 1 }, time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)

	close(release)
	first.Wait()
	require.NoError(t, lane.Do(context.Background(), "after", func(context.Context) error { return nil }))
	assert.False(t, ran.Load(), "cancelled job must not run")
}

func TestLaneWaitsForRunningJob(t *testing.T) {
	lane := New(Options{}, nil)
	defer lane.Close()

	ctx, cancel := context.WithCancel(context.Background())
	var finished atomic.Bool
	err := lane.Do(ctx, "running", func(jobCtx context.Context) error {
		cancel()
		<-jobCtx.Done()
		time.Sleep(10 * time.Millisecond)
		finished.Store(true)
		return jobCtx.Err()
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, finished.Load(), "Do returns only after the job finished")
}

func TestLaneRecoversPanics(t *testing.T) {
	lane := New(Options{}, nil)
	defer lane.Close()

	err := lane.Do(context.Background(), "boom", func(context.Context) error {
		panic("provider exploded")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider exploded")

	assert.NoError(t, lane.Do(context.Background(), "next", func(context.Context) error { return nil }))
}

func TestLaneCallTimeout(t *testing.T) {
	lane := New(Options{CallTimeout: 20 * time.Millisecond}, nil)
	defer lane.Close()

	err := lane.Do(context.Background(), "slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "timed out")
}

func TestLanePropagatesErrors(t *testing.T) {
	lane := New(Options{}, nil)
	defer lane.Close()

	want := errors.New("no such folder")
	assert.ErrorIs(t, lane.Do(context.Background(), "fail", func(context.Context) error { return want }), want)
}

func TestLaneRateLimit(t *testing.T) {
	lane := New(Options{Rate: 50, Burst: 1}, nil)
	defer lane.Close()

	start := time.Now()
	for range 4 {
		require.NoError(t, lane.Do(context.Background(), "limited", func(context.Context) error { return nil }))
	}
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestLaneClosed(t *testing.T) {
	lane := New(Options{}, nil)
	lane.Close()
	lane.Close()

	err := lane.Do(context.Background(), "late", func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrClosed)
}
