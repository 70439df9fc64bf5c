// Package worker provides the serialized lane every provider call runs on.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultQueueSize is the number of jobs that may wait for the lane.
	DefaultQueueSize = 64
	// DefaultCallTimeout bounds a single provider call.
	DefaultCallTimeout = 60 * time.Second
)

// ErrClosed is returned for jobs submitted to, or still queued on, a closed lane.
var ErrClosed = errors.New("worker lane is closed")

// Options configures a Lane.
type Options struct {
	Rate        float64       // Calls per second; 0 disables limiting.
	Burst       int           // Limiter burst, at least 1.
	CallTimeout time.Duration // Per-call deadline; 0 uses DefaultCallTimeout, negative disables it.
	QueueSize   int           // Pending job capacity; 0 uses DefaultQueueSize.
}

const (
	stateQueued int32 = iota
	stateRunning
	stateCancelled
)

type job struct {
	name  string
	ctx   context.Context
	fn    func(ctx context.Context) error
	state atomic.Int32
	done  chan error // Buffered; receives exactly one result unless the job was cancelled.
}

// Lane runs submitted jobs one at a time, in submission order, on a single goroutine.
type Lane struct {
	jobs    chan *job
	limiter *rate.Limiter
	timeout time.Duration
	log     *slog.Logger

	quit      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once

	executed atomic.Int64
}

// New starts a lane.
func New(opts Options, log *slog.Logger) *Lane {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.CallTimeout == 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	limit := rate.Inf
	if opts.Rate > 0 {
		limit = rate.Limit(opts.Rate)
	}
	if opts.Burst < 1 {
		opts.Burst = 1
	}

	l := &Lane{
		jobs:    make(chan *job, opts.QueueSize),
		limiter: rate.NewLimiter(limit, opts.Burst),
		timeout: opts.CallTimeout,
		log:     log,
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go l.loop()
	return l
}

// Do submits fn and waits for it. A job whose ctx ends while it is still queued is
// dropped and Do returns ctx.Err(); a job that already started is waited for, so fn
// never outlives the call.
func (l *Lane) Do(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	j := &job{name: name, ctx: ctx, fn: fn, done: make(chan error, 1)}

	select {
	case l.jobs <- j:
	case <-ctx.Done():
		return ctx.Err()
	case <-l.quit:
		return ErrClosed
	}

	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		if j.state.CompareAndSwap(stateQueued, stateCancelled) {
			l.log.Debug("lane job dropped before start", "job", name)
			return ctx.Err()
		}
		return <-j.done
	case <-l.stopped:
		if j.state.CompareAndSwap(stateQueued, stateCancelled) {
			return ErrClosed
		}
		return <-j.done
	}
}

// Pending returns the number of jobs waiting to start.
func (l *Lane) Pending() int {
	return len(l.jobs)
}

// Executed returns the number of jobs that ran.
func (l *Lane) Executed() int64 {
	return l.executed.Load()
}

// Close stops the lane after the running job. Queued jobs fail with ErrClosed.
func (l *Lane) Close() {
	l.closeOnce.Do(func() {
		close(l.quit)
		<-l.stopped
	})
}

func (l *Lane) loop() {
	defer close(l.stopped)
	for {
		select {
		case j := <-l.jobs:
			l.run(j)
		case <-l.quit:
			for {
				select {
				case j := <-l.jobs:
					if j.state.CompareAndSwap(stateQueued, stateCancelled) {
						j.done <- ErrClosed
					}
				default:
					return
				}
			}
		}
	}
}

func (l *Lane) run(j *job) {
	if !j.state.CompareAndSwap(stateQueued, stateRunning) {
		return
	}

	if err := l.limiter.Wait(j.ctx); err != nil {
		j.done <- fmt.Errorf("%s: %w", j.name, err)
		return
	}

	start := time.Now()
	err := l.call(j)
	l.executed.Add(1)

	if err != nil {
		l.log.Debug("lane job failed", "job", j.name, "duration", time.Since(start), "error", err)
	} else {
		l.log.Debug("lane job done", "job", j.name, "duration", time.Since(start))
	}
	j.done <- err
}

func (l *Lane) call(j *job) (err error) {
	ctx := j.ctx
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			l.log.Error("lane job panicked", "job", j.name, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("%s: panic: %v", j.name, r)
		}
	}()

	err = j.fn(ctx)
	if err != nil && j.ctx.Err() == nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		l.log.Warn("lane job timed out", "job", j.name, "timeout", l.timeout)
		return fmt.Errorf("%s: timed out after %s: %w", j.name, l.timeout, err)
	}
	return err
}
