package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/greeddj/mailbridge-go/internal/apperr"
	"github.com/greeddj/mailbridge-go/internal/features"
	"github.com/greeddj/mailbridge-go/internal/model"
)

// MaxBatch bounds the ordinals of one ActMany call.
const MaxBatch = 50

// BatchResult is the outcome for one ordinal of a batch.
type BatchResult struct {
	Ordinal      int
	Confirmation *Confirmation // Nil when Err is set.
	Err          error
}

func (r BatchResult) String() string {
	if r.Err != nil {
		return fmt.Sprintf("#%d: %v", r.Ordinal, r.Err)
	}
	return r.Confirmation.String()
}

// ActMany applies m to each ordinal in order. A failing ordinal is recorded and the
// batch moves on; each ordinal is invalidated exactly as Act would. Repeated
// ordinals run once. If ctx ends, the results so far are returned with ctx.Err().
func (s *Service) ActMany(ctx context.Context, kind model.Kind, ordinals []int, m model.Mutation) ([]BatchResult, error) {
	if err := s.allow(features.BatchAction); err != nil {
		return nil, err
	}
	if err := s.checkAction(kind, m); err != nil {
		return nil, err
	}
	ordinals = unique(ordinals)
	switch {
	case len(ordinals) == 0:
		return nil, apperr.InvalidArgument("no ordinals given")
	case len(ordinals) > MaxBatch:
		return nil, apperr.InvalidArgument("at most %d ordinals per batch, got %d", MaxBatch, len(ordinals))
	}

	log, started := s.begin("act_many", kind)
	results := make([]BatchResult, 0, len(ordinals))
	failed := 0
	for _, n := range ordinals {
		if err := ctx.Err(); err != nil {
			done(log, started, err, "applied", len(results)-failed, "failed", failed)
			return results, err
		}
		conf, err := s.apply(ctx, kind, n, m)
		if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			done(log, started, err, "applied", len(results)-failed, "failed", failed)
			return results, err
		}
		if err != nil {
			failed++
		}
		results = append(results, BatchResult{Ordinal: n, Confirmation: conf, Err: err})
	}
	done(log, started, nil, "action", string(m.Kind), "applied", len(results)-failed, "failed", failed)
	return results, nil
}

func unique(ordinals []int) []int {
	seen := make(map[int]bool, len(ordinals))
	out := make([]int, 0, len(ordinals))
	for _, n := range ordinals {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}
