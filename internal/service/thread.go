package service

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/greeddj/mailbridge-go/internal/aggregate"
	"github.com/greeddj/mailbridge-go/internal/apperr"
	"github.com/greeddj/mailbridge-go/internal/correlate"
	"github.com/greeddj/mailbridge-go/internal/features"
	"github.com/greeddj/mailbridge-go/internal/model"
)

const (
	defaultThreadLookbackDays = 45
	defaultThreadMessages     = 6
	maxThreadMessages         = 50
)

// ThreadOptions bounds a conversation lookup. Zero values take the defaults.
type ThreadOptions struct {
	LookbackDays int // Days before the message to search; capped by the correlation lookback.
	MaxResults   int
}

// ThreadResult is a conversation, oldest first.
type ThreadResult struct {
	Focus     model.Item
	Items     []model.Item
	Truncated bool
	Failures  []aggregate.CollectionFailure
}

// Thread collects the messages of the conversation the ordinal belongs to, from
// the listed and sent folders, keeping the newest MaxResults. Thread items are not
// registered as ordinals.
func (s *Service) Thread(ctx context.Context, ordinal int, opts ThreadOptions) (*ThreadResult, error) {
	if err := s.allow(features.GetThread); err != nil {
		return nil, err
	}
	lookback := cmp.Or(opts.LookbackDays, min(defaultThreadLookbackDays, s.cfg.Correlation.MaxLookbackDays))
	if lookback < 1 || lookback > s.cfg.Correlation.MaxLookbackDays {
		return nil, apperr.InvalidArgument("lookback must be between 1 and %d days, got %d", s.cfg.Correlation.MaxLookbackDays, lookback)
	}
	limit := cmp.Or(opts.MaxResults, defaultThreadMessages)
	if limit < 1 || limit > maxThreadMessages {
		return nil, apperr.InvalidArgument("max results must be between 1 and %d, got %d", maxThreadMessages, limit)
	}
	entry, err := s.cache.Resolve(model.KindMessage, ordinal)
	if err != nil {
		return nil, err
	}
	focus := entry.Snapshot

	log, started := s.begin("thread", model.KindMessage)
	folders, err := s.collections(ctx, model.KindMessage, nil)
	if err != nil {
		done(log, started, err)
		return nil, err
	}
	folders = compact(slices.Concat(folders, s.cfg.Correlation.SentFolders))

	end := s.opts.Now()
	if focus.Timestamp.After(end) {
		end = focus.Timestamp
	}
	end = end.Add(time.Minute)
	scan, err := s.agg.Scan(ctx, aggregate.Request{
		Kind:        model.KindMessage,
		Collections: folders,
		Window:      model.Window{Start: focus.Timestamp.AddDate(0, 0, -lookback), End: end},
		MaxResults:  limit,
		ScanCap:     s.cfg.Limits.ScanCap,
		Filter:      func(it model.Item) bool { return correlate.Related(focus, it) },
	})
	if err != nil {
		done(log, started, err, "ordinal", ordinal)
		return nil, err
	}
	slices.Reverse(scan.Items)

	done(log, started, nil, "ordinal", ordinal, "messages", len(scan.Items), "folders", len(folders))
	return &ThreadResult{Focus: focus, Items: scan.Items, Truncated: scan.Truncated, Failures: scan.Failures}, nil
}
