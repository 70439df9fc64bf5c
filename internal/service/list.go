package service

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/greeddj/mailbridge-go/internal/aggregate"
	"github.com/greeddj/mailbridge-go/internal/apperr"
	"github.com/greeddj/mailbridge-go/internal/features"
	"github.com/greeddj/mailbridge-go/internal/model"
	"github.com/greeddj/mailbridge-go/internal/provider"
	"github.com/greeddj/mailbridge-go/internal/recurrence"
)

// ListOptions narrows a listing. Zero values fall back to the configuration.
type ListOptions struct {
	Collections []string
	Window      model.Window
	Query       string // Keywords, any of which may match, e.g. "invoice, receipt OR refund".
	SearchBody  bool
	MaxResults  int
	UnreadOnly  bool // Messages only.
}

// List aggregates the collections of kind and registers the result as ordinals.
// The window is checked before any provider call.
func (s *Service) List(ctx context.Context, kind model.Kind, opts ListOptions) (*aggregate.Result, error) {
	if err := s.allow(features.ListTool(kind)); err != nil {
		return nil, err
	}
	if err := s.checkWindow(kind, opts.Window); err != nil {
		return nil, err
	}
	if opts.MaxResults < 0 {
		return nil, apperr.InvalidArgument("max results must not be negative")
	}

	log, started := s.begin("list", kind)
	collections, err := s.collections(ctx, kind, opts.Collections)
	if err != nil {
		done(log, started, err)
		return nil, err
	}

	req := aggregate.Request{
		Kind:        kind,
		Collections: collections,
		Window:      opts.Window,
		Query:       aggregate.ParseQuery(opts.Query),
		SearchBody:  opts.SearchBody,
		MaxResults:  cmp.Or(opts.MaxResults, s.cfg.Limits.MaxResults),
		ScanCap:     s.cfg.Limits.ScanCap,
		Ascending:   kind != model.KindMessage,
	}
	if opts.UnreadOnly && kind == model.KindMessage {
		req.Filter = func(it model.Item) bool { return !it.HasFlag(model.FlagSeen) }
	}

	res, err := s.agg.Aggregate(ctx, req)
	if err != nil {
		done(log, started, err)
		return nil, err
	}
	done(log, started, nil, "items", len(res.Items), "truncated", res.Truncated, "failures", len(res.Failures))
	return res, nil
}

// checkWindow rejects empty, reversed and over-long windows.
func (s *Service) checkWindow(kind model.Kind, w model.Window) error {
	if !w.Valid() {
		return apperr.InvalidWindow("window %s is empty or reversed", w)
	}
	maxDays := s.cfg.Limits.MaxDays.For(kind)
	if maxDays > 0 && w.Duration() > time.Duration(maxDays)*24*time.Hour {
		return apperr.InvalidWindow("window %s exceeds the %d-day limit for %s", w, maxDays, kind)
	}
	return nil
}

// collections returns the explicit collections, the configured defaults, or
// every collection the provider knows.
func (s *Service) collections(ctx context.Context, kind model.Kind, explicit []string) ([]string, error) {
	if names := compact(explicit); len(names) > 0 {
		return names, nil
	}
	var configured []string
	switch kind {
	case model.KindMessage:
		configured = s.cfg.IMAP.Folders
	case model.KindEvent:
		configured = s.cfg.Store.Calendars
	case model.KindTask:
		configured = s.cfg.Store.TaskLists
	}
	if names := compact(configured); len(names) > 0 {
		return names, nil
	}

	infos, err := s.gw.Collections(ctx, kind)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name)
	}
	if len(names) == 0 {
		return nil, apperr.NotFound("no %s collections", kind)
	}
	return names, nil
}

func compact(names []string) []string {
	var out []string
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" && !slices.Contains(out, n) {
			out = append(out, n)
		}
	}
	return out
}

// source feeds the aggregator. Events are read as series and expanded into
// occurrences; everything else is passed through.
type source struct {
	gw            *provider.Gateway
	occurrenceCap int
	log           *slog.Logger
}

var _ aggregate.Source = (*source)(nil)

func (src *source) Collect(ctx context.Context, kind model.Kind, collection string, w model.Window, limit int) ([]model.Item, bool, error) {
	if kind != model.KindEvent {
		return src.gw.Collect(ctx, kind, collection, w, limit)
	}

	series, capped, err := src.gw.CollectSeries(ctx, collection, w, limit)
	var items []model.Item
	for _, sr := range series {
		exp, expErr := recurrence.Expand(sr, w, src.occurrenceCap)
		if expErr != nil {
			src.log.Warn("skipping unexpandable series", "calendar", collection, "series", sr.Ref, "error", expErr)
			continue
		}
		if exp.Partial {
			capped = true
		}
		for _, occ := range exp.Occurrences {
			items = append(items, occ.Item(sr))
		}
	}
	slices.SortStableFunc(items, func(a, b model.Item) int { return a.Timestamp.Compare(b.Timestamp) })
	if limit > 0 && len(items) > limit {
		items, capped = items[:limit], true
	}
	return items, capped, err
}
