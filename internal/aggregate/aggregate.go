// Package aggregate merges items from several collections into one bounded,
// deduplicated, ordered listing and registers the survivors as ordinals.
package aggregate

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/greeddj/mailbridge-go/internal/apperr"
	"github.com/greeddj/mailbridge-go/internal/identity"
	"github.com/greeddj/mailbridge-go/internal/model"
)

const (
	// DefaultMaxResults is used when a request leaves MaxResults unset.
	DefaultMaxResults = 25
	// DefaultScanCap bounds raw items read per collection.
	DefaultScanCap = 400
)

// Source reads at most limit items of one collection. capped reports that more
// items existed. On failure, items read before the error may be returned with it.
type Source interface {
	Collect(ctx context.Context, kind model.Kind, collection string, w model.Window, limit int) (items []model.Item, capped bool, err error)
}

// Request describes one listing.
type Request struct {
	Kind        model.Kind
	Collections []string
	Window      model.Window
	Query       Query
	SearchBody  bool                  // Match the query against the preview as well as the subject.
	MaxResults  int                   // 0 means DefaultMaxResults.
	ScanCap     int                   // 0 means DefaultScanCap.
	Ascending   bool                  // Oldest first instead of newest first.
	Filter      func(model.Item) bool // Optional extra predicate.
}

// CollectionFailure notes a collection that could not be fully scanned.
type CollectionFailure struct {
	Collection string
	Err        error
}

func (f CollectionFailure) String() string {
	return fmt.Sprintf("%s: %v", f.Collection, f.Err)
}

// Scan is the merged, unregistered listing.
type Scan struct {
	Items              []model.Item
	Truncated          bool
	CollectionsScanned int
	Failures           []CollectionFailure
}

// Result is a registered listing.
type Result struct {
	Items              []identity.Entry
	Truncated          bool
	CollectionsScanned int
	Failures           []CollectionFailure
}

// Aggregator runs listings against a Source.
type Aggregator struct {
	src   Source
	cache *identity.Cache
	log   *slog.Logger
}

// New builds an Aggregator.
func New(src Source, cache *identity.Cache, log *slog.Logger) *Aggregator {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Aggregator{src: src, cache: cache, log: log}
}

type tagged struct {
	item model.Item
	coll int
}

// Scan merges the request's collections without touching the identity cache.
// A collection that fails is recorded in Failures and whatever it yielded is kept;
// when every collection fails the error is ProviderUnavailable.
func (a *Aggregator) Scan(ctx context.Context, req Request) (*Scan, error) {
	if len(req.Collections) == 0 {
		return nil, apperr.InvalidArgument("no collections to scan")
	}
	maxResults := cmp.Or(req.MaxResults, DefaultMaxResults)
	scanCap := cmp.Or(req.ScanCap, DefaultScanCap)

	out := &Scan{}
	seen := make(map[string]bool)
	var merged []tagged

	for idx, coll := range req.Collections {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		items, capped, err := a.src.Collect(ctx, req.Kind, coll, req.Window, scanCap)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
				return nil, ctxErr
			}
			a.log.Warn("collection scan failed", "collection", coll, "kept", len(items), "error", err)
			out.Failures = append(out.Failures, CollectionFailure{Collection: coll, Err: err})
		} else {
			out.CollectionsScanned++
		}
		if capped {
			out.Truncated = true
		}

		matched := 0
		for _, it := range items {
			if !req.Window.Contains(it.Timestamp) || seen[it.Ref] {
				continue
			}
			if !req.Query.Empty() && !req.Query.Match(it.Subject, body(it, req.SearchBody)) {
				continue
			}
			if req.Filter != nil && !req.Filter(it) {
				continue
			}
			seen[it.Ref] = true
			merged = append(merged, tagged{item: it, coll: idx})
			matched++
		}
		a.log.Debug("collection scanned", "collection", coll, "read", len(items), "matched", matched, "capped", capped)
	}

	if len(out.Failures) == len(req.Collections) {
		errs := make([]error, 0, len(out.Failures))
		for _, f := range out.Failures {
			errs = append(errs, fmt.Errorf("%s: %w", f.Collection, f.Err))
		}
		return nil, apperr.ProviderUnavailable(errors.Join(errs...), "all %d collections failed", len(errs))
	}

	slices.SortStableFunc(merged, func(x, y tagged) int {
		c := x.item.Timestamp.Compare(y.item.Timestamp)
		if !req.Ascending {
			c = -c
		}
		return cmp.Or(c, cmp.Compare(x.coll, y.coll), cmp.Compare(x.item.Ref, y.item.Ref))
	})
	if len(merged) > maxResults {
		merged = merged[:maxResults]
		out.Truncated = true
	}

	out.Items = make([]model.Item, len(merged))
	for i, t := range merged {
		out.Items[i] = t.item
	}
	return out, nil
}

// Aggregate scans and registers the resulting items in one identity pass. If ctx
// ends during registration the error is returned; entries registered before that
// stay valid.
func (a *Aggregator) Aggregate(ctx context.Context, req Request) (*Result, error) {
	scan, err := a.Scan(ctx, req)
	if err != nil {
		return nil, err
	}

	pass, err := a.cache.Begin(req.Kind)
	if err != nil {
		return nil, err
	}
	res := &Result{
		Items:              make([]identity.Entry, 0, len(scan.Items)),
		Truncated:          scan.Truncated,
		CollectionsScanned: scan.CollectionsScanned,
		Failures:           scan.Failures,
	}
	for _, it := range scan.Items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res.Items = append(res.Items, pass.Assign(it.Ref, it))
	}

	a.log.Info("listing aggregated",
		"kind", req.Kind.String(),
		"collections", len(req.Collections),
		"items", len(res.Items),
		"truncated", res.Truncated,
		"failures", len(res.Failures))
	return res, nil
}

func body(it model.Item, search bool) string {
	if !search {
		return ""
	}
	return it.Preview
}
