package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/greeddj/mailbridge-go/internal/apperr"
	"github.com/greeddj/mailbridge-go/internal/model"
	"github.com/greeddj/mailbridge-go/internal/worker"
)

// Gateway runs every provider call as a job on a single lane. Lazy sequences are
// consumed inside the job so no backend work escapes the lane.
type Gateway struct {
	p    Provider
	lane *worker.Lane
	log  *slog.Logger
}

// NewGateway wraps p with lane.
func NewGateway(p Provider, lane *worker.Lane, log *slog.Logger) *Gateway {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Gateway{p: p, lane: lane, log: log}
}

// Collect materializes up to limit items of one collection. capped reports that
// more items existed. On a mid-scan failure the items read so far are returned with the error.
func (g *Gateway) Collect(ctx context.Context, kind model.Kind, collection string, w model.Window, limit int) ([]model.Item, bool, error) {
	var (
		items  []model.Item
		capped bool
	)
	err := g.lane.Do(ctx, "list "+collection, func(ctx context.Context) error {
		seq, err := g.p.ListCollection(ctx, kind, collection, w)
		if err != nil {
			return err
		}
		for item, err := range seq {
			if err != nil {
				return err
			}
			if limit > 0 && len(items) == limit {
				capped = true
				break
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if item.Kind == 0 {
				item.Kind = kind
			}
			if item.Collection == "" {
				item.Collection = collection
			}
			items = append(items, item)
		}
		return nil
	})
	if err != nil {
		return items, capped, classify("list "+collection, err)
	}
	return items, capped, nil
}

// CollectSeries materializes up to limit series of one calendar.
func (g *Gateway) CollectSeries(ctx context.Context, calendar string, w model.Window, limit int) ([]model.Series, bool, error) {
	var (
		series []model.Series
		capped bool
	)
	err := g.lane.Do(ctx, "series "+calendar, func(ctx context.Context) error {
		seq, err := g.p.ListSeries(ctx, calendar, w)
		if err != nil {
			return err
		}
		for s, err := range seq {
			if err != nil {
				return err
			}
			if limit > 0 && len(series) == limit {
				capped = true
				break
			}
			if s.Calendar == "" {
				s.Calendar = calendar
			}
			series = append(series, s)
		}
		return nil
	})
	if err != nil {
		return series, capped, classify("series "+calendar, err)
	}
	return series, capped, nil
}

// Detail fetches one item.
func (g *Gateway) Detail(ctx context.Context, kind model.Kind, ref string) (*model.Detail, error) {
	var d *model.Detail
	err := g.lane.Do(ctx, "detail", func(ctx context.Context) error {
		var err error
		d, err = g.p.FetchItemDetail(ctx, kind, ref)
		return err
	})
	if err != nil {
		return nil, classify("detail", err)
	}
	return d, nil
}

// Attachments fetches the attachments of one message.
func (g *Gateway) Attachments(ctx context.Context, ref string) ([]model.AttachmentContent, error) {
	var out []model.AttachmentContent
	err := g.lane.Do(ctx, "attachments", func(ctx context.Context) error {
		var err error
		out, err = g.p.FetchAttachments(ctx, ref)
		return err
	})
	if err != nil {
		return nil, classify("attachments", err)
	}
	return out, nil
}

// Mutate applies m to ref.
func (g *Gateway) Mutate(ctx context.Context, kind model.Kind, ref string, m model.Mutation) (string, error) {
	var out string
	err := g.lane.Do(ctx, string(m.Kind), func(ctx context.Context) error {
		var err error
		out, err = g.p.SendMutation(ctx, kind, ref, m)
		return err
	})
	if err != nil {
		return "", classify(string(m.Kind), err)
	}
	g.log.Info("mutation applied", "kind", kind.String(), "action", string(m.Kind), "ref", ref)
	return out, nil
}

// FreeBusy queries one attendee.
func (g *Gateway) FreeBusy(ctx context.Context, attendee string, w model.Window, interval time.Duration) ([]model.BusyInterval, error) {
	var out []model.BusyInterval
	err := g.lane.Do(ctx, "freebusy "+attendee, func(ctx context.Context) error {
		var err error
		out, err = g.p.QueryFreeBusy(ctx, attendee, w, interval)
		return err
	})
	if err != nil {
		return nil, classify("freebusy "+attendee, err)
	}
	return out, nil
}

// Collections lists the collections of kind.
func (g *Gateway) Collections(ctx context.Context, kind model.Kind) ([]model.CollectionInfo, error) {
	var out []model.CollectionInfo
	err := g.lane.Do(ctx, "collections", func(ctx context.Context) error {
		var err error
		out, err = g.p.Collections(ctx, kind)
		return err
	})
	if err != nil {
		return nil, classify("collections", err)
	}
	return out, nil
}

// classify keeps coded and caller-cancellation errors and marks the rest as
// provider unavailability.
func classify(op string, err error) error {
	if _, ok := apperr.CodeOf(err); ok {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, worker.ErrClosed) {
		return apperr.ProviderUnavailable(err, "%s", op)
	}
	return apperr.ProviderUnavailable(fmt.Errorf("%s: %w", op, err), "provider call failed")
}
