// Package correlate decides, per inbound message, whether a reply was sent,
// widening the search window only for items that need it.
package correlate

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/greeddj/mailbridge-go/internal/aggregate"
	"github.com/greeddj/mailbridge-go/internal/apperr"
	"github.com/greeddj/mailbridge-go/internal/identity"
	"github.com/greeddj/mailbridge-go/internal/model"
)

const (
	// DefaultSkew tolerates outbound timestamps slightly earlier than the inbound one.
	DefaultSkew = 5 * time.Minute
	// DefaultInitialLookbackDays is the first window length.
	DefaultInitialLookbackDays = 14
	// DefaultMaxLookbackDays bounds escalation.
	DefaultMaxLookbackDays = 180
	// DefaultOutboundScanCap bounds outbound items read per collection per step.
	DefaultOutboundScanCap = 2000

	day = 24 * time.Hour
)

// Status is the reply state of an inbound item.
type Status string

const (
	StatusReplied Status = "replied"
	StatusPending Status = "pending"
)

// Scanner is the part of the aggregator the correlator needs.
type Scanner interface {
	Scan(ctx context.Context, req aggregate.Request) (*aggregate.Scan, error)
}

// Options tunes a Correlator.
type Options struct {
	Skew              time.Duration            // 0 means DefaultSkew.
	UserAddresses     []string                 // When set, only outbound items from these addresses count.
	TrustAnsweredFlag bool                     // Treat \Answered inbound items as replied without scanning.
	OutboundScanCap   int                      // 0 means DefaultOutboundScanCap.
	Now               func() time.Time         // nil means time.Now.
	OnProgress        func(settled, total int) // Optional.
}

// Request names the outbound collections and lookback bounds.
type Request struct {
	Outbound            []string
	InitialLookbackDays int // 0 means DefaultInitialLookbackDays.
	MaxLookbackDays     int // 0 means DefaultMaxLookbackDays.
}

// Result is the verdict for one inbound item.
type Result struct {
	Ordinal               int
	InboundRef            string
	Subject               string
	From                  string
	ReceivedAt            time.Time
	Status                Status
	MatchedOutboundRef    string
	MatchedAt             time.Time
	EffectiveLookbackDays int
	Degraded              bool
	Note                  string
}

// Correlator matches inbound items to outbound replies.
type Correlator struct {
	scan Scanner
	opts Options
	log  *slog.Logger
	own  map[string]bool
}

// New builds a Correlator.
func New(scan Scanner, opts Options, log *slog.Logger) *Correlator {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	opts.Skew = cmp.Or(opts.Skew, DefaultSkew)
	opts.OutboundScanCap = cmp.Or(opts.OutboundScanCap, DefaultOutboundScanCap)
	if opts.Now == nil {
		opts.Now = time.Now
	}
	own := make(map[string]bool, len(opts.UserAddresses))
	for _, a := range opts.UserAddresses {
		own[model.NormalizeAddress(a)] = true
	}
	return &Correlator{scan: scan, opts: opts, log: log, own: own}
}

type candidate struct {
	ref string
	at  time.Time
}

// pending tracks one unresolved inbound item.
type pending struct {
	idx      int
	key      string
	ts       time.Time
	lookback int // Days covered so far.
}

// Correlate returns one result per inbound entry, in input order.
//
// Each item is first checked in [ts-skew, ts+initial]. Items with no match whose
// window ends before now are re-checked with the lookback doubled, capped at max,
// and each step scans only the span added since the previous one. The earliest
// matching outbound item wins. A failed outbound scan leaves the affected items
// pending and marked degraded.
func (c *Correlator) Correlate(ctx context.Context, inbound []identity.Entry, req Request) ([]Result, error) {
	initial := cmp.Or(req.InitialLookbackDays, DefaultInitialLookbackDays)
	maxDays := cmp.Or(req.MaxLookbackDays, DefaultMaxLookbackDays)
	if initial < 1 || maxDays < initial {
		return nil, apperr.InvalidArgument("lookback must satisfy 1 <= initial (%d) <= max (%d)", initial, maxDays)
	}
	if len(req.Outbound) == 0 {
		return nil, apperr.InvalidArgument("no outbound collections to correlate against")
	}

	now := c.opts.Now()
	results := make([]Result, len(inbound))
	var open []*pending
	for i, e := range inbound {
		results[i] = Result{
			Ordinal:               e.Ordinal,
			InboundRef:            e.Ref,
			Subject:               e.Snapshot.Subject,
			From:                  cmp.Or(e.Snapshot.FromAddress, e.Snapshot.From),
			ReceivedAt:            e.Snapshot.Timestamp,
			Status:                StatusPending,
			EffectiveLookbackDays: initial,
		}
		if c.opts.TrustAnsweredFlag && e.Snapshot.HasFlag(model.FlagAnswered) {
			results[i].Status = StatusReplied
			results[i].Note = "marked answered"
			continue
		}
		open = append(open, &pending{idx: i, key: inboundKey(e.Snapshot), ts: e.Snapshot.Timestamp})
	}
	settled := len(inbound) - len(open)
	c.progress(settled, len(inbound))

	index := make(map[string][]candidate)
	var covered model.Window // Outbound time already scanned; grows only to the right.

	for step, lookback := 0, initial; len(open) > 0; step++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// The span this step must cover, across all open items.
		need := model.Window{Start: open[0].ts.Add(-c.opts.Skew), End: windowEnd(open[0].ts, lookback)}
		for _, p := range open[1:] {
			need.Start = earlier(need.Start, p.ts.Add(-c.opts.Skew))
			need.End = later(need.End, windowEnd(p.ts, lookback))
		}
		span := need
		if step > 0 {
			span.Start = covered.End
		}

		note, err := c.collect(ctx, req.Outbound, span, index)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.log.Warn("outbound scan failed", "step", step, "lookback_days", lookback, "error", err)
			for _, p := range open {
				r := &results[p.idx]
				r.Degraded = true
				r.Note = fmt.Sprintf("reply check incomplete: %v", err)
				if step > 0 {
					r.EffectiveLookbackDays = p.lookback
				}
			}
			break
		}
		if step == 0 {
			covered = span
		} else {
			covered.End = later(covered.End, span.End)
		}

		var still []*pending
		for _, p := range open {
			r := &results[p.idx]
			if m, ok := earliest(index[p.key], p.ts.Add(-c.opts.Skew), p.ts.Add(days(lookback))); ok {
				r.Status = StatusReplied
				r.MatchedOutboundRef = m.ref
				r.MatchedAt = m.at
				r.EffectiveLookbackDays = effectiveDays(p.ts, m.at, initial, p.lookback, lookback)
				if note != "" {
					r.Note = note
				}
				settled++
				continue
			}
			p.lookback = lookback
			r.EffectiveLookbackDays = lookback
			if note != "" {
				r.Note = note
			}
			if lookback >= maxDays || !p.ts.Add(days(lookback)).Before(now) {
				settled++
				continue
			}
			still = append(still, p)
		}
		open = still
		c.progress(settled, len(inbound))

		if len(open) > 0 {
			next := min(lookback*2, maxDays)
			c.log.Debug("escalating reply lookback", "items", len(open), "from_days", lookback, "to_days", next)
			lookback = next
		}
	}

	return results, nil
}

// collect scans the outbound collections over span into index.
func (c *Correlator) collect(ctx context.Context, outbound []string, span model.Window, index map[string][]candidate) (string, error) {
	if !span.Valid() {
		return "", nil
	}
	scan, err := c.scan.Scan(ctx, aggregate.Request{
		Kind:        model.KindMessage,
		Collections: outbound,
		Window:      span,
		MaxResults:  c.opts.OutboundScanCap,
		ScanCap:     c.opts.OutboundScanCap,
		Ascending:   true,
		Filter:      c.ownMessage,
	})
	if err != nil {
		return "", err
	}

	for _, it := range scan.Items {
		for _, k := range outboundKeys(it) {
			index[k] = append(index[k], candidate{ref: it.Ref, at: it.Timestamp})
		}
	}
	for k := range index {
		slices.SortFunc(index[k], func(a, b candidate) int { return a.at.Compare(b.at) })
	}

	var note string
	if scan.Truncated {
		note = "outbound scan truncated"
	}
	if len(scan.Failures) > 0 {
		note = fmt.Sprintf("outbound scan partial: %s", scan.Failures[0])
	}
	return note, nil
}

func (c *Correlator) ownMessage(it model.Item) bool {
	if len(c.own) == 0 || it.FromAddress == "" {
		return true
	}
	return c.own[model.NormalizeAddress(it.FromAddress)]
}

func (c *Correlator) progress(settled, total int) {
	if c.opts.OnProgress != nil {
		c.opts.OnProgress(settled, total)
	}
}

// earliest returns the first candidate in [from, to]. cands is sorted by time.
func earliest(cands []candidate, from, to time.Time) (candidate, bool) {
	for _, cd := range cands {
		if cd.at.Before(from) {
			continue
		}
		if cd.at.After(to) {
			break
		}
		return cd, true
	}
	return candidate{}, false
}

// effectiveDays reports the lookback that found a match: the initial lookback when
// the first window matched, otherwise the whole days up to the match, bounded to
// the step (prev, cur].
func effectiveDays(ts, match time.Time, initial, prev, cur int) int {
	if !match.After(ts.Add(days(initial))) {
		return initial
	}
	d := int(math.Ceil(match.Sub(ts).Hours() / 24))
	return min(max(d, prev+1), cur)
}

func days(n int) time.Duration {
	return time.Duration(n) * day
}

// windowEnd is the exclusive scan bound for a window closing at ts+lookback.
func windowEnd(ts time.Time, lookback int) time.Time {
	return ts.Add(days(lookback)).Add(time.Nanosecond)
}

func earlier(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

func later(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
