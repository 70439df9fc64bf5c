package service

import (
	"cmp"
	"context"
	"strings"
	"time"

	"github.com/greeddj/mailbridge-go/internal/aggregate"
	"github.com/greeddj/mailbridge-go/internal/apperr"
	"github.com/greeddj/mailbridge-go/internal/correlate"
	"github.com/greeddj/mailbridge-go/internal/features"
	"github.com/greeddj/mailbridge-go/internal/logging"
	"github.com/greeddj/mailbridge-go/internal/model"
)

const (
	// defaultPendingDays is the inbound window when none is given.
	defaultPendingDays = 14
	// maxPendingResults bounds PendingOptions.MaxResults.
	maxPendingResults = 200
	// pendingScanMultiplier sizes the inbound scan relative to the wanted results,
	// since most recent mail is usually already answered.
	pendingScanMultiplier = 4
)

// PendingOptions narrows a pending-replies check. Zero values fall back to the configuration.
type PendingOptions struct {
	Days            int // Inbound window: the last Days days.
	Folders         []string
	MaxResults      int
	UnreadOnly      bool
	LookbackDays    int  // Initial reply lookback; 0 means max(2*Days, configured initial).
	MaxLookbackDays int  // Escalation bound.
	IncludeReplied  bool // Return replied items too.
}

// PendingResult lists inbound messages that still wait for an answer.
type PendingResult struct {
	Results         []correlate.Result
	Scanned         int // Inbound messages checked.
	Truncated       bool
	Failures        []aggregate.CollectionFailure
	UnknownIdentity bool // No user address configured; own messages could not be skipped.
	LookbackDays    int
}

// PendingReplies lists recent inbound mail with no reply in the sent folders.
// Messages from the user and promotional mail are skipped. The listed messages
// are registered as ordinals so they can be acted on.
func (s *Service) PendingReplies(ctx context.Context, opts PendingOptions) (*PendingResult, error) {
	if err := s.allow(features.PendingReplies); err != nil {
		return nil, err
	}

	days := cmp.Or(opts.Days, defaultPendingDays)
	if days < 1 || days > s.cfg.Limits.MaxDays.Mail {
		return nil, apperr.InvalidWindow("days must be between 1 and %d, got %d", s.cfg.Limits.MaxDays.Mail, days)
	}
	maxResults := cmp.Or(opts.MaxResults, s.cfg.Limits.MaxResults)
	if maxResults < 1 || maxResults > maxPendingResults {
		return nil, apperr.InvalidArgument("max results must be between 1 and %d, got %d", maxPendingResults, maxResults)
	}
	maxLookback := cmp.Or(opts.MaxLookbackDays, s.cfg.Correlation.MaxLookbackDays)
	if maxLookback < 1 || maxLookback > s.cfg.Correlation.MaxLookbackDays {
		return nil, apperr.InvalidArgument("max lookback must be between 1 and %d days, got %d", s.cfg.Correlation.MaxLookbackDays, maxLookback)
	}
	lookback := opts.LookbackDays
	switch {
	case lookback == 0:
		lookback = max(days*2, s.cfg.Correlation.InitialLookbackDays)
	case lookback < 1 || lookback > maxLookback:
		return nil, apperr.InvalidArgument("lookback must be between 1 and %d days, got %d", maxLookback, lookback)
	}
	lookback = min(lookback, maxLookback)

	now := s.opts.Now()
	w := model.Window{Start: now.AddDate(0, 0, -days), End: now.Add(time.Second)}

	log, started := s.begin("pending_replies", model.KindMessage)
	folders, err := s.collections(ctx, model.KindMessage, opts.Folders)
	if err != nil {
		done(log, started, err)
		return nil, err
	}

	own := make(map[string]bool, len(s.cfg.Correlation.UserAddresses))
	for _, a := range s.cfg.Correlation.UserAddresses {
		own[model.NormalizeAddress(a)] = true
	}
	keywords := s.promotionalKeywords()

	inbound, err := s.agg.Aggregate(ctx, aggregate.Request{
		Kind:        model.KindMessage,
		Collections: folders,
		Window:      w,
		MaxResults:  max(maxResults*pendingScanMultiplier, maxResults+25),
		ScanCap:     s.cfg.Limits.ScanCap,
		Filter: func(it model.Item) bool {
			if opts.UnreadOnly && it.HasFlag(model.FlagSeen) {
				return false
			}
			if own[model.NormalizeAddress(cmp.Or(it.FromAddress, it.From))] {
				return false
			}
			return !promotional(it, keywords)
		},
	})
	if err != nil {
		done(log, started, err)
		return nil, err
	}

	corr := correlate.New(s.agg, correlate.Options{
		Skew:              s.cfg.Correlation.Skew.Std(),
		UserAddresses:     s.cfg.Correlation.UserAddresses,
		TrustAnsweredFlag: s.cfg.Correlation.TrustAnsweredFlag,
		Now:               s.opts.Now,
		OnProgress:        s.opts.OnProgress,
	}, logging.Component(s.opts.Log, "correlate"))
	results, err := corr.Correlate(ctx, inbound.Items, correlate.Request{
		Outbound:            s.cfg.Correlation.SentFolders,
		InitialLookbackDays: lookback,
		MaxLookbackDays:     maxLookback,
	})
	if err != nil {
		done(log, started, err)
		return nil, err
	}

	out := &PendingResult{
		Scanned:         len(results),
		Truncated:       inbound.Truncated,
		Failures:        inbound.Failures,
		UnknownIdentity: len(own) == 0,
		LookbackDays:    lookback,
	}
	for _, r := range results {
		if r.Status == correlate.StatusReplied && !opts.IncludeReplied {
			continue
		}
		if len(out.Results) == maxResults {
			out.Truncated = true
			break
		}
		out.Results = append(out.Results, r)
	}
	done(log, started, nil, "scanned", out.Scanned, "pending", len(out.Results), "lookback_days", lookback)
	return out, nil
}

func (s *Service) setKeywords(keywords []string) {
	lowered := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.ToLower(k); strings.TrimSpace(k) != "" {
			lowered = append(lowered, k)
		}
	}
	s.mu.Lock()
	s.keywords = lowered
	s.mu.Unlock()
}

func (s *Service) promotionalKeywords() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.keywords
}

// promotional reports whether the subject, sender or preview carries a keyword.
// Keywords may hold significant spaces ("promo ").
func promotional(it model.Item, keywords []string) bool {
	if len(keywords) == 0 {
		return false
	}
	text := strings.ToLower(it.Subject + " " + it.From + " " + it.FromAddress + " " + it.Preview + " ")
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}
