// Package service is the core API: listings with ordinal handles, detail,
// pending replies, actions, creation and free/busy search.
package service

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/greeddj/mailbridge-go/internal/aggregate"
	"github.com/greeddj/mailbridge-go/internal/apperr"
	"github.com/greeddj/mailbridge-go/internal/config"
	"github.com/greeddj/mailbridge-go/internal/features"
	"github.com/greeddj/mailbridge-go/internal/identity"
	"github.com/greeddj/mailbridge-go/internal/logging"
	"github.com/greeddj/mailbridge-go/internal/model"
	"github.com/greeddj/mailbridge-go/internal/provider"
	"github.com/greeddj/mailbridge-go/internal/worker"
)

// Options carries runtime dependencies that do not come from the config file.
type Options struct {
	Log        *slog.Logger
	Now        func() time.Time         // nil means time.Now.
	OnProgress func(settled, total int) // Reply-check progress.
}

// Service ties the provider lane, the identity cache and the core algorithms together.
type Service struct {
	cfg   *config.Config
	lane  *worker.Lane
	gw    *provider.Gateway
	cache *identity.Cache
	agg   *aggregate.Aggregator
	gate  *features.Gate
	opts  Options
	log   *slog.Logger

	mu       sync.RWMutex
	keywords []string // Promotional keywords, lowercased.

	closers []func() error
}

// New builds a Service over p. The caller keeps ownership of p; use Open to
// have the Service build and close its own backends.
func New(cfg *config.Config, p provider.Provider, opts Options) *Service {
	if opts.Log == nil {
		opts.Log = logging.Discard()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	lane := worker.New(worker.Options{
		Rate:        cfg.Worker.Rate,
		Burst:       cfg.Worker.Burst,
		CallTimeout: cfg.Worker.CallTimeout.Std(),
		QueueSize:   cfg.Worker.Queue,
	}, logging.Component(opts.Log, "lane"))
	gw := provider.NewGateway(p, lane, logging.Component(opts.Log, "provider"))
	cache := identity.New(cfg.IdentityLimits(), opts.Now)

	s := &Service{
		cfg:   cfg,
		lane:  lane,
		gw:    gw,
		cache: cache,
		gate:  features.New(cfg.Features),
		opts:  opts,
		log:   logging.Component(opts.Log, "service"),
	}
	s.agg = aggregate.New(&source{gw: gw, occurrenceCap: cfg.Limits.OccurrenceCap, log: s.log}, cache, logging.Component(opts.Log, "aggregate"))
	s.setKeywords(cfg.Filters.PromotionalKeywords)
	return s
}

// Close stops the lane and then closes any backends the Service opened.
func (s *Service) Close() error {
	s.lane.Close()
	var errs []error
	for _, c := range slices.Backward(s.closers) {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Reload applies the hot-reloadable parts of cfg: feature gating and filters.
func (s *Service) Reload(cfg *config.Config) {
	s.gate.Update(cfg.Features)
	s.setKeywords(cfg.Filters.PromotionalKeywords)
	s.log.Info("configuration reloaded", "disabled_tools", s.gate.Disabled())
}

// DisabledTools lists the tools currently switched off.
func (s *Service) DisabledTools() []string {
	return s.gate.Disabled()
}

// Reset clears the ordinal tables of kinds, or all tables when none are given.
func (s *Service) Reset(kinds ...model.Kind) error {
	if err := s.allow(features.ResetCache); err != nil {
		return err
	}
	s.cache.Reset(kinds...)
	s.log.Info("ordinal tables reset", "kinds", len(kinds))
	return nil
}

// CacheStats summarizes the ordinal tables.
func (s *Service) CacheStats() ([]identity.TableStats, error) {
	if err := s.allow(features.CacheStats); err != nil {
		return nil, err
	}
	return s.cache.Stats(), nil
}

// LaneStats reports the provider lane's queue depth and the number of calls it ran.
func (s *Service) LaneStats() (pending int, executed int64) {
	return s.lane.Pending(), s.lane.Executed()
}

// Resolve returns the live entry behind an ordinal.
func (s *Service) Resolve(kind model.Kind, ordinal int) (identity.Entry, error) {
	return s.cache.Resolve(kind, ordinal)
}

// Collections lists the folders, calendars or task lists of kind.
func (s *Service) Collections(ctx context.Context, kind model.Kind) ([]model.CollectionInfo, error) {
	if err := s.allow(features.ListFolders); err != nil {
		return nil, err
	}
	return s.gw.Collections(ctx, kind)
}

func (s *Service) allow(t features.Tool) error {
	if !s.gate.Enabled(t) {
		return apperr.Disabled(t.Name)
	}
	return nil
}

// begin tags a logger with a fresh operation id.
func (s *Service) begin(op string, kind model.Kind) (*slog.Logger, time.Time) {
	return s.log.With(logging.FieldOp, op, logging.FieldOpID, uuid.NewString(), logging.FieldKind, kind.String()), time.Now()
}

func done(log *slog.Logger, started time.Time, err error, args ...any) {
	args = append(args, logging.FieldDuration, time.Since(started).Milliseconds())
	if err != nil {
		log.Warn("operation failed", append(args, "error", err)...)
		return
	}
	log.Info("operation completed", args...)
}
