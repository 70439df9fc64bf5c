package service

import (
	"context"
	"fmt"

	"github.com/greeddj/mailbridge-go/internal/apperr"
	"github.com/greeddj/mailbridge-go/internal/features"
	"github.com/greeddj/mailbridge-go/internal/model"
)

// Confirmation reports an applied action.
type Confirmation struct {
	Ordinal int // 0 for creates.
	Ref     string
	Action  model.MutationKind
	Message string
}

func (c Confirmation) String() string {
	if c.Ordinal == 0 {
		return c.Message
	}
	return fmt.Sprintf("#%d: %s", c.Ordinal, c.Message)
}

// Detail fetches the full record behind an ordinal. An item that disappeared
// upstream yields NotFound and its ordinal is dropped.
func (s *Service) Detail(ctx context.Context, kind model.Kind, ordinal int) (*model.Detail, error) {
	if err := s.allow(features.DetailTool(kind)); err != nil {
		return nil, err
	}
	entry, err := s.cache.Resolve(kind, ordinal)
	if err != nil {
		return nil, err
	}

	log, started := s.begin("detail", kind)
	d, err := s.gw.Detail(ctx, kind, entry.Ref)
	if apperr.IsCode(err, apperr.CodeNotFound) {
		s.cache.Invalidate(kind, ordinal)
	}
	done(log, started, err, "ordinal", ordinal)
	if err != nil {
		return nil, err
	}
	if d.Kind == 0 {
		d.Kind = kind
	}
	return d, nil
}

// Act applies m to the item behind ordinal. On success, and when the item turns
// out to be gone, the ordinal is invalidated so it cannot be acted on twice.
func (s *Service) Act(ctx context.Context, kind model.Kind, ordinal int, m model.Mutation) (*Confirmation, error) {
	if err := s.checkAction(kind, m); err != nil {
		return nil, err
	}
	return s.apply(ctx, kind, ordinal, m)
}

func (s *Service) checkAction(kind model.Kind, m model.Mutation) error {
	if err := s.allow(features.ActTool(kind)); err != nil {
		return err
	}
	if m.Kind == model.MutationCreate {
		return apperr.InvalidArgument("create does not take an ordinal")
	}
	if !m.Kind.Supports(kind) {
		return apperr.Unsupported("%s does not apply to %s items", m.Kind, kind)
	}
	if m.Kind == model.MutationUpdate && !m.HasUpdate() {
		return apperr.InvalidArgument("update needs a new title, notes or due date")
	}
	return nil
}

func (s *Service) apply(ctx context.Context, kind model.Kind, ordinal int, m model.Mutation) (*Confirmation, error) {
	entry, err := s.cache.Resolve(kind, ordinal)
	if err != nil {
		return nil, err
	}

	log, started := s.begin("act", kind)
	msg, err := s.gw.Mutate(ctx, kind, entry.Ref, m)
	if err == nil || apperr.IsCode(err, apperr.CodeNotFound) {
		s.cache.Invalidate(kind, ordinal)
	}
	done(log, started, err, "ordinal", ordinal, "action", string(m.Kind))
	if err != nil {
		return nil, err
	}
	return &Confirmation{Ordinal: ordinal, Ref: entry.Ref, Action: m.Kind, Message: msg}, nil
}

// Create makes a new message, event or task. It does not touch the ordinal tables.
func (s *Service) Create(ctx context.Context, kind model.Kind, m model.Mutation) (*Confirmation, error) {
	if err := s.allow(features.CreateTool(kind)); err != nil {
		return nil, err
	}
	m.Kind = model.MutationCreate
	if m.Subject == "" && kind != model.KindMessage {
		return nil, apperr.InvalidArgument("a new %s needs a subject", kind)
	}
	if kind == model.KindEvent {
		if m.Start.IsZero() || !m.End.After(m.Start) {
			return nil, apperr.InvalidArgument("a new event needs a start before its end")
		}
	}

	log, started := s.begin("create", kind)
	msg, err := s.gw.Mutate(ctx, kind, "", m)
	done(log, started, err)
	if err != nil {
		return nil, err
	}
	return &Confirmation{Action: model.MutationCreate, Message: msg}, nil
}
