// Package provider defines the boundary to mail, calendar and task backends and
// funnels every backend call through the worker lane.
package provider

import (
	"context"
	"iter"
	"time"

	"github.com/greeddj/mailbridge-go/internal/apperr"
	"github.com/greeddj/mailbridge-go/internal/model"
)

// Lister enumerates collections and their items.
type Lister interface {
	Collections(ctx context.Context, kind model.Kind) ([]model.CollectionInfo, error)
	// ListCollection returns a lazy sequence of the collection's items in w,
	// newest first where the backend can order cheaply.
	ListCollection(ctx context.Context, kind model.Kind, collection string, w model.Window) (iter.Seq2[model.Item, error], error)
}

// SeriesLister returns raw calendar series that may have occurrences in w.
type SeriesLister interface {
	ListSeries(ctx context.Context, calendar string, w model.Window) (iter.Seq2[model.Series, error], error)
}

// Detailer fetches full item content. Missing items yield apperr.CodeNotFound.
type Detailer interface {
	FetchItemDetail(ctx context.Context, kind model.Kind, ref string) (*model.Detail, error)
}

// Mutator applies actions. It returns a short confirmation, and for creates the new ref.
type Mutator interface {
	SendMutation(ctx context.Context, kind model.Kind, ref string, m model.Mutation) (string, error)
}

// AttachmentFetcher returns the decoded attachments of one message.
type AttachmentFetcher interface {
	FetchAttachments(ctx context.Context, ref string) ([]model.AttachmentContent, error)
}

// FreeBusyQuerier reports busy intervals for one attendee.
type FreeBusyQuerier interface {
	QueryFreeBusy(ctx context.Context, attendee string, w model.Window, interval time.Duration) ([]model.BusyInterval, error)
}

// MailBackend is what a message-only backend implements.
type MailBackend interface {
	Lister
	Detailer
	Mutator
	AttachmentFetcher
}

// Provider is the full backend surface.
type Provider interface {
	MailBackend
	SeriesLister
	FreeBusyQuerier
}

// Router sends message calls to Mail and everything else to Store.
type Router struct {
	Mail  MailBackend // Optional; Store serves messages when nil.
	Store Provider    // Optional; calendar and task calls fail as unsupported when nil.
}

var _ Provider = (*Router)(nil)

func (r *Router) backend(kind model.Kind) (MailBackend, error) {
	if kind == model.KindMessage && r.Mail != nil {
		return r.Mail, nil
	}
	if r.Store == nil {
		return nil, apperr.Unsupported("no backend configured for %s", kind)
	}
	return r.Store, nil
}

// Collections implements Lister.
func (r *Router) Collections(ctx context.Context, kind model.Kind) ([]model.CollectionInfo, error) {
	b, err := r.backend(kind)
	if err != nil {
		return nil, err
	}
	return b.Collections(ctx, kind)
}

// ListCollection implements Lister.
func (r *Router) ListCollection(ctx context.Context, kind model.Kind, collection string, w model.Window) (iter.Seq2[model.Item, error], error) {
	b, err := r.backend(kind)
	if err != nil {
		return nil, err
	}
	return b.ListCollection(ctx, kind, collection, w)
}

// FetchItemDetail implements Detailer.
func (r *Router) FetchItemDetail(ctx context.Context, kind model.Kind, ref string) (*model.Detail, error) {
	b, err := r.backend(kind)
	if err != nil {
		return nil, err
	}
	return b.FetchItemDetail(ctx, kind, ref)
}

// SendMutation implements Mutator.
func (r *Router) SendMutation(ctx context.Context, kind model.Kind, ref string, m model.Mutation) (string, error) {
	b, err := r.backend(kind)
	if err != nil {
		return "", err
	}
	return b.SendMutation(ctx, kind, ref, m)
}

// FetchAttachments implements AttachmentFetcher.
func (r *Router) FetchAttachments(ctx context.Context, ref string) ([]model.AttachmentContent, error) {
	b, err := r.backend(model.KindMessage)
	if err != nil {
		return nil, err
	}
	return b.FetchAttachments(ctx, ref)
}

// ListSeries implements SeriesLister.
func (r *Router) ListSeries(ctx context.Context, calendar string, w model.Window) (iter.Seq2[model.Series, error], error) {
	if r.Store == nil {
		return nil, apperr.Unsupported("no calendar backend configured")
	}
	return r.Store.ListSeries(ctx, calendar, w)
}

// QueryFreeBusy implements FreeBusyQuerier.
func (r *Router) QueryFreeBusy(ctx context.Context, attendee string, w model.Window, interval time.Duration) ([]model.BusyInterval, error) {
	if r.Store == nil {
		return nil, apperr.Unsupported("no free/busy backend configured")
	}
	return r.Store.QueryFreeBusy(ctx, attendee, w, interval)
}
