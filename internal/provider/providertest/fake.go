// Package providertest offers an in-memory provider.Provider for tests.
package providertest

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/greeddj/mailbridge-go/internal/apperr"
	"github.com/greeddj/mailbridge-go/internal/model"
)

// Mutation records one SendMutation call.
type Mutation struct {
	Kind     model.Kind
	Ref      string
	Mutation model.Mutation
}

// Fake serves items from maps. The zero value is ready to use; all methods are safe
// for concurrent use.
type Fake struct {
	mu sync.Mutex

	items     map[string][]model.Item // By collection.
	series    map[string][]model.Series
	busy      map[string][]model.BusyInterval
	listErr   map[string]error
	failAfter map[string]int
	mutErr    error
	refErr    map[string]error
	files     map[string][]model.AttachmentContent
	mutations []Mutation
	calls     int
}

// AddItems appends items to collection.
func (f *Fake) AddItems(collection string, items ...model.Item) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.items == nil {
		f.items = make(map[string][]model.Item)
	}
	for _, it := range items {
		it.Collection = collection
		f.items[collection] = append(f.items[collection], it)
	}
}

// AddSeries appends calendar series.
func (f *Fake) AddSeries(calendar string, series ...model.Series) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.series == nil {
		f.series = make(map[string][]model.Series)
	}
	for _, s := range series {
		s.Calendar = calendar
		f.series[calendar] = append(f.series[calendar], s)
	}
}

// SetBusy replaces attendee's busy intervals.
func (f *Fake) SetBusy(attendee string, intervals ...model.BusyInterval) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.busy == nil {
		f.busy = make(map[string][]model.BusyInterval)
	}
	f.busy[attendee] = intervals
}

// FailList makes listing collection fail with err before yielding anything.
func (f *Fake) FailList(collection string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr == nil {
		f.listErr = make(map[string]error)
	}
	f.listErr[collection] = err
}

// FailListAfter makes listing collection yield n items and then fail.
func (f *Fake) FailListAfter(collection string, n int, err error) {
	f.FailList(collection, err)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAfter == nil {
		f.failAfter = make(map[string]int)
	}
	f.failAfter[collection] = n
}

// FailMutations makes every SendMutation return err.
func (f *Fake) FailMutations(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mutErr = err
}

// FailMutationsOf makes SendMutation on ref return err.
func (f *Fake) FailMutationsOf(ref string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refErr == nil {
		f.refErr = make(map[string]error)
	}
	f.refErr[ref] = err
}

// AddAttachments attaches files to the message ref.
func (f *Fake) AddAttachments(ref string, files ...model.AttachmentContent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.files == nil {
		f.files = make(map[string][]model.AttachmentContent)
	}
	f.files[ref] = append(f.files[ref], files...)
}

// Mutations returns the recorded mutations.
func (f *Fake) Mutations() []Mutation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.mutations)
}

// Calls returns the number of provider calls served.
func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Collections implements provider.Lister.
func (f *Fake) Collections(_ context.Context, kind model.Kind) ([]model.CollectionInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	var out []model.CollectionInfo
	for name, items := range f.items {
		out = append(out, model.CollectionInfo{Name: name, Kind: kind, Items: uint32(len(items))})
	}
	slices.SortFunc(out, func(a, b model.CollectionInfo) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

// ListCollection implements provider.Lister, newest first.
func (f *Fake) ListCollection(_ context.Context, kind model.Kind, collection string, w model.Window) (iter.Seq2[model.Item, error], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++

	err, failing := f.listErr[collection]
	after, partial := f.failAfter[collection]
	if failing && !partial {
		return nil, err
	}

	var items []model.Item
	for _, it := range f.items[collection] {
		if w.Contains(it.Timestamp) {
			if it.Kind == 0 {
				it.Kind = kind
			}
			items = append(items, it)
		}
	}
	slices.SortStableFunc(items, func(a, b model.Item) int { return b.Timestamp.Compare(a.Timestamp) })

	return func(yield func(model.Item, error) bool) {
		for i, it := range items {
			if partial && i == after {
				yield(model.Item{}, err)
				return
			}
			if !yield(it, nil) {
				return
			}
		}
		if partial && after >= len(items) {
			yield(model.Item{}, err)
		}
	}, nil
}

// ListSeries implements provider.SeriesLister.
func (f *Fake) ListSeries(_ context.Context, calendar string, w model.Window) (iter.Seq2[model.Series, error], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++

	if err, ok := f.listErr[calendar]; ok {
		return nil, err
	}
	var out []model.Series
	for _, s := range f.series[calendar] {
		if s.Recurring() || w.Overlaps(s.Start, s.End) {
			out = append(out, s)
		}
	}
	return func(yield func(model.Series, error) bool) {
		for _, s := range out {
			if !yield(s, nil) {
				return
			}
		}
	}, nil
}

// FetchItemDetail implements provider.Detailer.
func (f *Fake) FetchItemDetail(_ context.Context, kind model.Kind, ref string) (*model.Detail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++

	if _, it, ok := f.find(ref); ok {
		d := &model.Detail{Item: it, Body: "body of " + it.Subject}
		for _, a := range f.files[ref] {
			d.Attachments = append(d.Attachments, a.Attachment)
		}
		return d, nil
	}
	return nil, apperr.NotFound("%s %s", kind, ref)
}

// FetchAttachments implements provider.AttachmentFetcher.
func (f *Fake) FetchAttachments(_ context.Context, ref string) ([]model.AttachmentContent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++

	if _, _, ok := f.find(ref); !ok {
		return nil, apperr.NotFound("message %s", ref)
	}
	return slices.Clone(f.files[ref]), nil
}

// SendMutation implements provider.Mutator.
func (f *Fake) SendMutation(_ context.Context, kind model.Kind, ref string, m model.Mutation) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++

	if f.mutErr != nil {
		return "", f.mutErr
	}
	if err, ok := f.refErr[ref]; ok {
		return "", err
	}
	f.mutations = append(f.mutations, Mutation{Kind: kind, Ref: ref, Mutation: m})
	if m.Kind == model.MutationCreate {
		return fmt.Sprintf("created %s %q", kind, m.Subject), nil
	}

	coll, it, ok := f.find(ref)
	if !ok {
		return "", apperr.NotFound("%s %s", kind, ref)
	}
	switch m.Kind {
	case model.MutationDelete, model.MutationMove, model.MutationArchive:
		f.items[coll] = slices.DeleteFunc(f.items[coll], func(x model.Item) bool { return x.Ref == ref })
	case model.MutationReply:
		f.items["Sent"] = append(f.items["Sent"], model.Item{
			Ref:            "sent-" + ref,
			Kind:           kind,
			Collection:     "Sent",
			Subject:        "Re: " + it.Subject,
			To:             []string{it.FromAddress},
			Timestamp:      it.Timestamp.Add(time.Minute),
			ConversationID: it.ConversationID,
		})
	}
	return fmt.Sprintf("%s applied to %s", m.Kind, ref), nil
}

// QueryFreeBusy implements provider.FreeBusyQuerier.
func (f *Fake) QueryFreeBusy(_ context.Context, attendee string, w model.Window, _ time.Duration) ([]model.BusyInterval, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++

	if err, ok := f.listErr["freebusy:"+attendee]; ok {
		return nil, err
	}
	intervals, ok := f.busy[attendee]
	if !ok {
		return nil, apperr.NotFound("attendee %s", attendee)
	}
	var out []model.BusyInterval
	for _, iv := range intervals {
		if w.Overlaps(iv.Start, iv.End) {
			out = append(out, iv)
		}
	}
	return out, nil
}

func (f *Fake) find(ref string) (string, model.Item, bool) {
	for coll, items := range f.items {
		for _, it := range items {
			if it.Ref == ref {
				return coll, it, true
			}
		}
	}
	return "", model.Item{}, false
}
