// Package identity maps provider references to small per-kind ordinals that callers can
// quote back in later requests.
package identity

import (
	"container/list"
	"sync"
	"time"

	"github.com/greeddj/mailbridge-go/internal/apperr"
	"github.com/greeddj/mailbridge-go/internal/model"
)

const (
	// DefaultMessageCapacity bounds the message table.
	DefaultMessageCapacity = 500
	// DefaultMessageTTL is how long a message ordinal stays resolvable.
	DefaultMessageTTL = 30 * time.Minute
	// DefaultEventCapacity bounds the event table.
	DefaultEventCapacity = 200
	// DefaultEventTTL is how long an event ordinal stays resolvable.
	DefaultEventTTL = 20 * time.Minute
	// DefaultTaskCapacity bounds the task table.
	DefaultTaskCapacity = 200
	// DefaultTaskTTL is how long a task ordinal stays resolvable.
	DefaultTaskTTL = 20 * time.Minute
)

// Limit bounds one table.
type Limit struct {
	Capacity int           `json:"capacity" yaml:"capacity"` // Maximum live entries.
	TTL      time.Duration `json:"ttl"      yaml:"ttl"`      // Entry lifetime from insertion.
}

// DefaultLimits returns the built-in per-kind limits.
func DefaultLimits() map[model.Kind]Limit {
	return map[model.Kind]Limit{
		model.KindMessage: {Capacity: DefaultMessageCapacity, TTL: DefaultMessageTTL},
		model.KindEvent:   {Capacity: DefaultEventCapacity, TTL: DefaultEventTTL},
		model.KindTask:    {Capacity: DefaultTaskCapacity, TTL: DefaultTaskTTL},
	}
}

// Entry is one live ordinal.
type Entry struct {
	Ordinal    int        // Caller-facing handle, unique per kind for the table's lifetime.
	Ref        string     // Provider-stable reference.
	Kind       model.Kind // Item family.
	Snapshot   model.Item // Listing-time copy of the item.
	InsertedAt time.Time  // Start of the TTL.
}

// Cache holds one ordinal table per kind.
type Cache struct {
	tables map[model.Kind]*table
}

// New builds a cache. Kinds missing from limits fall back to the defaults; a nil clock uses time.Now.
func New(limits map[model.Kind]Limit, clock func() time.Time) *Cache {
	if clock == nil {
		clock = time.Now
	}
	defaults := DefaultLimits()
	c := &Cache{tables: make(map[model.Kind]*table, len(model.Kinds))}
	for _, k := range model.Kinds {
		l := limits[k]
		if l.Capacity <= 0 {
			l.Capacity = defaults[k].Capacity
		}
		if l.TTL <= 0 {
			l.TTL = defaults[k].TTL
		}
		c.tables[k] = newTable(k, l, clock)
	}
	return c
}

func (c *Cache) table(kind model.Kind) (*table, error) {
	t, ok := c.tables[kind]
	if !ok {
		return nil, apperr.InvalidArgument("no ordinal table for %s", kind)
	}
	return t, nil
}

// Begin opens an assignment pass for kind. Within one pass, assigning the same
// reference twice returns the same ordinal.
func (c *Cache) Begin(kind model.Kind) (*Pass, error) {
	t, err := c.table(kind)
	if err != nil {
		return nil, err
	}
	return &Pass{t: t, seen: make(map[string]int)}, nil
}

// Resolve returns the live entry for ordinal or a StaleReference error when it
// expired, was evicted, invalidated, or never existed. A hit becomes most recently used.
func (c *Cache) Resolve(kind model.Kind, ordinal int) (Entry, error) {
	t, err := c.table(kind)
	if err != nil {
		return Entry{}, err
	}
	e, ok := t.resolve(ordinal)
	if !ok {
		return Entry{}, apperr.StaleReference(kind, ordinal)
	}
	return e, nil
}

// Invalidate drops ordinal from kind's table. Unknown ordinals are ignored.
func (c *Cache) Invalidate(kind model.Kind, ordinal int) {
	if t, err := c.table(kind); err == nil {
		t.invalidate(ordinal)
	}
}

// Reset clears the given tables, or all of them when kinds is empty. Ordinal
// counters keep counting so old handles never alias new items.
func (c *Cache) Reset(kinds ...model.Kind) {
	if len(kinds) == 0 {
		kinds = model.Kinds
	}
	for _, k := range kinds {
		if t, err := c.table(k); err == nil {
			t.reset()
		}
	}
}

// Pass scopes idempotent assignment to one aggregation.
type Pass struct {
	t    *table
	seen map[string]int
}

// Kind returns the kind the pass assigns for.
func (p *Pass) Kind() model.Kind {
	return p.t.kind
}

// Assign returns the ordinal for ref, minting one unless ref was already assigned
// in this pass. A repeat refreshes the snapshot and restarts its TTL.
func (p *Pass) Assign(ref string, snapshot model.Item) Entry {
	return p.t.assign(p.seen, ref, snapshot)
}

type table struct {
	mu sync.Mutex // Guards every field below; held for a single lookup or update.

	kind  model.Kind
	limit Limit
	now   func() time.Time

	next      int                   // Last minted ordinal.
	lru       *list.List            // Front is most recently assigned or resolved.
	byOrdinal map[int]*list.Element // Values are *Entry.
}

func newTable(kind model.Kind, limit Limit, clock func() time.Time) *table {
	return &table{
		kind:      kind,
		limit:     limit,
		now:       clock,
		lru:       list.New(),
		byOrdinal: make(map[int]*list.Element),
	}
}

func (t *table) assign(seen map[string]int, ref string, snapshot model.Item) Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.sweep(now)

	if ord, ok := seen[ref]; ok {
		if el, live := t.byOrdinal[ord]; live {
			e := el.Value.(*Entry)
			e.Snapshot = snapshot
			e.InsertedAt = now
			t.lru.MoveToFront(el)
			return *e
		}
	}

	t.next++
	e := &Entry{Ordinal: t.next, Ref: ref, Kind: t.kind, Snapshot: snapshot, InsertedAt: now}
	t.byOrdinal[e.Ordinal] = t.lru.PushFront(e)
	seen[ref] = e.Ordinal

	for t.lru.Len() > t.limit.Capacity {
		t.remove(t.lru.Back())
	}
	return *e
}

func (t *table) resolve(ordinal int) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	el, ok := t.byOrdinal[ordinal]
	if !ok {
		return Entry{}, false
	}
	e := el.Value.(*Entry)
	if t.expired(e, t.now()) {
		t.remove(el)
		return Entry{}, false
	}
	t.lru.MoveToFront(el)
	return *e, true
}

func (t *table) invalidate(ordinal int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if el, ok := t.byOrdinal[ordinal]; ok {
		t.remove(el)
	}
}

func (t *table) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.lru.Init()
	t.byOrdinal = make(map[int]*list.Element)
}

func (t *table) expired(e *Entry, now time.Time) bool {
	return !now.Before(e.InsertedAt.Add(t.limit.TTL))
}

// sweep drops every expired entry. Caller holds mu.
func (t *table) sweep(now time.Time) {
	for el := t.lru.Back(); el != nil; {
		prev := el.Prev()
		if t.expired(el.Value.(*Entry), now) {
			t.remove(el)
		}
		el = prev
	}
}

func (t *table) remove(el *list.Element) {
	e := t.lru.Remove(el).(*Entry)
	delete(t.byOrdinal, e.Ordinal)
}
