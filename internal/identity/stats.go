package identity

import (
	"time"

	"github.com/greeddj/mailbridge-go/internal/model"
)

// TableStats summarizes one table for display.
type TableStats struct {
	Kind        model.Kind
	Size        int
	Capacity    int
	TTL         time.Duration
	NextOrdinal int
}

// Stats returns a summary per kind, in model.Kinds order.
func (c *Cache) Stats() []TableStats {
	result := make([]TableStats, 0, len(c.tables))
	for _, k := range model.Kinds {
		t := c.tables[k]
		t.mu.Lock()
		result = append(result, TableStats{
			Kind:        k,
			Size:        t.lru.Len(),
			Capacity:    t.limit.Capacity,
			TTL:         t.limit.TTL,
			NextOrdinal: t.next + 1,
		})
		t.mu.Unlock()
	}
	return result
}
