package analytics

import (
	"context"
	"sync"

	"github.com/openhearth/hearth/internal/types"
)

// MemorySink keeps the most recent events in a fixed-size ring. It is the
// development sink and the fallback when no database is configured.
type MemorySink struct {
	mu     sync.Mutex
	ring   []types.AnalyticsEvent
	next   int
	filled bool
}

var _ Sink = (*MemorySink)(nil)

// NewMemorySink creates a ring holding up to capacity events.
func NewMemorySink(capacity int) *MemorySink {
	if capacity <= 0 {
		capacity = 4096
	}
	return &MemorySink{ring: make([]types.AnalyticsEvent, capacity)}
}

func (m *MemorySink) Write(_ context.Context, events []types.AnalyticsEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ev := range events {
		m.ring[m.next] = ev
		m.next++
		if m.next == len(m.ring) {
			m.next = 0
			m.filled = true
		}
	}
	return nil
}

func (m *MemorySink) Query(_ context.Context, f Filter) ([]types.AnalyticsEvent, error) {
	m.mu.Lock()
	var all []types.AnalyticsEvent
	if m.filled {
		all = append(all, m.ring[m.next:]...)
	}
	all = append(all, m.ring[:m.next]...)
	m.mu.Unlock()

	var out []types.AnalyticsEvent
	for _, ev := range all {
		if f.Matches(ev) {
			out = append(out, ev)
		}
	}
	sortNewestFirst(out)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}
