package resilience

import (
	"log/slog"
	"sync"
	"time"
)

// Budget tracks per-category daily request counts against configured caps.
// When a category's budget is exhausted, callers short-circuit to a fallback
// message instead of calling the upstream. Counts reset at 00:00 UTC.
//
// Budget is safe for concurrent use.
type Budget struct {
	mu     sync.Mutex
	limits map[string]int
	counts map[string]int
	day    time.Time // UTC midnight of the day counts belong to

	now func() time.Time // test hook
}

// NewBudget creates a Budget with the given per-category caps. A category
// absent from limits (or with a zero cap) is unlimited.
func NewBudget(limits map[string]int) *Budget {
	cp := make(map[string]int, len(limits))
	for k, v := range limits {
		cp[k] = v
	}
	b := &Budget{
		limits: cp,
		counts: make(map[string]int),
		now:    time.Now,
	}
	b.day = midnightUTC(b.now())
	return b
}

// Allow records one request for category and reports whether it fits within
// the day's budget. The count is charged even when the answer is false, so
// repeated over-budget probes remain visible in [Budget.Used].
func (b *Budget) Allow(category string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.rollover()

	b.counts[category]++
	limit, capped := b.limits[category]
	if !capped || limit <= 0 {
		return true
	}
	return b.counts[category] <= limit
}

// Used returns the number of requests charged to category today.
func (b *Budget) Used(category string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollover()
	return b.counts[category]
}

// Reset clears all counts immediately. The background resetter calls this at
// the daily boundary; [Budget.Allow] also rolls over lazily so a stalled
// resetter cannot starve a category for more than a day.
func (b *Budget) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.counts = make(map[string]int)
	b.day = midnightUTC(b.now())
	slog.Info("rate budgets reset")
}

// rollover clears counts when the UTC day has changed. Must be called with
// b.mu held.
func (b *Budget) rollover() {
	today := midnightUTC(b.now())
	if today.After(b.day) {
		b.counts = make(map[string]int)
		b.day = today
	}
}

// RunResetter blocks until done is closed, resetting the budget at each
// 00:00 UTC boundary.
func (b *Budget) RunResetter(done <-chan struct{}) {
	for {
		next := midnightUTC(b.now()).Add(24 * time.Hour)
		timer := time.NewTimer(time.Until(next))
		select {
		case <-done:
			timer.Stop()
			return
		case <-timer.C:
			b.Reset()
		}
	}
}

func midnightUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
