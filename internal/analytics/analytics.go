// Package analytics records pipeline behaviour events (cache hits,
// clarifications, fallbacks, hallucinations) for the admin surface. Events
// are buffered in the recorder and flushed to a sink in batches; live
// subscribers receive every event as it happens for the streaming tail.
package analytics

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/openhearth/hearth/internal/types"
)

// Filter narrows a query over recorded events. Zero fields match
// everything.
type Filter struct {
	Kind      types.EventKind
	SessionID string
	Since     time.Time
	Limit     int
}

// Matches reports whether ev passes the filter.
func (f Filter) Matches(ev types.AnalyticsEvent) bool {
	if f.Kind != "" && ev.Kind != f.Kind {
		return false
	}
	if f.SessionID != "" && ev.SessionID != f.SessionID {
		return false
	}
	if !f.Since.IsZero() && ev.Timestamp.Before(f.Since) {
		return false
	}
	return true
}

// Sink is durable storage for analytics events.
type Sink interface {
	Write(ctx context.Context, events []types.AnalyticsEvent) error
	Query(ctx context.Context, f Filter) ([]types.AnalyticsEvent, error)
}

// Summary aggregates event counts over a window.
type Summary struct {
	Window time.Duration              `json:"window_seconds"`
	Total  int64                      `json:"total"`
	ByKind map[types.EventKind]int64  `json:"by_kind"`
}

const (
	defaultFlushInterval = 5 * time.Second
	maxBuffered          = 1024
	subscriberBuffer     = 64
)

// Recorder buffers events and flushes them to the sink in the background.
// Record never blocks the pipeline: when the buffer is full the oldest
// buffered event is dropped, and slow subscribers miss events rather than
// stall recording.
type Recorder struct {
	sink     Sink
	interval time.Duration

	mu     sync.Mutex
	buf    []types.AnalyticsEvent
	subs   map[int]chan types.AnalyticsEvent
	nextID int
}

// RecorderOption configures a [Recorder].
type RecorderOption func(*Recorder)

// WithFlushInterval overrides the background flush cadence.
func WithFlushInterval(d time.Duration) RecorderOption {
	return func(r *Recorder) { r.interval = d }
}

// NewRecorder creates a Recorder writing to sink.
func NewRecorder(sink Sink, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		sink:     sink,
		interval: defaultFlushInterval,
		subs:     make(map[int]chan types.AnalyticsEvent),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Record buffers one event and fans it out to subscribers.
func (r *Recorder) Record(ev types.AnalyticsEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	r.mu.Lock()
	if len(r.buf) >= maxBuffered {
		r.buf = r.buf[1:]
	}
	r.buf = append(r.buf, ev)
	for _, ch := range r.subs {
		select {
		case ch <- ev:
		default: // slow subscriber misses the event
		}
	}
	r.mu.Unlock()
}

// Subscribe returns a channel receiving every future event and a cancel
// function. The channel is closed on cancel.
func (r *Recorder) Subscribe() (<-chan types.AnalyticsEvent, func()) {
	ch := make(chan types.AnalyticsEvent, subscriberBuffer)

	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.subs[id] = ch
	r.mu.Unlock()

	cancel := func() {
		r.mu.Lock()
		if _, ok := r.subs[id]; ok {
			delete(r.subs, id)
			close(ch)
		}
		r.mu.Unlock()
	}
	return ch, cancel
}

// Flush drains the buffer into the sink.
func (r *Recorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	batch := r.buf
	r.buf = nil
	r.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	if err := r.sink.Write(ctx, batch); err != nil {
		// Put the batch back so the next flush retries it.
		r.mu.Lock()
		r.buf = append(batch, r.buf...)
		if len(r.buf) > maxBuffered {
			r.buf = r.buf[len(r.buf)-maxBuffered:]
		}
		r.mu.Unlock()
		return err
	}
	return nil
}

// Run flushes on the configured interval until ctx is cancelled, with one
// final flush on shutdown.
func (r *Recorder) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := r.Flush(flushCtx); err != nil {
				slog.Warn("analytics: final flush failed", "err", err)
			}
			cancel()
			return
		case <-ticker.C:
			if err := r.Flush(ctx); err != nil {
				slog.Warn("analytics: flush failed", "err", err)
			}
		}
	}
}

// Query flushes pending events and reads matching records from the sink,
// newest first.
func (r *Recorder) Query(ctx context.Context, f Filter) ([]types.AnalyticsEvent, error) {
	if err := r.Flush(ctx); err != nil {
		return nil, err
	}
	return r.sink.Query(ctx, f)
}

// Summarize aggregates event counts over the trailing window.
func (r *Recorder) Summarize(ctx context.Context, window time.Duration) (Summary, error) {
	events, err := r.Query(ctx, Filter{Since: time.Now().Add(-window)})
	if err != nil {
		return Summary{}, err
	}
	s := Summary{Window: window, ByKind: make(map[types.EventKind]int64)}
	for _, ev := range events {
		s.Total++
		s.ByKind[ev.Kind]++
	}
	return s, nil
}

// sortNewestFirst orders events by timestamp descending; shared by sinks.
func sortNewestFirst(events []types.AnalyticsEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.After(events[j].Timestamp)
	})
}
