package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/openhearth/hearth/internal/types"
)

func event(kind types.EventKind, session string, at time.Time) types.AnalyticsEvent {
	return types.AnalyticsEvent{Kind: kind, SessionID: session, Timestamp: at}
}

func TestMemorySinkQueryFilters(t *testing.T) {
	sink := NewMemorySink(16)
	ctx := context.Background()
	now := time.Now()

	events := []types.AnalyticsEvent{
		event(types.EventCacheHit, "a", now.Add(-3*time.Minute)),
		event(types.EventCacheMiss, "a", now.Add(-2*time.Minute)),
		event(types.EventCacheHit, "b", now.Add(-1*time.Minute)),
	}
	if err := sink.Write(ctx, events); err != nil {
		t.Fatal(err)
	}

	hits, err := sink.Query(ctx, Filter{Kind: types.EventCacheHit})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d cache hits, want 2", len(hits))
	}
	// Newest first.
	if hits[0].SessionID != "b" {
		t.Errorf("first hit session = %q, want b", hits[0].SessionID)
	}

	recent, err := sink.Query(ctx, Filter{Since: now.Add(-90 * time.Second)})
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 1 || recent[0].Kind != types.EventCacheHit {
		t.Errorf("recent = %+v", recent)
	}
}

func TestMemorySinkRingEviction(t *testing.T) {
	sink := NewMemorySink(3)
	ctx := context.Background()
	base := time.Now()

	for i := 0; i < 5; i++ {
		ev := event(types.EventRequestCompleted, "s", base.Add(time.Duration(i)*time.Second))
		if err := sink.Write(ctx, []types.AnalyticsEvent{ev}); err != nil {
			t.Fatal(err)
		}
	}

	all, err := sink.Query(ctx, Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d events, want capacity 3", len(all))
	}
	if !all[0].Timestamp.Equal(base.Add(4 * time.Second)) {
		t.Errorf("newest = %v, want the last written", all[0].Timestamp)
	}
}

func TestRecorderFlushAndQuery(t *testing.T) {
	sink := NewMemorySink(16)
	r := NewRecorder(sink)
	ctx := context.Background()

	r.Record(event(types.EventFallbackInvoked, "s1", time.Now()))
	r.Record(event(types.EventHandlerSelected, "s1", time.Now()))

	got, err := r.Query(ctx, Filter{SessionID: "s1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2", len(got))
	}
}

func TestRecorderSubscribe(t *testing.T) {
	r := NewRecorder(NewMemorySink(16))

	ch, cancel := r.Subscribe()
	defer cancel()

	want := event(types.EventHallucinationDetected, "s2", time.Now())
	r.Record(want)

	select {
	case got := <-ch:
		if got.Kind != want.Kind || got.SessionID != "s2" {
			t.Errorf("received %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber received nothing")
	}

	cancel()
	if _, open := <-ch; open {
		t.Error("channel still open after cancel")
	}
}

func TestRecorderSummarize(t *testing.T) {
	r := NewRecorder(NewMemorySink(32))
	ctx := context.Background()
	now := time.Now()

	r.Record(event(types.EventCacheHit, "a", now))
	r.Record(event(types.EventCacheHit, "b", now))
	r.Record(event(types.EventCacheMiss, "a", now))
	// Outside the window.
	r.Record(event(types.EventCacheMiss, "a", now.Add(-2*time.Hour)))

	s, err := r.Summarize(ctx, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if s.Total != 3 {
		t.Fatalf("total = %d, want 3", s.Total)
	}
	if s.ByKind[types.EventCacheHit] != 2 || s.ByKind[types.EventCacheMiss] != 1 {
		t.Errorf("by_kind = %v", s.ByKind)
	}
}

// failSink rejects every write until released.
type failSink struct {
	inner *MemorySink
	fail  bool
}

func (f *failSink) Write(ctx context.Context, events []types.AnalyticsEvent) error {
	if f.fail {
		return context.DeadlineExceeded
	}
	return f.inner.Write(ctx, events)
}

func (f *failSink) Query(ctx context.Context, flt Filter) ([]types.AnalyticsEvent, error) {
	return f.inner.Query(ctx, flt)
}

func TestRecorderFlushRetainsBatchOnError(t *testing.T) {
	sink := &failSink{inner: NewMemorySink(16), fail: true}
	r := NewRecorder(sink)
	ctx := context.Background()

	r.Record(event(types.EventRequestCompleted, "s", time.Now()))
	if err := r.Flush(ctx); err == nil {
		t.Fatal("want flush error while sink is down")
	}

	sink.fail = false
	if err := r.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	got, err := sink.inner.Query(ctx, Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d events after recovery, want 1", len(got))
	}
}
