package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/openhearth/hearth/internal/cache"
	"github.com/openhearth/hearth/internal/clarify"
	"github.com/openhearth/hearth/internal/config"
	"github.com/openhearth/hearth/internal/handler"
	"github.com/openhearth/hearth/internal/intent"
	"github.com/openhearth/hearth/internal/llm"
	"github.com/openhearth/hearth/internal/session"
	"github.com/openhearth/hearth/internal/store"
	"github.com/openhearth/hearth/internal/types"
	"github.com/openhearth/hearth/internal/validate"
)

// eventLog captures analytics events across goroutines.
type eventLog struct {
	mu     sync.Mutex
	events []types.AnalyticsEvent
}

func (l *eventLog) record(ev types.AnalyticsEvent) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) kinds() []types.EventKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]types.EventKind, len(l.events))
	for i, ev := range l.events {
		out[i] = ev.Kind
	}
	return out
}

func (l *eventLog) has(kind types.EventKind) bool {
	for _, k := range l.kinds() {
		if k == kind {
			return true
		}
	}
	return false
}

// llmServer serves the /generate protocol with a fixed reply.
func llmServer(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"response": reply, "done": true, "eval_count": 10,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func weatherServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"location": "Berlin",
			"current":  map[string]any{"condition": "Sunny", "temperature_f": 70},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

type pipeline struct {
	orch   *Orchestrator
	store  *store.Memory
	events *eventLog
}

func newPipeline(t *testing.T, ups config.UpstreamsConfig) *pipeline {
	t.Helper()
	st := store.NewMemory()
	loader := config.NewLoader(st)
	sessions := session.NewManager(loader)
	handlers := handler.NewRegistry(ups, nil)
	log := &eventLog{}

	orch := New(Deps{
		Loader:     loader,
		Classifier: intent.New(loader),
		Sessions:   sessions,
		Clarifier:  clarify.NewEngine(loader, sessions, clarify.WithEvents(log.record)),
		Handlers:   handlers,
		Validator:  validate.New(handlers),
		Router:     llm.NewRouter(loader, ups.LLMPrimary),
		Cache:      cache.New(16),
		Events:     log.record,
		Model:      "test-model",
	})
	return &pipeline{orch: orch, store: st, events: log}
}

func TestHandleWeatherFacade(t *testing.T) {
	ws := weatherServer(t)
	p := newPipeline(t, config.UpstreamsConfig{Weather: config.Endpoint{BaseURL: ws.URL}})

	resp, err := p.orch.Handle(context.Background(), Request{Query: "what's the weather", Mode: ModeText})
	if err != nil {
		t.Fatal(err)
	}
	if want := "It's currently sunny and 70 degrees in Berlin."; resp.Answer != want {
		t.Errorf("answer = %q, want %q", resp.Answer, want)
	}
	if resp.Intent != "weather.current" {
		t.Errorf("intent = %q", resp.Intent)
	}
	if len(resp.Citations) != 1 || resp.Citations[0] != "weather" {
		t.Errorf("citations = %v", resp.Citations)
	}
	if resp.SessionID == "" || resp.RequestID == "" {
		t.Error("missing identifiers")
	}
	if !p.events.has(types.EventHandlerSelected) || !p.events.has(types.EventRequestCompleted) {
		t.Errorf("events = %v", p.events.kinds())
	}
}

func TestHandleEmptyQuery(t *testing.T) {
	p := newPipeline(t, config.UpstreamsConfig{})

	resp, err := p.orch.Handle(context.Background(), Request{Query: "   ", Mode: ModeText})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Answer != noInputAnswer {
		t.Errorf("answer = %q", resp.Answer)
	}
	if resp.Intent != string(types.CategoryUnknown) {
		t.Errorf("intent = %q", resp.Intent)
	}
}

func TestHandleCacheHitOnRepeat(t *testing.T) {
	ws := weatherServer(t)
	p := newPipeline(t, config.UpstreamsConfig{Weather: config.Endpoint{BaseURL: ws.URL}})
	ctx := context.Background()

	first, err := p.orch.Handle(ctx, Request{Query: "what's the weather", Mode: ModeText})
	if err != nil {
		t.Fatal(err)
	}
	second, err := p.orch.Handle(ctx, Request{Query: "what's the weather", Mode: ModeText, SessionID: first.SessionID})
	if err != nil {
		t.Fatal(err)
	}
	if second.Answer != first.Answer {
		t.Errorf("cached answer = %q, want %q", second.Answer, first.Answer)
	}
	if len(second.Citations) != 1 || second.Citations[0] != "cache" {
		t.Errorf("citations = %v", second.Citations)
	}
	if !p.events.has(types.EventCacheHit) {
		t.Errorf("events = %v", p.events.kinds())
	}
}

func TestHandleCompoundQuery(t *testing.T) {
	ws := weatherServer(t)
	p := newPipeline(t, config.UpstreamsConfig{Weather: config.Endpoint{BaseURL: ws.URL}})

	resp, err := p.orch.Handle(context.Background(),
		Request{Query: "what time is it and what's the weather", Mode: ModeText})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Metadata["mode"] != string(types.ModeMulti) {
		t.Errorf("metadata = %v", resp.Metadata)
	}
	if !strings.Contains(resp.Answer, "It's") || !strings.Contains(resp.Answer, "sunny and 70 degrees") {
		t.Errorf("answer = %q", resp.Answer)
	}
}

func TestHandleClarificationRoundTrip(t *testing.T) {
	sportsSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("team") != "arizona-cardinals" {
			t.Errorf("team = %q", r.URL.Query().Get("team"))
		}
		json.NewEncoder(w).Encode(map[string]any{
			"team": "Cardinals", "opponent": "Seahawks", "start_time": "Sunday at 1 PM",
		})
	}))
	defer sportsSrv.Close()

	p := newPipeline(t, config.UpstreamsConfig{Sports: config.Endpoint{BaseURL: sportsSrv.URL}})
	ctx := context.Background()

	err := p.store.UpsertSportsTeam(ctx, types.SportsTeam{
		Trigger: "cardinals",
		Options: []types.ClarificationOption{
			{ID: "arizona-cardinals", Label: "Arizona Cardinals"},
			{ID: "st-louis-cardinals", Label: "St. Louis Cardinals"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	first, err := p.orch.Handle(ctx, Request{Query: "when do the cardinals play", Mode: ModeText})
	if err != nil {
		t.Fatal(err)
	}
	if !first.Clarification {
		t.Fatalf("expected a clarification, got answer %q", first.Answer)
	}
	if !strings.Contains(first.Answer, "Arizona Cardinals") {
		t.Errorf("prompt = %q", first.Answer)
	}

	second, err := p.orch.Handle(ctx, Request{
		Query: "the arizona cardinals", Mode: ModeText, SessionID: first.SessionID,
	})
	if err != nil {
		t.Fatal(err)
	}
	if second.Clarification {
		t.Fatalf("still clarifying: %q", second.Answer)
	}
	if want := "The Cardinals play the Seahawks Sunday at 1 PM."; second.Answer != want {
		t.Errorf("answer = %q, want %q", second.Answer, want)
	}
	if !p.events.has(types.EventClarificationResolved) {
		t.Errorf("events = %v", p.events.kinds())
	}
}

func TestHandleLLMPath(t *testing.T) {
	ls := llmServer(t, "The capital of France is Paris.")
	p := newPipeline(t, config.UpstreamsConfig{LLMPrimary: config.Endpoint{BaseURL: ls.URL}})

	resp, err := p.orch.Handle(context.Background(),
		Request{Query: "please explain something obscure to me", Mode: ModeText})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Answer != "The capital of France is Paris." {
		t.Errorf("answer = %q", resp.Answer)
	}
	// LLM answers carry no citation.
	if len(resp.Citations) != 0 {
		t.Errorf("citations = %v", resp.Citations)
	}
}

func TestHandleAllPathsFailFallsBack(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer down.Close()

	p := newPipeline(t, config.UpstreamsConfig{
		Weather:    config.Endpoint{BaseURL: down.URL},
		LLMPrimary: config.Endpoint{BaseURL: down.URL},
	})

	resp, err := p.orch.Handle(context.Background(), Request{Query: "what's the weather", Mode: ModeText})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Answer != handler.Fallback(types.CategoryWeather) {
		t.Errorf("answer = %q", resp.Answer)
	}
	if !p.events.has(types.EventFallbackInvoked) {
		t.Errorf("events = %v", p.events.kinds())
	}
}

func TestHandleKeepsSessionHistory(t *testing.T) {
	ws := weatherServer(t)
	p := newPipeline(t, config.UpstreamsConfig{Weather: config.Endpoint{BaseURL: ws.URL}})
	ctx := context.Background()

	resp, err := p.orch.Handle(ctx, Request{Query: "what's the weather", Mode: ModeText})
	if err != nil {
		t.Fatal(err)
	}

	// Follow-up rides on the stored context.
	followup, err := p.orch.Handle(ctx, Request{
		Query: "what about tomorrow", Mode: ModeText, SessionID: resp.SessionID,
	})
	if err != nil {
		t.Fatal(err)
	}
	if followup.Intent != "weather.tomorrow" {
		t.Errorf("follow-up intent = %q", followup.Intent)
	}
	if !p.events.has(types.EventFollowupDetected) {
		t.Errorf("events = %v", p.events.kinds())
	}
}
