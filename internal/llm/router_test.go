package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/openhearth/hearth/internal/config"
	"github.com/openhearth/hearth/internal/types"
)

// routeSource serves a fixed routing table.
type routeSource struct {
	backends []types.LLMBackend
}

func (s *routeSource) ConversationSettings(context.Context) (types.ConversationSettings, error) {
	return config.DefaultConversationSettings(), nil
}

func (s *routeSource) ClarificationSettings(context.Context) (types.ClarificationSettings, error) {
	return config.DefaultClarificationSettings(), nil
}

func (s *routeSource) ClarificationRules(context.Context) ([]types.ClarificationRule, error) {
	return nil, nil
}

func (s *routeSource) SportsTeams(context.Context) ([]types.SportsTeam, error) { return nil, nil }

func (s *routeSource) DeviceRules(context.Context) ([]types.DeviceRule, error) { return nil, nil }

func (s *routeSource) Features(context.Context) ([]types.FeatureFlag, error) {
	return config.DefaultFeatures(), nil
}

func (s *routeSource) LLMBackends(context.Context) ([]types.LLMBackend, error) {
	return s.backends, nil
}

func generateServer(t *testing.T, text string, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			calls.Add(1)
		}
		if r.URL.Path != "/generate" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if req.Stream {
			t.Error("stream must be false")
		}
		json.NewEncoder(w).Encode(generateResponse{
			Response:   text,
			Done:       true,
			EvalCount:  12,
			PromptEval: 30,
		})
	}))
}

func TestRouterPrimaryRow(t *testing.T) {
	srv := generateServer(t, "hello there", nil)
	defer srv.Close()

	loader := config.NewLoader(&routeSource{backends: []types.LLMBackend{{
		ModelName:   "assistant-v1",
		BackendType: types.BackendPrimary,
		Endpoint:    srv.URL,
		Enabled:     true,
	}}})
	r := NewRouter(loader, config.Endpoint{})

	resp, err := r.Generate(context.Background(), "assistant-v1", "say hello", DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	if resp.Text != "hello there" {
		t.Errorf("text = %q", resp.Text)
	}
	if resp.Usage.TotalTokens != 42 {
		t.Errorf("total tokens = %d, want 42", resp.Usage.TotalTokens)
	}

	stats := r.Stats(srv.URL)
	if stats.TotalRequests != 1 || stats.TotalErrors != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestRouterAutoFallsBackToPrimary(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()
	var primaryCalls atomic.Int32
	good := generateServer(t, "fallback answer", &primaryCalls)
	defer good.Close()

	loader := config.NewLoader(&routeSource{backends: []types.LLMBackend{{
		ModelName:   "assistant-v1",
		BackendType: types.BackendAuto,
		Endpoint:    bad.URL,
		Enabled:     true,
		Timeout:     2 * time.Second,
	}}})
	r := NewRouter(loader, config.Endpoint{BaseURL: good.URL})

	resp, err := r.Generate(context.Background(), "assistant-v1", "anything", DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	if resp.Text != "fallback answer" {
		t.Errorf("text = %q", resp.Text)
	}
	if primaryCalls.Load() != 1 {
		t.Errorf("primary calls = %d, want 1", primaryCalls.Load())
	}
	if got := r.Stats(bad.URL); got.TotalErrors != 1 {
		t.Errorf("bad endpoint stats = %+v, want one error", got)
	}
}

func TestRouterNoRowUsesDefaults(t *testing.T) {
	srv := generateServer(t, "default route", nil)
	defer srv.Close()

	loader := config.NewLoader(&routeSource{})
	r := NewRouter(loader, config.Endpoint{BaseURL: srv.URL})

	resp, err := r.Generate(context.Background(), "unrouted-model", "hi", DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	if resp.Text != "default route" {
		t.Errorf("text = %q", resp.Text)
	}
}

func TestRouterAllEndpointsFail(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer bad.Close()

	loader := config.NewLoader(&routeSource{backends: []types.LLMBackend{{
		ModelName:   "assistant-v1",
		BackendType: types.BackendPrimary,
		Endpoint:    bad.URL,
		Enabled:     true,
	}}})
	r := NewRouter(loader, config.Endpoint{})

	_, err := r.Generate(context.Background(), "assistant-v1", "hi", DefaultOptions())
	if _, ok := types.IsUpstream(err); !ok {
		t.Fatalf("err = %v, want UpstreamError", err)
	}
}

func TestFlattenHistory(t *testing.T) {
	req := Request{
		Prompt: "and tomorrow?",
		History: []types.Message{
			{Role: types.RoleUser, Text: "what's the weather"},
			{Role: types.RoleAssistant, Text: "Sunny, 70 degrees."},
		},
	}
	got := flatten(req)
	want := "User: what's the weather\nAssistant: Sunny, 70 degrees.\nUser: and tomorrow?\nAssistant:"
	if got != want {
		t.Errorf("flatten = %q, want %q", got, want)
	}
}
