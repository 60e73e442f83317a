package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openhearth/hearth/internal/cache"
	"github.com/openhearth/hearth/internal/config"
	"github.com/openhearth/hearth/internal/handler"
	"github.com/openhearth/hearth/internal/intent"
	"github.com/openhearth/hearth/internal/llm"
	"github.com/openhearth/hearth/internal/orchestrator"
	"github.com/openhearth/hearth/internal/session"
	"github.com/openhearth/hearth/internal/store"
	"github.com/openhearth/hearth/internal/types"
)

func testServer(t *testing.T, ups config.UpstreamsConfig) (*Server, *session.Manager) {
	t.Helper()
	loader := config.NewLoader(store.NewMemory())
	sessions := session.NewManager(loader)
	orch := orchestrator.New(orchestrator.Deps{
		Loader:     loader,
		Classifier: intent.New(loader),
		Sessions:   sessions,
		Handlers:   handler.NewRegistry(ups, nil),
		Router:     llm.NewRouter(loader, ups.LLMPrimary),
		Cache:      cache.New(16),
	})
	return New(orch, sessions), sessions
}

func postJSON(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestQueryEndpoint(t *testing.T) {
	weather := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"location": "Oslo",
			"current":  map[string]any{"condition": "Cloudy", "temperature_f": 52},
		})
	}))
	defer weather.Close()

	s, _ := testServer(t, config.UpstreamsConfig{Weather: config.Endpoint{BaseURL: weather.URL}})
	h := s.Routes()

	rec := postJSON(t, h, "/query", map[string]string{
		"query": "what's the weather", "mode": "text", "room": "kitchen",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}

	var resp queryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if want := "It's currently cloudy and 52 degrees in Oslo."; resp.Answer != want {
		t.Errorf("answer = %q, want %q", resp.Answer, want)
	}
	if resp.SessionID == "" || resp.RequestID == "" {
		t.Error("missing identifiers")
	}
}

func TestQueryValidation(t *testing.T) {
	s, _ := testServer(t, config.UpstreamsConfig{})
	h := s.Routes()

	tests := []struct {
		name string
		body map[string]string
	}{
		{"empty text query", map[string]string{"mode": "text"}},
		{"voice without audio", map[string]string{"mode": "voice"}},
		{"bad mode", map[string]string{"mode": "telepathy", "query": "hi"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if rec := postJSON(t, h, "/query", tc.body); rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400: %s", rec.Code, rec.Body)
			}
		})
	}
}

func TestSessionEndpoints(t *testing.T) {
	s, sessions := testServer(t, config.UpstreamsConfig{})
	h := s.Routes()
	ctx := context.Background()

	sess, _, _ := sessions.GetOrCreate(ctx, "")
	sessions.Append(ctx, sess.ID, types.RoleUser, "hello", "", nil)

	req := httptest.NewRequest(http.MethodGet, "/sessions/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var list []session.Session
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != sess.ID {
		t.Fatalf("list = %+v", list)
	}

	req = httptest.NewRequest(http.MethodGet, "/sessions/"+sess.ID+"/export?format=plaintext", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("export status = %d", rec.Code)
	}
	if got := rec.Body.String(); got != "user: hello\n" {
		t.Errorf("export = %q", got)
	}

	req = httptest.NewRequest(http.MethodDelete, "/sessions/"+sess.ID, nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/sessions/"+sess.ID, nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", rec.Code)
	}
}

func TestProbesAndMetrics(t *testing.T) {
	s, _ := testServer(t, config.UpstreamsConfig{})
	h := s.Routes()

	for _, path := range []string{"/health", "/ready", "/metrics"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("%s: status = %d, want 200", path, rec.Code)
		}
	}
}
