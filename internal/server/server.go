// Package server exposes the public ingress surface: query submission,
// session inspection and export, probes, and the metrics endpoint.
package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openhearth/hearth/internal/health"
	"github.com/openhearth/hearth/internal/observe"
	"github.com/openhearth/hearth/internal/orchestrator"
	"github.com/openhearth/hearth/internal/session"
)

// Server routes ingress traffic to the pipeline.
type Server struct {
	orch     *orchestrator.Orchestrator
	sessions *session.Manager
	health   *health.Handler
	metrics  *observe.Metrics
	admin    http.Handler
}

// Option configures optional surfaces.
type Option func(*Server)

// WithMetrics instruments every route and serves /metrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithAdmin mounts the admin API under /api on the ingress listener.
func WithAdmin(h http.Handler) Option {
	return func(s *Server) { s.admin = h }
}

// WithHealth replaces the default empty probe set.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

func New(orch *orchestrator.Orchestrator, sessions *session.Manager, opts ...Option) *Server {
	s := &Server{
		orch:     orch,
		sessions: sessions,
		health:   health.New(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Routes builds the ingress router.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	if s.metrics != nil {
		r.Use(observe.Middleware(s.metrics))
	}

	s.health.Mount(r)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Post("/query", s.handleQuery)

	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", s.listSessions)
		r.Get("/{id}", s.getSession)
		r.Delete("/{id}", s.deleteSession)
		r.Get("/{id}/export", s.exportSession)
	})

	if s.admin != nil {
		r.Mount("/api", s.admin)
	}
	return r
}

// queryRequest is the POST /query body. Audio is base64 in JSON and is
// consulted only in voice mode.
type queryRequest struct {
	Query        string `json:"query"`
	Mode         string `json:"mode"`
	Room         string `json:"room"`
	SessionID    string `json:"session_id"`
	Audio        []byte `json:"audio,omitempty"`
	VoiceProfile string `json:"voice_profile,omitempty"`
	WakeWord     string `json:"wake_word,omitempty"`
}

// queryResponse adds the synthesized audio to the pipeline response.
type queryResponse struct {
	orchestrator.Response
	Audio []byte `json:"audio,omitempty"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if req.Mode == "" {
		req.Mode = orchestrator.ModeText
	}
	switch req.Mode {
	case orchestrator.ModeText, orchestrator.ModeVoice:
	default:
		respondError(w, http.StatusBadRequest, "mode must be text or voice")
		return
	}
	if req.Mode == orchestrator.ModeText && req.Query == "" {
		respondError(w, http.StatusBadRequest, "query must not be empty in text mode")
		return
	}
	if req.Mode == orchestrator.ModeVoice && len(req.Audio) == 0 {
		respondError(w, http.StatusBadRequest, "audio must not be empty in voice mode")
		return
	}

	resp, err := s.orch.Handle(r.Context(), orchestrator.Request{
		Query:        req.Query,
		Audio:        req.Audio,
		Mode:         req.Mode,
		Zone:         req.Room,
		SessionID:    req.SessionID,
		VoiceProfile: req.VoiceProfile,
		WakeWord:     req.WakeWord,
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, queryResponse{Response: resp, Audio: resp.Audio})
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	list, err := s.sessions.List(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if list == nil {
		list = []*session.Session{}
	}
	respondJSON(w, http.StatusOK, list)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) exportSession(w http.ResponseWriter, r *http.Request) {
	format, err := session.ParseExportFormat(r.URL.Query().Get("format"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	data, err := s.sessions.Export(r.Context(), chi.URLParam(r, "id"), format)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	switch format {
	case session.FormatStructured:
		w.Header().Set("Content-Type", "application/json")
	case session.FormatMarkedUp:
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	default:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	}
	w.Write(data)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failed"}`, http.StatusInternalServerError)
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
