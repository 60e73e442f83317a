package admin

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"

	"github.com/openhearth/hearth/internal/analytics"
	"github.com/openhearth/hearth/internal/config"
	"github.com/openhearth/hearth/internal/session"
	"github.com/openhearth/hearth/internal/types"
)

func (s *Server) listBackends(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.LLMBackends(r.Context())
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rows)
}

func (s *Server) createBackend(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var b types.LLMBackend
	if !decodeBody(w, r, &b) {
		return
	}
	b.ID = 0

	created, err := s.store.UpsertLLMBackend(ctx, b)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	s.audit(ctx, "llm_backend:"+created.ModelName, nil, created, config.KindLLMBackends)
	respondJSON(w, http.StatusCreated, created)
}

func (s *Server) priorBackend(ctx context.Context, id int64) any {
	rows, err := s.store.LLMBackends(ctx)
	if err != nil {
		return nil
	}
	for _, b := range rows {
		if b.ID == id {
			return b
		}
	}
	return nil
}

func (s *Server) updateBackend(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid backend id")
		return
	}

	var b types.LLMBackend
	if !decodeBody(w, r, &b) {
		return
	}
	b.ID = id

	before := s.priorBackend(ctx, id)
	updated, err := s.store.UpsertLLMBackend(ctx, b)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	s.audit(ctx, "llm_backend:"+updated.ModelName, before, updated, config.KindLLMBackends)
	respondJSON(w, http.StatusOK, updated)
}

func (s *Server) deleteBackend(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid backend id")
		return
	}

	before := s.priorBackend(ctx, id)
	if err := s.store.DeleteLLMBackend(ctx, id); err != nil {
		respondStoreError(w, err)
		return
	}
	s.audit(ctx, "llm_backend:"+strconv.FormatInt(id, 10), before, nil, config.KindLLMBackends)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) backendByModel(w http.ResponseWriter, r *http.Request) {
	model := chi.URLParam(r, "model")
	rows, err := s.store.LLMBackends(r.Context())
	if err != nil {
		respondStoreError(w, err)
		return
	}
	for _, b := range rows {
		if b.ModelName == model {
			respondJSON(w, http.StatusOK, b)
			return
		}
	}
	respondError(w, http.StatusNotFound, "no backend for model "+model)
}

// featureImpact reports per-flag effect derived from recent analytics:
// cache hit rate for the caching flag, hallucination catches for
// validation, and clarification resolution rate for context handling.
func (s *Server) featureImpact(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	flags, err := s.store.Features(ctx)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	var summary analytics.Summary
	if s.recorder != nil {
		summary, err = s.recorder.Summarize(ctx, 24*time.Hour)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	type impact struct {
		Name    string  `json:"name"`
		Enabled bool    `json:"enabled"`
		HitRate float64 `json:"hit_rate,omitempty"`
		Events  int64   `json:"events,omitempty"`
	}

	out := make([]impact, 0, len(flags))
	for _, f := range flags {
		im := impact{Name: f.Name, Enabled: f.Enabled}
		switch f.Name {
		case types.FeatureRedisCaching:
			hits := summary.ByKind[types.EventCacheHit]
			misses := summary.ByKind[types.EventCacheMiss]
			if hits+misses > 0 {
				im.HitRate = float64(hits) / float64(hits+misses)
			}
			im.Events = hits + misses
		case types.FeatureValidation:
			im.Events = summary.ByKind[types.EventHallucinationDetected]
		case types.FeatureConversationContext:
			im.Events = summary.ByKind[types.EventFollowupDetected] +
				summary.ByKind[types.EventClarificationResolved]
		case types.FeatureFunctionCalling, types.FeatureFacade:
			im.Events = summary.ByKind[types.EventHandlerSelected]
		}
		out = append(out, im)
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) queryAnalytics(w http.ResponseWriter, r *http.Request) {
	if s.recorder == nil {
		respondError(w, http.StatusNotImplemented, "analytics not configured")
		return
	}

	f := analytics.Filter{
		Kind:      types.EventKind(r.URL.Query().Get("kind")),
		SessionID: r.URL.Query().Get("session_id"),
		Limit:     100,
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		f.Limit = n
	}
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "since must be RFC 3339")
			return
		}
		f.Since = t
	}

	events, err := s.recorder.Query(r.Context(), f)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if events == nil {
		events = []types.AnalyticsEvent{}
	}
	respondJSON(w, http.StatusOK, events)
}

func (s *Server) analyticsSummary(w http.ResponseWriter, r *http.Request) {
	if s.recorder == nil {
		respondError(w, http.StatusNotImplemented, "analytics not configured")
		return
	}

	window := time.Hour
	if v := r.URL.Query().Get("window_seconds"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "window_seconds must be a positive integer")
			return
		}
		window = time.Duration(n) * time.Second
	}

	summary, err := s.recorder.Summarize(r.Context(), window)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

// streamAnalytics upgrades to a websocket and forwards every event as a
// JSON message until the client disconnects.
func (s *Server) streamAnalytics(w http.ResponseWriter, r *http.Request) {
	if s.recorder == nil {
		respondError(w, http.StatusNotImplemented, "analytics not configured")
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	events, cancel := s.recorder.Subscribe()
	defer cancel()

	// CloseRead surfaces client disconnects as context cancellation.
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := wsjson.Write(ctx, conn, ev); err != nil {
				return
			}
		}
	}
}

func (s *Server) listAudit(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	recs, err := s.store.Audit(r.Context(), limit)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	if recs == nil {
		recs = []types.AuditRecord{}
	}
	respondJSON(w, http.StatusOK, recs)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		respondError(w, http.StatusNotImplemented, "sessions not configured")
		return
	}
	list, err := s.sessions.List(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	type entry struct {
		ID           string    `json:"id"`
		CreatedAt    time.Time `json:"created_at"`
		LastActivity time.Time `json:"last_activity"`
		Messages     int       `json:"messages"`
	}
	out := make([]entry, 0, len(list))
	for _, sess := range list {
		out = append(out, entry{
			ID:           sess.ID,
			CreatedAt:    sess.CreatedAt,
			LastActivity: sess.LastActivity,
			Messages:     len(sess.Messages),
		})
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		respondError(w, http.StatusNotImplemented, "sessions not configured")
		return
	}
	sess, err := s.sessions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		respondError(w, http.StatusNotImplemented, "sessions not configured")
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.sessions.Delete(r.Context(), id); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.audit(r.Context(), "session:"+id, id, nil, "")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) exportSession(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		respondError(w, http.StatusNotImplemented, "sessions not configured")
		return
	}

	format, err := session.ParseExportFormat(r.URL.Query().Get("format"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	data, err := s.sessions.Export(r.Context(), chi.URLParam(r, "id"), format)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
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
