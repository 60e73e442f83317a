// Package admin serves the management API: dynamic configuration CRUD,
// feature flag toggles, LLM routing rows, analytics queries with a live
// websocket tail, the audit trail, and session administration.
//
// Every mutation writes an audit record and invalidates the dynamic config
// loader, so the pipeline observes changes on its next read.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/openhearth/hearth/internal/analytics"
	"github.com/openhearth/hearth/internal/config"
	"github.com/openhearth/hearth/internal/session"
	"github.com/openhearth/hearth/internal/store"
	"github.com/openhearth/hearth/internal/types"
)

// Server is the admin API surface.
type Server struct {
	store      store.Store
	loader     *config.Loader
	recorder   *analytics.Recorder
	sessions   *session.Manager
	principals []config.Principal
	now        func() time.Time
}

// NewServer creates the admin surface. recorder and sessions may be nil in
// split deployments that only manage configuration.
func NewServer(st store.Store, loader *config.Loader, recorder *analytics.Recorder, sessions *session.Manager, admin config.AdminConfig) *Server {
	return &Server{
		store:      st,
		loader:     loader,
		recorder:   recorder,
		sessions:   sessions,
		principals: admin.Principals,
		now:        time.Now,
	}
}

// Routes mounts all admin endpoints on a fresh router.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/api", func(r chi.Router) {
		r.Route("/conversation", func(r chi.Router) {
			r.With(s.requireRead).Get("/settings", s.getConversationSettings)
			r.With(s.requireWrite).Put("/settings", s.putConversationSettings)
			r.With(s.requireRead).Get("/clarification", s.getClarificationSettings)
			r.With(s.requireWrite).Put("/clarification", s.putClarificationSettings)
			r.With(s.requireRead).Get("/clarification/types", s.listClarificationRules)
			r.With(s.requireWrite).Put("/clarification/types/{kind}", s.putClarificationRule)
			r.With(s.requireWrite).Delete("/clarification/types/{kind}", s.deleteClarificationRule)

			r.With(s.requireRead).Get("/sports-teams", s.listSportsTeams)
			r.With(s.requireWrite).Put("/sports-teams/{trigger}", s.putSportsTeam)
			r.With(s.requireWrite).Delete("/sports-teams/{trigger}", s.deleteSportsTeam)

			r.With(s.requireRead).Get("/device-rules", s.listDeviceRules)
			r.With(s.requireWrite).Put("/device-rules/{kind}", s.putDeviceRule)
			r.With(s.requireWrite).Delete("/device-rules/{kind}", s.deleteDeviceRule)

			r.With(s.requireRead).Get("/analytics", s.queryAnalytics)
			r.With(s.requireRead).Get("/analytics/summary", s.analyticsSummary)
			r.With(s.requireRead).Get("/analytics/stream", s.streamAnalytics)
		})

		r.With(s.requireRead).Get("/features", s.listFeatures)
		r.With(s.requireRead).Get("/features/impact", s.featureImpact)
		r.With(s.requireWrite).Put("/features/{name}/toggle", s.toggleFeature)

		r.Route("/llm-backends", func(r chi.Router) {
			r.With(s.requireRead).Get("/", s.listBackends)
			r.With(s.requireWrite).Post("/", s.createBackend)
			r.With(s.requireRead).Get("/model/{model}", s.backendByModel)
			r.With(s.requireWrite).Put("/{id}", s.updateBackend)
			r.With(s.requireWrite).Delete("/{id}", s.deleteBackend)
		})

		r.With(s.requireRead).Get("/audit", s.listAudit)

		r.Route("/sessions", func(r chi.Router) {
			r.With(s.requireRead).Get("/", s.listSessions)
			r.With(s.requireRead).Get("/{id}", s.getSession)
			r.With(s.requireWrite).Delete("/{id}", s.deleteSession)
			r.With(s.requireRead).Get("/{id}/export", s.exportSession)
		})
	})

	return r
}

type actorKey struct{}

// actor returns the authenticated principal name from the request context.
func actor(ctx context.Context) string {
	if v, ok := ctx.Value(actorKey{}).(string); ok {
		return v
	}
	return "unknown"
}

func (s *Server) requireRead(next http.Handler) http.Handler {
	return s.auth(next, false)
}

func (s *Server) requireWrite(next http.Handler) http.Handler {
	return s.auth(next, true)
}

// auth checks the bearer token against the configured principals. Write
// permission implies read. With no principals configured the surface is
// open; deployments are expected to configure at least one.
func (s *Server) auth(next http.Handler, write bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.principals) == 0 {
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, "anonymous")))
			return
		}

		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		for _, p := range s.principals {
			if p.Token != token {
				continue
			}
			if write && p.Permission != "write" {
				respondError(w, http.StatusForbidden, "write permission required")
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, p.Name)))
			return
		}
		respondError(w, http.StatusUnauthorized, "invalid or missing bearer token")
	})
}

// audit records one mutation and invalidates the loader for kind.
func (s *Server) audit(ctx context.Context, entity string, before, after any, kind config.Kind) {
	rec := types.AuditRecord{
		Actor:     actor(ctx),
		Timestamp: s.now(),
		Entity:    entity,
		Before:    compactJSON(before),
		After:     compactJSON(after),
	}
	if err := s.store.AppendAudit(ctx, rec); err != nil {
		slog.Warn("admin: audit append failed", "entity", entity, "err", err)
	}
	if kind != "" {
		s.loader.Invalidate(ctx, kind)
	}
}

func compactJSON(v any) string {
	if v == nil {
		return ""
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("admin: encode response", "err", err)
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

// respondStoreError maps store sentinels to HTTP statuses.
func respondStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrRequiredFlag):
		respondError(w, http.StatusConflict, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}
