// Package health serves the liveness and readiness probes.
//
//   - /health — liveness; a process that can serve HTTP is alive.
//   - /ready  — readiness; 200 only when every registered [Checker] passes.
//
// Responses are JSON with a top-level "status" ("ok" or "fail") and a
// "checks" map naming each dependency's result.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/openhearth/hearth/internal/config"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is one named dependency probe. Check returns nil when the
// dependency is healthy and must respect context cancellation.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// CheckRedis probes the key/value store with a PING.
func CheckRedis(client *redis.Client) Checker {
	return Checker{Name: "redis", Check: func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}}
}

// CheckPostgres probes the admin store pool.
func CheckPostgres(pool *pgxpool.Pool) Checker {
	return Checker{Name: "postgres", Check: func(ctx context.Context) error {
		return pool.Ping(ctx)
	}}
}

// CheckUpstream probes an HTTP collaborator's base URL with a HEAD request.
// Any response counts as reachable; only transport errors fail the check.
func CheckUpstream(name string, ep config.Endpoint) Checker {
	return Checker{Name: name, Check: func(ctx context.Context) error {
		if ep.BaseURL == "" {
			return fmt.Errorf("not configured")
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, ep.BaseURL, nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		return nil
	}}
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler evaluates the configured checkers. The checker list is fixed at
// construction; the handler is safe for concurrent use.
type Handler struct {
	checkers []Checker
}

func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Live always reports ok.
func (h *Handler) Live(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Ready runs every checker, each under its own deadline, and reports 503
// when any dependency fails.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.checkers))
	allOK := true

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			checks[c.Name] = "fail: " + err.Error()
			allOK = false
		} else {
			checks[c.Name] = "ok"
		}
	}

	res := result{Status: "ok", Checks: checks}
	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Mount adds /health and /ready to r.
func (h *Handler) Mount(r chi.Router) {
	r.Get("/health", h.Live)
	r.Get("/ready", h.Ready)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
