// Package session manages conversation state: bounded message history,
// per-session context for follow-up resolution, and the pending
// clarification slot.
//
// The external key/value store is the primary home of a session; an
// in-process mirror serves active sessions with no network hop and keeps a
// single process correct through a store outage. Every session operation is
// serialized per session; operations on different sessions are independent.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/openhearth/hearth/internal/types"
)

// ErrNotFound is returned by a [Store] when the id has no session.
var ErrNotFound = errors.New("session: not found")

// Session is one conversation.
type Session struct {
	ID           string               `json:"id"`
	CreatedAt    time.Time            `json:"created_at"`
	LastActivity time.Time            `json:"last_activity"`
	Messages     []types.Message      `json:"messages"`
	Context      types.SessionContext `json:"context"`
}

// Expired reports whether the session passed the inactivity timeout at now.
func (s *Session) Expired(now time.Time, timeout time.Duration) bool {
	return now.Sub(s.LastActivity) >= timeout
}

// clone returns a deep copy safe to hand to callers.
func (s *Session) clone() *Session {
	cp := *s
	cp.Messages = make([]types.Message, len(s.Messages))
	copy(cp.Messages, s.Messages)
	if s.Context.LastEntities != nil {
		cp.Context.LastEntities = make(map[string]string, len(s.Context.LastEntities))
		for k, v := range s.Context.LastEntities {
			cp.Context.LastEntities[k] = v
		}
	}
	if s.Context.Pending != nil {
		p := *s.Context.Pending
		cp.Context.Pending = &p
	}
	return &cp
}

// Store is the durable backing for sessions. Implementations must be safe
// for concurrent use.
type Store interface {
	// Load returns the stored session or [ErrNotFound].
	Load(ctx context.Context, id string) (*Session, error)

	// Save writes the session with the given TTL.
	Save(ctx context.Context, s *Session, ttl time.Duration) error

	// Delete removes the session. Deleting an absent id is not an error.
	Delete(ctx context.Context, id string) error

	// IDs lists the ids of all stored sessions.
	IDs(ctx context.Context) ([]string, error)
}
