package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openhearth/hearth/internal/config"
	"github.com/openhearth/hearth/internal/observe"
	"github.com/openhearth/hearth/internal/types"
)

// EventFunc receives analytics events emitted by the manager. Emission is
// best-effort; implementations must not block.
type EventFunc func(types.AnalyticsEvent)

// Manager owns session lifecycle: create, append, context updates,
// expiry, and export. All methods are safe for concurrent use; per-session
// operations are serialized on a per-session lock.
type Manager struct {
	store   Store // nil means in-process only
	cfg     *config.Loader
	emit    EventFunc
	metrics *observe.Metrics
	now     func() time.Time // test hook

	mu     sync.Mutex
	active map[string]*tracked
}

// tracked is one mirrored session plus its serialization lock.
type tracked struct {
	mu sync.Mutex
	s  *Session
}

// ManagerOption configures a [Manager].
type ManagerOption func(*Manager)

// WithStore attaches the durable backing store.
func WithStore(s Store) ManagerOption {
	return func(m *Manager) { m.store = s }
}

// WithEvents attaches the analytics emitter.
func WithEvents(fn EventFunc) ManagerOption {
	return func(m *Manager) { m.emit = fn }
}

// WithMetrics records the active-session gauge.
func WithMetrics(obs *observe.Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = obs }
}

// NewManager creates a Manager. cfg supplies the conversation settings
// (max messages, timeouts, TTL); it must not be nil.
func NewManager(cfg *config.Loader, opts ...ManagerOption) *Manager {
	m := &Manager{
		cfg:    cfg,
		active: make(map[string]*tracked),
		now:    time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// GetOrCreate returns the session for id, or a fresh one when id is empty,
// unknown, or expired. The returned session is a snapshot.
func (m *Manager) GetOrCreate(ctx context.Context, id string) (*Session, bool, error) {
	settings, _ := m.cfg.ConversationSettings(ctx)
	timeout := time.Duration(settings.TimeoutSeconds) * time.Second

	if id != "" {
		if tr := m.lookup(ctx, id); tr != nil {
			tr.mu.Lock()
			expired := tr.s.Expired(m.now(), timeout)
			snapshot := tr.s.clone()
			tr.mu.Unlock()
			if !expired {
				return snapshot, false, nil
			}
			// Expired sessions are recreated silently.
			m.drop(ctx, id)
		}
	}

	s := &Session{
		ID:           uuid.NewString(),
		CreatedAt:    m.now(),
		LastActivity: m.now(),
	}
	m.mu.Lock()
	m.active[s.ID] = &tracked{s: s}
	m.mu.Unlock()

	m.persist(ctx, s, settings)
	if m.metrics != nil {
		m.metrics.ActiveSessions.Add(ctx, 1)
	}
	m.event(types.AnalyticsEvent{Kind: types.EventSessionCreated, SessionID: s.ID, Timestamp: m.now()})
	slog.Debug("session created", "session_id", s.ID)
	return s.clone(), true, nil
}

// Append atomically adds one message, evicting the oldest beyond
// max_messages, and bumps last_activity.
func (m *Manager) Append(ctx context.Context, id string, role types.Role, text string, intent string, entities map[string]string) error {
	tr := m.lookup(ctx, id)
	if tr == nil {
		return fmt.Errorf("session: append to %q: %w", id, ErrNotFound)
	}
	settings, _ := m.cfg.ConversationSettings(ctx)

	tr.mu.Lock()
	tr.s.Messages = append(tr.s.Messages, types.Message{
		Role:      role,
		Text:      text,
		Timestamp: m.now(),
		Intent:    intent,
		Entities:  entities,
	})
	if max := settings.MaxMessages; max > 0 && len(tr.s.Messages) > max {
		tr.s.Messages = tr.s.Messages[len(tr.s.Messages)-max:]
	}
	tr.s.LastActivity = m.now()
	snapshot := tr.s.clone()
	tr.mu.Unlock()

	m.persist(ctx, snapshot, settings)
	return nil
}

// History returns the last n messages in chronological order. n <= 0 means
// the configured max_llm_history_messages.
func (m *Manager) History(ctx context.Context, id string, n int) ([]types.Message, error) {
	tr := m.lookup(ctx, id)
	if tr == nil {
		return nil, fmt.Errorf("session: history of %q: %w", id, ErrNotFound)
	}
	if n <= 0 {
		settings, _ := m.cfg.ConversationSettings(ctx)
		n = settings.MaxLLMHistoryMessages
		if n <= 0 {
			n = 10
		}
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()
	msgs := tr.s.Messages
	if len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	out := make([]types.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// SetContext merges updates into the session context. Empty fields in
// updates leave the current value in place; entities replace wholesale.
func (m *Manager) SetContext(ctx context.Context, id string, updates types.SessionContext) error {
	return m.mutate(ctx, id, func(s *Session) {
		if updates.LastIntent != "" {
			s.Context.LastIntent = updates.LastIntent
		}
		if updates.LastCategory != "" {
			s.Context.LastCategory = updates.LastCategory
		}
		if updates.LastEntities != nil {
			s.Context.LastEntities = updates.LastEntities
		}
	})
}

// SetPendingClarification attaches p, replacing any existing pending
// clarification. At most one is attached at a time.
func (m *Manager) SetPendingClarification(ctx context.Context, id string, p *types.PendingClarification) error {
	err := m.mutate(ctx, id, func(s *Session) {
		s.Context.Pending = p
	})
	if err == nil && m.metrics != nil {
		m.metrics.PendingClarifications.Add(ctx, 1)
	}
	return err
}

// ClearPendingClarification removes the pending clarification, if any.
func (m *Manager) ClearPendingClarification(ctx context.Context, id string) error {
	var had bool
	err := m.mutate(ctx, id, func(s *Session) {
		had = s.Context.Pending != nil
		s.Context.Pending = nil
	})
	if err == nil && had && m.metrics != nil {
		m.metrics.PendingClarifications.Add(ctx, -1)
	}
	return err
}

// Get returns a snapshot of the session, or ErrNotFound.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	tr := m.lookup(ctx, id)
	if tr == nil {
		return nil, fmt.Errorf("session: get %q: %w", id, ErrNotFound)
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.s.clone(), nil
}

// Delete removes the session from the mirror and the store.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.drop(ctx, id)
	return nil
}

// List returns snapshots of all active sessions, mirror first, then any
// store-only sessions.
func (m *Manager) List(ctx context.Context) ([]*Session, error) {
	seen := make(map[string]bool)
	var out []*Session

	m.mu.Lock()
	mirrored := make([]*tracked, 0, len(m.active))
	for _, tr := range m.active {
		mirrored = append(mirrored, tr)
	}
	m.mu.Unlock()

	for _, tr := range mirrored {
		tr.mu.Lock()
		out = append(out, tr.s.clone())
		seen[tr.s.ID] = true
		tr.mu.Unlock()
	}

	if m.store != nil {
		ids, err := m.store.IDs(ctx)
		if err != nil {
			slog.Warn("session: store list failed", "err", err)
			return out, nil
		}
		for _, id := range ids {
			if seen[id] {
				continue
			}
			s, err := m.store.Load(ctx, id)
			if err != nil {
				continue
			}
			out = append(out, s)
		}
	}
	return out, nil
}

// Run reaps expired sessions every cleanup interval until ctx is
// cancelled.
func (m *Manager) Run(ctx context.Context) {
	for {
		settings, _ := m.cfg.ConversationSettings(ctx)
		interval := time.Duration(settings.CleanupIntervalSeconds) * time.Second
		if interval <= 0 {
			interval = time.Minute
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
			m.reap(ctx)
		}
	}
}

// reap destroys sessions whose inactivity exceeds the timeout.
func (m *Manager) reap(ctx context.Context) {
	settings, _ := m.cfg.ConversationSettings(ctx)
	timeout := time.Duration(settings.TimeoutSeconds) * time.Second
	now := m.now()

	m.mu.Lock()
	var expired []string
	for id, tr := range m.active {
		tr.mu.Lock()
		if tr.s.Expired(now, timeout) {
			expired = append(expired, id)
		}
		tr.mu.Unlock()
	}
	m.mu.Unlock()

	for _, id := range expired {
		m.drop(ctx, id)
	}
	if len(expired) > 0 {
		slog.Debug("session reaper", "expired", len(expired))
	}
}

// lookup finds the tracked session for id, adopting it from the store into
// the mirror when needed. Returns nil when the id is unknown.
func (m *Manager) lookup(ctx context.Context, id string) *tracked {
	m.mu.Lock()
	tr, ok := m.active[id]
	m.mu.Unlock()
	if ok {
		return tr
	}
	if m.store == nil {
		return nil
	}

	s, err := m.store.Load(ctx, id)
	if err != nil {
		if err != ErrNotFound {
			slog.Warn("session: store load failed", "session_id", id, "err", err)
		}
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Re-check: another goroutine may have adopted it meanwhile.
	if tr, ok := m.active[id]; ok {
		return tr
	}
	tr = &tracked{s: s}
	m.active[id] = tr
	return tr
}

// mutate applies fn under the session lock and persists the result.
func (m *Manager) mutate(ctx context.Context, id string, fn func(*Session)) error {
	tr := m.lookup(ctx, id)
	if tr == nil {
		return fmt.Errorf("session: %q: %w", id, ErrNotFound)
	}
	settings, _ := m.cfg.ConversationSettings(ctx)

	tr.mu.Lock()
	fn(tr.s)
	snapshot := tr.s.clone()
	tr.mu.Unlock()

	m.persist(ctx, snapshot, settings)
	return nil
}

// persist writes the snapshot to the store. Failures degrade to the mirror
// and are logged, never surfaced; a single process stays correct without
// the store.
func (m *Manager) persist(ctx context.Context, s *Session, settings types.ConversationSettings) {
	if m.store == nil {
		return
	}
	ttl := time.Duration(settings.SessionTTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = time.Hour
	}
	if err := m.store.Save(ctx, s, ttl); err != nil {
		slog.Warn("session: store save failed, mirror only", "session_id", s.ID, "err", err)
	}
}

func (m *Manager) drop(ctx context.Context, id string) {
	m.mu.Lock()
	_, existed := m.active[id]
	delete(m.active, id)
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.Delete(ctx, id); err != nil {
			slog.Warn("session: store delete failed", "session_id", id, "err", err)
		}
	}
	if existed && m.metrics != nil {
		m.metrics.ActiveSessions.Add(ctx, -1)
	}
}

func (m *Manager) event(e types.AnalyticsEvent) {
	if m.emit != nil {
		m.emit(e)
	}
}
