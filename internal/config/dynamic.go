package config

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/openhearth/hearth/internal/types"
)

// Kind names one dynamic configuration entity.
type Kind string

const (
	KindConversationSettings  Kind = "conversation_settings"
	KindClarificationSettings Kind = "clarification_settings"
	KindClarificationRules    Kind = "clarification_rules"
	KindSportsTeams           Kind = "sports_disambiguation"
	KindDeviceRules           Kind = "device_rules"
	KindFeatures              Kind = "features"
	KindLLMBackends           Kind = "llm_backends"
)

// Source is the authoritative origin of dynamic configuration. The admin
// store implements it directly; [HTTPSource] implements it against a remote
// admin API for split deployments.
type Source interface {
	ConversationSettings(ctx context.Context) (types.ConversationSettings, error)
	ClarificationSettings(ctx context.Context) (types.ClarificationSettings, error)
	ClarificationRules(ctx context.Context) ([]types.ClarificationRule, error)
	SportsTeams(ctx context.Context) ([]types.SportsTeam, error)
	DeviceRules(ctx context.Context) ([]types.DeviceRule, error)
	Features(ctx context.Context) ([]types.FeatureFlag, error)
	LLMBackends(ctx context.Context) ([]types.LLMBackend, error)
}

// entry is the cached state for one kind. value and lastGood hold the typed
// snapshot (never mutated after store; callers receive copies of slices).
type entry struct {
	mu        sync.Mutex
	value     any
	fetchedAt time.Time
	lastGood  any
}

// Loader caches dynamic configuration snapshots with a short TTL and a Redis
// mirror. All getters are safe for concurrent use; returned snapshots are
// immutable values.
type Loader struct {
	source Source
	mirror *redis.Client // nil disables mirroring
	ttl    time.Duration

	entries map[Kind]*entry
}

// LoaderOption configures a [Loader].
type LoaderOption func(*Loader)

// WithMirror mirrors fetched snapshots to Redis under config:{kind} so
// sibling processes can serve a fetch from the mirror when the source is
// down.
func WithMirror(c *redis.Client) LoaderOption {
	return func(l *Loader) { l.mirror = c }
}

// WithTTL overrides the snapshot TTL. The default is [SnapshotTTL].
func WithTTL(d time.Duration) LoaderOption {
	return func(l *Loader) {
		if d > 0 {
			l.ttl = d
		}
	}
}

// NewLoader creates a Loader over the given source.
func NewLoader(source Source, opts ...LoaderOption) *Loader {
	l := &Loader{
		source:  source,
		ttl:     SnapshotTTL,
		entries: make(map[Kind]*entry),
	}
	for _, k := range []Kind{
		KindConversationSettings, KindClarificationSettings,
		KindClarificationRules, KindSportsTeams, KindDeviceRules,
		KindFeatures, KindLLMBackends,
	} {
		l.entries[k] = &entry{}
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Invalidate drops the cached snapshot (and Redis mirror) for kind so the
// next read re-fetches. Called by the admin surface after every mutation.
func (l *Loader) Invalidate(ctx context.Context, kind Kind) {
	e, ok := l.entries[kind]
	if !ok {
		return
	}
	e.mu.Lock()
	e.value = nil
	e.fetchedAt = time.Time{}
	e.mu.Unlock()

	if l.mirror != nil {
		if err := l.mirror.Del(ctx, mirrorKey(kind)).Err(); err != nil {
			slog.Warn("config: mirror invalidate failed", "kind", kind, "err", err)
		}
	}
}

// Refresh re-fetches every kind regardless of TTL. Used by the background
// refresher; individual failures are logged and leave the previous snapshot
// in place.
func (l *Loader) Refresh(ctx context.Context) {
	l.Invalidate(ctx, KindConversationSettings)
	_, _ = l.ConversationSettings(ctx)
	l.Invalidate(ctx, KindClarificationSettings)
	_, _ = l.ClarificationSettings(ctx)
	l.Invalidate(ctx, KindClarificationRules)
	_, _ = l.ClarificationRules(ctx)
	l.Invalidate(ctx, KindSportsTeams)
	_, _ = l.SportsTeams(ctx)
	l.Invalidate(ctx, KindDeviceRules)
	_, _ = l.DeviceRules(ctx)
	l.Invalidate(ctx, KindFeatures)
	_, _ = l.Features(ctx)
	l.Invalidate(ctx, KindLLMBackends)
	_, _ = l.LLMBackends(ctx)
}

// Run refreshes all kinds every TTL until ctx is cancelled. Intended to be
// started as a background task from main.
func (l *Loader) Run(ctx context.Context) {
	ticker := time.NewTicker(l.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Refresh(ctx)
		}
	}
}

// ConversationSettings returns the current session-manager knobs.
func (l *Loader) ConversationSettings(ctx context.Context) (types.ConversationSettings, error) {
	return load(ctx, l, KindConversationSettings, DefaultConversationSettings(), l.source.ConversationSettings)
}

// ClarificationSettings returns the global clarification knobs.
func (l *Loader) ClarificationSettings(ctx context.Context) (types.ClarificationSettings, error) {
	return load(ctx, l, KindClarificationSettings, DefaultClarificationSettings(), l.source.ClarificationSettings)
}

// ClarificationRules returns the enabled-rule set, all kinds included.
func (l *Loader) ClarificationRules(ctx context.Context) ([]types.ClarificationRule, error) {
	v, err := load(ctx, l, KindClarificationRules, []types.ClarificationRule{}, l.source.ClarificationRules)
	return slices.Clone(v), err
}

// SportsTeams returns the sports disambiguation entries.
func (l *Loader) SportsTeams(ctx context.Context) ([]types.SportsTeam, error) {
	v, err := load(ctx, l, KindSportsTeams, []types.SportsTeam{}, l.source.SportsTeams)
	return slices.Clone(v), err
}

// DeviceRules returns the device disambiguation rules.
func (l *Loader) DeviceRules(ctx context.Context) ([]types.DeviceRule, error) {
	v, err := load(ctx, l, KindDeviceRules, []types.DeviceRule{}, l.source.DeviceRules)
	return slices.Clone(v), err
}

// Features returns the feature flag set.
func (l *Loader) Features(ctx context.Context) ([]types.FeatureFlag, error) {
	v, err := load(ctx, l, KindFeatures, DefaultFeatures(), l.source.Features)
	return slices.Clone(v), err
}

// LLMBackends returns the per-model routing table.
func (l *Loader) LLMBackends(ctx context.Context) ([]types.LLMBackend, error) {
	v, err := load(ctx, l, KindLLMBackends, []types.LLMBackend{}, l.source.LLMBackends)
	return slices.Clone(v), err
}

// FeatureEnabled reports whether the named flag is enabled. Unknown flags
// are disabled.
func (l *Loader) FeatureEnabled(ctx context.Context, name string) bool {
	flags, err := l.Features(ctx)
	if err != nil {
		return false
	}
	for _, f := range flags {
		if f.Name == name {
			return f.Enabled
		}
	}
	return false
}

// EnabledFeatures returns the names of all enabled flags, for the
// per-request latency breakdown snapshot.
func (l *Loader) EnabledFeatures(ctx context.Context) []string {
	flags, err := l.Features(ctx)
	if err != nil {
		return nil
	}
	var names []string
	for _, f := range flags {
		if f.Enabled {
			names = append(names, f.Name)
		}
	}
	return names
}

// Backend returns the routing row for model, or ok=false when no row exists
// or the row is disabled.
func (l *Loader) Backend(ctx context.Context, model string) (types.LLMBackend, bool) {
	rows, err := l.LLMBackends(ctx)
	if err != nil {
		return types.LLMBackend{}, false
	}
	for _, b := range rows {
		if b.ModelName == model && b.Enabled {
			return b, true
		}
	}
	return types.LLMBackend{}, false
}

// load is the shared per-kind cache logic: fresh snapshot → source fetch →
// Redis mirror → last-known-good → fallback default.
func load[T any](ctx context.Context, l *Loader, kind Kind, fallback T, fetch func(context.Context) (T, error)) (T, error) {
	e := l.entries[kind]
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.value != nil && time.Since(e.fetchedAt) < l.ttl {
		return e.value.(T), nil
	}

	v, err := fetch(ctx)
	if err == nil {
		e.value = v
		e.fetchedAt = time.Now()
		e.lastGood = v
		l.writeMirror(ctx, kind, v)
		return v, nil
	}
	slog.Warn("config: source fetch failed", "kind", kind, "err", err)

	if mv, ok := readMirror[T](ctx, l, kind); ok {
		e.value = mv
		e.fetchedAt = time.Now()
		e.lastGood = mv
		return mv, nil
	}

	if e.lastGood != nil {
		return e.lastGood.(T), nil
	}
	return fallback, nil
}

func (l *Loader) writeMirror(ctx context.Context, kind Kind, v any) {
	if l.mirror == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := l.mirror.Set(ctx, mirrorKey(kind), data, l.ttl).Err(); err != nil {
		slog.Debug("config: mirror write failed", "kind", kind, "err", err)
	}
}

func readMirror[T any](ctx context.Context, l *Loader, kind Kind) (T, bool) {
	var zero T
	if l.mirror == nil {
		return zero, false
	}
	data, err := l.mirror.Get(ctx, mirrorKey(kind)).Bytes()
	if err != nil {
		return zero, false
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return zero, false
	}
	return v, true
}

func mirrorKey(kind Kind) string {
	return "config:" + string(kind)
}
