package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/openhearth/hearth/internal/config"
	"github.com/openhearth/hearth/internal/types"
)

// Memory is the in-process store used in development and tests. It starts
// seeded with the documented defaults.
type Memory struct {
	mu sync.Mutex

	conversation  types.ConversationSettings
	clarification types.ClarificationSettings
	rules         map[string]types.ClarificationRule
	teams         map[string]types.SportsTeam
	deviceRules   map[string]types.DeviceRule
	features      map[string]types.FeatureFlag
	backends      map[int64]types.LLMBackend
	nextBackendID int64

	audit []types.AuditRecord
}

var _ Store = (*Memory)(nil)

// NewMemory creates a seeded in-memory store.
func NewMemory() *Memory {
	m := &Memory{
		conversation:  config.DefaultConversationSettings(),
		clarification: config.DefaultClarificationSettings(),
		rules:         make(map[string]types.ClarificationRule),
		teams:         make(map[string]types.SportsTeam),
		deviceRules:   make(map[string]types.DeviceRule),
		features:      make(map[string]types.FeatureFlag),
		backends:      make(map[int64]types.LLMBackend),
		nextBackendID: 1,
	}
	for _, f := range config.DefaultFeatures() {
		m.features[f.Name] = f
	}
	return m
}

func (m *Memory) ConversationSettings(context.Context) (types.ConversationSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conversation, nil
}

func (m *Memory) ClarificationSettings(context.Context) (types.ClarificationSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clarification, nil
}

func (m *Memory) ClarificationRules(context.Context) ([]types.ClarificationRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.ClarificationRule, 0, len(m.rules))
	for _, r := range m.rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out, nil
}

func (m *Memory) SportsTeams(context.Context) ([]types.SportsTeam, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.SportsTeam, 0, len(m.teams))
	for _, t := range m.teams {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Trigger < out[j].Trigger })
	return out, nil
}

func (m *Memory) DeviceRules(context.Context) ([]types.DeviceRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.DeviceRule, 0, len(m.deviceRules))
	for _, r := range m.deviceRules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceKind < out[j].DeviceKind })
	return out, nil
}

func (m *Memory) Features(context.Context) ([]types.FeatureFlag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.FeatureFlag, 0, len(m.features))
	for _, f := range m.features {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out, nil
}

func (m *Memory) LLMBackends(context.Context) ([]types.LLMBackend, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.LLMBackend, 0, len(m.backends))
	for _, b := range m.backends {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) SaveConversationSettings(_ context.Context, s types.ConversationSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conversation = s
	return nil
}

func (m *Memory) SaveClarificationSettings(_ context.Context, s types.ClarificationSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clarification = s
	return nil
}

func (m *Memory) UpsertClarificationRule(_ context.Context, r types.ClarificationRule) error {
	if r.Kind == "" {
		return fmt.Errorf("store: clarification rule: kind is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[r.Kind] = r
	return nil
}

func (m *Memory) DeleteClarificationRule(_ context.Context, kind string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rules[kind]; !ok {
		return fmt.Errorf("store: clarification rule %q: %w", kind, ErrNotFound)
	}
	delete(m.rules, kind)
	return nil
}

func (m *Memory) UpsertSportsTeam(_ context.Context, t types.SportsTeam) error {
	if t.Trigger == "" {
		return fmt.Errorf("store: sports team: trigger is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t.Options = slices.Clone(t.Options)
	m.teams[t.Trigger] = t
	return nil
}

func (m *Memory) DeleteSportsTeam(_ context.Context, trigger string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.teams[trigger]; !ok {
		return fmt.Errorf("store: sports team %q: %w", trigger, ErrNotFound)
	}
	delete(m.teams, trigger)
	return nil
}

func (m *Memory) UpsertDeviceRule(_ context.Context, r types.DeviceRule) error {
	if r.DeviceKind == "" {
		return fmt.Errorf("store: device rule: device_kind is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deviceRules[r.DeviceKind] = r
	return nil
}

func (m *Memory) DeleteDeviceRule(_ context.Context, deviceKind string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.deviceRules[deviceKind]; !ok {
		return fmt.Errorf("store: device rule %q: %w", deviceKind, ErrNotFound)
	}
	delete(m.deviceRules, deviceKind)
	return nil
}

func (m *Memory) SetFeature(_ context.Context, name string, enabled bool) (types.FeatureFlag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.features[name]
	if !ok {
		return types.FeatureFlag{}, fmt.Errorf("store: feature %q: %w", name, ErrNotFound)
	}
	if f.Required && !enabled {
		return types.FeatureFlag{}, fmt.Errorf("store: feature %q: %w", name, ErrRequiredFlag)
	}
	f.Enabled = enabled
	m.features[name] = f
	return f, nil
}

func (m *Memory) UpsertLLMBackend(_ context.Context, b types.LLMBackend) (types.LLMBackend, error) {
	if err := validateBackend(b); err != nil {
		return types.LLMBackend{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if b.ID == 0 {
		b.ID = m.nextBackendID
		m.nextBackendID++
	} else if _, ok := m.backends[b.ID]; !ok {
		return types.LLMBackend{}, fmt.Errorf("store: llm backend %d: %w", b.ID, ErrNotFound)
	}
	m.backends[b.ID] = b
	return b, nil
}

func (m *Memory) DeleteLLMBackend(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.backends[id]; !ok {
		return fmt.Errorf("store: llm backend %d: %w", id, ErrNotFound)
	}
	delete(m.backends, id)
	return nil
}

func (m *Memory) AppendAudit(_ context.Context, rec types.AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, rec)
	return nil
}

func (m *Memory) Audit(_ context.Context, limit int) ([]types.AuditRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := slices.Clone(m.audit)
	// Newest first.
	slices.Reverse(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
