// Package store is the authoritative backing store for dynamic
// configuration: feature flags, LLM routing rows, clarification and device
// rules, sports disambiguation, conversation settings, and the audit trail
// of admin mutations.
//
// Two implementations exist: [Memory] for development and tests, and
// [Postgres] for deployments. Both satisfy [config.Source], so the dynamic
// loader reads from whichever is wired.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/openhearth/hearth/internal/config"
	"github.com/openhearth/hearth/internal/types"
)

// ErrNotFound reports a lookup against an entity that does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrRequiredFlag reports an attempt to disable a flag marked required.
var ErrRequiredFlag = errors.New("store: required flag cannot be disabled")

// Store is the full admin-surface contract: the read side feeds the dynamic
// config loader, the write side backs the admin API. Every mutation is
// expected to be followed by an audit append and a loader invalidation by
// the caller.
type Store interface {
	config.Source

	SaveConversationSettings(ctx context.Context, s types.ConversationSettings) error
	SaveClarificationSettings(ctx context.Context, s types.ClarificationSettings) error

	UpsertClarificationRule(ctx context.Context, r types.ClarificationRule) error
	DeleteClarificationRule(ctx context.Context, kind string) error

	UpsertSportsTeam(ctx context.Context, t types.SportsTeam) error
	DeleteSportsTeam(ctx context.Context, trigger string) error

	UpsertDeviceRule(ctx context.Context, r types.DeviceRule) error
	DeleteDeviceRule(ctx context.Context, deviceKind string) error

	// SetFeature toggles one flag and returns its new state. Disabling a
	// required flag fails with [ErrRequiredFlag].
	SetFeature(ctx context.Context, name string, enabled bool) (types.FeatureFlag, error)

	UpsertLLMBackend(ctx context.Context, b types.LLMBackend) (types.LLMBackend, error)
	DeleteLLMBackend(ctx context.Context, id int64) error

	AppendAudit(ctx context.Context, rec types.AuditRecord) error
	Audit(ctx context.Context, limit int) ([]types.AuditRecord, error)
}

// validateBackend rejects rows that would be unusable at routing time.
func validateBackend(b types.LLMBackend) error {
	if b.ModelName == "" {
		return fmt.Errorf("store: llm backend: model_name is required")
	}
	if b.Endpoint == "" {
		return fmt.Errorf("store: llm backend %q: endpoint is required", b.ModelName)
	}
	switch b.BackendType {
	case types.BackendPrimary, types.BackendAlternate, types.BackendAuto:
	default:
		return fmt.Errorf("store: llm backend %q: unknown backend_type %q", b.ModelName, b.BackendType)
	}
	return nil
}
