package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openhearth/hearth/internal/config"
	"github.com/openhearth/hearth/internal/types"
)

// Settings of both kinds live as one JSONB document per kind; the list
// entities get a row per natural key. Flags and backends use real columns
// because the admin surface filters and toggles them individually.
const ddlAdmin = `
CREATE TABLE IF NOT EXISTS config_settings (
    kind       TEXT         PRIMARY KEY,
    doc        JSONB        NOT NULL,
    updated_at TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS clarification_rules (
    kind       TEXT         PRIMARY KEY,
    doc        JSONB        NOT NULL,
    updated_at TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS sports_teams (
    trigger    TEXT         PRIMARY KEY,
    doc        JSONB        NOT NULL,
    updated_at TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS device_rules (
    device_kind TEXT        PRIMARY KEY,
    doc         JSONB       NOT NULL,
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS feature_flags (
    id        BIGSERIAL  PRIMARY KEY,
    name      TEXT       NOT NULL UNIQUE,
    enabled   BOOLEAN    NOT NULL DEFAULT true,
    category  TEXT       NOT NULL DEFAULT '',
    required  BOOLEAN    NOT NULL DEFAULT false,
    priority  INTEGER    NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS llm_backends (
    id                  BIGSERIAL        PRIMARY KEY,
    model_name          TEXT             NOT NULL,
    backend_type        TEXT             NOT NULL,
    endpoint            TEXT             NOT NULL,
    enabled             BOOLEAN          NOT NULL DEFAULT true,
    priority            INTEGER          NOT NULL DEFAULT 0,
    max_tokens          INTEGER          NOT NULL DEFAULT 0,
    default_temperature DOUBLE PRECISION NOT NULL DEFAULT 0,
    timeout_ms          BIGINT           NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_llm_backends_model
    ON llm_backends (model_name);

CREATE TABLE IF NOT EXISTS audit_log (
    id       BIGSERIAL    PRIMARY KEY,
    actor    TEXT         NOT NULL,
    ts       TIMESTAMPTZ  NOT NULL DEFAULT now(),
    entity   TEXT         NOT NULL,
    before   TEXT         NOT NULL DEFAULT '',
    after    TEXT         NOT NULL DEFAULT ''
);
`

// Postgres is the production admin store.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Store = (*Postgres)(nil)

// NewPostgres connects to dsn, runs the idempotent migration, and seeds the
// default feature flags for any missing rows.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	p := &Postgres{pool: pool}
	if err := p.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

// Close releases the connection pool.
func (p *Postgres) Close() { p.pool.Close() }

// Pool exposes the underlying pool for sibling stores and health checks.
func (p *Postgres) Pool() *pgxpool.Pool { return p.pool }

func (p *Postgres) migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, ddlAdmin); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	for _, f := range config.DefaultFeatures() {
		_, err := p.pool.Exec(ctx, `
			INSERT INTO feature_flags (name, enabled, category, required, priority)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (name) DO NOTHING`,
			f.Name, f.Enabled, f.Category, f.Required, f.Priority)
		if err != nil {
			return fmt.Errorf("store: seed flag %q: %w", f.Name, err)
		}
	}
	return nil
}

// settingsDoc reads one JSONB settings document; fallback applies when the
// row is absent.
func settingsDoc[T any](ctx context.Context, p *Postgres, kind string, fallback T) (T, error) {
	var data []byte
	err := p.pool.QueryRow(ctx,
		`SELECT doc FROM config_settings WHERE kind = $1`, kind).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return fallback, nil
	}
	if err != nil {
		return fallback, fmt.Errorf("store: read %s: %w", kind, err)
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return fallback, fmt.Errorf("store: decode %s: %w", kind, err)
	}
	return v, nil
}

func (p *Postgres) saveSettingsDoc(ctx context.Context, kind string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", kind, err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO config_settings (kind, doc, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (kind) DO UPDATE SET doc = EXCLUDED.doc, updated_at = now()`,
		kind, data)
	if err != nil {
		return fmt.Errorf("store: save %s: %w", kind, err)
	}
	return nil
}

func (p *Postgres) ConversationSettings(ctx context.Context) (types.ConversationSettings, error) {
	return settingsDoc(ctx, p, string(config.KindConversationSettings), config.DefaultConversationSettings())
}

func (p *Postgres) ClarificationSettings(ctx context.Context) (types.ClarificationSettings, error) {
	return settingsDoc(ctx, p, string(config.KindClarificationSettings), config.DefaultClarificationSettings())
}

func (p *Postgres) SaveConversationSettings(ctx context.Context, s types.ConversationSettings) error {
	return p.saveSettingsDoc(ctx, string(config.KindConversationSettings), s)
}

func (p *Postgres) SaveClarificationSettings(ctx context.Context, s types.ClarificationSettings) error {
	return p.saveSettingsDoc(ctx, string(config.KindClarificationSettings), s)
}

// docRows reads every JSONB document from a keyed table.
func docRows[T any](ctx context.Context, p *Postgres, table, orderCol string) ([]T, error) {
	rows, err := p.pool.Query(ctx,
		fmt.Sprintf(`SELECT doc FROM %s ORDER BY %s`, table, orderCol))
	if err != nil {
		return nil, fmt.Errorf("store: list %s: %w", table, err)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("store: scan %s: %w", table, err)
		}
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("store: decode %s: %w", table, err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (p *Postgres) ClarificationRules(ctx context.Context) ([]types.ClarificationRule, error) {
	return docRows[types.ClarificationRule](ctx, p, "clarification_rules", "kind")
}

func (p *Postgres) SportsTeams(ctx context.Context) ([]types.SportsTeam, error) {
	return docRows[types.SportsTeam](ctx, p, "sports_teams", "trigger")
}

func (p *Postgres) DeviceRules(ctx context.Context) ([]types.DeviceRule, error) {
	return docRows[types.DeviceRule](ctx, p, "device_rules", "device_kind")
}

func (p *Postgres) UpsertClarificationRule(ctx context.Context, r types.ClarificationRule) error {
	if r.Kind == "" {
		return fmt.Errorf("store: clarification rule: kind is required")
	}
	return p.upsertDoc(ctx, "clarification_rules", "kind", r.Kind, r)
}

func (p *Postgres) DeleteClarificationRule(ctx context.Context, kind string) error {
	return p.deleteRow(ctx, "clarification_rules", "kind", kind)
}

func (p *Postgres) UpsertSportsTeam(ctx context.Context, t types.SportsTeam) error {
	if t.Trigger == "" {
		return fmt.Errorf("store: sports team: trigger is required")
	}
	return p.upsertDoc(ctx, "sports_teams", "trigger", t.Trigger, t)
}

func (p *Postgres) DeleteSportsTeam(ctx context.Context, trigger string) error {
	return p.deleteRow(ctx, "sports_teams", "trigger", trigger)
}

func (p *Postgres) UpsertDeviceRule(ctx context.Context, r types.DeviceRule) error {
	if r.DeviceKind == "" {
		return fmt.Errorf("store: device rule: device_kind is required")
	}
	return p.upsertDoc(ctx, "device_rules", "device_kind", r.DeviceKind, r)
}

func (p *Postgres) DeleteDeviceRule(ctx context.Context, deviceKind string) error {
	return p.deleteRow(ctx, "device_rules", "device_kind", deviceKind)
}

func (p *Postgres) upsertDoc(ctx context.Context, table, keyCol, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("store: encode %s %q: %w", table, key, err)
	}
	_, err = p.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (%s, doc, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (%s) DO UPDATE SET doc = EXCLUDED.doc, updated_at = now()`,
		table, keyCol, keyCol), key, data)
	if err != nil {
		return fmt.Errorf("store: upsert %s %q: %w", table, key, err)
	}
	return nil
}

func (p *Postgres) deleteRow(ctx context.Context, table, keyCol, key string) error {
	tag, err := p.pool.Exec(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE %s = $1`, table, keyCol), key)
	if err != nil {
		return fmt.Errorf("store: delete %s %q: %w", table, key, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("store: %s %q: %w", table, key, ErrNotFound)
	}
	return nil
}

func (p *Postgres) Features(ctx context.Context) ([]types.FeatureFlag, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, name, enabled, category, required, priority
		FROM feature_flags ORDER BY priority`)
	if err != nil {
		return nil, fmt.Errorf("store: list features: %w", err)
	}
	defer rows.Close()

	var out []types.FeatureFlag
	for rows.Next() {
		var f types.FeatureFlag
		if err := rows.Scan(&f.ID, &f.Name, &f.Enabled, &f.Category, &f.Required, &f.Priority); err != nil {
			return nil, fmt.Errorf("store: scan feature: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (p *Postgres) SetFeature(ctx context.Context, name string, enabled bool) (types.FeatureFlag, error) {
	var f types.FeatureFlag
	err := p.pool.QueryRow(ctx, `
		SELECT id, name, enabled, category, required, priority
		FROM feature_flags WHERE name = $1`, name).
		Scan(&f.ID, &f.Name, &f.Enabled, &f.Category, &f.Required, &f.Priority)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.FeatureFlag{}, fmt.Errorf("store: feature %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return types.FeatureFlag{}, fmt.Errorf("store: read feature %q: %w", name, err)
	}
	if f.Required && !enabled {
		return types.FeatureFlag{}, fmt.Errorf("store: feature %q: %w", name, ErrRequiredFlag)
	}

	if _, err := p.pool.Exec(ctx,
		`UPDATE feature_flags SET enabled = $1 WHERE name = $2`, enabled, name); err != nil {
		return types.FeatureFlag{}, fmt.Errorf("store: toggle feature %q: %w", name, err)
	}
	f.Enabled = enabled
	return f, nil
}

func (p *Postgres) LLMBackends(ctx context.Context) ([]types.LLMBackend, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, model_name, backend_type, endpoint, enabled, priority,
		       max_tokens, default_temperature, timeout_ms
		FROM llm_backends ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store: list llm backends: %w", err)
	}
	defer rows.Close()

	var out []types.LLMBackend
	for rows.Next() {
		var (
			b         types.LLMBackend
			kind      string
			timeoutMs int64
		)
		if err := rows.Scan(&b.ID, &b.ModelName, &kind, &b.Endpoint, &b.Enabled,
			&b.Priority, &b.MaxTokens, &b.DefaultTemperature, &timeoutMs); err != nil {
			return nil, fmt.Errorf("store: scan llm backend: %w", err)
		}
		b.BackendType = types.BackendType(kind)
		b.Timeout = time.Duration(timeoutMs) * time.Millisecond
		out = append(out, b)
	}
	return out, rows.Err()
}

func (p *Postgres) UpsertLLMBackend(ctx context.Context, b types.LLMBackend) (types.LLMBackend, error) {
	if err := validateBackend(b); err != nil {
		return types.LLMBackend{}, err
	}
	timeoutMs := b.Timeout.Milliseconds()

	if b.ID == 0 {
		err := p.pool.QueryRow(ctx, `
			INSERT INTO llm_backends
			    (model_name, backend_type, endpoint, enabled, priority,
			     max_tokens, default_temperature, timeout_ms)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id`,
			b.ModelName, string(b.BackendType), b.Endpoint, b.Enabled, b.Priority,
			b.MaxTokens, b.DefaultTemperature, timeoutMs).Scan(&b.ID)
		if err != nil {
			return types.LLMBackend{}, fmt.Errorf("store: insert llm backend: %w", err)
		}
		return b, nil
	}

	tag, err := p.pool.Exec(ctx, `
		UPDATE llm_backends SET
		    model_name = $2, backend_type = $3, endpoint = $4, enabled = $5,
		    priority = $6, max_tokens = $7, default_temperature = $8, timeout_ms = $9
		WHERE id = $1`,
		b.ID, b.ModelName, string(b.BackendType), b.Endpoint, b.Enabled,
		b.Priority, b.MaxTokens, b.DefaultTemperature, timeoutMs)
	if err != nil {
		return types.LLMBackend{}, fmt.Errorf("store: update llm backend %d: %w", b.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return types.LLMBackend{}, fmt.Errorf("store: llm backend %d: %w", b.ID, ErrNotFound)
	}
	return b, nil
}

func (p *Postgres) DeleteLLMBackend(ctx context.Context, id int64) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM llm_backends WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("store: delete llm backend %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("store: llm backend %d: %w", id, ErrNotFound)
	}
	return nil
}

func (p *Postgres) AppendAudit(ctx context.Context, rec types.AuditRecord) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO audit_log (actor, ts, entity, before, after)
		VALUES ($1, $2, $3, $4, $5)`,
		rec.Actor, rec.Timestamp, rec.Entity, rec.Before, rec.After)
	if err != nil {
		return fmt.Errorf("store: append audit: %w", err)
	}
	return nil
}

func (p *Postgres) Audit(ctx context.Context, limit int) ([]types.AuditRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.pool.Query(ctx, `
		SELECT actor, ts, entity, before, after
		FROM audit_log ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list audit: %w", err)
	}
	defer rows.Close()

	var out []types.AuditRecord
	for rows.Next() {
		var rec types.AuditRecord
		if err := rows.Scan(&rec.Actor, &rec.Timestamp, &rec.Entity, &rec.Before, &rec.After); err != nil {
			return nil, fmt.Errorf("store: scan audit: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
