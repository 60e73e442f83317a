package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openhearth/hearth/internal/types"
)

const ddlAnalyticsEvents = `
CREATE TABLE IF NOT EXISTS analytics_events (
    id         BIGSERIAL    PRIMARY KEY,
    kind       TEXT         NOT NULL,
    session_id TEXT         NOT NULL DEFAULT '',
    ts         TIMESTAMPTZ  NOT NULL DEFAULT now(),
    metadata   JSONB        NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_analytics_events_kind
    ON analytics_events (kind);

CREATE INDEX IF NOT EXISTS idx_analytics_events_session
    ON analytics_events (session_id);

CREATE INDEX IF NOT EXISTS idx_analytics_events_ts
    ON analytics_events (ts);
`

// PostgresSink stores events in the analytics_events table.
type PostgresSink struct {
	pool *pgxpool.Pool
}

var _ Sink = (*PostgresSink)(nil)

// NewPostgresSink wraps pool and ensures the schema exists. Migration is
// idempotent and safe to run on every start.
func NewPostgresSink(ctx context.Context, pool *pgxpool.Pool) (*PostgresSink, error) {
	if _, err := pool.Exec(ctx, ddlAnalyticsEvents); err != nil {
		return nil, fmt.Errorf("analytics migrate: %w", err)
	}
	return &PostgresSink{pool: pool}, nil
}

func (p *PostgresSink) Write(ctx context.Context, events []types.AnalyticsEvent) error {
	batch := make([][]any, 0, len(events))
	for _, ev := range events {
		meta, err := json.Marshal(ev.Metadata)
		if err != nil {
			return fmt.Errorf("analytics: encode metadata: %w", err)
		}
		if ev.Metadata == nil {
			meta = []byte("{}")
		}
		batch = append(batch, []any{string(ev.Kind), ev.SessionID, ev.Timestamp, meta})
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("analytics: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, row := range batch {
		if _, err := tx.Exec(ctx,
			`INSERT INTO analytics_events (kind, session_id, ts, metadata) VALUES ($1, $2, $3, $4)`,
			row...); err != nil {
			return fmt.Errorf("analytics: insert: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("analytics: commit: %w", err)
	}
	return nil
}

func (p *PostgresSink) Query(ctx context.Context, f Filter) ([]types.AnalyticsEvent, error) {
	var (
		where []string
		args  []any
	)
	if f.Kind != "" {
		args = append(args, string(f.Kind))
		where = append(where, fmt.Sprintf("kind = $%d", len(args)))
	}
	if f.SessionID != "" {
		args = append(args, f.SessionID)
		where = append(where, fmt.Sprintf("session_id = $%d", len(args)))
	}
	if !f.Since.IsZero() {
		args = append(args, f.Since)
		where = append(where, fmt.Sprintf("ts >= $%d", len(args)))
	}

	q := `SELECT kind, session_id, ts, metadata FROM analytics_events`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY ts DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := p.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("analytics: query: %w", err)
	}
	defer rows.Close()

	var out []types.AnalyticsEvent
	for rows.Next() {
		var (
			ev   types.AnalyticsEvent
			kind string
			ts   time.Time
			meta []byte
		)
		if err := rows.Scan(&kind, &ev.SessionID, &ts, &meta); err != nil {
			return nil, fmt.Errorf("analytics: scan: %w", err)
		}
		ev.Kind = types.EventKind(kind)
		ev.Timestamp = ts
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &ev.Metadata); err != nil {
				return nil, fmt.Errorf("analytics: decode metadata: %w", err)
			}
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("analytics: rows: %w", err)
	}
	return out, nil
}
