package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Драйвер Postgres

	"github.com/xela07ax/spaceai-agentcore/internal/audit"
	"github.com/xela07ax/spaceai-agentcore/internal/infra"
)

// Schema creates the skill_calls table. Applied by EnsureSchema on startup.
const Schema = `
CREATE TABLE IF NOT EXISTS skill_calls (
	id          UUID PRIMARY KEY,
	trace_id    TEXT NOT NULL DEFAULT '',
	user_id     TEXT NOT NULL DEFAULT '',
	channel     TEXT NOT NULL DEFAULT '',
	skill       TEXT NOT NULL,
	params      JSONB,
	outcome     TEXT NOT NULL,
	zone        TEXT NOT NULL DEFAULT '',
	risk_level  TEXT NOT NULL DEFAULT '',
	approval_id TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT '',
	duration_ms BIGINT NOT NULL DEFAULT 0,
	created_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS skill_calls_skill_created_idx ON skill_calls (skill, created_at DESC);
CREATE INDEX IF NOT EXISTS skill_calls_user_created_idx ON skill_calls (user_id, created_at DESC);
`

const (
	skillCallColumns = "id, trace_id, user_id, channel, skill, params, outcome, zone, risk_level, approval_id, error, duration_ms, created_at"
	numFields        = 13
	// Postgres caps a statement at 65535 bind parameters.
	maxRowsPerInsert = 65535 / numFields
)

// AuditRepo is the durable audit.Storage: one row per skill call.
type AuditRepo struct {
	db *sql.DB
}

var _ audit.Storage = (*AuditRepo)(nil)

func NewAuditRepo(cfg infra.DatabaseConfig) (*AuditRepo, error) {
	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	maxConns := int(cfg.MaxConns)
	if maxConns <= 0 {
		maxConns = 25
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(min(int(cfg.MinConns), maxConns))
	db.SetConnMaxLifetime(5 * time.Minute)
	return &AuditRepo{db: db}, nil
}

// NewAuditRepoFromDB wraps an already opened pool.
func NewAuditRepoFromDB(db *sql.DB) *AuditRepo { return &AuditRepo{db: db} }

func (r *AuditRepo) Ping(ctx context.Context) error { return r.db.PingContext(ctx) }

func (r *AuditRepo) Close() error { return r.db.Close() }

func (r *AuditRepo) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("postgres: ensure schema: %w", err)
	}
	return nil
}

func (r *AuditRepo) WriteBatch(ctx context.Context, events []audit.SkillCallEvent) error {
	for len(events) > 0 {
		n := min(len(events), maxRowsPerInsert)
		query, vals, err := buildInsert(events[:n])
		if err != nil {
			return err
		}
		if _, err := r.db.ExecContext(ctx, query, vals...); err != nil {
			return fmt.Errorf("postgres: insert skill calls: %w", err)
		}
		events = events[n:]
	}
	return nil
}

// buildInsert renders one multi-row INSERT for events.
func buildInsert(events []audit.SkillCallEvent) (string, []any, error) {
	var sb strings.Builder
	sb.WriteString("INSERT INTO skill_calls (" + skillCallColumns + ") VALUES ")
	vals := make([]any, 0, len(events)*numFields)

	for i, e := range events {
		if i > 0 {
			sb.WriteByte(',')
		}
		p := i * numFields
		sb.WriteByte('(')
		for f := 1; f <= numFields; f++ {
			if f > 1 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", p+f)
		}
		sb.WriteByte(')')

		var params []byte
		if e.Params != nil {
			var err error
			if params, err = json.Marshal(e.Params); err != nil {
				return "", nil, fmt.Errorf("postgres: marshal params of %s: %w", e.ID, err)
			}
		}
		vals = append(vals,
			e.ID, e.TraceID, e.UserID, e.Channel, e.Skill, params, e.Outcome,
			e.Zone, e.RiskLevel, e.ApprovalID, e.Error, e.DurationMs, e.Timestamp,
		)
	}
	sb.WriteString(" ON CONFLICT (id) DO NOTHING")
	return sb.String(), vals, nil
}

// Recent returns the newest rows, for one skill or for all when skill is empty.
func (r *AuditRepo) Recent(ctx context.Context, skill string, limit int) ([]audit.SkillCallEvent, error) {
	query := "SELECT " + skillCallColumns + " FROM skill_calls"
	args := []any{}
	if skill != "" {
		query += " WHERE skill = $1"
		args = append(args, skill)
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query skill calls: %w", err)
	}
	defer rows.Close()

	out := make([]audit.SkillCallEvent, 0)
	for rows.Next() {
		var e audit.SkillCallEvent
		var params []byte
		if err := rows.Scan(
			&e.ID, &e.TraceID, &e.UserID, &e.Channel, &e.Skill, &params, &e.Outcome,
			&e.Zone, &e.RiskLevel, &e.ApprovalID, &e.Error, &e.DurationMs, &e.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan skill call: %w", err)
		}
		if len(params) > 0 {
			_ = json.Unmarshal(params, &e.Params)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return out, nil
}
