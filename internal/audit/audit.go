// Package audit persists the append-only trail of state-changing actions.
// Entries are never mutated or deleted.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Actions recorded against invoices.
const (
	ActionCreated       = "created"
	ActionPaid          = "paid"
	ActionDuesGenerated = "dues_generated"
	ActionSendRequested = "send_requested"
	ActionReminderSent  = "reminder_sent"
)

// Entry represents a record stored in audit_logs.
type Entry struct {
	TenantID    int64
	ActorID     int64
	Action      string
	Entity      string
	EntityID    int64
	AmountCents int64
	Meta        map[string]any
	At          time.Time
}

// Logger writes records into audit_logs.
type Logger struct {
	pool *pgxpool.Pool
}

// NewLogger returns a new Logger.
func NewLogger(pool *pgxpool.Pool) *Logger {
	return &Logger{pool: pool}
}

// Record persists the log entry.
func (l *Logger) Record(ctx context.Context, entry Entry) error {
	if entry.TenantID == 0 || entry.Action == "" || entry.Entity == "" || entry.EntityID == 0 {
		return errors.New("audit entry requires tenant/action/entity/entity_id")
	}
	if l == nil || l.pool == nil {
		return errors.New("audit logger not initialised")
	}
	metaJSON, err := json.Marshal(entry.Meta)
	if err != nil {
		return err
	}
	occurredAt := pgtype.Timestamptz{Time: entry.At, Valid: !entry.At.IsZero()}
	_, err = l.pool.Exec(ctx,
		`INSERT INTO audit_logs (tenant_id, actor_id, action, entity, entity_id, amount_cents, meta, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, NOW()))`,
		entry.TenantID, entry.ActorID, entry.Action, entry.Entity, entry.EntityID, entry.AmountCents, metaJSON, occurredAt)
	return err
}

// List returns recent entries for one entity, newest first.
func (l *Logger) List(ctx context.Context, tenantID int64, entity string, entityID int64, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.pool.Query(ctx,
		`SELECT tenant_id, actor_id, action, entity, entity_id, amount_cents, meta, occurred_at
		 FROM audit_logs
		 WHERE tenant_id = $1 AND entity = $2 AND entity_id = $3
		 ORDER BY occurred_at DESC
		 LIMIT $4`,
		tenantID, entity, entityID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var metaJSON []byte
		if err := rows.Scan(&e.TenantID, &e.ActorID, &e.Action, &e.Entity, &e.EntityID, &e.AmountCents, &metaJSON, &e.At); err != nil {
			return nil, err
		}
		if len(metaJSON) > 0 {
			_ = json.Unmarshal(metaJSON, &e.Meta)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
