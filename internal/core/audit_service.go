package core

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditEntry is one append-only row in the audit log. Before and After hold
// JSON snapshots of the touched entity, either may be nil.
type AuditEntry struct {
	ID         int
	EventType  string
	Actor      string
	EntityKind string
	EntityID   int
	Before     json.RawMessage
	After      json.RawMessage
	CreatedAt  time.Time
}

// AuditService writes and reads the audit trail. Rows are never updated or
// deleted.
type AuditService interface {
	Record(ctx context.Context, eventType, actor, entityKind string, entityID int, before, after any) error
	// RecordTx writes inside a caller transaction so the audit row commits
	// or rolls back with the change it describes.
	RecordTx(ctx context.Context, tx pgx.Tx, eventType, actor, entityKind string, entityID int, before, after any) error
	GetEntries(ctx context.Context, entityKind string, entityID int, limit int) ([]AuditEntry, error)
}

type auditService struct {
	pool *pgxpool.Pool
}

func NewAuditService(pool *pgxpool.Pool) AuditService {
	return &auditService{pool: pool}
}

func marshalState(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal audit state: %w", err)
	}
	return b, nil
}

func (s *auditService) Record(ctx context.Context, eventType, actor, entityKind string, entityID int, before, after any) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.RecordTx(ctx, tx, eventType, actor, entityKind, entityID, before, after); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit audit entry: %w", err)
	}
	return nil
}

func (s *auditService) RecordTx(ctx context.Context, tx pgx.Tx, eventType, actor, entityKind string, entityID int, before, after any) error {
	if eventType == "" {
		return validationf("event type is required")
	}
	if actor == "" {
		return validationf("actor is required")
	}

	beforeJSON, err := marshalState(before)
	if err != nil {
		return err
	}
	afterJSON, err := marshalState(after)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO audit_log (event_type, actor, entity_kind, entity_id, before_state, after_state)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, eventType, actor, entityKind, entityID, beforeJSON, afterJSON)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

func (s *auditService) GetEntries(ctx context.Context, entityKind string, entityID int, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, event_type, actor, entity_kind, entity_id, before_state, after_state, created_at
		FROM audit_log
		WHERE entity_kind = $1 AND entity_id = $2
		ORDER BY id DESC
		LIMIT $3
	`, entityKind, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.ID, &e.EventType, &e.Actor, &e.EntityKind, &e.EntityID,
			&e.Before, &e.After, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
