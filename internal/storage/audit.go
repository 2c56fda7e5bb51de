package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fieldline/fence/internal/model"
)

// InsertAuditRecord appends a record to the audit trail. The target table is
// immutable: nothing in this codebase updates or deletes audit_log rows.
func (db *DB) InsertAuditRecord(ctx context.Context, rec model.AuditRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.Payload == nil {
		rec.Payload = map[string]any{}
	}

	payloadJSON, err := json.Marshal(rec.Payload)
	if err != nil {
		return fmt.Errorf("storage: marshal audit payload: %w", err)
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO audit_log (id, tenant_id, actor_id, action, entity_type, entity_id, payload, request_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8, $9)`,
		rec.ID, rec.TenantID, rec.ActorID, rec.Action, rec.EntityType, rec.EntityID,
		payloadJSON, rec.RequestID, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: insert audit record: %w", err)
	}
	return nil
}

// ListAuditRecords returns a tenant's audit trail, newest first.
func (db *DB) ListAuditRecords(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]model.AuditRecord, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, tenant_id, actor_id, action, entity_type, entity_id, payload, request_id, created_at
		 FROM audit_log
		 WHERE tenant_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2 OFFSET $3`,
		tenantID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list audit records: %w", err)
	}
	defer rows.Close()

	var records []model.AuditRecord
	for rows.Next() {
		var (
			rec         model.AuditRecord
			payloadJSON []byte
		)
		if err := rows.Scan(&rec.ID, &rec.TenantID, &rec.ActorID, &rec.Action, &rec.EntityType,
			&rec.EntityID, &payloadJSON, &rec.RequestID, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan audit record: %w", err)
		}
		if len(payloadJSON) > 0 {
			if err := json.Unmarshal(payloadJSON, &rec.Payload); err != nil {
				return nil, fmt.Errorf("storage: unmarshal audit payload: %w", err)
			}
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// CountAuditRecords returns the number of audit records for a tenant and action.
// Used by tests and operator tooling to verify the one-record-per-mutation invariant.
func (db *DB) CountAuditRecords(ctx context.Context, tenantID uuid.UUID, action string) (int, error) {
	var n int
	err := db.pool.QueryRow(ctx,
		`SELECT count(*) FROM audit_log WHERE tenant_id = $1 AND action = $2`,
		tenantID, action,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("storage: count audit records: %w", err)
	}
	return n, nil
}
