package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fieldline/fence/internal/model"
)

// InsertSecurityEvent appends a security event. Like audit_log, the table is
// append-only.
func (db *DB) InsertSecurityEvent(ctx context.Context, ev model.SecurityEvent) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	if ev.Metadata == nil {
		ev.Metadata = map[string]any{}
	}

	metaJSON, err := json.Marshal(ev.Metadata)
	if err != nil {
		return fmt.Errorf("storage: marshal security event metadata: %w", err)
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO security_events (id, tenant_id, event_type, source, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5::jsonb, $6)`,
		ev.ID, ev.TenantID, ev.EventType, ev.Source, metaJSON, ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: insert security event: %w", err)
	}
	return nil
}

// ListSecurityEvents returns recent security events of the given type, newest
// first. An empty eventType matches all types.
func (db *DB) ListSecurityEvents(ctx context.Context, eventType model.SecurityEventType, limit, offset int) ([]model.SecurityEvent, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, tenant_id, event_type, source, metadata, created_at
		 FROM security_events
		 WHERE ($1 = '' OR event_type = $1)
		 ORDER BY created_at DESC
		 LIMIT $2 OFFSET $3`,
		string(eventType), limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list security events: %w", err)
	}
	defer rows.Close()

	var events []model.SecurityEvent
	for rows.Next() {
		var (
			ev       model.SecurityEvent
			metaJSON []byte
		)
		if err := rows.Scan(&ev.ID, &ev.TenantID, &ev.EventType, &ev.Source, &metaJSON, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan security event: %w", err)
		}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &ev.Metadata); err != nil {
				return nil, fmt.Errorf("storage: unmarshal security event metadata: %w", err)
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// ListTenantSecurityEvents returns a tenant's security events, newest first.
// Events with no tenant (missing-tenant anomalies) are never attributed to a
// tenant and do not appear here.
func (db *DB) ListTenantSecurityEvents(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]model.SecurityEvent, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, tenant_id, event_type, source, metadata, created_at
		 FROM security_events
		 WHERE tenant_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2 OFFSET $3`,
		tenantID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list tenant security events: %w", err)
	}
	defer rows.Close()

	var events []model.SecurityEvent
	for rows.Next() {
		var (
			ev       model.SecurityEvent
			metaJSON []byte
		)
		if err := rows.Scan(&ev.ID, &ev.TenantID, &ev.EventType, &ev.Source, &metaJSON, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan security event: %w", err)
		}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &ev.Metadata); err != nil {
				return nil, fmt.Errorf("storage: unmarshal security event metadata: %w", err)
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// CountSecurityEvents returns the number of events of a given type. Used by
// tests to verify the exactly-one-event-per-rejection invariant.
func (db *DB) CountSecurityEvents(ctx context.Context, eventType model.SecurityEventType) (int, error) {
	var n int
	err := db.pool.QueryRow(ctx,
		`SELECT count(*) FROM security_events WHERE event_type = $1`, string(eventType),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("storage: count security events: %w", err)
	}
	return n, nil
}
