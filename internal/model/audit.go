package model

import (
	"time"

	"github.com/google/uuid"
)

// AuditRecord is one append-only entry in the mutation audit trail.
//
// Payload is a denormalized snapshot of the mutation, not a reference to a
// mutable row, so the trail survives later edits or deletes of the entity.
// Records are never updated or deleted by this subsystem.
type AuditRecord struct {
	ID         uuid.UUID      `json:"id"`
	TenantID   uuid.UUID      `json:"tenant_id"`
	ActorID    uuid.UUID      `json:"actor_id"`
	Action     string         `json:"action"`
	EntityType string         `json:"entity_type"`
	EntityID   *string        `json:"entity_id,omitempty"` // nil for failed mutations
	Payload    map[string]any `json:"payload"`
	RequestID  string         `json:"request_id,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// SecurityEventType classifies a recorded anomaly.
type SecurityEventType string

const (
	// EventMissingTenantID is recorded when a mutation arrives without a
	// resolvable tenant id.
	EventMissingTenantID SecurityEventType = "missing_tenant_id"

	// EventTenantMismatch is recorded when a payload carries a tenant id
	// that differs from the validated one.
	EventTenantMismatch SecurityEventType = "tenant_id_mismatch"
)

// SecurityEvent is an append-only record of a security anomaly. TenantID is
// nil when the anomaly is precisely that no tenant could be resolved.
type SecurityEvent struct {
	ID        uuid.UUID         `json:"id"`
	TenantID  *uuid.UUID        `json:"tenant_id,omitempty"`
	EventType SecurityEventType `json:"event_type"`
	Source    string            `json:"source"`
	Metadata  map[string]any    `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}
