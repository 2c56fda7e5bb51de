package fence

import (
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/fieldline/fence/internal/model"
	"github.com/fieldline/fence/internal/pipeline"
)

func TestToInternalRequest(t *testing.T) {
	req := Request{
		Table:     "jobs",
		Payload:   map[string]any{"status": "open"},
		Set:       map[string]any{"status": "closed"},
		Filter:    []Cond{{Column: "status", Op: "=", Value: "open"}},
		ActorID:   "actor",
		TenantID:  "tenant",
		RequestID: "req-1",
		Metadata:  map[string]any{"origin": "api"},
	}

	got := toInternalRequest(req)
	assert.Equal(t, "jobs", got.Table)
	assert.Equal(t, req.Payload, got.Payload)
	assert.Equal(t, req.Set, got.Set)
	assert.Equal(t, model.Where("status", "=", "open"), got.Filter)
	assert.Equal(t, "actor", got.ActorID)
	assert.Equal(t, "tenant", got.ClaimedTenantID)
	assert.Equal(t, "req-1", got.RequestID)
	assert.Equal(t, req.Metadata, got.Metadata)
}

func TestToRoleSet(t *testing.T) {
	set := toRoleSet([]Role{RoleAdmin, RoleDispatcher})
	assert.True(t, set.Contains(model.RoleAdmin))
	assert.True(t, set.Contains(model.RoleDispatcher))
	assert.False(t, set.Contains(model.RoleOwner))
	assert.Empty(t, toRoleSet(nil))
}

func TestToPublicResult(t *testing.T) {
	id := uuid.NewString()
	got := toPublicResult(pipeline.Result{
		State:    model.StateComplete,
		Data:     map[string]any{"id": id},
		EntityID: &id,
	})
	assert.Equal(t, "complete", got.State)
	assert.Equal(t, id, got.Row["id"])
	assert.Equal(t, &id, got.EntityID)
	assert.False(t, got.Rejected)
}

func TestToPublicSecurityEventNilTenant(t *testing.T) {
	ev := toPublicSecurityEvent(model.SecurityEvent{
		ID:        uuid.New(),
		EventType: model.EventMissingTenantID,
		Source:    "pipeline",
	})
	assert.Nil(t, ev.TenantID)
	assert.Equal(t, "missing_tenant_id", ev.EventType)

	tid := uuid.New()
	ev = toPublicSecurityEvent(model.SecurityEvent{TenantID: &tid})
	assert.Equal(t, tid.String(), *ev.TenantID)
}

func TestResolveOptions(t *testing.T) {
	o := resolveOptions(nil)
	assert.Equal(t, "fence", o.source)
	assert.True(t, o.runMigrations)
	assert.False(t, o.strict)
	assert.NotNil(t, o.logger)

	logger := slog.New(slog.DiscardHandler)
	o = resolveOptions([]Option{
		WithDatabaseURL("postgres://x"),
		WithLogger(logger),
		WithSource("billing"),
		WithStrictTenantMismatch(true),
		WithMigrations(false),
		WithAuditWritePolicy(2*time.Second, 5),
	})
	assert.Equal(t, "postgres://x", o.databaseURL)
	assert.Same(t, logger, o.logger)
	assert.Equal(t, "billing", o.source)
	assert.True(t, o.strict)
	assert.False(t, o.runMigrations)
	assert.Equal(t, 2*time.Second, o.auditWriteTimeout)
	assert.Equal(t, 5, o.auditMaxAttempts)
}
