package storage_test

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldline/fence/internal/model"
	"github.com/fieldline/fence/internal/storage"
	"github.com/fieldline/fence/internal/testutil"
	"github.com/fieldline/fence/migrations"
)

var testDB *storage.DB

func TestMain(m *testing.M) {
	tc := testutil.MustStartPostgres()

	db, err := tc.NewTestDB(context.Background(), testutil.TestLogger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "storage test setup: %v\n", err)
		tc.Terminate()
		os.Exit(1)
	}
	testDB = db

	code := m.Run()
	db.Close()
	tc.Terminate()
	os.Exit(code)
}

func TestMigrationsAreIdempotent(t *testing.T) {
	// The container's TestMain already applied them once.
	require.NoError(t, testDB.RunMigrations(context.Background(), migrations.FS))
}

func TestTenantRoundTrip(t *testing.T) {
	ctx := context.Background()

	created, err := testDB.CreateTenant(ctx, model.Tenant{Slug: "acme-freight", Name: "Acme Freight"})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, created.ID)

	got, err := testDB.GetTenant(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "acme-freight", got.Slug)

	bySlug, err := testDB.GetTenantBySlug(ctx, "acme-freight")
	require.NoError(t, err)
	assert.Equal(t, created.ID, bySlug.ID)
}

func TestGetTenantNotFound(t *testing.T) {
	_, err := testDB.GetTenant(context.Background(), uuid.New())
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = testDB.GetTenantBySlug(context.Background(), "no-such-tenant")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCreateTenantRejectsInvalidSlug(t *testing.T) {
	_, err := testDB.CreateTenant(context.Background(), model.Tenant{Slug: "Not Valid!", Name: "x"})
	require.Error(t, err)
}

func TestMembershipRoleIsTenantScoped(t *testing.T) {
	ctx := context.Background()

	t1, err := testDB.CreateTenant(ctx, model.Tenant{Slug: "scoped-one", Name: "One"})
	require.NoError(t, err)
	t2, err := testDB.CreateTenant(ctx, model.Tenant{Slug: "scoped-two", Name: "Two"})
	require.NoError(t, err)

	actorID := uuid.New()
	_, err = testDB.CreateMembership(ctx, model.Membership{TenantID: t1.ID, ActorID: actorID, Role: model.RoleAdmin})
	require.NoError(t, err)
	_, err = testDB.CreateMembership(ctx, model.Membership{TenantID: t2.ID, ActorID: actorID, Role: model.RoleDriver})
	require.NoError(t, err)

	// Same actor, different role per tenant.
	role, err := testDB.GetMembershipRole(ctx, t1.ID, actorID)
	require.NoError(t, err)
	assert.Equal(t, model.RoleAdmin, role)

	role, err = testDB.GetMembershipRole(ctx, t2.ID, actorID)
	require.NoError(t, err)
	assert.Equal(t, model.RoleDriver, role)

	// No membership at all: ErrNotFound, not a zero role.
	_, err = testDB.GetMembershipRole(ctx, t1.ID, uuid.New())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestListMemberships(t *testing.T) {
	ctx := context.Background()

	tenant, err := testDB.CreateTenant(ctx, model.Tenant{Slug: "member-list", Name: "Member List"})
	require.NoError(t, err)

	for _, role := range []model.Role{model.RoleOwner, model.RoleViewer} {
		_, err := testDB.CreateMembership(ctx, model.Membership{TenantID: tenant.ID, ActorID: uuid.New(), Role: role})
		require.NoError(t, err)
	}

	members, err := testDB.ListMemberships(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Len(t, members, 2)
	for _, m := range members {
		assert.Equal(t, tenant.ID, m.TenantID)
	}
}

func TestAuditRecordRoundTrip(t *testing.T) {
	ctx := context.Background()

	tenant, err := testDB.CreateTenant(ctx, model.Tenant{Slug: "audit-rt", Name: "Audit RT"})
	require.NoError(t, err)
	actorID := uuid.New()
	entityID := uuid.NewString()

	require.NoError(t, testDB.InsertAuditRecord(ctx, model.AuditRecord{
		TenantID:   tenant.ID,
		ActorID:    actorID,
		Action:     "insert_jobs",
		EntityType: "jobs",
		EntityID:   &entityID,
		Payload:    map[string]any{"row": map[string]any{"status": "open"}},
		RequestID:  "req-1",
	}))

	// Failed mutations are recorded with no entity id.
	require.NoError(t, testDB.InsertAuditRecord(ctx, model.AuditRecord{
		TenantID:   tenant.ID,
		ActorID:    actorID,
		Action:     "update_jobs",
		EntityType: "jobs",
		Payload:    map[string]any{"error": "constraint violation"},
	}))

	records, err := testDB.ListAuditRecords(ctx, tenant.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, records, 2)

	// Newest first.
	assert.Equal(t, "update_jobs", records[0].Action)
	assert.Nil(t, records[0].EntityID)
	assert.Equal(t, "insert_jobs", records[1].Action)
	require.NotNil(t, records[1].EntityID)
	assert.Equal(t, entityID, *records[1].EntityID)
	assert.Equal(t, "req-1", records[1].RequestID)

	n, err := testDB.CountAuditRecords(ctx, tenant.ID, "insert_jobs")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSecurityEventRoundTrip(t *testing.T) {
	ctx := context.Background()

	tenant, err := testDB.CreateTenant(ctx, model.Tenant{Slug: "sec-rt", Name: "Sec RT"})
	require.NoError(t, err)

	require.NoError(t, testDB.InsertSecurityEvent(ctx, model.SecurityEvent{
		TenantID:  &tenant.ID,
		EventType: model.EventTenantMismatch,
		Source:    "guard",
		Metadata:  map[string]any{"table": "jobs"},
	}))
	require.NoError(t, testDB.InsertSecurityEvent(ctx, model.SecurityEvent{
		EventType: model.EventMissingTenantID,
		Source:    "pipeline",
	}))

	scoped, err := testDB.ListTenantSecurityEvents(ctx, tenant.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	assert.Equal(t, model.EventTenantMismatch, scoped[0].EventType)
	assert.Equal(t, "jobs", scoped[0].Metadata["table"])

	mismatches, err := testDB.ListSecurityEvents(ctx, model.EventTenantMismatch, 100, 0)
	require.NoError(t, err)
	for _, ev := range mismatches {
		assert.Equal(t, model.EventTenantMismatch, ev.EventType)
	}

	n, err := testDB.CountSecurityEvents(ctx, model.EventMissingTenantID)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 1)
}
