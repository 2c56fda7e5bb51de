package authz_test

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldline/fence/internal/authz"
	"github.com/fieldline/fence/internal/model"
	"github.com/fieldline/fence/internal/storage"
)

// fakeStore maps (tenant, actor) to a role, mirroring the tenant-scoped
// lookup contract of storage.DB.
type fakeStore struct {
	roles map[[2]uuid.UUID]model.Role
	err   error
}

func (f *fakeStore) GetMembershipRole(_ context.Context, tenantID, actorID uuid.UUID) (model.Role, error) {
	if f.err != nil {
		return "", f.err
	}
	role, ok := f.roles[[2]uuid.UUID{tenantID, actorID}]
	if !ok {
		return "", storage.ErrNotFound
	}
	return role, nil
}

func testAuthorizer(store *fakeStore) *authz.Authorizer {
	return authz.New(store, slog.New(slog.DiscardHandler))
}

func TestRequireRoleAllowed(t *testing.T) {
	tenant := uuid.New()
	actor := uuid.New()
	store := &fakeStore{roles: map[[2]uuid.UUID]model.Role{
		{tenant, actor}: model.RoleDispatcher,
	}}

	err := testAuthorizer(store).RequireRole(context.Background(), authz.Requirement{
		TenantID: tenant,
		ActorID:  actor,
		AnyOf:    model.Roles(model.RoleOwner, model.RoleAdmin, model.RoleDispatcher),
	})
	require.NoError(t, err)
}

func TestRequireRoleNoMembershipIs401(t *testing.T) {
	store := &fakeStore{roles: map[[2]uuid.UUID]model.Role{}}

	err := testAuthorizer(store).RequireRole(context.Background(), authz.Requirement{
		TenantID: uuid.New(),
		ActorID:  uuid.New(),
		AnyOf:    model.Roles(model.RoleAdmin),
	})
	require.Error(t, err)

	var ae *authz.AuthorizationError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, http.StatusUnauthorized, ae.Status)
}

func TestRequireRoleWrongRoleIs403(t *testing.T) {
	tenant := uuid.New()
	actor := uuid.New()
	store := &fakeStore{roles: map[[2]uuid.UUID]model.Role{
		{tenant, actor}: model.RoleDriver,
	}}

	err := testAuthorizer(store).RequireRole(context.Background(), authz.Requirement{
		TenantID: tenant,
		ActorID:  actor,
		AnyOf:    model.Roles(model.RoleOwner, model.RoleAdmin, model.RoleDispatcher),
	})
	require.Error(t, err)

	var ae *authz.AuthorizationError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, http.StatusForbidden, ae.Status)
}

func TestRequireRoleIsTenantScoped(t *testing.T) {
	tenantA := uuid.New()
	tenantB := uuid.New()
	actor := uuid.New()

	// Owner in tenant A, nothing in tenant B.
	store := &fakeStore{roles: map[[2]uuid.UUID]model.Role{
		{tenantA, actor}: model.RoleOwner,
	}}
	az := testAuthorizer(store)

	require.NoError(t, az.RequireRole(context.Background(), authz.Requirement{
		TenantID: tenantA, ActorID: actor, AnyOf: model.Roles(model.RoleOwner),
	}))

	err := az.RequireRole(context.Background(), authz.Requirement{
		TenantID: tenantB, ActorID: actor, AnyOf: model.Roles(model.RoleOwner),
	})
	var ae *authz.AuthorizationError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, http.StatusUnauthorized, ae.Status)
}

func TestRequireRoleEmptySetAlwaysFails(t *testing.T) {
	tenant := uuid.New()
	actor := uuid.New()
	store := &fakeStore{roles: map[[2]uuid.UUID]model.Role{
		{tenant, actor}: model.RoleOwner,
	}}

	err := testAuthorizer(store).RequireRole(context.Background(), authz.Requirement{
		TenantID: tenant, ActorID: actor, AnyOf: nil,
	})
	var ae *authz.AuthorizationError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, http.StatusForbidden, ae.Status)
}

func TestRequireRoleStoreErrorIsNotAuthorizationError(t *testing.T) {
	store := &fakeStore{err: errors.New("connection reset")}

	err := testAuthorizer(store).RequireRole(context.Background(), authz.Requirement{
		TenantID: uuid.New(), ActorID: uuid.New(), AnyOf: model.Roles(model.RoleAdmin),
	})
	require.Error(t, err)
	assert.False(t, authz.IsAuthorization(err))
}
