// Package authz checks an actor's role membership within a claimed tenant.
//
// Checks are declared explicitly per call site as a set of acceptable roles;
// no role ever implies another. The membership lookup is itself tenant-scoped,
// so a role granted in tenant A can never satisfy a check against tenant B.
package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/fieldline/fence/internal/model"
	"github.com/fieldline/fence/internal/storage"
)

// AuthorizationError rejects a request before any query is issued.
// Status is 401 when the actor has no membership in the claimed tenant at
// all, 403 when a membership exists but its role is not in the required set.
type AuthorizationError struct {
	Status  int
	Message string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("authz: %d %s", e.Status, e.Message)
}

// IsAuthorization reports whether err is an AuthorizationError.
func IsAuthorization(err error) bool {
	var ae *AuthorizationError
	return errors.As(err, &ae)
}

// MembershipStore looks up an actor's role within one tenant. Satisfied by
// storage.DB; must return storage.ErrNotFound when no membership exists.
type MembershipStore interface {
	GetMembershipRole(ctx context.Context, tenantID, actorID uuid.UUID) (model.Role, error)
}

// Requirement is one call site's authorization demand.
type Requirement struct {
	TenantID uuid.UUID
	ActorID  uuid.UUID
	AnyOf    model.RoleSet
}

// Authorizer checks role requirements against the membership store.
type Authorizer struct {
	store  MembershipStore
	logger *slog.Logger
}

// New creates an Authorizer.
func New(store MembershipStore, logger *slog.Logger) *Authorizer {
	return &Authorizer{store: store, logger: logger}
}

// RequireRole fails unless the actor holds one of the required roles within
// the tenant. An empty required set always fails: a call site that demands
// nothing is a programming error, not an open door.
func (a *Authorizer) RequireRole(ctx context.Context, req Requirement) error {
	if len(req.AnyOf) == 0 {
		return &AuthorizationError{Status: http.StatusForbidden, Message: "no roles accepted by this call site"}
	}

	role, err := a.store.GetMembershipRole(ctx, req.TenantID, req.ActorID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return &AuthorizationError{
				Status:  http.StatusUnauthorized,
				Message: fmt.Sprintf("actor %s has no membership in tenant %s", req.ActorID, req.TenantID),
			}
		}
		return fmt.Errorf("authz: membership lookup: %w", err)
	}

	if !req.AnyOf.Contains(role) {
		a.logger.Warn("authz: role outside required set",
			"tenant_id", req.TenantID,
			"actor_id", req.ActorID,
			"role", string(role),
			"required", req.AnyOf.Names())
		return &AuthorizationError{
			Status:  http.StatusForbidden,
			Message: fmt.Sprintf("role %s not in required set %v", role, req.AnyOf.Names()),
		}
	}

	return nil
}
