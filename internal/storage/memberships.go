package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/fieldline/fence/internal/model"
)

// CreateMembership inserts a new tenant membership.
func (db *DB) CreateMembership(ctx context.Context, m model.Membership) (model.Membership, error) {
	if !model.ValidRole(m.Role) {
		return model.Membership{}, fmt.Errorf("storage: create membership: invalid role %q", m.Role)
	}
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO tenant_members (id, tenant_id, actor_id, role, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		m.ID, m.TenantID, m.ActorID, m.Role, m.CreatedAt,
	)
	if err != nil {
		return model.Membership{}, fmt.Errorf("storage: create membership: %w", err)
	}
	return m, nil
}

// GetMembershipRole returns the actor's role within the given tenant.
//
// The lookup is tenant-scoped: the WHERE clause matches on both tenant_id and
// actor_id, so a role granted in one tenant can never satisfy a check against
// another. Returns ErrNotFound when the actor has no membership in the tenant.
func (db *DB) GetMembershipRole(ctx context.Context, tenantID, actorID uuid.UUID) (model.Role, error) {
	var role model.Role
	err := db.pool.QueryRow(ctx,
		`SELECT role FROM tenant_members WHERE tenant_id = $1 AND actor_id = $2`,
		tenantID, actorID,
	).Scan(&role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("storage: get membership role: %w", err)
	}
	return role, nil
}

// ListMemberships returns all memberships within a tenant.
func (db *DB) ListMemberships(ctx context.Context, tenantID uuid.UUID) ([]model.Membership, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, tenant_id, actor_id, role, created_at
		 FROM tenant_members
		 WHERE tenant_id = $1
		 ORDER BY created_at`, tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list memberships: %w", err)
	}
	defer rows.Close()

	var members []model.Membership
	for rows.Next() {
		var m model.Membership
		if err := rows.Scan(&m.ID, &m.TenantID, &m.ActorID, &m.Role, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan membership: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}
