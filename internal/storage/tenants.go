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

// CreateTenant inserts a new tenant.
func (db *DB) CreateTenant(ctx context.Context, t model.Tenant) (model.Tenant, error) {
	if err := model.ValidateSlug(t.Slug); err != nil {
		return model.Tenant{}, fmt.Errorf("storage: create tenant: %w", err)
	}
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO tenants (id, slug, name, created_at) VALUES ($1, $2, $3, $4)`,
		t.ID, t.Slug, t.Name, t.CreatedAt,
	)
	if err != nil {
		return model.Tenant{}, fmt.Errorf("storage: create tenant: %w", err)
	}
	return t, nil
}

// GetTenant retrieves a tenant by ID.
func (db *DB) GetTenant(ctx context.Context, id uuid.UUID) (model.Tenant, error) {
	var t model.Tenant
	err := db.pool.QueryRow(ctx,
		`SELECT id, slug, name, created_at FROM tenants WHERE id = $1`, id,
	).Scan(&t.ID, &t.Slug, &t.Name, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Tenant{}, ErrNotFound
		}
		return model.Tenant{}, fmt.Errorf("storage: get tenant: %w", err)
	}
	return t, nil
}

// GetTenantBySlug retrieves a tenant by its slug.
func (db *DB) GetTenantBySlug(ctx context.Context, slug string) (model.Tenant, error) {
	var t model.Tenant
	err := db.pool.QueryRow(ctx,
		`SELECT id, slug, name, created_at FROM tenants WHERE slug = $1`, slug,
	).Scan(&t.ID, &t.Slug, &t.Name, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Tenant{}, ErrNotFound
		}
		return model.Tenant{}, fmt.Errorf("storage: get tenant by slug: %w", err)
	}
	return t, nil
}
