package storage

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
)

// RunMigrations applies any pending .sql files from migrationsFS in lexical
// filename order. Each file runs in one transaction together with its
// bookkeeping row, so a failed migration leaves no partial state behind.
// Forward-only; versions already recorded in schema_migrations are skipped.
func (db *DB) RunMigrations(ctx context.Context, migrationsFS fs.FS) error {
	if _, err := db.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		return fmt.Errorf("storage: create schema_migrations: %w", err)
	}

	names, err := fs.Glob(migrationsFS, "*.sql")
	if err != nil {
		return fmt.Errorf("storage: list migrations: %w", err)
	}
	sort.Strings(names)

	var ran int
	for _, name := range names {
		applied, err := db.applyMigration(ctx, migrationsFS, name)
		if err != nil {
			return err
		}
		if applied {
			ran++
		}
	}
	if ran > 0 {
		db.logger.Info("migrations applied", "count", ran, "known", len(names))
	}
	return nil
}

// applyMigration runs one file transactionally, reporting whether it was
// actually applied (false when an earlier run already recorded it).
func (db *DB) applyMigration(ctx context.Context, migrationsFS fs.FS, name string) (bool, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("storage: begin migration %s: %w", name, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// The bookkeeping insert doubles as the applied check: zero rows affected
	// means another run already owns this version.
	tag, err := tx.Exec(ctx,
		`INSERT INTO schema_migrations (version) VALUES ($1) ON CONFLICT (version) DO NOTHING`, name)
	if err != nil {
		return false, fmt.Errorf("storage: record migration %s: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	sql, err := fs.ReadFile(migrationsFS, name)
	if err != nil {
		return false, fmt.Errorf("storage: read migration %s: %w", name, err)
	}

	db.logger.Info("applying migration", "file", name)
	if _, err := tx.Exec(ctx, string(sql)); err != nil {
		return false, fmt.Errorf("storage: apply migration %s: %w", name, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("storage: commit migration %s: %w", name, err)
	}
	return true, nil
}
