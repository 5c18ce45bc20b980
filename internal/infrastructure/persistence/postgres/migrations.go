package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// SCHEMA
// ══════════════════════════════════════════════════════════════════════════════

// ErrMigrationFailed wraps the error of the first step that did not apply.
var ErrMigrationFailed = errors.New("postgres: migration failed")

// migrationLockID serializes migrate across bot instances sharing a database.
const migrationLockID = 0x6564_7562 // "edub"

// Step is one forward-only schema change.
type Step struct {
	Version int
	Name    string
	SQL     string
}

// Steps returns the schema history in version order.
func Steps() []Step {
	return []Step{
		{Version: 1, Name: "create_kv_entries", SQL: `
CREATE TABLE IF NOT EXISTS kv_entries (
    key        TEXT PRIMARY KEY,
    value      JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_kv_entries_updated_at ON kv_entries (updated_at DESC);`},
	}
}

// migrate applies every step newer than the recorded schema version. The
// whole run is one transaction holding an advisory lock, so two instances
// starting together apply each step once.
func migrate(ctx context.Context, p *Pool, steps []Step) error {
	err := p.InTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockID); err != nil {
			return fmt.Errorf("lock: %w", err)
		}
		if _, err := tx.Exec(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version    INTEGER PRIMARY KEY,
    name       TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`); err != nil {
			return fmt.Errorf("create schema_migrations: %w", err)
		}

		var current int
		if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
			return fmt.Errorf("read schema version: %w", err)
		}

		for _, s := range steps {
			if s.Version <= current {
				continue
			}
			if _, err := tx.Exec(ctx, s.SQL); err != nil {
				return fmt.Errorf("step %d %s: %w", s.Version, s.Name, err)
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`,
				s.Version, s.Name,
			); err != nil {
				return fmt.Errorf("record step %d: %w", s.Version, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMigrationFailed, err)
	}
	return nil
}
