// Package migrations creates the SQL schema used by the Postgres storage
// backend.
package migrations

import (
	"context"
	"database/sql"
	"fmt"
)

var statements = []string{
	`CREATE TABLE IF NOT EXISTS diamond_storage (
		diamond    TEXT        NOT NULL,
		slot       BYTEA       NOT NULL,
		value      BYTEA       NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (diamond, slot)
	)`,
	`CREATE INDEX IF NOT EXISTS diamond_storage_diamond_idx ON diamond_storage (diamond)`,
}

// Apply executes every migration statement in order. Statements are
// idempotent so Apply may run on every start.
func Apply(ctx context.Context, db *sql.DB) error {
	for i, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	return nil
}
