// Package pgstore persists diamond storage in PostgreSQL. The schema is
// created by the migrations package.
package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/nspcc-dev/neo-go/pkg/util"

	"github.com/R3E-Network/diamond_layer/internal/storage"
)

const (
	loadQuery = `SELECT value FROM diamond_storage WHERE diamond = $1 AND slot = $2`

	upsertQuery = `INSERT INTO diamond_storage (diamond, slot, value, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (diamond, slot) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`

	deleteQuery = `DELETE FROM diamond_storage WHERE diamond = $1 AND slot = $2`
)

// Store implements storage.Backend on a PostgreSQL database.
type Store struct {
	db *sqlx.DB
}

var _ storage.Backend = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Open connects with the lib/pq driver.
func Open(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("pgstore: open: %w", err)
	}
	return db, nil
}

// Load reads one cell; a missing row reads as nil.
func (s *Store) Load(ctx context.Context, owner util.Uint160, slot storage.Slot) ([]byte, error) {
	var value []byte
	err := s.db.GetContext(ctx, &value, loadQuery, owner.StringLE(), slot[:])
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pgstore: load: %w", err)
	}
	return value, nil
}

// Apply writes the batch in one SQL transaction.
func (s *Store) Apply(ctx context.Context, owner util.Uint160, writes []storage.Write) (err error) {
	if len(writes) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("pgstore: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	diamond := owner.StringLE()
	for _, w := range writes {
		if w.Delete {
			_, err = tx.ExecContext(ctx, deleteQuery, diamond, w.Slot[:])
		} else {
			value := w.Value
			if value == nil {
				value = []byte{}
			}
			_, err = tx.ExecContext(ctx, upsertQuery, diamond, w.Slot[:], value)
		}
		if err != nil {
			return fmt.Errorf("pgstore: write %s: %w", w.Slot, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("pgstore: commit: %w", err)
	}
	return nil
}
