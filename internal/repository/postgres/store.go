// Package postgres implements the sending store against PostgreSQL using
// database/sql and lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ignite/campaign-sender/internal/service/sending"
)

// querier is the subset of *sql.DB and *sql.Tx the repositories need.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Store implements sending.Store.
type Store struct{ db *sql.DB }

// NewStore creates a Postgres-backed sending store.
func NewStore(db *sql.DB) *Store { return &Store{db: db} }

// Snapshot runs fn inside a read-only repeatable-read transaction so that
// everything fn loads is consistent.
func (s *Store) Snapshot(ctx context.Context, fn func(sending.SnapshotReader) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return fmt.Errorf("begin snapshot: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&CampaignRepo{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}
