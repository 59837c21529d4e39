package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// BlacklistRepo implements sending.Blacklist against PostgreSQL.
type BlacklistRepo struct{ db *sql.DB }

// NewBlacklistRepo creates a Postgres-backed blacklist.
func NewBlacklistRepo(db *sql.DB) *BlacklistRepo { return &BlacklistRepo{db: db} }

func (r *BlacklistRepo) IsBlacklisted(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM blacklist WHERE email = $1)`,
		strings.ToLower(strings.TrimSpace(email)),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("blacklist lookup: %w", err)
	}
	return exists, nil
}
