package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// LegacyList is the flat pre-tracker list of a user: a JSON array of saved ids
// and a JSON object of progress values keyed by id
type LegacyList struct {
	Username string `db:"username"`
	SavedIDs string `db:"saved_ids"`
	Progress string `db:"progress"`
}

// LegacyRepository reads the flat lists written before per-item tracking existed
type LegacyRepository struct {
	db *sqlx.DB
}

// NewLegacyRepository creates a new repository instance
func NewLegacyRepository(db *sqlx.DB) *LegacyRepository {
	return &LegacyRepository{db: db}
}

// Get returns the legacy list of a user
func (r *LegacyRepository) Get(ctx context.Context, tx *sqlx.Tx, username string) (*LegacyList, error) {
	q := pick(r.db, tx)
	var l LegacyList
	err := sqlx.GetContext(ctx, q, &l,
		q.Rebind("SELECT username, saved_ids, progress FROM legacy_user_lists WHERE username = ?"), username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get legacy list: %w", err)
	}
	return &l, nil
}

// Put stores a legacy list, replacing any previous one
func (r *LegacyRepository) Put(ctx context.Context, l *LegacyList) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO legacy_user_lists (username, saved_ids, progress) VALUES (?, ?, ?)
		ON CONFLICT (username) DO UPDATE SET saved_ids = excluded.saved_ids, progress = excluded.progress
	`), l.Username, l.SavedIDs, l.Progress)
	if err != nil {
		return fmt.Errorf("failed to put legacy list: %w", err)
	}
	return nil
}
