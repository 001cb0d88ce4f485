package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"

	"github.com/example/lexisync/pkg/models"
	"github.com/jmoiron/sqlx"
)

// ActiveDayRepository handles database operations for streak bookkeeping
type ActiveDayRepository struct {
	db *sqlx.DB
}

// NewActiveDayRepository creates a new repository instance
func NewActiveDayRepository(db *sqlx.DB) *ActiveDayRepository {
	return &ActiveDayRepository{db: db}
}

// LockUser takes the per-user mutex for the rest of tx. On postgres this is a
// transaction-scoped advisory lock keyed by a hash of the username, so
// different users never contend. SQLite runs on a single connection and
// every transaction is already exclusive.
func (r *ActiveDayRepository) LockUser(ctx context.Context, tx *sqlx.Tx, username string) error {
	if !isPostgres(tx) {
		return nil
	}
	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", LockKey("streak:"+username)); err != nil {
		return fmt.Errorf("failed to take streak lock: %w", err)
	}
	return nil
}

// LockKey hashes a string into an advisory lock key
func LockKey(s string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return int64(h.Sum64())
}

// Get returns the streak record of a user
func (r *ActiveDayRepository) Get(ctx context.Context, tx *sqlx.Tx, username string) (*models.ActiveDayRecord, error) {
	q := pick(r.db, tx)
	var rec models.ActiveDayRecord
	err := sqlx.GetContext(ctx, q, &rec, q.Rebind(`
		SELECT username, last_active_date, streak_days, max_streak, updated_at
		FROM active_days WHERE username = ?
	`), username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active day record: %w", err)
	}
	return &rec, nil
}

// Put inserts or overwrites the streak record of a user
func (r *ActiveDayRepository) Put(ctx context.Context, tx *sqlx.Tx, rec *models.ActiveDayRecord) error {
	q := pick(r.db, tx)
	_, err := q.ExecContext(ctx, q.Rebind(`
		INSERT INTO active_days (username, last_active_date, streak_days, max_streak, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (username) DO UPDATE SET
			last_active_date = excluded.last_active_date,
			streak_days = excluded.streak_days,
			max_streak = excluded.max_streak,
			updated_at = excluded.updated_at
	`), rec.Username, rec.LastActiveDate, rec.StreakDays, rec.MaxStreak, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to put active day record: %w", err)
	}
	return nil
}

// Count returns how many streak records exist for a user (0 or 1)
func (r *ActiveDayRepository) Count(ctx context.Context, username string) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, r.db.Rebind("SELECT COUNT(*) FROM active_days WHERE username = ?"), username)
	if err != nil {
		return 0, fmt.Errorf("failed to count active day records: %w", err)
	}
	return n, nil
}
