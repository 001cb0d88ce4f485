package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// RewardRepository handles the configured reward amounts and the XP ledger
type RewardRepository struct {
	db *sqlx.DB
}

// NewRewardRepository creates a new repository instance
func NewRewardRepository(db *sqlx.DB) *RewardRepository {
	return &RewardRepository{db: db}
}

// Amount returns the reward configured for an event, ErrNotFound when none is
func (r *RewardRepository) Amount(ctx context.Context, event string) (int, error) {
	var amount int
	err := r.db.GetContext(ctx, &amount, r.db.Rebind("SELECT amount FROM reward_rules WHERE event = ?"), event)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get reward amount: %w", err)
	}
	return amount, nil
}

// SetAmount configures the reward for an event
func (r *RewardRepository) SetAmount(ctx context.Context, event string, amount int) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO reward_rules (event, amount) VALUES (?, ?)
		ON CONFLICT (event) DO UPDATE SET amount = excluded.amount
	`), event, amount)
	if err != nil {
		return fmt.Errorf("failed to set reward amount: %w", err)
	}
	return nil
}

// Credit appends an XP event for a user
func (r *RewardRepository) Credit(ctx context.Context, username, event string, amount int, now time.Time) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO xp_events (username, event, amount, created_at) VALUES (?, ?, ?, ?)
	`), username, event, amount, now)
	if err != nil {
		return fmt.Errorf("failed to credit xp: %w", err)
	}
	return nil
}

// Total returns the XP a user has collected
func (r *RewardRepository) Total(ctx context.Context, username string) (int, error) {
	var total int
	err := r.db.GetContext(ctx, &total,
		r.db.Rebind("SELECT COALESCE(SUM(amount), 0) FROM xp_events WHERE username = ?"), username)
	if err != nil {
		return 0, fmt.Errorf("failed to sum xp: %w", err)
	}
	return total, nil
}
