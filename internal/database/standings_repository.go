package database

import (
	"context"
	"fmt"

	"github.com/example/lexisync/pkg/models"
	"github.com/jmoiron/sqlx"
)

// Standing is one learner's aggregated leaderboard row
type Standing struct {
	Username   string `json:"username" db:"username"`
	XP         int    `json:"xp" db:"xp"`
	Learned    int    `json:"learned" db:"learned"`
	StreakDays int    `json:"streak_days" db:"streak_days"`
	MaxStreak  int    `json:"max_streak" db:"max_streak"`
}

// StandingsRepository reads the derived leaderboard aggregates
type StandingsRepository struct {
	db *sqlx.DB
}

// NewStandingsRepository creates a new repository instance
func NewStandingsRepository(db *sqlx.DB) *StandingsRepository {
	return &StandingsRepository{db: db}
}

// Top returns the best learners by xp, then learned senses, then name.
// Every learner with xp, progress or a streak record takes part.
func (r *StandingsRepository) Top(ctx context.Context, limit int) ([]Standing, error) {
	rows := []Standing{}
	query := `
		WITH learners AS (
			SELECT username FROM xp_events
			UNION SELECT username FROM item_progress
			UNION SELECT username FROM active_days
		),
		xp_totals AS (
			SELECT username, SUM(amount) AS total FROM xp_events GROUP BY username
		),
		learned_totals AS (
			SELECT username, COUNT(*) AS total FROM item_progress
			WHERE beginner = ? AND experienced = ?
			GROUP BY username
		)
		SELECT l.username,
			COALESCE(x.total, 0) AS xp,
			COALESCE(n.total, 0) AS learned,
			COALESCE(a.streak_days, 0) AS streak_days,
			COALESCE(a.max_streak, 0) AS max_streak
		FROM learners l
		LEFT JOIN xp_totals x ON x.username = l.username
		LEFT JOIN learned_totals n ON n.username = l.username
		LEFT JOIN active_days a ON a.username = l.username
		ORDER BY xp DESC, learned DESC, l.username ASC
		LIMIT ?
	`
	err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), models.MaxTrackScore, models.MaxTrackScore, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get standings: %w", err)
	}
	return rows, nil
}
