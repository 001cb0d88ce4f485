package leaderboard

import (
	"context"

	"github.com/example/lexisync/internal/database"
	"github.com/example/lexisync/internal/logger"
	"github.com/jmoiron/sqlx"
)

const (
	DefaultLimit = 10
	MaxLimit     = 100
)

// Aggregator ranks learners by the totals derived from their records
type Aggregator struct {
	standings *database.StandingsRepository
	log       *logger.Logger
}

// NewAggregator creates an aggregator over the given store
func NewAggregator(db *sqlx.DB, log *logger.Logger) *Aggregator {
	return &Aggregator{
		standings: database.NewStandingsRepository(db),
		log:       log.With("component", "leaderboard"),
	}
}

// Top returns up to limit learners ordered by xp, learned senses, then name.
// A non-positive limit means DefaultLimit; anything above MaxLimit is capped.
func (a *Aggregator) Top(ctx context.Context, limit int) ([]database.Standing, error) {
	switch {
	case limit <= 0:
		limit = DefaultLimit
	case limit > MaxLimit:
		limit = MaxLimit
	}
	rows, err := a.standings.Top(ctx, limit)
	if err != nil {
		a.log.Error("leaderboard query failed", "error", err)
		return nil, err
	}
	return rows, nil
}
