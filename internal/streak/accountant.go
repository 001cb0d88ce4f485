// Package streak counts consecutive active days per learner.
package streak

import (
	"context"
	"errors"
	"time"

	"github.com/example/lexisync/internal/database"
	"github.com/example/lexisync/internal/logger"
	"github.com/example/lexisync/pkg/models"
	"github.com/jmoiron/sqlx"
)

// RewardEvent is the reward rule credited when a new active day is counted
const RewardEvent = "active_day"

// Result is the outcome of RecordActivity
type Result struct {
	StreakDays int `json:"streak_days"`
	MaxStreak  int `json:"max_streak"`
	// Changed is false when today was already counted
	Changed bool `json:"changed"`
	// Reward is the xp credited for this call, 0 when none
	Reward int `json:"reward"`
}

// Accountant records activity days
type Accountant struct {
	db      *sqlx.DB
	days    *database.ActiveDayRepository
	rewards *database.RewardRepository
	loc     *time.Location
	log     *logger.Logger
	now     func() time.Time
}

// Option configures an Accountant
type Option func(*Accountant)

// WithClock replaces the wall clock
func WithClock(now func() time.Time) Option {
	return func(a *Accountant) { a.now = now }
}

// NewAccountant creates an accountant whose days are calendar days in loc
func NewAccountant(db *sqlx.DB, loc *time.Location, log *logger.Logger, opts ...Option) *Accountant {
	if loc == nil {
		loc = time.Local
	}
	a := &Accountant{
		db:      db,
		days:    database.NewActiveDayRepository(db),
		rewards: database.NewRewardRepository(db),
		loc:     loc,
		log:     log.With("component", "streak"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ErrNegativeReward is returned by SetReward for an amount below zero
var ErrNegativeReward = errors.New("reward amount must not be negative")

// SetReward configures the xp credited for each new active day
func (a *Accountant) SetReward(ctx context.Context, amount int) error {
	if amount < 0 {
		return ErrNegativeReward
	}
	if err := a.rewards.SetAmount(ctx, RewardEvent, amount); err != nil {
		return err
	}
	a.log.Info("active day reward configured", "amount", amount)
	return nil
}

// RecordActivity counts today for the user. The first call of a day extends
// the streak when yesterday was active and restarts it at 1 otherwise; later
// calls the same day change nothing. Calls for one user are serialized by a
// per-user lock held for the transaction.
func (a *Accountant) RecordActivity(ctx context.Context, username string) (Result, error) {
	now := a.now()
	today := models.DayKey(now, a.loc)
	yesterday := models.DayKey(now.In(a.loc).AddDate(0, 0, -1), a.loc)

	var res Result
	err := database.WithTx(ctx, a.db, func(tx *sqlx.Tx) error {
		if err := a.days.LockUser(ctx, tx, username); err != nil {
			return err
		}
		rec, err := a.days.Get(ctx, tx, username)
		switch {
		case errors.Is(err, database.ErrNotFound):
			rec = &models.ActiveDayRecord{Username: username, StreakDays: 1}
		case err != nil:
			return err
		case rec.LastActiveDate == today:
			res = Result{StreakDays: rec.StreakDays, MaxStreak: rec.MaxStreak}
			return nil
		case rec.LastActiveDate == yesterday:
			rec.StreakDays++
		default:
			rec.StreakDays = 1
		}
		rec.LastActiveDate = today
		if rec.StreakDays > rec.MaxStreak {
			rec.MaxStreak = rec.StreakDays
		}
		rec.UpdatedAt = now.UTC()
		if err := a.days.Put(ctx, tx, rec); err != nil {
			return err
		}
		res = Result{StreakDays: rec.StreakDays, MaxStreak: rec.MaxStreak, Changed: true}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	if res.Changed {
		res.Reward = a.reward(ctx, username, now)
	}
	return res, nil
}

// reward credits the active-day reward. The streak is already committed, so
// failures are only logged.
func (a *Accountant) reward(ctx context.Context, username string, now time.Time) int {
	amount, err := a.rewards.Amount(ctx, RewardEvent)
	if errors.Is(err, database.ErrNotFound) {
		return 0
	}
	if err != nil {
		a.log.Warn("reward lookup failed", "username", username, "error", err)
		return 0
	}
	if amount <= 0 {
		return 0
	}
	if err := a.rewards.Credit(ctx, username, RewardEvent, amount, now.UTC()); err != nil {
		a.log.Warn("reward credit failed", "username", username, "amount", amount, "error", err)
		return 0
	}
	return amount
}

// Get returns the user's streak record; a zero record when there is none
func (a *Accountant) Get(ctx context.Context, username string) (models.ActiveDayRecord, error) {
	rec, err := a.days.Get(ctx, nil, username)
	if errors.Is(err, database.ErrNotFound) {
		return models.ActiveDayRecord{Username: username}, nil
	}
	if err != nil {
		return models.ActiveDayRecord{}, err
	}
	return *rec, nil
}
