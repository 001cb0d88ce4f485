package streak

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/example/lexisync/internal/database"
	"github.com/example/lexisync/internal/database/dbtest"
	"github.com/example/lexisync/internal/logger"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AddDays(n int) {
	c.mu.Lock()
	c.now = c.now.AddDate(0, 0, n)
	c.mu.Unlock()
}

func TestRecordActivityScenario(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	clock := &fakeClock{now: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
	acc := NewAccountant(db, time.UTC, logger.Nop(), WithClock(clock.Now))

	res, err := acc.RecordActivity(ctx, "ana")
	require.NoError(t, err)
	require.Equal(t, 1, res.StreakDays)
	require.True(t, res.Changed)
	require.Equal(t, 10, res.Reward)

	res, err = acc.RecordActivity(ctx, "ana")
	require.NoError(t, err)
	require.Equal(t, 1, res.StreakDays)
	require.False(t, res.Changed)
	require.Zero(t, res.Reward)

	clock.AddDays(1)
	res, err = acc.RecordActivity(ctx, "ana")
	require.NoError(t, err)
	require.Equal(t, 2, res.StreakDays)
	require.Equal(t, 2, res.MaxStreak)

	clock.AddDays(4)
	res, err = acc.RecordActivity(ctx, "ana")
	require.NoError(t, err)
	require.Equal(t, 1, res.StreakDays)
	require.Equal(t, 2, res.MaxStreak)

	xp, err := database.NewRewardRepository(db).Total(ctx, "ana")
	require.NoError(t, err)
	require.Equal(t, 30, xp)
}

func TestMaxStreakNeverDecreases(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
	acc := NewAccountant(dbtest.Open(t), time.UTC, logger.Nop(), WithClock(clock.Now))

	gaps := []int{0, 1, 1, 1, 3, 1, 2, 1, 1, 1, 1, 7, 1}
	best := 0
	for _, gap := range gaps {
		clock.AddDays(gap)
		res, err := acc.RecordActivity(ctx, "ana")
		require.NoError(t, err)
		require.GreaterOrEqual(t, res.MaxStreak, best)
		require.GreaterOrEqual(t, res.MaxStreak, res.StreakDays)
		best = res.MaxStreak
	}
	require.Equal(t, 5, best)
}

func TestDayBoundaryFollowsLocation(t *testing.T) {
	ctx := context.Background()
	loc := time.FixedZone("UTC+3", 3*60*60)
	// 20:30 UTC is 23:30 on March 1st in UTC+3; two hours later it is March 2nd
	clock := &fakeClock{now: time.Date(2024, 3, 1, 20, 30, 0, 0, time.UTC)}
	acc := NewAccountant(dbtest.Open(t), loc, logger.Nop(), WithClock(clock.Now))

	_, err := acc.RecordActivity(ctx, "ana")
	require.NoError(t, err)
	clock.now = clock.now.Add(2 * time.Hour)
	res, err := acc.RecordActivity(ctx, "ana")
	require.NoError(t, err)
	require.Equal(t, 2, res.StreakDays)

	rec, err := acc.Get(ctx, "ana")
	require.NoError(t, err)
	require.Equal(t, "2024-03-02", rec.LastActiveDate)
}

func TestConcurrentFirstActivityCreatesOneRecord(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	clock := &fakeClock{now: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
	acc := NewAccountant(db, time.UTC, logger.Nop(), WithClock(clock.Now))

	const n = 16
	results := make([]Result, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := acc.RecordActivity(ctx, "ana")
			require.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	changed := 0
	for _, r := range results {
		require.Equal(t, 1, r.StreakDays)
		if r.Changed {
			changed++
		}
	}
	require.Equal(t, 1, changed)

	count, err := database.NewActiveDayRepository(db).Count(ctx, "ana")
	require.NoError(t, err)
	require.Equal(t, 1, count)

	xp, err := database.NewRewardRepository(db).Total(ctx, "ana")
	require.NoError(t, err)
	require.Equal(t, 10, xp)
}

func TestRewardFailureKeepsStreak(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	_, err := db.Exec("DROP TABLE reward_rules")
	require.NoError(t, err)
	acc := NewAccountant(db, time.UTC, logger.Nop(),
		WithClock(func() time.Time { return time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC) }))

	res, err := acc.RecordActivity(ctx, "ana")
	require.NoError(t, err)
	require.Equal(t, 1, res.StreakDays)
	require.Zero(t, res.Reward)

	rec, err := acc.Get(ctx, "ana")
	require.NoError(t, err)
	require.Equal(t, 1, rec.StreakDays)
}

func TestGetWithoutRecord(t *testing.T) {
	acc := NewAccountant(dbtest.Open(t), time.UTC, logger.Nop())
	rec, err := acc.Get(context.Background(), "nobody")
	require.NoError(t, err)
	require.Zero(t, rec.StreakDays)
	require.Equal(t, "nobody", rec.Username)
}

func TestSetRewardChangesCredit(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	acc := NewAccountant(db, time.UTC, logger.Nop(),
		WithClock(func() time.Time { return time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC) }))

	require.ErrorIs(t, acc.SetReward(ctx, -1), ErrNegativeReward)
	require.NoError(t, acc.SetReward(ctx, 25))

	res, err := acc.RecordActivity(ctx, "ana")
	require.NoError(t, err)
	require.Equal(t, 25, res.Reward)

	xp, err := database.NewRewardRepository(db).Total(ctx, "ana")
	require.NoError(t, err)
	require.Equal(t, 25, xp)
}
