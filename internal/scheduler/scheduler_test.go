package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/lexisync/internal/database"
	"github.com/example/lexisync/internal/database/dbtest"
	"github.com/example/lexisync/internal/logger"
	"github.com/example/lexisync/pkg/models"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	sent []string
	fail map[string]bool
}

func (n *recordingNotifier) SendDailyHighlight(_ context.Context, link models.ChatLink) error {
	if n.fail[link.Username] {
		return errors.New("chat blocked the bot")
	}
	n.sent = append(n.sent, link.Username)
	return nil
}

func TestRunOnceNotifiesMatchingHour(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	links := database.NewChatLinkRepository(db)
	now := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	for i, l := range []models.ChatLink{
		{Username: "ana", ChatID: 1, NotificationHour: 9, NotificationEnabled: true},
		{Username: "ben", ChatID: 2, NotificationHour: 9, NotificationEnabled: true},
		{Username: "cem", ChatID: 3, NotificationHour: 10, NotificationEnabled: true},
		{Username: "dora", ChatID: 4, NotificationHour: 9, NotificationEnabled: false},
		{Username: "eli", ChatID: 5, NotificationHour: 9, NotificationEnabled: true},
	} {
		l.CreatedAt = now.Add(time.Duration(i) * time.Second)
		l.UpdatedAt = l.CreatedAt
		require.NoError(t, links.Upsert(ctx, &l))
	}

	n := &recordingNotifier{fail: map[string]bool{"ben": true}}
	s := New(db, n, Config{StartHour: 8, EndHour: 22, Location: time.UTC}, logger.Nop(),
		WithClock(func() time.Time { return now }))

	sent, err := s.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, sent)
	require.Equal(t, []string{"ana", "eli"}, n.sent)
}

func TestRunOnceOutsideWindow(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	require.NoError(t, database.NewChatLinkRepository(db).Upsert(ctx, &models.ChatLink{
		Username: "ana", ChatID: 1, NotificationHour: 3, NotificationEnabled: true,
	}))

	n := &recordingNotifier{}
	at := time.Date(2024, 3, 1, 3, 0, 0, 0, time.UTC)
	s := New(db, n, Config{StartHour: 8, EndHour: 22, Location: time.UTC}, logger.Nop(),
		WithClock(func() time.Time { return at }))

	sent, err := s.RunOnce(ctx)
	require.NoError(t, err)
	require.Zero(t, sent)
	require.Empty(t, n.sent)
}

func TestWindowUsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*3600)
	s := New(dbtest.Open(t), &recordingNotifier{}, Config{StartHour: 8, EndHour: 22, Location: loc}, logger.Nop(),
		WithClock(func() time.Time { return time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC) }))
	require.True(t, s.InWindow(9))
	require.False(t, s.InWindow(23))
	require.Equal(t, 10, s.nextHour().Hour())
}
