package scheduler

import (
	"context"
	"time"

	"github.com/example/lexisync/internal/database"
	"github.com/example/lexisync/internal/logger"
	"github.com/example/lexisync/pkg/models"
	"github.com/go-co-op/gocron"
	"github.com/jmoiron/sqlx"
)

// Default notification window
const (
	DefaultNotificationStartHour = 8
	DefaultNotificationEndHour   = 22
)

// Notifier delivers the daily highlight to one linked chat
type Notifier interface {
	SendDailyHighlight(ctx context.Context, link models.ChatLink) error
}

// Config holds the notification window, in hours of the given location
type Config struct {
	StartHour int
	EndHour   int
	Location  *time.Location
}

// Scheduler manages scheduled tasks for the application
type Scheduler struct {
	scheduler *gocron.Scheduler
	notifier  Notifier
	links     *database.ChatLinkRepository
	cfg       Config
	log       *logger.Logger
	now       func() time.Time
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithClock replaces the wall clock
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New creates a new scheduler instance
func New(db *sqlx.DB, notifier Notifier, cfg Config, log *logger.Logger, opts ...Option) *Scheduler {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.StartHour < 0 || cfg.StartHour > 23 {
		cfg.StartHour = DefaultNotificationStartHour
	}
	if cfg.EndHour < 0 || cfg.EndHour > 23 {
		cfg.EndHour = DefaultNotificationEndHour
	}
	s := &Scheduler{
		scheduler: gocron.NewScheduler(cfg.Location),
		notifier:  notifier,
		links:     database.NewChatLinkRepository(db),
		cfg:       cfg,
		log:       log.With("component", "scheduler"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins running all scheduled tasks
func (s *Scheduler) Start(ctx context.Context) error {
	// on the hour, every hour
	_, err := s.scheduler.Every(1).Hour().StartAt(s.nextHour()).Do(func() {
		if _, err := s.RunOnce(ctx); err != nil {
			s.log.Error("reminder run failed", "error", err)
		}
	})
	if err != nil {
		return err
	}
	s.scheduler.StartAsync()
	s.log.Info("reminder scheduler started", "start_hour", s.cfg.StartHour, "end_hour", s.cfg.EndHour)
	return nil
}

// Stop terminates all scheduled tasks
func (s *Scheduler) Stop() {
	s.scheduler.Stop()
}

func (s *Scheduler) nextHour() time.Time {
	return s.now().In(s.cfg.Location).Truncate(time.Hour).Add(time.Hour)
}

// InWindow reports whether hour lies in the notification window
func (s *Scheduler) InWindow(hour int) bool {
	return hour >= s.cfg.StartHour && hour <= s.cfg.EndHour
}

// RunOnce sends the daily highlight to every chat whose reminder hour is the
// current hour. One failing chat doesn't stop the others. Returns how many
// chats were notified.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	currentHour := s.now().In(s.cfg.Location).Hour()
	if !s.InWindow(currentHour) {
		s.log.Debug("outside notification hours, skipping reminders",
			"hour", currentHour, "start_hour", s.cfg.StartHour, "end_hour", s.cfg.EndHour)
		return 0, nil
	}

	links, err := s.links.ForNotification(ctx, currentHour)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, link := range links {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		if err := s.notifier.SendDailyHighlight(ctx, link); err != nil {
			s.log.Error("failed to send reminder", "error", err, "username", link.Username, "chat_id", link.ChatID)
			continue
		}
		sent++
	}
	if sent > 0 {
		s.log.Info("reminders sent", "hour", currentHour, "count", sent)
	}
	return sent, nil
}
