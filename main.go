package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/example/lexisync/internal/bot"
	"github.com/example/lexisync/internal/config"
	"github.com/example/lexisync/internal/daily"
	"github.com/example/lexisync/internal/database"
	apphttp "github.com/example/lexisync/internal/http"
	httpH "github.com/example/lexisync/internal/http/handlers"
	httpMW "github.com/example/lexisync/internal/http/middleware"
	"github.com/example/lexisync/internal/ingest"
	"github.com/example/lexisync/internal/leaderboard"
	"github.com/example/lexisync/internal/logger"
	"github.com/example/lexisync/internal/progress"
	"github.com/example/lexisync/internal/scheduler"
	"github.com/example/lexisync/internal/streak"
)

const shutdownTimeout = 5 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	dsn := cfg.SQLitePath
	if cfg.DBType == "postgres" {
		dsn = cfg.DatabaseURL
	}
	db, err := database.Connect(cfg.DBType, dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	log.Info("database ready", "type", cfg.DBType)

	tracker := progress.NewTracker(db, log)
	selector := daily.NewSelector(db, daily.Config{
		PageSize:         cfg.TodayPageSize,
		CandidatePool:    cfg.HardCandidatePool,
		RepeatWindowDays: cfg.HardRepeatWindowDays,
		PhoneticMarkers:  cfg.HardPhoneticMarkers,
		Location:         loc,
	}, log)
	accountant := streak.NewAccountant(db, loc, log)
	if err := accountant.SetReward(ctx, cfg.RewardActiveDay); err != nil {
		return err
	}
	queue := ingest.NewQueue(db, log)
	worker := ingest.NewWorker(db, ingest.NewProcessor(db, log), ingest.WorkerConfig{
		Interval:       cfg.SyncWorkerInterval,
		Lease:          cfg.SyncLeaseDuration,
		ReaperInterval: cfg.SyncReaperInterval,
		MaxAttempts:    cfg.SyncMaxAttempts,
	}, log)

	if cfg.SyncSharedSecret == "" {
		log.Warn("SYNC_SHARED_SECRET is empty, sync endpoints will reject every request")
	}

	if err := worker.Start(ctx); err != nil {
		return err
	}
	defer worker.Stop()

	if cfg.LogMode == "production" || cfg.LogMode == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := apphttp.NewRouter(apphttp.RouterConfig{
		Log:                 log,
		SignatureMiddleware: httpMW.NewSignatureMiddleware(log, cfg.SyncSharedSecret, cfg.SyncMaxClockSkew, nil),
		SyncHandler:         httpH.NewSyncHandler(log, queue, worker),
		LearnerHandler:      httpH.NewLearnerHandler(log, tracker, selector, accountant),
		LeaderboardHandler:  httpH.NewLeaderboardHandler(log, leaderboard.NewAggregator(db, log)),
		HealthHandler:       httpH.NewHealthHandler(),
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// The Telegram channel is optional
	var b *bot.Bot
	if cfg.TelegramBotToken != "" {
		b = bot.New(db, nil, selector, accountant, tracker, bot.Config{
			DefaultLang:      cfg.DefaultLang,
			NotificationHour: cfg.NotificationHour,
		}, log)
		sched := scheduler.New(db, b, scheduler.Config{
			StartHour: cfg.NotificationStartHour,
			EndHour:   cfg.NotificationEndHour,
			Location:  loc,
		}, log)
		if err := sched.Start(ctx); err != nil {
			return err
		}
		defer sched.Stop()
	} else {
		log.Info("TELEGRAM_BOT_TOKEN is empty, bot and reminders disabled")
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if b != nil {
		g.Go(func() error {
			defer b.Stop()
			return b.Start(gctx, cfg.TelegramBotToken)
		})
	}

	return g.Wait()
}
