package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/example/lexisync/internal/database"
	"github.com/example/lexisync/internal/logger"
	"github.com/example/lexisync/pkg/models"
	"github.com/go-co-op/gocron"
	"github.com/jmoiron/sqlx"
)

// WorkerConfig holds the worker schedule and lease settings
type WorkerConfig struct {
	Interval       time.Duration
	Lease          time.Duration
	ReaperInterval time.Duration
	MaxAttempts    int
}

// Health is the read-only operator view of the worker
type Health struct {
	Running   bool           `json:"running"`
	Busy      bool           `json:"busy"`
	LastRunAt *time.Time     `json:"lastRunAt"`
	LastError string         `json:"lastError,omitempty"`
	Counts    map[string]int `json:"counts"`
}

// Worker drains the job queue on a fixed interval. It is a task handle owned
// by the composition root: Start schedules it, Stop tears it down. Only one
// tick runs at a time per worker; concurrent workers in other processes are
// kept apart by the claim.
type Worker struct {
	jobs    *database.SyncJobRepository
	applier Applier
	cfg     WorkerConfig
	log     *logger.Logger
	now     func() time.Time

	running atomic.Bool
	busy    atomic.Bool

	mu        sync.Mutex
	scheduler *gocron.Scheduler
	cancel    context.CancelFunc
	lastRunAt *time.Time
	lastError string
}

// NewWorker creates a worker over the given store
func NewWorker(db *sqlx.DB, applier Applier, cfg WorkerConfig, log *logger.Logger) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.Lease <= 0 {
		cfg.Lease = 10 * time.Minute
	}
	if cfg.ReaperInterval <= 0 {
		cfg.ReaperInterval = time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &Worker{
		jobs:    database.NewSyncJobRepository(db),
		applier: applier,
		cfg:     cfg,
		log:     log.With("component", "ingest.worker"),
		now:     time.Now,
	}
}

// Start schedules the tick and the lease reaper. Calling it on a running
// worker does nothing.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running.Load() {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	if _, err := s.Every(w.cfg.Interval).Do(func() { _, _ = w.Tick(runCtx) }); err != nil {
		cancel()
		return fmt.Errorf("failed to schedule worker tick: %w", err)
	}
	if _, err := s.Every(w.cfg.ReaperInterval).Do(func() { w.Reap(runCtx) }); err != nil {
		cancel()
		return fmt.Errorf("failed to schedule lease reaper: %w", err)
	}
	s.StartAsync()

	w.scheduler = s
	w.cancel = cancel
	w.running.Store(true)
	w.log.Info("sync worker started", "interval", w.cfg.Interval.String(), "lease", w.cfg.Lease.String())
	return nil
}

// Stop cancels the running tick and stops the schedule
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running.Load() {
		return
	}
	w.cancel()
	w.scheduler.Stop()
	w.scheduler = nil
	w.running.Store(false)
	w.log.Info("sync worker stopped")
}

// IsRunning reports whether the worker is scheduled
func (w *Worker) IsRunning() bool {
	return w.running.Load()
}

// Tick claims and processes pending jobs until none are left. A tick that
// starts while another one of this worker is still running returns at once.
// Returns the number of jobs processed.
func (w *Worker) Tick(ctx context.Context) (int, error) {
	if !w.busy.CompareAndSwap(false, true) {
		return 0, nil
	}
	defer w.busy.Store(false)

	processed := 0
	var tickErr error
	for ctx.Err() == nil {
		job, err := w.jobs.ClaimNext(ctx, w.now().UTC(), w.cfg.Lease)
		if err != nil {
			// transient: the job stays pending, the next tick retries
			w.log.Error("failed to claim sync job", "error", err)
			tickErr = err
			break
		}
		if job == nil {
			break
		}
		w.process(ctx, job)
		processed++
	}

	now := w.now().UTC()
	w.mu.Lock()
	w.lastRunAt = &now
	if tickErr != nil {
		w.lastError = tickErr.Error()
	}
	w.mu.Unlock()
	return processed, tickErr
}

func (w *Worker) process(ctx context.Context, job *models.SyncJob) {
	log := w.log.With("request_id", job.RequestID, "job_id", job.ID, "attempt", job.AttemptCount)
	started := w.now()

	res, err := w.apply(ctx, job)
	finished := w.now().UTC()
	if err != nil {
		w.setLastError(err)
		if database.IsTransient(err) {
			// the lease reaper hands the job to a later tick
			log.Warn("sync job interrupted, leaving it to the reaper", "error", err)
			return
		}
		log.Error("sync job failed", "error", err)
		if ok, ferr := w.jobs.Fail(ctx, job.ID, err.Error(), finished); ferr != nil {
			log.Error("failed to record job failure", "error", ferr)
		} else if !ok {
			log.Warn("job lease lost before failure was recorded")
		}
		return
	}

	body, err := json.Marshal(res)
	if err != nil {
		body = []byte("{}")
	}
	ok, err := w.jobs.Complete(ctx, job.ID, string(body), finished)
	switch {
	case err != nil:
		log.Error("failed to record job success", "error", err)
	case !ok:
		log.Warn("job lease lost before success was recorded")
	default:
		log.Info("sync job succeeded", "duration", time.Since(started).String())
	}
}

// apply runs the applier and turns a panic into a job failure
func (w *Worker) apply(ctx context.Context, job *models.SyncJob) (res *ApplyResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return w.applier.Apply(ctx, job)
}

// Reap requeues jobs whose lease expired, failing those out of attempts
func (w *Worker) Reap(ctx context.Context) {
	requeued, failed, err := w.jobs.ReapExpired(ctx, w.now().UTC(), w.cfg.MaxAttempts)
	if err != nil {
		w.log.Error("failed to reap expired jobs", "error", err)
		w.setLastError(err)
		return
	}
	if requeued > 0 || failed > 0 {
		w.log.Warn("reaped expired sync jobs", "requeued", requeued, "failed", failed)
	}
}

func (w *Worker) setLastError(err error) {
	w.mu.Lock()
	w.lastError = err.Error()
	w.mu.Unlock()
}

// Health returns the worker flags and the job counts by status
func (w *Worker) Health(ctx context.Context) (Health, error) {
	counts, err := w.jobs.CountByStatus(ctx)
	if err != nil {
		return Health{}, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	h := Health{
		Running:   w.running.Load(),
		Busy:      w.busy.Load(),
		LastError: w.lastError,
		Counts:    counts,
	}
	if w.lastRunAt != nil {
		t := *w.lastRunAt
		h.LastRunAt = &t
	}
	return h, nil
}
