package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/example/lexisync/pkg/models"
	"github.com/jmoiron/sqlx"
)

const syncJobColumns = `id, request_id, source, lang, status, attempt_count, payload, result, error_message,
	created_at, started_at, finished_at, lease_expires_at`

// SyncJobRepository handles database operations for the ingestion queue
type SyncJobRepository struct {
	db *sqlx.DB
}

// NewSyncJobRepository creates a new repository instance
func NewSyncJobRepository(db *sqlx.DB) *SyncJobRepository {
	return &SyncJobRepository{db: db}
}

// InsertOrGet stores a pending job keyed by its request id. When the request id
// already exists nothing is written and the existing job is returned instead.
func (r *SyncJobRepository) InsertOrGet(ctx context.Context, job *models.SyncJob) (*models.SyncJob, bool, error) {
	var stored models.SyncJob
	err := r.db.GetContext(ctx, &stored, r.db.Rebind(`
		INSERT INTO sync_jobs (request_id, source, lang, status, attempt_count, payload, created_at)
		VALUES (?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT (request_id) DO NOTHING
		RETURNING `+syncJobColumns),
		job.RequestID, job.Source, job.Lang, models.JobPending, job.Payload, job.CreatedAt)
	if err == nil {
		return &stored, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to enqueue sync job: %w", err)
	}
	existing, err := r.GetByRequestID(ctx, job.RequestID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// GetByRequestID returns a job by its idempotency key
func (r *SyncJobRepository) GetByRequestID(ctx context.Context, requestID string) (*models.SyncJob, error) {
	var job models.SyncJob
	err := r.db.GetContext(ctx, &job,
		r.db.Rebind("SELECT "+syncJobColumns+" FROM sync_jobs WHERE request_id = ?"), requestID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync job: %w", err)
	}
	return &job, nil
}

// ClaimNext moves the oldest pending job to processing, bumps its attempt
// count and gives it a lease until now+lease. Returns nil when nothing is
// pending. Concurrent claimants never receive the same job: postgres skips
// rows locked by another claimant, sqlite serializes the single statement.
func (r *SyncJobRepository) ClaimNext(ctx context.Context, now time.Time, lease time.Duration) (*models.SyncJob, error) {
	lockClause := ""
	if isPostgres(r.db) {
		lockClause = "FOR UPDATE SKIP LOCKED"
	}
	query := `
		UPDATE sync_jobs SET
			status = ?,
			attempt_count = attempt_count + 1,
			started_at = ?,
			finished_at = NULL,
			lease_expires_at = ?
		WHERE id = (
			SELECT id FROM sync_jobs
			WHERE status = ?
			ORDER BY created_at ASC, id ASC
			LIMIT 1
			` + lockClause + `
		) AND status = ?
		RETURNING ` + syncJobColumns

	var job models.SyncJob
	err := r.db.GetContext(ctx, &job, r.db.Rebind(query),
		models.JobProcessing, now, now.Add(lease), models.JobPending, models.JobPending)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim sync job: %w", err)
	}
	return &job, nil
}

// Complete records success. Reports false when the job is no longer
// processing (e.g. the reaper requeued it).
func (r *SyncJobRepository) Complete(ctx context.Context, id int64, result string, now time.Time) (bool, error) {
	return r.finish(ctx, id, models.JobSuccess, &result, nil, now)
}

// Fail records a terminal failure with its message
func (r *SyncJobRepository) Fail(ctx context.Context, id int64, message string, now time.Time) (bool, error) {
	return r.finish(ctx, id, models.JobFailed, nil, &message, now)
}

func (r *SyncJobRepository) finish(ctx context.Context, id int64, status string, result, message *string, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE sync_jobs SET
			status = ?,
			result = ?,
			error_message = ?,
			finished_at = ?,
			lease_expires_at = NULL
		WHERE id = ? AND status = ?
	`), status, result, message, now, id, models.JobProcessing)
	if err != nil {
		return false, fmt.Errorf("failed to finish sync job %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// ReapExpired handles processing jobs whose lease ran out: jobs that used up
// maxAttempts are failed, the rest go back to pending.
func (r *SyncJobRepository) ReapExpired(ctx context.Context, now time.Time, maxAttempts int) (requeued, failed int64, err error) {
	err = WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, tx.Rebind(`
			UPDATE sync_jobs SET
				status = ?,
				error_message = ?,
				finished_at = ?,
				lease_expires_at = NULL
			WHERE status = ? AND lease_expires_at < ? AND attempt_count >= ?
		`), models.JobFailed, "lease expired after final attempt", now, models.JobProcessing, now, maxAttempts)
		if err != nil {
			return fmt.Errorf("failed to fail expired jobs: %w", err)
		}
		if failed, err = res.RowsAffected(); err != nil {
			return err
		}

		res, err = tx.ExecContext(ctx, tx.Rebind(`
			UPDATE sync_jobs SET status = ?, lease_expires_at = NULL
			WHERE status = ? AND lease_expires_at < ?
		`), models.JobPending, models.JobProcessing, now)
		if err != nil {
			return fmt.Errorf("failed to requeue expired jobs: %w", err)
		}
		requeued, err = res.RowsAffected()
		return err
	})
	return requeued, failed, err
}

// CountByStatus returns the number of jobs in every status
func (r *SyncJobRepository) CountByStatus(ctx context.Context) (map[string]int, error) {
	var rows []struct {
		Status string `db:"status"`
		Count  int    `db:"n"`
	}
	if err := r.db.SelectContext(ctx, &rows, "SELECT status, COUNT(*) AS n FROM sync_jobs GROUP BY status"); err != nil {
		return nil, fmt.Errorf("failed to count sync jobs: %w", err)
	}
	counts := map[string]int{
		models.JobPending:    0,
		models.JobProcessing: 0,
		models.JobSuccess:    0,
		models.JobFailed:     0,
	}
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}
