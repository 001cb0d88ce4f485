package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/example/lexisync/internal/database"
	"github.com/example/lexisync/internal/logger"
	"github.com/example/lexisync/pkg/models"
	"github.com/jmoiron/sqlx"
)

// JobView is the wire shape of a sync job
type JobView struct {
	ID           int64           `json:"id"`
	RequestID    string          `json:"requestId"`
	Source       string          `json:"source"`
	Lang         string          `json:"lang"`
	Status       string          `json:"status"`
	AttemptCount int             `json:"attemptCount"`
	Result       json.RawMessage `json:"result"`
	ErrorMessage *string         `json:"errorMessage"`
	CreatedAt    time.Time       `json:"createdAt"`
	StartedAt    *time.Time      `json:"startedAt,omitempty"`
	FinishedAt   *time.Time      `json:"finishedAt,omitempty"`
}

// JobResponse is the body of the enqueue and status endpoints
type JobResponse struct {
	Status string  `json:"status"`
	Job    JobView `json:"job"`
}

// ViewOf converts a stored job to its wire shape
func ViewOf(job *models.SyncJob) JobView {
	v := JobView{
		ID:           job.ID,
		RequestID:    job.RequestID,
		Source:       job.Source,
		Lang:         job.Lang,
		Status:       job.Status,
		AttemptCount: job.AttemptCount,
		ErrorMessage: job.ErrorMessage,
		CreatedAt:    job.CreatedAt,
		StartedAt:    job.StartedAt,
		FinishedAt:   job.FinishedAt,
	}
	if job.Result != nil && json.Valid([]byte(*job.Result)) {
		v.Result = json.RawMessage(*job.Result)
	}
	return v
}

// Queue is the server half of the pipeline: it validates and stores jobs
type Queue struct {
	jobs *database.SyncJobRepository
	log  *logger.Logger
	now  func() time.Time
}

// NewQueue creates a queue over the given store
func NewQueue(db *sqlx.DB, log *logger.Logger) *Queue {
	return &Queue{
		jobs: database.NewSyncJobRepository(db),
		log:  log.With("component", "ingest.queue"),
		now:  time.Now,
	}
}

// Enqueue validates a request body and stores it as a pending job. When the
// request id is already known the existing job is returned and nothing is
// written, whatever the new body says.
func (q *Queue) Enqueue(ctx context.Context, requestID, source string, body []byte) (*models.SyncJob, error) {
	p, err := ParsePayload(body)
	if err != nil {
		return nil, err
	}
	if requestID == "" {
		requestID = p.RequestID
	}
	if p.RequestID != requestID {
		return nil, fmt.Errorf("%w: requestId %q does not match %q", ErrInvalidPayload, p.RequestID, requestID)
	}
	if source == "" {
		source = p.Source
	}

	job, created, err := q.jobs.InsertOrGet(ctx, &models.SyncJob{
		RequestID: requestID,
		Source:    source,
		Lang:      p.Lang,
		Payload:   string(body),
		CreatedAt: q.now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	if created {
		q.log.Info("sync job queued", "request_id", requestID, "source", source, "entries", len(p.Entries))
	} else {
		q.log.Info("duplicate sync request", "request_id", requestID, "job_id", job.ID, "status", job.Status)
	}
	return job, nil
}

// Status returns the job stored for a request id
func (q *Queue) Status(ctx context.Context, requestID string) (*models.SyncJob, error) {
	job, err := q.jobs.GetByRequestID(ctx, requestID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, requestID)
	}
	return job, err
}

// Counts returns the number of jobs per status
func (q *Queue) Counts(ctx context.Context) (map[string]int, error) {
	return q.jobs.CountByStatus(ctx)
}
