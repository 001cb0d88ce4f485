package models

import "time"

// Sync job statuses
const (
	JobPending    = "pending"
	JobProcessing = "processing"
	JobSuccess    = "success"
	JobFailed     = "failed"
)

// SyncJob is one external ingestion request
type SyncJob struct {
	ID             int64      `json:"id" db:"id"`
	RequestID      string     `json:"request_id" db:"request_id"`
	Source         string     `json:"source" db:"source"`
	Lang           string     `json:"lang" db:"lang"`
	Status         string     `json:"status" db:"status"`
	AttemptCount   int        `json:"attempt_count" db:"attempt_count"`
	Payload        string     `json:"-" db:"payload"`
	Result         *string    `json:"result" db:"result"`
	ErrorMessage   *string    `json:"error_message" db:"error_message"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	StartedAt      *time.Time `json:"started_at" db:"started_at"`
	FinishedAt     *time.Time `json:"finished_at" db:"finished_at"`
	LeaseExpiresAt *time.Time `json:"lease_expires_at" db:"lease_expires_at"`
}

// Terminal reports whether the job reached success or failed
func (j SyncJob) Terminal() bool {
	return j.Status == JobSuccess || j.Status == JobFailed
}
