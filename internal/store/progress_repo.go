// Package store declares the repository used to persist job-run progress.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("progress record not found")

// JobRunStatus mirrors the job_runs status column.
type JobRunStatus string

// Job run statuses persisted in job_runs.status.
const (
	RunRunning JobRunStatus = "running"
	RunSuccess JobRunStatus = "success"
	RunError   JobRunStatus = "error"
)

// ParseRunStatus validates a status query parameter.
func ParseRunStatus(s string) (JobRunStatus, bool) {
	switch JobRunStatus(s) {
	case RunRunning, RunSuccess, RunError:
		return JobRunStatus(s), true
	default:
		return "", false
	}
}

// JobRun is one execution of a scrape job as seen by the progress stream.
type JobRun struct {
	JobID      uuid.UUID    `json:"job_id"`
	Board      string       `json:"board"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt *time.Time   `json:"finished_at,omitempty"`
	Status     JobRunStatus `json:"status"`
	// Postings is the number of postings parsed across all pages.
	Postings     int64   `json:"postings"`
	ErrorMessage *string `json:"error_message,omitempty"`
}

// PageStats aggregates page fetches for one job by HTTP status class.
type PageStats struct {
	JobID       uuid.UUID `json:"job_id"`
	Board       string    `json:"board"`
	StatusClass string    `json:"status_class"`
	LastUpdate  time.Time `json:"last_update"`
	Pages       int64     `json:"pages"`
	Postings    int64     `json:"postings"`
	BytesTotal  int64     `json:"bytes_total"`
}

// PageDelta is an increment applied to a PageStats row.
type PageDelta struct {
	JobID       uuid.UUID
	Board       string
	StatusClass string
	Pages       int64
	Postings    int64
	Bytes       int64
	At          time.Time
}

// ProgressRepository persists incremental job progress.
type ProgressRepository interface {
	// UpsertJobStart records (idempotently) that a run began.
	UpsertJobStart(ctx context.Context, jobID uuid.UUID, board string, startedAt time.Time) error
	// CompleteJob marks the run finished with the provided status and error.
	CompleteJob(ctx context.Context, jobID uuid.UUID, finishedAt time.Time, status JobRunStatus, errMsg *string) error
	// UpsertPageStats adds page/posting/byte deltas for (job, status class).
	UpsertPageStats(ctx context.Context, delta PageDelta) error

	// GetRun loads a single run or returns ErrNotFound.
	GetRun(ctx context.Context, jobID uuid.UUID) (JobRun, error)
	// ListRuns returns runs filtered by optional status, newest first.
	ListRuns(ctx context.Context, status *JobRunStatus, limit, offset int) ([]JobRun, error)
	// ListRunPages returns the page aggregates for one run.
	ListRunPages(ctx context.Context, jobID uuid.UUID, limit, offset int) ([]PageStats, error)
}
