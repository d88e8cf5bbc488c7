package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/remotehive-autoscraper/internal/scraper"
)

const jobColumns = `id::text, job_board_id::text, job_board_name, query, location, max_pages, priority,
	mode, status, retry_count, max_retries, created_at, updated_at, scheduled_at, started_at,
	completed_at, error_message, counters, execution_time_seconds, metadata`

// CreateJob inserts a new scrape job.
func (s *Store) CreateJob(ctx context.Context, job scraper.Job) error {
	counters, err := json.Marshal(job.Counters)
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}
	metadata, err := marshalMetadata(job.Metadata)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO scrape_jobs (
			id, job_board_id, job_board_name, query, location, max_pages, priority, mode, status,
			retry_count, max_retries, created_at, updated_at, scheduled_at, counters, metadata
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`
	_, err = s.db.Exec(ctx, query,
		job.ID, job.BoardID, job.BoardName, job.Query, job.Location, job.MaxPages, int(job.Priority),
		string(job.Mode), string(job.Status), job.Attempt, job.MaxRetries, job.CreatedAt, job.UpdatedAt,
		job.ScheduledAt, counters, metadata,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("job %s: %w", job.ID, scraper.ErrConflict)
		}
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// UpdateJob applies a status transition. Nil timestamps keep stored values.
func (s *Store) UpdateJob(ctx context.Context, jobID string, update scraper.JobUpdate) error {
	counters, err := json.Marshal(update.Counters)
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}
	query := `
		UPDATE scrape_jobs
		SET status = $2,
			error_message = $3,
			counters = $4,
			retry_count = $5,
			execution_time_seconds = $6,
			started_at = COALESCE($7, started_at),
			completed_at = COALESCE($8, completed_at),
			scheduled_at = COALESCE($9, scheduled_at),
			updated_at = $10
		WHERE id = $1`
	tag, err := s.db.Exec(ctx, query,
		jobID, string(update.Status), update.Error, counters, update.Attempt, update.ExecutionSeconds,
		update.StartedAt, update.CompletedAt, update.ScheduledAt, update.At,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s: %w", jobID, scraper.ErrNotFound)
	}
	return nil
}

// ClaimJob marks a pending or retrying job running. A cancellation written
// since the worker loaded the job wins.
func (s *Store) ClaimJob(ctx context.Context, jobID string, attempt int, at time.Time) (bool, error) {
	query := `
		UPDATE scrape_jobs
		SET status = 'running', retry_count = $2, started_at = $3, updated_at = $3
		WHERE id = $1 AND status IN ('pending', 'retrying')`
	tag, err := s.db.Exec(ctx, query, jobID, attempt, at)
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetJob loads one job.
func (s *Store) GetJob(ctx context.Context, jobID string) (scraper.Job, error) {
	row := s.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM scrape_jobs WHERE id = $1`, jobID)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return scraper.Job{}, fmt.Errorf("job %s: %w", jobID, scraper.ErrNotFound)
		}
		return scraper.Job{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ListJobs returns jobs newest first.
func (s *Store) ListJobs(ctx context.Context, filter scraper.JobFilter) ([]scraper.Job, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + jobColumns + ` FROM scrape_jobs
		WHERE ($1 = '' OR status = $1) AND ($2 = '' OR job_board_id::text = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`
	rows, err := s.db.Query(ctx, query, string(filter.Status), filter.BoardID, limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]scraper.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

// CountByStatus groups all jobs by status.
func (s *Store) CountByStatus(ctx context.Context) (map[scraper.JobStatus]int, error) {
	rows, err := s.db.Query(ctx, `SELECT status, count(*) FROM scrape_jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[scraper.JobStatus]int)
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan job count: %w", err)
		}
		counts[scraper.JobStatus(status)] = int(n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job counts: %w", err)
	}
	return counts, nil
}

// CountFinishedSince counts completed and failed jobs finished at or after since.
func (s *Store) CountFinishedSince(ctx context.Context, since time.Time) (int, int, error) {
	query := `
		SELECT
			count(*) FILTER (WHERE status = 'completed'),
			count(*) FILTER (WHERE status = 'failed')
		FROM scrape_jobs
		WHERE completed_at >= $1`
	var completed, failed int64
	if err := s.db.QueryRow(ctx, query, since).Scan(&completed, &failed); err != nil {
		return 0, 0, fmt.Errorf("count finished jobs: %w", err)
	}
	return int(completed), int(failed), nil
}

// DeleteFinishedBefore removes terminal jobs last updated before cutoff.
func (s *Store) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM scrape_jobs
		WHERE status IN ('completed', 'failed', 'cancelled') AND updated_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete finished jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanJob(row pgx.Row) (scraper.Job, error) {
	var (
		job                    scraper.Job
		priority               int
		mode, status           string
		counters, metadataJSON []byte
	)
	err := row.Scan(
		&job.ID, &job.BoardID, &job.BoardName, &job.Query, &job.Location, &job.MaxPages, &priority,
		&mode, &status, &job.Attempt, &job.MaxRetries, &job.CreatedAt, &job.UpdatedAt,
		&job.ScheduledAt, &job.StartedAt, &job.CompletedAt, &job.Error, &counters,
		&job.ExecutionSeconds, &metadataJSON,
	)
	if err != nil {
		return scraper.Job{}, err
	}
	job.Priority = scraper.Priority(priority)
	job.Mode = scraper.StartMode(mode)
	job.Status = scraper.JobStatus(status)
	if len(counters) > 0 {
		if err := json.Unmarshal(counters, &job.Counters); err != nil {
			return scraper.Job{}, fmt.Errorf("decode counters: %w", err)
		}
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &job.Metadata); err != nil {
			return scraper.Job{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return job, nil
}

func marshalMetadata(m map[string]string) ([]byte, error) {
	if m == nil {
		m = map[string]string{}
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return raw, nil
}
