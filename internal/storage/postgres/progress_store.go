package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/remotehive-autoscraper/internal/store"
)

// UpsertJobStart records a run start. A retried job restarts its run row.
func (s *Store) UpsertJobStart(ctx context.Context, jobID uuid.UUID, board string, startedAt time.Time) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO job_runs (job_id, board, started_at, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (job_id) DO UPDATE
		SET started_at = EXCLUDED.started_at,
			status = EXCLUDED.status,
			finished_at = NULL,
			error_message = NULL`,
		jobID, board, startedAt, string(store.RunRunning))
	if err != nil {
		return fmt.Errorf("failed to upsert job start: %w", err)
	}
	return nil
}

// CompleteJob marks a run finished.
func (s *Store) CompleteJob(
	ctx context.Context,
	jobID uuid.UUID,
	finishedAt time.Time,
	status store.JobRunStatus,
	errMsg *string,
) error {
	_, err := s.db.Exec(ctx, `
		UPDATE job_runs
		SET finished_at = $1, status = $2, error_message = $3
		WHERE job_id = $4`,
		finishedAt, string(status), errMsg, jobID)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	return nil
}

// UpsertPageStats adds a page delta and rolls its postings into the run.
func (s *Store) UpsertPageStats(ctx context.Context, d store.PageDelta) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO page_stats (job_id, board, status_class, last_update, pages, postings, bytes_total)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (job_id, status_class) DO UPDATE
		SET pages = page_stats.pages + EXCLUDED.pages,
			postings = page_stats.postings + EXCLUDED.postings,
			bytes_total = page_stats.bytes_total + EXCLUDED.bytes_total,
			last_update = GREATEST(page_stats.last_update, EXCLUDED.last_update)`,
		d.JobID, d.Board, d.StatusClass, d.At, d.Pages, d.Postings, d.Bytes)
	if err != nil {
		return fmt.Errorf("failed to upsert page stats: %w", err)
	}
	if d.Postings == 0 {
		return nil
	}
	if _, err := s.db.Exec(ctx, `UPDATE job_runs SET postings = postings + $1 WHERE job_id = $2`,
		d.Postings, d.JobID); err != nil {
		return fmt.Errorf("failed to update run postings: %w", err)
	}
	return nil
}

// GetRun retrieves a single run.
func (s *Store) GetRun(ctx context.Context, jobID uuid.UUID) (store.JobRun, error) {
	row := s.db.QueryRow(ctx, `
		SELECT job_id, board, started_at, finished_at, status, postings, error_message
		FROM job_runs
		WHERE job_id = $1`, jobID)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.JobRun{}, store.ErrNotFound
		}
		return store.JobRun{}, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns lists runs newest first, optionally filtered by status.
func (s *Store) ListRuns(ctx context.Context, status *store.JobRunStatus, limit, offset int) ([]store.JobRun, error) {
	var filter *string
	if status != nil {
		v := string(*status)
		filter = &v
	}
	rows, err := s.db.Query(ctx, `
		SELECT job_id, board, started_at, finished_at, status, postings, error_message
		FROM job_runs
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3`, filter, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]store.JobRun, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, nil
}

// ListRunPages returns the page aggregates for one run.
func (s *Store) ListRunPages(ctx context.Context, jobID uuid.UUID, limit, offset int) ([]store.PageStats, error) {
	rows, err := s.db.Query(ctx, `
		SELECT job_id, board, status_class, last_update, pages, postings, bytes_total
		FROM page_stats
		WHERE job_id = $1
		ORDER BY status_class
		LIMIT $2 OFFSET $3`, jobID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list run pages: %w", err)
	}
	defer rows.Close()

	stats := make([]store.PageStats, 0)
	for rows.Next() {
		var st store.PageStats
		if err := rows.Scan(&st.JobID, &st.Board, &st.StatusClass, &st.LastUpdate,
			&st.Pages, &st.Postings, &st.BytesTotal); err != nil {
			return nil, fmt.Errorf("failed to scan page stats row: %w", err)
		}
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate page stats: %w", err)
	}
	return stats, nil
}

func scanRun(row pgx.Row) (store.JobRun, error) {
	var (
		run    store.JobRun
		status string
	)
	err := row.Scan(&run.JobID, &run.Board, &run.StartedAt, &run.FinishedAt, &status,
		&run.Postings, &run.ErrorMessage)
	if err != nil {
		return store.JobRun{}, err
	}
	run.Status = store.JobRunStatus(status)
	return run, nil
}
