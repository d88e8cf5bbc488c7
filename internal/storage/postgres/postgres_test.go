package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/remotehive-autoscraper/internal/scraper"
	"github.com/JakeFAU/remotehive-autoscraper/internal/store"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	s, err := New(mock)
	require.NoError(t, err)
	return s, mock
}

func TestNewRequiresPool(t *testing.T) {
	t.Parallel()

	_, err := New(nil)
	require.EqualError(t, err, "pool is required")
}

func TestOpenRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), Config{})
	require.EqualError(t, err, "database.dsn is required")
}

func TestMigrateAppliesSchema(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS users").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	require.NoError(t, s.Migrate(context.Background()))

	mock.ExpectPing()
	require.NoError(t, s.Ping(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateJobMapsUniqueViolation(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	job := scraper.Job{
		ID:         "0190b1c2-0000-7000-8000-000000000001",
		BoardID:    "0190b1c2-0000-7000-8000-0000000000aa",
		BoardName:  "remoteok",
		Query:      "remote",
		Location:   "Remote",
		MaxPages:   3,
		Priority:   scraper.PriorityNormal,
		Mode:       scraper.ModeManual,
		Status:     scraper.JobStatusPending,
		MaxRetries: 3,
		CreatedAt:  now,
		UpdatedAt:  now,
		Metadata:   map[string]string{"engine_start": "true"},
	}
	counters, _ := json.Marshal(scraper.JobCounters{})
	metadata, _ := json.Marshal(job.Metadata)

	mock.ExpectExec("INSERT INTO scrape_jobs").
		WithArgs(job.ID, job.BoardID, job.BoardName, job.Query, job.Location, 3, 2, "manual", "pending",
			0, 3, now, now, (*time.Time)(nil), counters, metadata).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, s.CreateJob(context.Background(), job))

	mock.ExpectExec("INSERT INTO scrape_jobs").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	err := s.CreateJob(context.Background(), job)
	require.ErrorIs(t, err, scraper.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateJobNotFound(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectExec("UPDATE scrape_jobs").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateJob(context.Background(), "missing", scraper.JobUpdate{Status: scraper.JobStatusRunning})
	require.ErrorIs(t, err, scraper.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimJobOnlyTakesQueuedJobs(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectExec(`(?s)UPDATE scrape_jobs\s+SET status = 'running'.*WHERE id = \$1 AND status IN \('pending', 'retrying'\)`).
		WithArgs("job-1", 1, at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE scrape_jobs").
		WithArgs("job-2", 0, at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	claimed, err := s.ClaimJob(context.Background(), "job-1", 1, at)
	require.NoError(t, err)
	require.True(t, claimed)

	claimed, err = s.ClaimJob(context.Background(), "job-2", 0, at)
	require.NoError(t, err)
	require.False(t, claimed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func jobRow(id string, status scraper.JobStatus, created time.Time) []any {
	return []any{
		id, "board-1", "remoteok", "remote", "Remote", 3, 2, "manual", string(status), 0, 3,
		created, created, nil, nil, nil, "", []byte(`{"total_jobs_saved":4}`), 1.5,
		[]byte(`{"engine_start":"true"}`),
	}
}

var jobColumnNames = []string{
	"id", "job_board_id", "job_board_name", "query", "location", "max_pages", "priority", "mode",
	"status", "retry_count", "max_retries", "created_at", "updated_at", "scheduled_at", "started_at",
	"completed_at", "error_message", "counters", "execution_time_seconds", "metadata",
}

func TestGetAndListJobs(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectQuery("SELECT (.+) FROM scrape_jobs WHERE id").
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows(jobColumnNames).AddRow(jobRow("job-1", scraper.JobStatusCompleted, now)...))
	job, err := s.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, scraper.JobStatusCompleted, job.Status)
	require.Equal(t, scraper.PriorityNormal, job.Priority)
	require.Equal(t, 4, job.Counters.Saved)
	require.Equal(t, "true", job.Metadata["engine_start"])

	mock.ExpectQuery("SELECT (.+) FROM scrape_jobs WHERE id").
		WithArgs("nope").
		WillReturnRows(pgxmock.NewRows(jobColumnNames))
	_, err = s.GetJob(context.Background(), "nope")
	require.ErrorIs(t, err, scraper.ErrNotFound)

	mock.ExpectQuery("SELECT (.+) FROM scrape_jobs").
		WithArgs("pending", "", 50, 0).
		WillReturnRows(pgxmock.NewRows(jobColumnNames).
			AddRow(jobRow("job-2", scraper.JobStatusPending, now)...).
			AddRow(jobRow("job-3", scraper.JobStatusPending, now)...))
	jobs, err := s.ListJobs(context.Background(), scraper.JobFilter{Status: scraper.JobStatusPending})
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	require.Equal(t, "job-3", jobs[1].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobCounts(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT status, count").
		WillReturnRows(pgxmock.NewRows([]string{"status", "count"}).
			AddRow("running", int64(2)).
			AddRow("pending", int64(5)))
	counts, err := s.CountByStatus(context.Background())
	require.NoError(t, err)
	require.Equal(t, map[scraper.JobStatus]int{scraper.JobStatusRunning: 2, scraper.JobStatusPending: 5}, counts)

	since := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("FROM scrape_jobs").
		WithArgs(since).
		WillReturnRows(pgxmock.NewRows([]string{"completed", "failed"}).AddRow(int64(7), int64(1)))
	completed, failed, err := s.CountFinishedSince(context.Background(), since)
	require.NoError(t, err)
	require.Equal(t, 7, completed)
	require.Equal(t, 1, failed)

	mock.ExpectExec("DELETE FROM scrape_jobs").
		WithArgs(since).
		WillReturnResult(pgxmock.NewResult("DELETE", 4))
	n, err := s.DeleteFinishedBefore(context.Background(), since)
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBoards(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	cols := []string{"id", "name", "base_url", "kind", "search_url", "selectors", "rate_limit_rps",
		"requires_js", "is_active", "schedule", "region", "created_at", "updated_at"}
	active := true

	mock.ExpectQuery("SELECT (.+) FROM job_boards").
		WithArgs(&active).
		WillReturnRows(pgxmock.NewRows(cols).AddRow(
			"b-1", "Indeed", "https://www.indeed.com", "html", "https://www.indeed.com/jobs",
			[]byte(`{"card":"div[data-jk]"}`), 0.5, false, true, "@every 12h", "us", now, now))
	boards, err := s.ListBoards(context.Background(), &active)
	require.NoError(t, err)
	require.Len(t, boards, 1)
	require.Equal(t, scraper.BoardKindHTML, boards[0].Kind)
	require.Equal(t, "div[data-jk]", boards[0].Selectors.Card)

	mock.ExpectExec("UPDATE job_boards").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	err = s.UpdateBoard(context.Background(), scraper.JobBoard{ID: "missing"})
	require.ErrorIs(t, err, scraper.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSavePostingsCountsInsertedRows(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	postings := []scraper.Posting{
		{ID: "p-1", JobID: "job-1", Title: "Go Engineer", URL: "https://x/1", ContentHash: "h1", ScrapedAt: now},
		{ID: "p-2", JobID: "job-1", Title: "Go Engineer", URL: "https://x/1", ContentHash: "h1", ScrapedAt: now},
	}
	anyArgs := make([]any, 17)
	for i := range anyArgs {
		anyArgs[i] = pgxmock.AnyArg()
	}
	mock.ExpectExec("INSERT INTO postings").WithArgs(anyArgs...).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO postings").WithArgs(anyArgs...).WillReturnResult(pgxmock.NewResult("INSERT", 0))

	saved, err := s.SavePostings(context.Background(), postings)
	require.NoError(t, err)
	require.Equal(t, 1, saved)

	mock.ExpectQuery("SELECT content_hash FROM postings").
		WithArgs([]string{"h1", "h2"}).
		WillReturnRows(pgxmock.NewRows([]string{"content_hash"}).AddRow("h1"))
	found, err := s.ExistingHashes(context.Background(), []string{"h1", "h2"})
	require.NoError(t, err)
	require.Equal(t, map[string]bool{"h1": true}, found)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUsers(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	cols := []string{"id", "email", "full_name", "password_hash", "role", "is_active", "created_at", "last_login"}

	mock.ExpectQuery("SELECT (.+) FROM users WHERE email").
		WithArgs("admin@remotehive.in").
		WillReturnRows(pgxmock.NewRows(cols).AddRow("u-1", "admin@remotehive.in", "Admin", "$2a$hash", "admin", true, now, nil))
	user, err := s.GetUserByEmail(context.Background(), "  Admin@RemoteHive.in ")
	require.NoError(t, err)
	require.Equal(t, scraper.RoleAdmin, user.Role)
	require.Nil(t, user.LastLoginAt)

	mock.ExpectExec("UPDATE users SET last_login").
		WithArgs("u-1", now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, s.RecordLogin(context.Background(), "u-1", now))

	mock.ExpectExec("INSERT INTO users").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	require.ErrorIs(t, s.CreateUser(context.Background(), user), scraper.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProgressStore(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	ctx := context.Background()
	jobID := uuid.New()
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("INSERT INTO job_runs").
		WithArgs(jobID, "remoteok", now, "running").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, s.UpsertJobStart(ctx, jobID, "remoteok", now))

	mock.ExpectExec("INSERT INTO page_stats").
		WithArgs(jobID, "remoteok", "2xx", now, int64(2), int64(30), int64(4096)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE job_runs SET postings").
		WithArgs(int64(30), jobID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, s.UpsertPageStats(ctx, store.PageDelta{
		JobID: jobID, Board: "remoteok", StatusClass: "2xx", Pages: 2, Postings: 30, Bytes: 4096, At: now,
	}))

	errMsg := "boom"
	mock.ExpectExec("UPDATE job_runs").
		WithArgs(now, "error", &errMsg, jobID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, s.CompleteJob(ctx, jobID, now, store.RunError, &errMsg))

	mock.ExpectQuery("FROM job_runs").
		WithArgs(jobID).
		WillReturnRows(pgxmock.NewRows([]string{"job_id", "board", "started_at", "finished_at", "status", "postings", "error_message"}))
	_, err := s.GetRun(ctx, jobID)
	require.ErrorIs(t, err, store.ErrNotFound)

	mock.ExpectQuery("FROM page_stats").
		WithArgs(jobID, 10, 0).
		WillReturnError(errors.New("db down"))
	_, err = s.ListRunPages(ctx, jobID, 10, 0)
	require.ErrorContains(t, err, "failed to list run pages")
	require.NoError(t, mock.ExpectationsWereMet())
}
