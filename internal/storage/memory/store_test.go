package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/remotehive-autoscraper/internal/scraper"
	"github.com/JakeFAU/remotehive-autoscraper/internal/store"
)

var epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestStoreJobLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewStore()
	job := scraper.Job{
		ID:        "job-1",
		BoardID:   "board-1",
		Status:    scraper.JobStatusPending,
		CreatedAt: epoch,
		Metadata:  map[string]string{"mode": "manual"},
	}
	require.NoError(t, s.CreateJob(ctx, job))
	require.ErrorIs(t, s.CreateJob(ctx, job), scraper.ErrConflict)

	job.Metadata["mode"] = "mutated"
	got, err := s.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, "manual", got.Metadata["mode"])

	started := epoch.Add(time.Second)
	require.NoError(t, s.UpdateJob(ctx, "job-1", scraper.JobUpdate{
		Status:    scraper.JobStatusRunning,
		StartedAt: &started,
		At:        started,
	}))
	done := epoch.Add(time.Minute)
	require.NoError(t, s.UpdateJob(ctx, "job-1", scraper.JobUpdate{
		Status:      scraper.JobStatusCompleted,
		Counters:    scraper.JobCounters{Saved: 4},
		CompletedAt: &done,
		At:          done,
	}))

	got, err = s.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, scraper.JobStatusCompleted, got.Status)
	require.Equal(t, started, *got.StartedAt)
	require.Equal(t, done, *got.CompletedAt)
	require.Equal(t, 4, got.Counters.Saved)

	require.ErrorIs(t, s.UpdateJob(ctx, "missing", scraper.JobUpdate{}), scraper.ErrNotFound)
	_, err = s.GetJob(ctx, "missing")
	require.ErrorIs(t, err, scraper.ErrNotFound)
}

func TestClaimJobRespectsCancellation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.CreateJob(ctx, scraper.Job{ID: "queued", Status: scraper.JobStatusRetrying, CreatedAt: epoch}))
	require.NoError(t, s.CreateJob(ctx, scraper.Job{ID: "cancelled", Status: scraper.JobStatusCancelled, CreatedAt: epoch}))

	at := epoch.Add(time.Minute)
	claimed, err := s.ClaimJob(ctx, "queued", 2, at)
	require.NoError(t, err)
	require.True(t, claimed)
	got, err := s.GetJob(ctx, "queued")
	require.NoError(t, err)
	require.Equal(t, scraper.JobStatusRunning, got.Status)
	require.Equal(t, 2, got.Attempt)
	require.Equal(t, at, *got.StartedAt)

	claimed, err = s.ClaimJob(ctx, "queued", 2, at)
	require.NoError(t, err)
	require.False(t, claimed, "a running job is not claimed twice")

	claimed, err = s.ClaimJob(ctx, "cancelled", 0, at)
	require.NoError(t, err)
	require.False(t, claimed)
	got, err = s.GetJob(ctx, "cancelled")
	require.NoError(t, err)
	require.Equal(t, scraper.JobStatusCancelled, got.Status)

	_, err = s.ClaimJob(ctx, "missing", 0, at)
	require.ErrorIs(t, err, scraper.ErrNotFound)
}

func TestStoreListAndCountJobs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewStore()
	finished := epoch.Add(time.Hour)
	jobs := []scraper.Job{
		{ID: "a", BoardID: "b1", Status: scraper.JobStatusPending, CreatedAt: epoch},
		{ID: "b", BoardID: "b2", Status: scraper.JobStatusCompleted, CreatedAt: epoch.Add(time.Minute), CompletedAt: &finished, UpdatedAt: finished},
		{ID: "c", BoardID: "b1", Status: scraper.JobStatusFailed, CreatedAt: epoch.Add(2 * time.Minute), CompletedAt: &finished, UpdatedAt: finished},
		{ID: "d", BoardID: "b1", Status: scraper.JobStatusRunning, CreatedAt: epoch.Add(3 * time.Minute)},
	}
	for _, job := range jobs {
		require.NoError(t, s.CreateJob(ctx, job))
	}

	list, err := s.ListJobs(ctx, scraper.JobFilter{BoardID: "b1"})
	require.NoError(t, err)
	require.Len(t, list, 3)
	require.Equal(t, "d", list[0].ID)

	list, err = s.ListJobs(ctx, scraper.JobFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "c", list[0].ID)

	list, err = s.ListJobs(ctx, scraper.JobFilter{Offset: 10})
	require.NoError(t, err)
	require.Empty(t, list)

	counts, err := s.CountByStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, counts[scraper.JobStatusPending])
	require.Equal(t, 1, counts[scraper.JobStatusRunning])

	completed, failed, err := s.CountFinishedSince(ctx, epoch)
	require.NoError(t, err)
	require.Equal(t, 1, completed)
	require.Equal(t, 1, failed)

	completed, failed, err = s.CountFinishedSince(ctx, finished.Add(time.Second))
	require.NoError(t, err)
	require.Zero(t, completed+failed)

	removed, err := s.DeleteFinishedBefore(ctx, finished.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, 2, removed)
	counts, err = s.CountByStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, counts[scraper.JobStatusPending]+counts[scraper.JobStatusRunning])
}

func TestStoreBoards(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.CreateBoard(ctx, scraper.JobBoard{ID: "1", Name: "RemoteOK", Active: true, CreatedAt: epoch}))
	require.NoError(t, s.CreateBoard(ctx, scraper.JobBoard{ID: "2", Name: "Indeed", Active: false}))
	require.ErrorIs(t, s.CreateBoard(ctx, scraper.JobBoard{ID: "3", Name: "remoteok"}), scraper.ErrConflict)

	active := true
	boards, err := s.ListBoards(ctx, &active)
	require.NoError(t, err)
	require.Len(t, boards, 1)
	require.Equal(t, "RemoteOK", boards[0].Name)

	all, err := s.ListBoards(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, "Indeed", all[0].Name)

	require.ErrorIs(t, s.UpdateBoard(ctx, scraper.JobBoard{ID: "2", Name: "RemoteOK"}), scraper.ErrConflict)
	require.NoError(t, s.UpdateBoard(ctx, scraper.JobBoard{ID: "1", Name: "RemoteOK", Active: false}))
	board, err := s.GetBoard(ctx, "1")
	require.NoError(t, err)
	require.False(t, board.Active)
	require.Equal(t, epoch, board.CreatedAt)

	require.ErrorIs(t, s.UpdateBoard(ctx, scraper.JobBoard{ID: "9"}), scraper.ErrNotFound)
	_, err = s.GetBoard(ctx, "9")
	require.ErrorIs(t, err, scraper.ErrNotFound)
}

func TestStorePostingsSkipKnownHashes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewStore()
	saved, err := s.SavePostings(ctx, []scraper.Posting{
		{ContentHash: "h1", JobID: "j1", Title: "Go Engineer", ScrapedAt: epoch},
		{ContentHash: "h2", JobID: "j1", Title: "SRE", ScrapedAt: epoch.Add(time.Second)},
	})
	require.NoError(t, err)
	require.Equal(t, 2, saved)

	saved, err = s.SavePostings(ctx, []scraper.Posting{
		{ContentHash: "h2", JobID: "j2"},
		{ContentHash: "h3", JobID: "j2", ScrapedAt: epoch.Add(2 * time.Second)},
	})
	require.NoError(t, err)
	require.Equal(t, 1, saved)

	known, err := s.ExistingHashes(ctx, []string{"h1", "h3", "h9"})
	require.NoError(t, err)
	require.Equal(t, map[string]bool{"h1": true, "h3": true}, known)

	list, err := s.ListPostings(ctx, scraper.PostingFilter{JobID: "j1"})
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "SRE", list[0].Title)
}

func TestStoreUsers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.CreateUser(ctx, scraper.User{ID: "u1", Email: " Admin@Example.com ", Role: scraper.RoleAdmin}))
	require.ErrorIs(t, s.CreateUser(ctx, scraper.User{ID: "u2", Email: "admin@example.com"}), scraper.ErrConflict)

	user, err := s.GetUserByEmail(ctx, "ADMIN@example.com")
	require.NoError(t, err)
	require.Equal(t, "u1", user.ID)

	require.NoError(t, s.RecordLogin(ctx, "u1", epoch))
	user, err = s.GetUserByID(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, epoch, *user.LastLoginAt)

	require.ErrorIs(t, s.RecordLogin(ctx, "nope", epoch), scraper.ErrNotFound)
	_, err = s.GetUserByEmail(ctx, "nobody@example.com")
	require.ErrorIs(t, err, scraper.ErrNotFound)
}

func TestStoreProgressRuns(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewStore()
	var _ store.ProgressRepository = s

	jobID := uuid.New()
	require.NoError(t, s.UpsertJobStart(ctx, jobID, "remoteok", epoch))
	require.NoError(t, s.UpsertPageStats(ctx, store.PageDelta{
		JobID: jobID, Board: "remoteok", StatusClass: "2xx", Pages: 2, Postings: 7, Bytes: 2048, At: epoch.Add(time.Second),
	}))
	require.NoError(t, s.UpsertPageStats(ctx, store.PageDelta{
		JobID: jobID, Board: "remoteok", StatusClass: "2xx", Pages: 1, Postings: 3, Bytes: 1024, At: epoch.Add(2 * time.Second),
	}))
	require.NoError(t, s.UpsertPageStats(ctx, store.PageDelta{
		JobID: jobID, Board: "remoteok", StatusClass: "5xx", Pages: 1, At: epoch.Add(3 * time.Second),
	}))
	msg := "boom"
	require.NoError(t, s.CompleteJob(ctx, jobID, epoch.Add(time.Minute), store.RunError, &msg))

	run, err := s.GetRun(ctx, jobID)
	require.NoError(t, err)
	require.Equal(t, store.RunError, run.Status)
	require.Equal(t, int64(10), run.Postings)
	require.Equal(t, "boom", *run.ErrorMessage)

	pages, err := s.ListRunPages(ctx, jobID, 10, 0)
	require.NoError(t, err)
	require.Len(t, pages, 2)
	require.Equal(t, "2xx", pages[0].StatusClass)
	require.Equal(t, int64(3), pages[0].Pages)
	require.Equal(t, int64(3072), pages[0].BytesTotal)
	require.Equal(t, epoch.Add(2*time.Second), pages[0].LastUpdate)

	status := store.RunRunning
	runs, err := s.ListRuns(ctx, &status, 10, 0)
	require.NoError(t, err)
	require.Empty(t, runs)

	require.NoError(t, s.UpsertJobStart(ctx, jobID, "remoteok", epoch.Add(time.Hour)))
	runs, err = s.ListRuns(ctx, &status, 10, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Nil(t, runs[0].ErrorMessage)

	_, err = s.GetRun(ctx, uuid.New())
	require.ErrorIs(t, err, store.ErrNotFound)
}
