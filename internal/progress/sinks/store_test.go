package sinks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/remotehive-autoscraper/internal/progress"
	"github.com/JakeFAU/remotehive-autoscraper/internal/store"
)

func TestStoreSinkPersistsEvents(t *testing.T) {
	t.Parallel()

	repo := &fakeProgressRepo{}
	sink := NewStoreSink(repo, nil)
	jobUUID := uuid.New()
	jobID := progress.UUIDToBytes(jobUUID)
	now := time.Now()

	page := func(offset time.Duration, bytes, postings int64) progress.Event {
		return progress.Event{
			JobID:       jobID,
			Stage:       progress.StagePageDone,
			Board:       "indeed",
			Bytes:       bytes,
			Postings:    postings,
			StatusClass: progress.Status2xx,
			TS:          now.Add(offset),
		}
	}
	batch := []progress.Event{
		{JobID: jobID, Stage: progress.StageJobStart, Board: "indeed", TS: now},
		page(time.Second, 100, 10),
		page(2*time.Second, 50, 5),
		{JobID: jobID, Stage: progress.StageJobDone, TS: now.Add(3 * time.Second), Dur: 3 * time.Second},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, []uuid.UUID{jobUUID}, repo.starts)
	require.Equal(t, []store.JobRunStatus{store.RunSuccess}, repo.completes)
	require.Len(t, repo.pages, 1)
	delta := repo.pages[0]
	require.Equal(t, int64(2), delta.Pages)
	require.Equal(t, int64(15), delta.Postings)
	require.Equal(t, int64(150), delta.Bytes)
	require.Equal(t, "indeed", delta.Board)
	require.True(t, delta.At.Equal(now.Add(2*time.Second)))
}

func TestStoreSinkRecordsErrorNote(t *testing.T) {
	t.Parallel()

	repo := &fakeProgressRepo{}
	sink := NewStoreSink(repo, nil)
	jobID := progress.UUIDToBytes(uuid.New())
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{JobID: jobID, Stage: progress.StageJobError, TS: time.Now(), Note: "board unreachable"},
	}))
	require.Equal(t, []store.JobRunStatus{store.RunError}, repo.completes)
	require.Equal(t, "board unreachable", repo.lastNote)
}

func TestStoreSinkHandlesErrors(t *testing.T) {
	t.Parallel()

	repo := &fakeProgressRepo{fail: true}
	sink := NewStoreSink(repo, nil)
	jobID := progress.UUIDToBytes(uuid.New())
	err := sink.Consume(context.Background(), []progress.Event{
		{JobID: jobID, Stage: progress.StageJobStart, TS: time.Now()},
	})
	require.ErrorContains(t, err, "upsert job start")
}

type fakeProgressRepo struct {
	fail      bool
	starts    []uuid.UUID
	completes []store.JobRunStatus
	lastNote  string
	pages     []store.PageDelta
}

var errRepo = errors.New("repo failure")

func (f *fakeProgressRepo) UpsertJobStart(_ context.Context, jobID uuid.UUID, _ string, _ time.Time) error {
	if f.fail {
		return errRepo
	}
	f.starts = append(f.starts, jobID)
	return nil
}

func (f *fakeProgressRepo) CompleteJob(
	_ context.Context,
	_ uuid.UUID,
	_ time.Time,
	status store.JobRunStatus,
	errMsg *string,
) error {
	if f.fail {
		return errRepo
	}
	f.completes = append(f.completes, status)
	if errMsg != nil {
		f.lastNote = *errMsg
	}
	return nil
}

func (f *fakeProgressRepo) UpsertPageStats(_ context.Context, delta store.PageDelta) error {
	if f.fail {
		return errRepo
	}
	f.pages = append(f.pages, delta)
	return nil
}

func (f *fakeProgressRepo) GetRun(context.Context, uuid.UUID) (store.JobRun, error) {
	return store.JobRun{}, store.ErrNotFound
}

func (f *fakeProgressRepo) ListRuns(context.Context, *store.JobRunStatus, int, int) ([]store.JobRun, error) {
	return nil, nil
}

func (f *fakeProgressRepo) ListRunPages(context.Context, uuid.UUID, int, int) ([]store.PageStats, error) {
	return nil, nil
}
