package sinks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/remotehive-autoscraper/internal/progress"
	"github.com/JakeFAU/remotehive-autoscraper/internal/store"
)

// StoreSink persists runs and collapsed page deltas through a
// store.ProgressRepository.
type StoreSink struct {
	repo   store.ProgressRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.ProgressRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

type pageKey struct {
	jobID       uuid.UUID
	board       string
	statusClass string
}

// Consume writes lifecycle events in order and one upsert per
// (job, board, status class) for the page events in the batch.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	deltas := make(map[pageKey]*store.PageDelta)
	order := make([]pageKey, 0)

	for _, evt := range batch {
		jobID := evt.JobUUID()
		switch evt.Stage {
		case progress.StageJobStart:
			if err := s.repo.UpsertJobStart(ctx, jobID, evt.Board, evt.TS); err != nil {
				return fmt.Errorf("upsert job start: %w", err)
			}
		case progress.StageJobDone:
			if err := s.repo.CompleteJob(ctx, jobID, evt.TS, store.RunSuccess, nil); err != nil {
				return fmt.Errorf("complete job: %w", err)
			}
		case progress.StageJobError:
			var note *string
			if evt.Note != "" {
				note = &evt.Note
			}
			if err := s.repo.CompleteJob(ctx, jobID, evt.TS, store.RunError, note); err != nil {
				return fmt.Errorf("complete job: %w", err)
			}
		case progress.StagePageDone:
			key := pageKey{jobID: jobID, board: evt.Board, statusClass: string(evt.StatusClass)}
			d, ok := deltas[key]
			if !ok {
				d = &store.PageDelta{JobID: jobID, Board: evt.Board, StatusClass: key.statusClass}
				deltas[key] = d
				order = append(order, key)
			}
			d.Pages++
			d.Postings += evt.Postings
			d.Bytes += evt.Bytes
			d.At = latest(d.At, evt.TS)
		}
	}

	for _, key := range order {
		if err := s.repo.UpsertPageStats(ctx, *deltas[key]); err != nil {
			return fmt.Errorf("upsert page stats: %w", err)
		}
	}
	return nil
}

// Close implements progress.Sink.
func (s *StoreSink) Close(context.Context) error {
	return nil
}

func latest(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
