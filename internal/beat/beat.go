// Package beat is the periodic scheduler: it turns each active board's cron
// schedule into scheduled scrape jobs on the shared queue.
package beat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/remotehive-autoscraper/internal/clock/system"
	"github.com/JakeFAU/remotehive-autoscraper/internal/id/uuid"
	"github.com/JakeFAU/remotehive-autoscraper/internal/scraper"
)

// Config controls schedules and the jobs they create.
type Config struct {
	DefaultSchedule string
	RefreshInterval time.Duration
	Query           string
	Location        string
	MaxPages        int
	MaxRetries      int
}

func (c Config) withDefaults() Config {
	if c.DefaultSchedule == "" {
		c.DefaultSchedule = "@every 24h"
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = 5 * time.Minute
	}
	if c.Query == "" {
		c.Query = "remote"
	}
	if c.Location == "" {
		c.Location = "Remote"
	}
	if c.MaxPages <= 0 {
		c.MaxPages = 3
	}
	return c
}

type entry struct {
	id   cron.EntryID
	spec string
}

// Scheduler keeps one cron entry per active board.
type Scheduler struct {
	boards scraper.BoardStore
	jobs   scraper.JobStore
	queue  scraper.Queue
	ids    scraper.IDGenerator
	clock  scraper.Clock
	cfg    Config
	logger *zap.Logger
	// control, when set, holds scheduled jobs back while the engine is paused.
	control scraper.ControlReader

	cron *cron.Cron
	// base is the context fired jobs run under once Run has started.
	base context.Context

	mu      sync.Mutex
	entries map[string]entry
}

// New creates a Scheduler. ids and clock may be nil.
func New(
	boards scraper.BoardStore,
	jobs scraper.JobStore,
	queue scraper.Queue,
	ids scraper.IDGenerator,
	clock scraper.Clock,
	cfg Config,
	logger *zap.Logger,
) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ids == nil {
		ids = uuid.New()
	}
	if clock == nil {
		clock = system.New()
	}
	logger = logger.Named("beat")
	return &Scheduler{
		boards:  boards,
		jobs:    jobs,
		queue:   queue,
		ids:     ids,
		clock:   clock,
		cfg:     cfg.withDefaults(),
		logger:  logger,
		cron:    cron.New(cron.WithLocation(time.UTC), cron.WithLogger(cronLogger{logger.Sugar()})),
		base:    context.Background(),
		entries: make(map[string]entry),
	}
}

// GateOn makes Fire refuse new jobs while control reports a paused engine.
func (s *Scheduler) GateOn(control scraper.ControlReader) *Scheduler {
	s.control = control
	return s
}

// Run loads schedules, starts the cron runner and refreshes the board
// catalogue until ctx ends.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.base = ctx
	s.mu.Unlock()

	if err := s.Refresh(ctx); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("beat started", zap.Int("schedules", len(s.Schedules())))

	ticker := time.NewTicker(s.cfg.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			<-s.cron.Stop().Done()
			s.logger.Info("beat stopped")
			return nil
		case <-ticker.C:
			if err := s.Refresh(ctx); err != nil {
				s.logger.Warn("schedule refresh failed", zap.Error(err))
			}
		}
	}
}

// Refresh re-registers schedules for active boards. Boards that disappeared
// or were deactivated lose their entry; changed schedules are replaced.
func (s *Scheduler) Refresh(ctx context.Context) error {
	active := true
	boards, err := s.boards.ListBoards(ctx, &active)
	if err != nil {
		return fmt.Errorf("list boards: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool, len(boards))
	for _, board := range boards {
		seen[board.ID] = true
		spec := board.Schedule
		if spec == "" {
			spec = s.cfg.DefaultSchedule
		}
		if current, ok := s.entries[board.ID]; ok {
			if current.spec == spec {
				continue
			}
			s.cron.Remove(current.id)
			delete(s.entries, board.ID)
		}
		boardID := board.ID
		id, err := s.cron.AddFunc(spec, func() { s.fire(boardID) })
		if err != nil {
			s.logger.Warn("invalid board schedule",
				zap.String("board", board.Name),
				zap.String("schedule", spec),
				zap.Error(err),
			)
			continue
		}
		s.entries[board.ID] = entry{id: id, spec: spec}
		s.logger.Debug("board scheduled", zap.String("board", board.Name), zap.String("schedule", spec))
	}
	for boardID, current := range s.entries {
		if !seen[boardID] {
			s.cron.Remove(current.id)
			delete(s.entries, boardID)
		}
	}
	return nil
}

// Schedules returns board id → cron spec for registered entries.
func (s *Scheduler) Schedules() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.entries))
	for boardID, e := range s.entries {
		out[boardID] = e.spec
	}
	return out
}

func (s *Scheduler) fire(boardID string) {
	s.mu.Lock()
	ctx := s.base
	s.mu.Unlock()
	_, err := s.Fire(ctx, boardID)
	switch {
	case errors.Is(err, ErrEnginePaused):
		s.logger.Info("engine paused, skipping scheduled job", zap.String("board_id", boardID))
	case err != nil:
		s.logger.Warn("scheduled job not queued", zap.String("board_id", boardID), zap.Error(err))
	}
}

var (
	// ErrBoardInactive is returned by Fire for boards no longer active.
	ErrBoardInactive = errors.New("board is inactive")
	// ErrEnginePaused is returned by Fire while the engine is paused.
	ErrEnginePaused = errors.New("engine is paused")
)

// Fire creates and enqueues one scheduled job for boardID.
func (s *Scheduler) Fire(ctx context.Context, boardID string) (string, error) {
	if s.control != nil {
		ctl, err := s.control.LoadControl(ctx)
		if err != nil {
			return "", fmt.Errorf("load engine state: %w", err)
		}
		if !ctl.AcceptsWork() {
			return "", ErrEnginePaused
		}
	}
	board, err := s.boards.GetBoard(ctx, boardID)
	if err != nil {
		return "", fmt.Errorf("load board: %w", err)
	}
	if !board.Active {
		return "", ErrBoardInactive
	}
	id, err := s.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("job id: %w", err)
	}
	now := s.clock.Now().UTC()
	job := scraper.Job{
		ID:         id,
		BoardID:    board.ID,
		BoardName:  board.Name,
		Query:      s.cfg.Query,
		Location:   s.cfg.Location,
		MaxPages:   s.cfg.MaxPages,
		Priority:   scraper.PriorityNormal,
		Mode:       scraper.ModeScheduled,
		Status:     scraper.JobStatusPending,
		MaxRetries: s.cfg.MaxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
		Metadata: map[string]string{
			"job_board_id": board.ID,
			"mode":         string(scraper.ModeScheduled),
		},
	}
	if err := s.jobs.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	if err := s.queue.Enqueue(ctx, job.Task()); err != nil {
		if uerr := s.jobs.UpdateJob(ctx, id, scraper.JobUpdate{
			Status:      scraper.JobStatusFailed,
			Error:       err.Error(),
			CompletedAt: &now,
			At:          now,
		}); uerr != nil {
			s.logger.Warn("mark unqueued job failed", zap.String("job_id", id), zap.Error(uerr))
		}
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	s.logger.Info("scheduled job queued", zap.String("job_id", id), zap.String("board", board.Name))
	return id, nil
}

// cronLogger routes cron's own logging through zap.
type cronLogger struct {
	sugar *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.sugar.Errorw(msg, append(keysAndValues, "error", err)...)
}
