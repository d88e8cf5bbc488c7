// Package engine owns the autoscraper's job-execution state: it turns board
// selections into queued scrape jobs, drives the worker pool and reports the
// engine state snapshot.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/remotehive-autoscraper/internal/clock/system"
	"github.com/JakeFAU/remotehive-autoscraper/internal/id/uuid"
	"github.com/JakeFAU/remotehive-autoscraper/internal/metrics"
	"github.com/JakeFAU/remotehive-autoscraper/internal/scraper"
	"github.com/JakeFAU/remotehive-autoscraper/internal/worker"
)

// Start and cancel errors. The API maps them to client responses.
var (
	ErrNoActiveBoards   = errors.New("no active job boards available to start")
	ErrNoMatchingBoards = errors.New("no matching active job boards found")
	ErrNoValidBoardIDs  = errors.New("no valid job board ids provided")
	ErrNothingQueued    = errors.New("failed to queue any scraping tasks")
	ErrInvalidMode      = errors.New("invalid start mode")
	ErrJobFinished      = errors.New("job already finished")
)

const (
	defaultRetention = 24 * time.Hour
	cleanupInterval  = time.Hour
	touchTimeout     = 5 * time.Second
	// listLimit bounds job listings; it matches the largest queue size.
	listLimit = 1000
)

// Pool is the worker pool the engine controls.
type Pool interface {
	Run(ctx context.Context) error
	Pause()
	Resume()
	Running() bool
	Size() int
}

// Queue is the task queue plus the inspection the engine needs.
type Queue interface {
	scraper.Queue
	scraper.QueueInspector
	Remove(ctx context.Context, jobID string) (bool, error)
}

// pendingLister is implemented by queues that can list queued tasks.
type pendingLister interface {
	Pending() []scraper.Task
}

// Config holds job defaults.
type Config struct {
	DefaultQuery    string
	DefaultLocation string
	DefaultMaxPages int
	MaxRetries      int
	MaxConcurrent   int
	RetentionPeriod time.Duration
}

func (c Config) withDefaults() Config {
	if c.DefaultQuery == "" {
		c.DefaultQuery = "remote"
	}
	if c.DefaultLocation == "" {
		c.DefaultLocation = "Remote"
	}
	if c.DefaultMaxPages <= 0 {
		c.DefaultMaxPages = 3
	}
	if c.RetentionPeriod <= 0 {
		c.RetentionPeriod = defaultRetention
	}
	return c
}

// Deps are the engine's collaborators. Pool and Tracker are nil when jobs
// only run in separate worker processes; Control must then be shared with
// them. A nil Control keeps the run state in process.
type Deps struct {
	Jobs    scraper.JobStore
	Boards  scraper.BoardStore
	Queue   Queue
	Pool    Pool
	Tracker *worker.Tracker
	Control scraper.ControlStore
	IDs     scraper.IDGenerator
	Clock   scraper.Clock
}

// StartRequest selects boards and priority for a start.
type StartRequest struct {
	BoardIDs []string `json:"job_board_ids"`
	// Priority is the 0..3 level; nil means normal.
	Priority *int   `json:"priority"`
	Mode     string `json:"mode"`
}

// StartResult is returned by Start.
type StartResult struct {
	Status   scraper.EngineStatus `json:"status"`
	Message  string               `json:"message"`
	JobIDs   []string             `json:"job_ids"`
	Priority int                  `json:"priority"`
	Mode     scraper.StartMode    `json:"mode"`
}

// PauseResult lists jobs still running when the engine paused.
type PauseResult struct {
	Status  scraper.EngineStatus `json:"status"`
	Message string               `json:"message"`
	JobIDs  []string             `json:"job_ids"`
}

// ResetResult reports what Reset cancelled.
type ResetResult struct {
	Status    scraper.EngineStatus `json:"status"`
	Message   string               `json:"message"`
	Cancelled int                  `json:"cancelled"`
}

// QueueStatistics are lifetime totals.
type QueueStatistics struct {
	TotalTasks     int   `json:"total_tasks"`
	CompletedTasks int   `json:"completed_tasks"`
	FailedTasks    int   `json:"failed_tasks"`
	CancelledTasks int   `json:"cancelled_tasks"`
	TotalPostings  int64 `json:"total_jobs_scraped"`
}

// QueueStatus is the queue/status payload.
type QueueStatus struct {
	QueueSize      int                       `json:"queue_size"`
	RunningTasks   int                       `json:"running_tasks"`
	StatusCounts   map[scraper.JobStatus]int `json:"status_counts"`
	Statistics     QueueStatistics           `json:"statistics"`
	WorkersRunning bool                      `json:"workers_running"`
	Paused         bool                      `json:"paused"`
	MaxConcurrent  int                       `json:"max_concurrent_tasks"`
	PendingJobs    []scraper.Task            `json:"pending_jobs"`
	Timestamp      time.Time                 `json:"timestamp"`
}

// Engine coordinates job creation and the worker pool.
type Engine struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger

	// mu serializes run-state transitions and the pool lifecycle.
	mu          sync.Mutex
	base        context.Context
	stop        context.CancelFunc
	poolStarted bool
	poolDone    chan struct{}

	postings    atomic.Int64
	onCompleted []func(scraper.Job, scraper.Result)
	onFailed    []func(scraper.Job, error)
}

// New creates an idle Engine.
func New(deps Deps, cfg Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if deps.IDs == nil {
		deps.IDs = uuid.New()
	}
	if deps.Control == nil {
		deps.Control = newLocalControl()
	}
	base, stop := context.WithCancel(context.Background())
	return &Engine{
		deps:   deps,
		cfg:    cfg.withDefaults(),
		logger: logger.Named("engine"),
		base:   base,
		stop:   stop,
	}
}

// OnCompleted registers a callback for completed jobs.
func (e *Engine) OnCompleted(fn func(scraper.Job, scraper.Result)) {
	e.mu.Lock()
	e.onCompleted = append(e.onCompleted, fn)
	e.mu.Unlock()
}

// OnFailed registers a callback for jobs that exhausted their retries.
func (e *Engine) OnFailed(fn func(scraper.Job, error)) {
	e.mu.Lock()
	e.onFailed = append(e.onFailed, fn)
	e.mu.Unlock()
}

// WorkerHooks returns the hooks workers call on terminal transitions.
func (e *Engine) WorkerHooks() worker.Hooks {
	return worker.Hooks{
		OnCompleted: func(job scraper.Job, result scraper.Result) {
			e.postings.Add(int64(result.Counters.Saved))
			e.touch()
			e.mu.Lock()
			callbacks := append([]func(scraper.Job, scraper.Result){}, e.onCompleted...)
			e.mu.Unlock()
			for _, fn := range callbacks {
				fn(job, result)
			}
		},
		OnFailed: func(job scraper.Job, err error) {
			e.touch()
			e.mu.Lock()
			callbacks := append([]func(scraper.Job, error){}, e.onFailed...)
			e.mu.Unlock()
			for _, fn := range callbacks {
				fn(job, err)
			}
		},
	}
}

// Run prunes old jobs periodically until ctx ends. It then stops the worker
// pool started by Start and returns once in-flight tasks have finished.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return
		case <-ticker.C:
			if n, err := e.ClearFinished(ctx, e.cfg.RetentionPeriod); err != nil {
				e.logger.Warn("prune finished jobs failed", zap.Error(err))
			} else if n > 0 {
				e.logger.Info("pruned finished jobs", zap.Int("deleted", n))
			}
		}
	}
}

// Start queues one job per selected active board and makes sure the worker
// pool is running.
func (e *Engine) Start(ctx context.Context, req StartRequest) (StartResult, error) {
	mode, ok := scraper.ParseStartMode(req.Mode)
	if !ok {
		return StartResult{}, fmt.Errorf("%q: %w", req.Mode, ErrInvalidMode)
	}
	level := int(scraper.PriorityNormal) - 1
	if req.Priority != nil {
		level = *req.Priority
	}
	priority := scraper.PriorityFromLevel(level)

	selected, err := e.selectBoards(ctx, req.BoardIDs)
	if err != nil {
		return StartResult{}, err
	}

	e.ensurePool()

	now := e.deps.Clock.Now()
	jobIDs := make([]string, 0, len(selected))
	for _, board := range selected {
		id, err := e.queueJob(ctx, board, priority, mode, now)
		if err != nil {
			e.logger.Error("queue job failed", zap.String("board", board.Name), zap.Error(err))
			continue
		}
		jobIDs = append(jobIDs, id)
	}
	if len(jobIDs) == 0 {
		return StartResult{}, ErrNothingQueued
	}

	if _, err := e.transition(ctx, func(c *scraper.EngineControl) {
		c.Status = scraper.EngineRunning
		c.StartedAt = &now
		c.LastActivity = &now
	}); err != nil {
		return StartResult{}, err
	}
	e.refreshQueueDepth(ctx)

	e.logger.Info("engine started",
		zap.Int("boards", len(selected)),
		zap.Int("queued", len(jobIDs)),
		zap.String("priority", priority.String()),
		zap.String("mode", string(mode)),
	)
	return StartResult{
		Status:   scraper.EngineRunning,
		Message:  fmt.Sprintf("Engine started successfully! Queued %d scraping tasks for %d job boards", len(jobIDs), len(selected)),
		JobIDs:   jobIDs,
		Priority: level,
		Mode:     mode,
	}, nil
}

func (e *Engine) selectBoards(ctx context.Context, ids []string) ([]scraper.JobBoard, error) {
	active := true
	boards, err := e.deps.Boards.ListBoards(ctx, &active)
	if err != nil {
		return nil, fmt.Errorf("list active boards: %w", err)
	}
	if len(ids) == 0 {
		if len(boards) == 0 {
			return nil, ErrNoActiveBoards
		}
		return boards, nil
	}

	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		if !uuid.Valid(id) {
			e.logger.Warn("skipping invalid job board id", zap.String("job_board_id", id))
			continue
		}
		wanted[id] = true
	}
	if len(wanted) == 0 {
		return nil, ErrNoValidBoardIDs
	}
	selected := make([]scraper.JobBoard, 0, len(wanted))
	for _, b := range boards {
		if wanted[b.ID] {
			selected = append(selected, b)
		}
	}
	if len(selected) == 0 {
		return nil, ErrNoMatchingBoards
	}
	return selected, nil
}

func (e *Engine) queueJob(
	ctx context.Context,
	board scraper.JobBoard,
	priority scraper.Priority,
	mode scraper.StartMode,
	now time.Time,
) (string, error) {
	id, err := e.deps.IDs.NewID()
	if err != nil {
		return "", fmt.Errorf("job id: %w", err)
	}
	job := scraper.Job{
		ID:         id,
		BoardID:    board.ID,
		BoardName:  board.Name,
		Query:      e.cfg.DefaultQuery,
		Location:   e.cfg.DefaultLocation,
		MaxPages:   e.cfg.DefaultMaxPages,
		Priority:   priority,
		Mode:       mode,
		Status:     scraper.JobStatusPending,
		MaxRetries: e.cfg.MaxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
		Metadata: map[string]string{
			"job_board_id": board.ID,
			"engine_start": "true",
			"mode":         string(mode),
		},
	}
	if err := e.deps.Jobs.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	if err := e.deps.Queue.Enqueue(ctx, job.Task()); err != nil {
		failedAt := e.deps.Clock.Now()
		if uerr := e.deps.Jobs.UpdateJob(ctx, id, scraper.JobUpdate{
			Status:      scraper.JobStatusFailed,
			Error:       err.Error(),
			CompletedAt: &failedAt,
			At:          failedAt,
		}); uerr != nil {
			e.logger.Warn("mark unqueued job failed", zap.String("job_id", id), zap.Error(uerr))
		}
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	return id, nil
}

// ensurePool starts the worker pool once and resumes it when paused.
func (e *Engine) ensurePool() {
	pool := e.deps.Pool
	if pool == nil {
		return
	}
	pool.Resume()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.poolStarted || e.base.Err() != nil {
		return
	}
	e.poolStarted = true
	done := make(chan struct{})
	e.poolDone = done
	base := e.base
	go func() {
		defer close(done)
		err := pool.Run(base)
		if err == nil || base.Err() != nil {
			return
		}
		e.logger.Error("worker pool stopped", zap.Error(err))
		e.mu.Lock()
		e.poolStarted = false
		e.mu.Unlock()
		if _, terr := e.transition(context.Background(), func(c *scraper.EngineControl) {
			if c.Status == scraper.EngineRunning {
				c.Status = scraper.EngineError
			}
		}); terr != nil {
			e.logger.Warn("record pool failure", zap.Error(terr))
		}
	}()
}

// shutdown stops the pool and waits for its workers.
func (e *Engine) shutdown() {
	e.mu.Lock()
	e.stop()
	done := e.poolDone
	e.mu.Unlock()
	if done != nil {
		<-done
	}
}

// transition applies fn to the stored run state. Transitions from this
// process are serialized; the autoscraper is the only writer.
func (e *Engine) transition(ctx context.Context, fn func(*scraper.EngineControl)) (scraper.EngineControl, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ctl, err := e.deps.Control.LoadControl(ctx)
	if err != nil {
		return ctl, fmt.Errorf("load engine state: %w", err)
	}
	fn(&ctl)
	if err := e.deps.Control.SaveControl(ctx, ctl); err != nil {
		return ctl, fmt.Errorf("save engine state: %w", err)
	}
	return ctl, nil
}

// State returns the engine snapshot.
func (e *Engine) State(ctx context.Context) (scraper.EngineState, error) {
	counts, err := e.deps.Jobs.CountByStatus(ctx)
	if err != nil {
		return scraper.EngineState{}, fmt.Errorf("count jobs: %w", err)
	}
	now := e.deps.Clock.Now()
	completed, failed, err := e.deps.Jobs.CountFinishedSince(ctx, system.StartOfDay(now))
	if err != nil {
		return scraper.EngineState{}, fmt.Errorf("count finished jobs: %w", err)
	}
	total := completed + failed
	rate := 0.0
	if total > 0 {
		rate = math.Round(float64(completed)/float64(total)*100*100) / 100
	}

	ctl, err := e.deps.Control.LoadControl(ctx)
	if err != nil {
		return scraper.EngineState{}, fmt.Errorf("load engine state: %w", err)
	}
	state := scraper.EngineState{
		Status:         ctl.Status,
		ActiveJobs:     counts[scraper.JobStatusRunning],
		QueuedJobs:     counts[scraper.JobStatusPending] + counts[scraper.JobStatusRetrying],
		TotalJobsToday: total,
		SuccessRate:    rate,
		LastActivity:   ctl.LastActivity,
	}
	if ctl.Status != scraper.EngineIdle && ctl.StartedAt != nil {
		state.UptimeSeconds = int64(now.Sub(*ctl.StartedAt).Seconds())
	}
	return state, nil
}

// Pause stops the pool from taking new tasks and lists jobs still running.
// Workers in other processes follow the stored paused state.
func (e *Engine) Pause(ctx context.Context) (PauseResult, error) {
	running, err := e.runningJobIDs(ctx)
	if err != nil {
		return PauseResult{}, err
	}
	if e.deps.Pool != nil {
		e.deps.Pool.Pause()
	}
	now := e.deps.Clock.Now()
	ctl, err := e.transition(ctx, func(c *scraper.EngineControl) {
		if c.Status == scraper.EngineRunning {
			c.Status = scraper.EnginePaused
			c.LastActivity = &now
		}
	})
	if err != nil {
		return PauseResult{}, err
	}
	status := ctl.Status

	message := "Engine paused"
	if len(running) == 0 {
		message = "No running jobs to pause"
	}
	e.logger.Info("engine paused", zap.Int("running", len(running)))
	return PauseResult{Status: status, Message: message, JobIDs: running}, nil
}

// Resume restarts dequeuing after Pause.
func (e *Engine) Resume(ctx context.Context) error {
	if e.deps.Pool != nil {
		e.deps.Pool.Resume()
	}
	now := e.deps.Clock.Now()
	_, err := e.transition(ctx, func(c *scraper.EngineControl) {
		if c.Status == scraper.EnginePaused {
			c.Status = scraper.EngineRunning
			c.LastActivity = &now
		}
	})
	return err
}

func (e *Engine) runningJobIDs(ctx context.Context) ([]string, error) {
	jobs, err := e.deps.Jobs.ListJobs(ctx, scraper.JobFilter{Status: scraper.JobStatusRunning, Limit: listLimit})
	if err != nil {
		return nil, fmt.Errorf("list running jobs: %w", err)
	}
	ids := make([]string, 0, len(jobs))
	for _, j := range jobs {
		ids = append(ids, j.ID)
	}
	return ids, nil
}

// Reset cancels every queued job, pauses the pool and returns to idle.
func (e *Engine) Reset(ctx context.Context) (ResetResult, error) {
	if e.deps.Pool != nil {
		e.deps.Pool.Pause()
	}
	cancelled := 0
	for _, status := range []scraper.JobStatus{scraper.JobStatusPending, scraper.JobStatusRetrying} {
		jobs, err := e.deps.Jobs.ListJobs(ctx, scraper.JobFilter{Status: status, Limit: listLimit})
		if err != nil {
			return ResetResult{}, fmt.Errorf("list %s jobs: %w", status, err)
		}
		for _, job := range jobs {
			if err := e.cancelQueued(ctx, job); err != nil {
				e.logger.Warn("cancel queued job failed", zap.String("job_id", job.ID), zap.Error(err))
				continue
			}
			cancelled++
		}
	}
	now := e.deps.Clock.Now()
	if _, err := e.transition(ctx, func(c *scraper.EngineControl) {
		c.Status = scraper.EngineIdle
		c.StartedAt = nil
		c.LastActivity = &now
	}); err != nil {
		return ResetResult{}, err
	}
	e.refreshQueueDepth(ctx)
	e.logger.Info("engine reset", zap.Int("cancelled", cancelled))
	return ResetResult{Status: scraper.EngineIdle, Message: "Engine reset completed", Cancelled: cancelled}, nil
}

// CancelJob cancels a queued job or signals a running one.
func (e *Engine) CancelJob(ctx context.Context, id string) (scraper.Job, error) {
	job, err := e.deps.Jobs.GetJob(ctx, id)
	if err != nil {
		return scraper.Job{}, fmt.Errorf("load job: %w", err)
	}
	if job.Status.Terminal() {
		return job, fmt.Errorf("%s is %s: %w", id, job.Status, ErrJobFinished)
	}
	if job.Status == scraper.JobStatusRunning {
		if e.deps.Tracker != nil && e.deps.Tracker.Cancel(id) {
			e.logger.Info("running job cancelled", zap.String("job_id", id))
			return job, nil
		}
	}
	if err := e.cancelQueued(ctx, job); err != nil {
		return scraper.Job{}, err
	}
	e.refreshQueueDepth(ctx)
	return e.deps.Jobs.GetJob(ctx, id)
}

// cancelQueued drops the job from the queue and records it as cancelled. A
// worker in another process notices the status before its next page.
func (e *Engine) cancelQueued(ctx context.Context, job scraper.Job) error {
	if _, err := e.deps.Queue.Remove(ctx, job.ID); err != nil {
		return fmt.Errorf("remove from queue: %w", err)
	}
	now := e.deps.Clock.Now()
	if err := e.deps.Jobs.UpdateJob(ctx, job.ID, scraper.JobUpdate{
		Status:      scraper.JobStatusCancelled,
		Error:       "cancelled by request",
		Counters:    job.Counters,
		Attempt:     job.Attempt,
		CompletedAt: &now,
		At:          now,
	}); err != nil {
		return fmt.Errorf("mark cancelled: %w", err)
	}
	return nil
}

// ClearFinished deletes terminal jobs last updated before now-olderThan.
func (e *Engine) ClearFinished(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		olderThan = defaultRetention
	}
	n, err := e.deps.Jobs.DeleteFinishedBefore(ctx, e.deps.Clock.Now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("delete finished jobs: %w", err)
	}
	return n, nil
}

// QueueStatus reports queue depth, pool state and job totals.
func (e *Engine) QueueStatus(ctx context.Context) (QueueStatus, error) {
	size, err := e.deps.Queue.Len(ctx)
	if err != nil {
		return QueueStatus{}, fmt.Errorf("queue length: %w", err)
	}
	counts, err := e.deps.Jobs.CountByStatus(ctx)
	if err != nil {
		return QueueStatus{}, fmt.Errorf("count jobs: %w", err)
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	status := QueueStatus{
		QueueSize:    size,
		RunningTasks: counts[scraper.JobStatusRunning],
		StatusCounts: counts,
		Statistics: QueueStatistics{
			TotalTasks:     total,
			CompletedTasks: counts[scraper.JobStatusCompleted],
			FailedTasks:    counts[scraper.JobStatusFailed],
			CancelledTasks: counts[scraper.JobStatusCancelled],
			TotalPostings:  e.postings.Load(),
		},
		MaxConcurrent: e.cfg.MaxConcurrent,
		PendingJobs:   []scraper.Task{},
		Timestamp:     e.deps.Clock.Now(),
	}
	if e.deps.Pool != nil {
		status.WorkersRunning = e.deps.Pool.Running()
		status.MaxConcurrent = e.deps.Pool.Size()
	}
	ctl, err := e.deps.Control.LoadControl(ctx)
	if err != nil {
		return QueueStatus{}, fmt.Errorf("load engine state: %w", err)
	}
	status.Paused = ctl.Status == scraper.EnginePaused
	if lister, ok := e.deps.Queue.(pendingLister); ok {
		status.PendingJobs = lister.Pending()
	}
	metrics.SetQueueDepth(size)
	return status, nil
}

func (e *Engine) refreshQueueDepth(ctx context.Context) {
	if n, err := e.deps.Queue.Len(ctx); err == nil {
		metrics.SetQueueDepth(n)
	}
}

func (e *Engine) touch() {
	ctx, cancel := context.WithTimeout(context.Background(), touchTimeout)
	defer cancel()
	if err := e.deps.Control.TouchActivity(ctx, e.deps.Clock.Now()); err != nil {
		e.logger.Warn("record engine activity failed", zap.Error(err))
	}
}
