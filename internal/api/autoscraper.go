package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/remotehive-autoscraper/internal/auth"
	"github.com/JakeFAU/remotehive-autoscraper/internal/engine"
	"github.com/JakeFAU/remotehive-autoscraper/internal/progress"
	"github.com/JakeFAU/remotehive-autoscraper/internal/scraper"
	"github.com/JakeFAU/remotehive-autoscraper/internal/store"
	"github.com/JakeFAU/remotehive-autoscraper/internal/sysinfo"
)

const (
	defaultJobLimit = 50
	maxJobLimit     = 500
)

// Engine is the engine surface the autoscraper service exposes.
type Engine interface {
	Start(ctx context.Context, req engine.StartRequest) (engine.StartResult, error)
	State(ctx context.Context) (scraper.EngineState, error)
	Pause(ctx context.Context) (engine.PauseResult, error)
	Resume(ctx context.Context) error
	Reset(ctx context.Context) (engine.ResetResult, error)
	CancelJob(ctx context.Context, id string) (scraper.Job, error)
	ClearFinished(ctx context.Context, olderThan time.Duration) (int, error)
	QueueStatus(ctx context.Context) (engine.QueueStatus, error)
}

// SystemSampler reports host utilisation.
type SystemSampler interface {
	Snapshot(ctx context.Context) (sysinfo.Snapshot, error)
}

// EventSource streams live progress events.
type EventSource interface {
	Subscribe() (<-chan progress.Event, func())
}

// AutoscraperDeps are the collaborators of the autoscraper service. System,
// Progress and Events may be nil; their routes then answer 503.
type AutoscraperDeps struct {
	Engine   Engine
	Jobs     scraper.JobStore
	Boards   scraper.BoardStore
	Auth     auth.Verifier
	System   SystemSampler
	Progress store.ProgressRepository
	Events   EventSource
	Version  string
}

// AutoscraperServer exposes the engine, jobs, boards and monitoring routes.
type AutoscraperServer struct {
	router   chi.Router
	deps     AutoscraperDeps
	opts     Options
	probes   *probes
	progress *ProgressHandler
	logger   *zap.Logger
}

// NewAutoscraperServer builds the autoscraper service router.
func NewAutoscraperServer(deps AutoscraperDeps, opts Options, logger *zap.Logger) *AutoscraperServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = opts.withDefaults()
	if opts.Service == "" {
		opts.Service = "remotehive-autoscraper"
	}
	s := &AutoscraperServer{
		deps:     deps,
		opts:     opts,
		logger:   logger.Named("autoscraper_api"),
		progress: NewProgressHandler(deps.Progress, logger),
	}
	s.probes = &probes{opts: opts, logger: s.logger}

	admin := auth.RequireRole(scraper.RoleAdmin, scraper.RoleSuperAdmin)
	r := newRouter(opts, s.logger)
	r.Route("/api/v1/autoscraper", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(opts.RequestTimeout))
			r.Get("/", s.describe)
			r.Get("/health", s.detailedHealth)

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireAuth(deps.Auth))

				r.Get("/engine/state", s.engineState)
				r.With(admin).Post("/engine/start", s.startEngine)
				r.With(admin).Post("/engine/pause", s.pauseEngine)
				r.With(admin).Post("/engine/resume", s.resumeEngine)
				r.With(admin).Post("/engine/reset", s.resetEngine)

				r.Get("/jobs", s.listJobs)
				r.With(admin).Delete("/jobs/finished", s.clearFinished)
				r.Get("/jobs/{job_id}", s.getJob)
				r.With(admin).Post("/jobs/{job_id}/cancel", s.cancelJob)

				r.Get("/job-boards", s.listBoards)
				r.With(admin).Post("/job-boards", s.createBoard)
				r.With(admin).Put("/job-boards/{board_id}", s.updateBoard)

				r.Get("/queue/status", s.queueStatus)
				r.Get("/system/metrics", s.systemMetrics)

				r.Get("/runs", s.progress.ListRuns)
				r.Get("/runs/{job_id}", s.progress.GetRun)
				r.Get("/runs/{job_id}/pages", s.progress.ListRunPages)
			})
		})
		// Websocket upgrades need the raw connection, so no timeout handler.
		r.With(tokenFromQuery, auth.RequireAuth(deps.Auth)).Get("/ws", s.streamEvents)
	})
	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *AutoscraperServer) Handler() http.Handler {
	return s.router
}

func (s *AutoscraperServer) describe(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": s.opts.Service,
		"version": s.deps.Version,
		"status":  "running",
		"endpoints": []string{
			"/api/v1/autoscraper/engine/start",
			"/api/v1/autoscraper/engine/state",
			"/api/v1/autoscraper/engine/pause",
			"/api/v1/autoscraper/engine/reset",
			"/api/v1/autoscraper/jobs",
			"/api/v1/autoscraper/job-boards",
			"/api/v1/autoscraper/queue/status",
			"/api/v1/autoscraper/system/metrics",
			"/api/v1/autoscraper/runs",
			"/api/v1/autoscraper/ws",
		},
	})
}

func (s *AutoscraperServer) detailedHealth(w http.ResponseWriter, r *http.Request) {
	checks, ok := s.probes.run(r.Context())
	status, code := "healthy", http.StatusOK
	if !ok {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":    status,
		"service":   s.opts.Service,
		"checks":    checks,
		"timestamp": s.opts.Now().UTC(),
	})
}

func (s *AutoscraperServer) engineState(w http.ResponseWriter, r *http.Request) {
	state, err := s.deps.Engine.State(r.Context())
	if err != nil {
		s.logger.Error("engine state failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to get engine state")
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *AutoscraperServer) startEngine(w http.ResponseWriter, r *http.Request) {
	var req engine.StartRequest
	if err := decodeJSON(r, &req, true); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.deps.Engine.Start(r.Context(), req)
	if err != nil {
		status, msg := startError(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error("engine start failed", zap.Error(err))
		}
		writeError(w, status, msg)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func startError(err error) (int, string) {
	switch {
	case errors.Is(err, engine.ErrNoActiveBoards):
		return http.StatusBadRequest, "No active job boards available to start"
	case errors.Is(err, engine.ErrNoMatchingBoards):
		return http.StatusBadRequest, "No matching active job boards found"
	case errors.Is(err, engine.ErrNoValidBoardIDs):
		return http.StatusBadRequest, "No valid job board IDs provided"
	case errors.Is(err, engine.ErrInvalidMode):
		return http.StatusBadRequest, "Invalid start mode"
	case errors.Is(err, engine.ErrNothingQueued):
		return http.StatusInternalServerError, "Failed to queue any scraping tasks"
	default:
		return http.StatusInternalServerError, "Failed to start engine"
	}
}

func (s *AutoscraperServer) pauseEngine(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Engine.Pause(r.Context())
	if err != nil {
		s.logger.Error("engine pause failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to pause engine")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *AutoscraperServer) resumeEngine(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Engine.Resume(r.Context()); err != nil {
		s.logger.Error("engine resume failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to resume engine")
		return
	}
	s.engineState(w, r)
}

func (s *AutoscraperServer) resetEngine(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Engine.Reset(r.Context())
	if err != nil {
		s.logger.Error("engine reset failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to reset engine")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *AutoscraperServer) listJobs(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseLimitOffset(r, defaultJobLimit, maxJobLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter := scraper.JobFilter{
		BoardID: strings.TrimSpace(r.URL.Query().Get("job_board_id")),
		Limit:   limit,
		Offset:  offset,
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status, ok := scraper.ParseJobStatus(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid status")
			return
		}
		filter.Status = status
	}
	jobs, err := s.deps.Jobs.ListJobs(r.Context(), filter)
	if err != nil {
		s.logger.Error("list jobs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	if jobs == nil {
		jobs = []scraper.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs, "limit": limit, "offset": offset})
}

func (s *AutoscraperServer) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.deps.Jobs.GetJob(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		if errors.Is(err, scraper.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("get job failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *AutoscraperServer) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.deps.Engine.CancelJob(r.Context(), jobID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"job_id": jobID, "status": job.Status, "message": "Job cancellation requested"})
	case errors.Is(err, scraper.ErrNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, engine.ErrJobFinished):
		writeError(w, http.StatusConflict, "job already finished")
	default:
		s.logger.Error("cancel job failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to cancel job")
	}
}

func (s *AutoscraperServer) clearFinished(w http.ResponseWriter, r *http.Request) {
	olderThan := time.Duration(0)
	if raw := r.URL.Query().Get("older_than_hours"); raw != "" {
		hours, err := strconv.Atoi(raw)
		if err != nil || hours <= 0 {
			writeError(w, http.StatusBadRequest, "invalid older_than_hours")
			return
		}
		olderThan = time.Duration(hours) * time.Hour
	}
	n, err := s.deps.Engine.ClearFinished(r.Context(), olderThan)
	if err != nil {
		s.logger.Error("clear finished jobs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to clear jobs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

func (s *AutoscraperServer) queueStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.deps.Engine.QueueStatus(r.Context())
	if err != nil {
		s.logger.Error("queue status failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to get queue status")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *AutoscraperServer) systemMetrics(w http.ResponseWriter, r *http.Request) {
	if s.deps.System == nil {
		writeError(w, http.StatusServiceUnavailable, "system metrics unavailable")
		return
	}
	snap, err := s.deps.System.Snapshot(r.Context())
	if err != nil {
		s.logger.Error("system metrics failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to get system metrics")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// tokenFromQuery lets browser websocket clients pass ?token= since they
// cannot set headers on the upgrade request.
func tokenFromQuery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			if token := r.URL.Query().Get("token"); token != "" {
				r.Header.Set("Authorization", "Bearer "+token)
			}
		}
		next.ServeHTTP(w, r)
	})
}
