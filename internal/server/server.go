// Package server builds and runs one deployable role: the web API, the
// autoscraper service, a background worker, or the beat scheduler.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/remotehive-autoscraper/internal/config"
	"github.com/JakeFAU/remotehive-autoscraper/internal/logging"
	"github.com/JakeFAU/remotehive-autoscraper/internal/metrics"
	"github.com/JakeFAU/remotehive-autoscraper/internal/telemetry"
)

// Role names a deployable process.
type Role string

// Roles declared in the Procfile.
const (
	RoleWeb         Role = "web"
	RoleAutoscraper Role = "autoscraper"
	RoleWorker      Role = "worker"
	RoleBeat        Role = "beat"
)

const shutdownTimeout = 15 * time.Second

// runner is a background loop that lives until ctx ends.
type runner struct {
	name string
	run  func(ctx context.Context) error
}

// App holds one role's dependencies.
type App struct {
	cfg     config.Config
	role    Role
	logger  *zap.Logger
	handler http.Handler
	runners []runner
	closers []func(context.Context) error
	reg     prometheus.Registerer
}

// Build creates the dependencies for role.
func Build(ctx context.Context, cfg config.Config, role Role) (*App, error) {
	logger, err := logging.ForService(cfg.Logging.Development, cfg.Logging.Level, string(role))
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return build(ctx, cfg, role, logger, prometheus.DefaultRegisterer)
}

func build(ctx context.Context, cfg config.Config, role Role, logger *zap.Logger, reg prometheus.Registerer) (*App, error) {
	metrics.Init()
	app := &App{cfg: cfg, role: role, logger: logger, reg: reg}

	tp, mp, err := telemetry.Init(ctx, cfg.Application, string(role))
	if err != nil {
		return nil, fmt.Errorf("telemetry init failed: %w", err)
	}
	app.onClose(tp.Shutdown)
	app.onClose(mp.Shutdown)

	logger.Info("building application dependencies",
		zap.String("role", string(role)),
		zap.String("queue_backend", cfg.Queue.Backend),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.Bool("database", cfg.Database.DSN != ""),
	)

	switch role {
	case RoleWeb:
		err = app.buildWeb(ctx)
	case RoleAutoscraper:
		err = app.buildAutoscraper(ctx)
	case RoleWorker:
		err = app.buildWorker(ctx)
	case RoleBeat:
		err = app.buildBeat(ctx)
	default:
		err = fmt.Errorf("unknown role %q", role)
	}
	if err != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		app.Close(closeCtx)
		return nil, err
	}
	return app, nil
}

// Handler returns the HTTP handler, or nil for roles without a listener.
func (a *App) Handler() http.Handler {
	return a.handler
}

func (a *App) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

func (a *App) background(name string, fn func(ctx context.Context) error) {
	a.runners = append(a.runners, runner{name: name, run: fn})
}

// Run starts the role and blocks until SIGINT/SIGTERM or ctx ends.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	a.logger.Info("application started", zap.String("role", string(a.role)))

	var wg sync.WaitGroup
	for _, r := range a.runners {
		wg.Add(1)
		go func(r runner) {
			defer wg.Done()
			a.logger.Info("background loop started", zap.String("loop", r.name))
			if err := r.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("background loop failed", zap.String("loop", r.name), zap.Error(err))
				stop()
			}
		}(r)
	}

	var srv *http.Server
	if a.handler != nil {
		port := a.cfg.ListenPort(string(a.role))
		srv = &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           a.handler,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			a.logger.Info("http server started", zap.Int("port", port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("http server error", zap.Error(err))
				stop()
			}
		}()
	}

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown error", zap.Error(err))
		}
	}
	wg.Wait()
	a.Close(shutdownCtx)
	return nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Warn("shutdown step failed", zap.Error(err))
		}
	}
	a.closers = nil
	a.logger.Info("shutdown complete")
	// Sync fails on non-seekable stderr; nothing useful to do with that.
	_ = a.logger.Sync()
}
