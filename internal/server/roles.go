package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/remotehive-autoscraper/internal/api"
	"github.com/JakeFAU/remotehive-autoscraper/internal/auth"
	"github.com/JakeFAU/remotehive-autoscraper/internal/beat"
	"github.com/JakeFAU/remotehive-autoscraper/internal/clock/system"
	"github.com/JakeFAU/remotehive-autoscraper/internal/engine"
	"github.com/JakeFAU/remotehive-autoscraper/internal/id/uuid"
	"github.com/JakeFAU/remotehive-autoscraper/internal/notify"
	"github.com/JakeFAU/remotehive-autoscraper/internal/policy/ratelimit"
	progresssinks "github.com/JakeFAU/remotehive-autoscraper/internal/progress/sinks"
	"github.com/JakeFAU/remotehive-autoscraper/internal/scraper"
	"github.com/JakeFAU/remotehive-autoscraper/internal/sysinfo"
	"github.com/JakeFAU/remotehive-autoscraper/internal/worker"
)

const (
	broadcastBuffer = 256
	touchTimeout    = 5 * time.Second
)

// buildAuth wires the token service. Revocations go to Redis when a broker
// is configured so every replica honors a logout.
func (a *App) buildAuth(users scraper.UserStore, client *redis.Client) (*auth.Service, error) {
	var blacklist auth.Blacklist
	if client != nil {
		blacklist = auth.NewRedisBlacklist(client, "")
	}
	svc, err := auth.NewService(users, blacklist, uuid.New(), system.New(), auth.Config{
		Secret:      a.cfg.Auth.JWTSecret,
		TTL:         a.cfg.Auth.TokenTTL,
		RememberTTL: a.cfg.Auth.RememberMeTTL,
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("auth init failed: %w", err)
	}
	return svc, nil
}

func (a *App) apiOptions(service string, checks map[string]api.Check) api.Options {
	return api.Options{
		Service:        service,
		CORSOrigins:    a.cfg.CORS.Origins,
		RequestTimeout: a.cfg.RequestTimeout(),
		Checks:         checks,
	}
}

func readinessChecks(repo repository, client *redis.Client) map[string]api.Check {
	checks := map[string]api.Check{"database": repo.Ping}
	if client != nil {
		checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
	}
	return checks
}

func (a *App) buildWeb(ctx context.Context) error {
	repo, err := a.openRepository(ctx)
	if err != nil {
		return err
	}
	client, err := a.redisClient(ctx)
	if err != nil {
		return err
	}
	svc, err := a.buildAuth(repo, client)
	if err != nil {
		return err
	}
	created, err := svc.EnsureAdmin(ctx, a.cfg.Auth.AdminEmail, a.cfg.Auth.AdminPassword)
	if err != nil {
		return fmt.Errorf("seed admin user: %w", err)
	}
	if created {
		a.logger.Info("default admin user created", zap.String("email", a.cfg.Auth.AdminEmail))
	}

	var limiter auth.Admission
	if perMinute := a.cfg.Auth.LoginPerMinute; perMinute > 0 {
		limiter = ratelimit.New(ratelimit.Config{
			DefaultRPS:   float64(perMinute) / 60,
			DefaultBurst: perMinute,
		})
	}
	web := api.NewWebServer(svc, limiter, a.apiOptions("remotehive-api", readinessChecks(repo, client)), a.logger)
	a.handler = web.Handler()
	return nil
}

func (a *App) buildAutoscraper(ctx context.Context) error {
	repo, err := a.openRepository(ctx)
	if err != nil {
		return err
	}
	if err := a.seedBoards(ctx, repo); err != nil {
		return err
	}
	client, err := a.redisClient(ctx)
	if err != nil {
		return err
	}
	queue, err := a.openQueue(ctx, client)
	if err != nil {
		return err
	}
	svc, err := a.buildAuth(repo, client)
	if err != nil {
		return err
	}
	if _, err := svc.EnsureAdmin(ctx, a.cfg.Auth.AdminEmail, a.cfg.Auth.AdminPassword); err != nil {
		return fmt.Errorf("seed admin user: %w", err)
	}

	broadcaster := progresssinks.NewBroadcaster(broadcastBuffer, a.logger)
	emitter, err := a.buildProgress(ctx, repo, broadcaster)
	if err != nil {
		return err
	}
	alerts, err := notify.New(a.cfg.SMTP)
	if err != nil {
		return err
	}

	engineCfg := engine.Config{
		DefaultQuery:    a.cfg.Engine.DefaultQuery,
		DefaultLocation: a.cfg.Engine.DefaultLocation,
		DefaultMaxPages: a.cfg.Engine.DefaultMaxPages,
		MaxRetries:      a.cfg.Engine.MaxRetries,
		MaxConcurrent:   a.cfg.Engine.MaxConcurrent,
		RetentionPeriod: a.cfg.Engine.RetentionPeriod,
	}
	deps := engine.Deps{
		Jobs:   repo,
		Boards: repo,
		Queue:  queue,
		IDs:    uuid.New(),
		Clock:  system.New(),
	}

	// With the in-memory queue nothing else can consume tasks, so the
	// service runs its own pool. With Redis the worker role does, and
	// follows the engine state published here.
	var eng *engine.Engine
	if a.cfg.Queue.Backend == "redis" {
		control, err := a.openControl(client)
		if err != nil {
			return err
		}
		deps.Control = control
	} else {
		blobs, err := a.openBlobStore(ctx)
		if err != nil {
			return err
		}
		publisher, err := a.openPublisher(ctx)
		if err != nil {
			return err
		}
		tracker := worker.NewTracker()
		pool, err := a.buildPool(poolDeps{
			repo:      repo,
			queue:     queue,
			blobs:     blobs,
			publisher: publisher,
			emitter:   emitter,
			tracker:   tracker,
			hooks: worker.Hooks{
				OnCompleted: func(job scraper.Job, result scraper.Result) {
					eng.WorkerHooks().OnCompleted(job, result)
				},
				OnFailed: func(job scraper.Job, err error) {
					eng.WorkerHooks().OnFailed(job, err)
				},
			},
		})
		if err != nil {
			return err
		}
		deps.Pool = pool
		deps.Tracker = tracker
	}
	eng = engine.New(deps, engineCfg, a.logger)
	eng.OnFailed(notify.Hook(alerts, a.logger))
	a.background("engine", func(ctx context.Context) error {
		eng.Run(ctx)
		return nil
	})
	a.onClose(broadcaster.Close)

	server := api.NewAutoscraperServer(api.AutoscraperDeps{
		Engine:   eng,
		Jobs:     repo,
		Boards:   repo,
		Auth:     svc,
		System:   sysinfo.NewSampler(sysinfo.DefaultProbes(), "/", nil),
		Progress: repo,
		Events:   broadcaster,
		Version:  a.cfg.Application.Version,
	}, a.apiOptions("remotehive-autoscraper", readinessChecks(repo, client)), a.logger)
	a.handler = server.Handler()
	return nil
}

func (a *App) buildWorker(ctx context.Context) error {
	if a.cfg.Queue.Backend != "redis" {
		return errors.New("worker role requires queue.backend=redis")
	}
	repo, err := a.openRepository(ctx)
	if err != nil {
		return err
	}
	client, err := a.redisClient(ctx)
	if err != nil {
		return err
	}
	queue, err := a.openQueue(ctx, client)
	if err != nil {
		return err
	}
	blobs, err := a.openBlobStore(ctx)
	if err != nil {
		return err
	}
	publisher, err := a.openPublisher(ctx)
	if err != nil {
		return err
	}
	emitter, err := a.buildProgress(ctx, repo)
	if err != nil {
		return err
	}
	alerts, err := notify.New(a.cfg.SMTP)
	if err != nil {
		return err
	}
	control, err := a.openControl(client)
	if err != nil {
		return err
	}
	alert := notify.Hook(alerts, a.logger)
	pool, err := a.buildPool(poolDeps{
		repo:      repo,
		queue:     queue,
		blobs:     blobs,
		publisher: publisher,
		emitter:   emitter,
		tracker:   worker.NewTracker(),
		hooks: worker.Hooks{
			OnCompleted: func(scraper.Job, scraper.Result) {
				a.touchEngine(control)
			},
			OnFailed: func(job scraper.Job, err error) {
				a.touchEngine(control)
				alert(job, err)
			},
		},
	})
	if err != nil {
		return err
	}
	// A paused engine must hold this pool before it takes its first task.
	if err := pool.Sync(ctx, control); err != nil {
		return err
	}
	a.background("control", func(ctx context.Context) error {
		return pool.Follow(ctx, control, a.cfg.Queue.ControlPoll)
	})
	a.background("dispatcher", pool.Run)
	return nil
}

func (a *App) buildBeat(ctx context.Context) error {
	if a.cfg.Queue.Backend != "redis" {
		return errors.New("beat role requires queue.backend=redis")
	}
	repo, err := a.openRepository(ctx)
	if err != nil {
		return err
	}
	if err := a.seedBoards(ctx, repo); err != nil {
		return err
	}
	client, err := a.redisClient(ctx)
	if err != nil {
		return err
	}
	queue, err := a.openQueue(ctx, client)
	if err != nil {
		return err
	}
	control, err := a.openControl(client)
	if err != nil {
		return err
	}
	scheduler := beat.New(repo, repo, queue, uuid.New(), system.New(), beat.Config{
		DefaultSchedule: a.cfg.Beat.DefaultSchedule,
		RefreshInterval: a.cfg.Beat.RefreshInterval,
		Query:           a.cfg.Engine.DefaultQuery,
		Location:        a.cfg.Engine.DefaultLocation,
		MaxPages:        a.cfg.Engine.DefaultMaxPages,
		MaxRetries:      a.cfg.Engine.MaxRetries,
	}, a.logger).GateOn(control)
	a.background("beat", scheduler.Run)
	return nil
}

// touchEngine records worker activity for the autoscraper's status view.
func (a *App) touchEngine(control scraper.ControlStore) {
	ctx, cancel := context.WithTimeout(context.Background(), touchTimeout)
	defer cancel()
	if err := control.TouchActivity(ctx, time.Now().UTC()); err != nil {
		a.logger.Warn("record engine activity failed", zap.Error(err))
	}
}
