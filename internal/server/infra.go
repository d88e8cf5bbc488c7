package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/remotehive-autoscraper/internal/boards"
	"github.com/JakeFAU/remotehive-autoscraper/internal/clock/system"
	"github.com/JakeFAU/remotehive-autoscraper/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/remotehive-autoscraper/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/remotehive-autoscraper/internal/fetcher/headless"
	"github.com/JakeFAU/remotehive-autoscraper/internal/hash/sha256"
	"github.com/JakeFAU/remotehive-autoscraper/internal/headless/detector"
	"github.com/JakeFAU/remotehive-autoscraper/internal/id/uuid"
	"github.com/JakeFAU/remotehive-autoscraper/internal/policy/ratelimit"
	"github.com/JakeFAU/remotehive-autoscraper/internal/policy/simple"
	"github.com/JakeFAU/remotehive-autoscraper/internal/progress"
	progresssinks "github.com/JakeFAU/remotehive-autoscraper/internal/progress/sinks"
	gcppublisher "github.com/JakeFAU/remotehive-autoscraper/internal/publisher/pubsub"
	queuememory "github.com/JakeFAU/remotehive-autoscraper/internal/queue/memory"
	queueredis "github.com/JakeFAU/remotehive-autoscraper/internal/queue/redis"
	"github.com/JakeFAU/remotehive-autoscraper/internal/scraper"
	gcsstorage "github.com/JakeFAU/remotehive-autoscraper/internal/storage/gcs"
	localstorage "github.com/JakeFAU/remotehive-autoscraper/internal/storage/local"
	memorystorage "github.com/JakeFAU/remotehive-autoscraper/internal/storage/memory"
	pgstore "github.com/JakeFAU/remotehive-autoscraper/internal/storage/postgres"
	"github.com/JakeFAU/remotehive-autoscraper/internal/store"
	"github.com/JakeFAU/remotehive-autoscraper/internal/worker"
)

// repository is the persistence surface every role draws from. Both the
// Postgres and in-memory stores implement it.
type repository interface {
	scraper.JobStore
	scraper.BoardStore
	scraper.PostingStore
	scraper.UserStore
	store.ProgressRepository
	Ping(ctx context.Context) error
}

// taskQueue is what the engine, beat and dispatcher need from a queue.
type taskQueue interface {
	scraper.Queue
	scraper.QueueInspector
	Remove(ctx context.Context, jobID string) (bool, error)
}

func (a *App) openRepository(ctx context.Context) (repository, error) {
	if a.cfg.Database.DSN == "" {
		a.logger.Warn("no database DSN configured, using in-memory stores")
		return memorystorage.NewStore(), nil
	}
	db, err := pgstore.Open(ctx, pgstore.Config{
		DSN:             a.cfg.Database.DSN,
		MaxConns:        a.cfg.Database.MaxConns,
		MinConns:        a.cfg.Database.MinConns,
		MaxConnLifetime: a.cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("postgres init failed: %w", err)
	}
	a.onClose(func(context.Context) error {
		db.Close()
		return nil
	})
	if a.cfg.Database.Migrate {
		if err := db.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("postgres migrate failed: %w", err)
		}
		a.logger.Info("database schema applied")
	}
	return db, nil
}

// seedBoards loads the board catalogue into an empty store.
func (a *App) seedBoards(ctx context.Context, repo scraper.BoardStore) error {
	catalogue, err := boards.LoadCatalogue(a.cfg.Boards.SeedFile, time.Now().UTC())
	if err != nil {
		return err
	}
	if _, err := boards.Seed(ctx, repo, catalogue, a.logger.Named("boards")); err != nil {
		return err
	}
	return nil
}

// redisClient dials the broker once per App.
func (a *App) redisClient(ctx context.Context) (*redis.Client, error) {
	if a.cfg.Redis.URL == "" {
		return nil, nil
	}
	client, err := queueredis.Dial(ctx, a.cfg.Redis.URL)
	if err != nil {
		return nil, err
	}
	a.onClose(func(context.Context) error { return client.Close() })
	return client, nil
}

func (a *App) openQueue(ctx context.Context, client *redis.Client) (taskQueue, error) {
	if a.cfg.Queue.Backend != "redis" {
		q := queuememory.NewQueue(a.cfg.Queue.MaxSize)
		a.onClose(func(context.Context) error {
			q.Close()
			return nil
		})
		a.logger.Info("using in-memory task queue", zap.Int("max_size", a.cfg.Queue.MaxSize))
		return q, nil
	}
	if client == nil {
		return nil, errors.New("redis queue requires redis.url")
	}
	q, err := queueredis.New(ctx, client, queueredis.Config{
		Prefix:  a.cfg.Queue.StreamPrefix,
		Group:   a.cfg.Queue.Group,
		Block:   a.cfg.Queue.Block,
		MaxSize: a.cfg.Queue.MaxSize,
	})
	if err != nil {
		return nil, fmt.Errorf("redis queue init failed: %w", err)
	}
	a.logger.Info("using redis streams task queue",
		zap.String("prefix", a.cfg.Queue.StreamPrefix),
		zap.String("group", a.cfg.Queue.Group),
	)
	return q, nil
}

// openControl shares engine state through Redis so pause and resume reach
// every worker and the beat scheduler.
func (a *App) openControl(client *redis.Client) (*queueredis.Control, error) {
	control, err := queueredis.NewControl(client, a.cfg.Queue.StreamPrefix)
	if err != nil {
		return nil, fmt.Errorf("engine control init failed: %w", err)
	}
	return control, nil
}

func (a *App) openBlobStore(ctx context.Context) (scraper.BlobStore, error) {
	switch a.cfg.Storage.Backend {
	case "gcs":
		blobs, err := gcsstorage.Dial(ctx, a.cfg.Storage.Bucket)
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.onClose(func(context.Context) error { return blobs.Close() })
		a.logger.Info("using GCS storage backend", zap.String("bucket", a.cfg.Storage.Bucket))
		return blobs, nil
	case "local":
		blobs, err := localstorage.New(a.cfg.Storage.LocalDir)
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("using local storage backend", zap.String("path", a.cfg.Storage.LocalDir))
		return blobs, nil
	default:
		a.logger.Info("using in-memory storage backend")
		return memorystorage.NewBlobStore(), nil
	}
}

// openPublisher returns nil when no Pub/Sub topic is configured, which turns
// posting notifications off.
func (a *App) openPublisher(ctx context.Context) (scraper.Publisher, error) {
	if a.cfg.PubSub.TopicName == "" || a.cfg.PubSub.ProjectID == "" {
		a.logger.Warn("no Pub/Sub topic configured, posting notifications disabled")
		return nil, nil
	}
	pub, err := gcppublisher.Dial(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.TopicName)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.onClose(func(context.Context) error { return pub.Close() })
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return pub, nil
}

// buildProgress assembles the hub. extra sinks (the websocket broadcaster)
// are appended after the configured ones.
func (a *App) buildProgress(ctx context.Context, repo store.ProgressRepository, extra ...progress.Sink) (progress.Emitter, error) {
	if !a.cfg.Progress.Enabled {
		a.logger.Info("progress tracking disabled")
		return progress.NopEmitter{}, nil
	}
	sinkList := []progress.Sink{progresssinks.NewStoreSink(repo, a.logger.Named("progress_store"))}
	promSink, err := progresssinks.NewPrometheusSink(a.reg)
	if err != nil {
		return nil, fmt.Errorf("progress metrics init failed: %w", err)
	}
	sinkList = append(sinkList, promSink)
	if a.cfg.Progress.LogEnabled {
		sinkList = append(sinkList, progresssinks.NewLogSink(a.logger.Named("progress_log")))
	}
	sinkList = append(sinkList, extra...)

	hubCfg := progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.Batch.MaxEvents,
		MaxBatchWait:   time.Duration(a.cfg.Progress.Batch.MaxWaitMs) * time.Millisecond,
		SinkTimeout:    time.Duration(a.cfg.Progress.SinkTimeoutMs) * time.Millisecond,
		BaseContext:    context.WithoutCancel(ctx),
		Logger:         a.logger.Named("progress_hub"),
	}
	hub := progress.NewHub(hubCfg, sinkList...)
	a.onClose(hub.Close)
	a.logger.Info("progress hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
	)
	return hub, nil
}

// poolDeps are the collaborators shared by every worker in a pool.
type poolDeps struct {
	repo      repository
	queue     taskQueue
	blobs     scraper.BlobStore
	publisher scraper.Publisher
	emitter   progress.Emitter
	tracker   *worker.Tracker
	hooks     worker.Hooks
}

// buildPool creates engine.max_concurrent workers behind one dispatcher.
func (a *App) buildPool(d poolDeps) (*dispatcher.Dispatcher, error) {
	cfg := a.cfg
	probe := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.Scraper.UserAgent,
		RespectRobots: cfg.Scraper.RespectRobots,
		Timeout:       cfg.FetchTimeout(),
	})
	a.logger.Info("using colly fetcher",
		zap.String("user_agent", cfg.Scraper.UserAgent),
		zap.Bool("respect_robots", cfg.Scraper.RespectRobots),
	)

	var headless scraper.Fetcher
	if cfg.Headless.Enabled {
		chrome, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Scraper.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("headless fetcher init failed: %w", err)
		}
		a.onClose(func(context.Context) error {
			chrome.Close()
			return nil
		})
		headless = chrome
		a.logger.Info("using headless fetcher", zap.Int("max_parallel", cfg.Headless.MaxParallel))
	}

	throttle := ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.Scraper.DefaultRPS,
		DefaultBurst: cfg.Scraper.DefaultBurst,
	})
	workerCfg := worker.Config{
		BlobPrefix:     cfg.Storage.Prefix,
		ContentType:    cfg.Storage.ContentType,
		Topic:          cfg.PubSub.TopicName,
		MaxRetries:     cfg.Engine.MaxRetries,
		JobTimeout:     cfg.Engine.JobTimeout,
		DedupThreshold: cfg.Engine.DedupThreshold,
		HeadlessOn:     headless != nil,
	}
	if d.publisher == nil {
		workerCfg.Topic = ""
	}
	deps := worker.Deps{
		Queue:     d.queue,
		Jobs:      d.repo,
		Boards:    d.repo,
		Postings:  d.repo,
		Registry:  boards.NewRegistry(),
		BlobStore: d.blobs,
		Publisher: d.publisher,
		Hasher:    sha256.New(),
		Clock:     system.New(),
		IDs:       uuid.New(),
		Probe:     probe,
		Headless:  headless,
		Detector:  detector.NewHeuristic(cfg.Headless.PromotionThresh),
		Policy:    simple.New(cfg.Scraper.BlockedHosts, headless != nil),
		Throttle:  throttle,
		Progress:  d.emitter,
		Tracker:   d.tracker,
	}
	a.logger.Info("worker config",
		zap.Int("workers", cfg.Engine.MaxConcurrent),
		zap.Int("max_retries", workerCfg.MaxRetries),
		zap.Duration("job_timeout", workerCfg.JobTimeout),
		zap.Float64("default_rps", cfg.Scraper.DefaultRPS),
	)

	workers := make([]*worker.Worker, 0, cfg.Engine.MaxConcurrent)
	for i := 0; i < cfg.Engine.MaxConcurrent; i++ {
		workers = append(workers, worker.New(deps, workerCfg, d.hooks, a.logger.With(zap.Int("index", i))))
	}
	return dispatcher.New(d.queue, workers, a.logger), nil
}
