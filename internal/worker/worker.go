// Package worker implements the scrape pipeline for a single queued task.
package worker

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/remotehive-autoscraper/internal/boards"
	"github.com/JakeFAU/remotehive-autoscraper/internal/dedup"
	"github.com/JakeFAU/remotehive-autoscraper/internal/metrics"
	"github.com/JakeFAU/remotehive-autoscraper/internal/policy/ratelimit"
	"github.com/JakeFAU/remotehive-autoscraper/internal/progress"
	"github.com/JakeFAU/remotehive-autoscraper/internal/quality"
	"github.com/JakeFAU/remotehive-autoscraper/internal/scraper"
	"github.com/JakeFAU/remotehive-autoscraper/internal/telemetry"
)

const (
	defaultMaxRetries = 3
	defaultMaxBackoff = 60 * time.Second
	finalizeTimeout   = 10 * time.Second
)

var (
	errCancelled      = errors.New("job cancelled")
	errPolicyBlocked  = errors.New("blocked by fetch policy")
	errRepeatedResult = errors.New("page repeats the previous page")
)

// permanentError marks failures that retrying cannot fix.
type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

func permanent(err error) error { return permanentError{err: err} }

// Config controls Worker behavior.
type Config struct {
	// BlobPrefix is prepended to raw page snapshot paths.
	BlobPrefix string
	// ContentType is used for snapshots whose response carried none.
	ContentType string
	// Topic receives one PostingEvent per saved posting; empty disables publishing.
	Topic          string
	MaxRetries     int
	MaxBackoff     time.Duration
	JobTimeout     time.Duration
	DedupThreshold float64
	HeadlessOn     bool
}

// Hooks run after a job reaches a terminal state.
type Hooks struct {
	OnCompleted func(job scraper.Job, result scraper.Result)
	OnFailed    func(job scraper.Job, err error)
}

// Deps bundles the ports a Worker drives. Nil optional ports disable the
// corresponding stage: BlobStore, Publisher, Headless, Detector, Policy,
// Throttle, Progress and Tracker.
type Deps struct {
	Queue     scraper.Queue
	Jobs      scraper.JobStore
	Boards    scraper.BoardStore
	Postings  scraper.PostingStore
	Registry  *boards.Registry
	BlobStore scraper.BlobStore
	Publisher scraper.Publisher
	Hasher    scraper.Hasher
	Clock     scraper.Clock
	IDs       scraper.IDGenerator
	Probe     scraper.Fetcher
	Headless  scraper.Fetcher
	Detector  scraper.HeadlessDetector
	Policy    scraper.Policy
	Throttle  scraper.Throttle
	Progress  progress.Emitter
	Tracker   *Tracker
}

// hostRater is implemented by throttles that accept per-host rates.
type hostRater interface {
	SetHostRate(host string, rps float64)
}

// Worker executes scrape tasks.
type Worker struct {
	deps   Deps
	cfg    Config
	hooks  Hooks
	logger *zap.Logger
}

// New constructs a Worker.
func New(deps Deps, cfg Config, hooks Hooks, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "text/html; charset=utf-8"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	if deps.Registry == nil {
		deps.Registry = boards.NewRegistry()
	}
	if deps.Progress == nil {
		deps.Progress = progress.NopEmitter{}
	}
	if deps.Tracker == nil {
		deps.Tracker = NewTracker()
	}
	return &Worker{deps: deps, cfg: cfg, hooks: hooks, logger: logger.Named("worker")}
}

// Tracker exposes the running-job tracker.
func (w *Worker) Tracker() *Tracker { return w.deps.Tracker }

// Run consumes tasks until the context finishes. The dispatcher drives
// Process directly when it needs to gate dequeuing.
func (w *Worker) Run(ctx context.Context) {
	for {
		task, err := w.deps.Queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.Process(ctx, task)
	}
}

// pageOutcome is what one fetched page contributed.
type pageOutcome struct {
	postings []scraper.Posting
	digest   string
}

// Process executes one task end to end and records its final state.
func (w *Worker) Process(ctx context.Context, task scraper.Task) {
	ctx, span := telemetry.Tracer().Start(ctx, "worker.Process", trace.WithAttributes(
		attribute.String("job.id", task.JobID),
		attribute.String("job.board", task.BoardName),
		attribute.Int("job.attempt", task.Attempt),
	))
	defer span.End()
	logger := w.logger.With(zap.String("job_id", task.JobID), zap.String("board", task.BoardName))

	job, err := w.deps.Jobs.GetJob(ctx, task.JobID)
	if err != nil {
		logger.Error("load job failed", zap.Error(err))
		return
	}
	if job.Status.Terminal() {
		logger.Info("skipping finished job", zap.String("status", string(job.Status)))
		return
	}

	jobCtx, cancel := context.WithCancel(ctx)
	if w.cfg.JobTimeout > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, w.cfg.JobTimeout)
	}
	w.deps.Tracker.add(task.JobID, cancel)
	defer func() {
		w.deps.Tracker.remove(task.JobID)
		cancel()
	}()
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	started := w.now()
	claimed, err := w.deps.Jobs.ClaimJob(ctx, task.JobID, task.Attempt, started)
	if err != nil {
		logger.Error("mark job running failed", zap.Error(err))
		return
	}
	if !claimed {
		logger.Info("skipping job no longer queued")
		return
	}
	w.emit(progress.Event{JobID: progress.JobIDBytes(task.JobID), TS: started, Stage: progress.StageJobStart, Board: task.BoardName})
	logger.Info("job started", zap.Int("attempt", task.Attempt))

	result, err := w.execute(jobCtx, task, logger)
	result.ExecutionTime = w.now().Sub(started)
	result.BoardName = task.BoardName
	result.Timestamp = w.now()

	// Terminal bookkeeping must outlive a cancelled job context.
	finalCtx, finalCancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer finalCancel()

	switch {
	case err == nil:
		w.complete(finalCtx, job, task, result, logger)
	case errors.Is(err, errCancelled) || errors.Is(jobCtx.Err(), context.Canceled):
		span.SetStatus(codes.Error, "cancelled")
		w.cancelled(finalCtx, task, result, logger)
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		w.fail(finalCtx, job, task, result, err, logger)
	}
}

func (w *Worker) execute(ctx context.Context, task scraper.Task, logger *zap.Logger) (scraper.Result, error) {
	result := scraper.Result{Status: scraper.JobStatusRunning}
	board, err := w.deps.Boards.GetBoard(ctx, task.BoardID)
	if err != nil {
		if errors.Is(err, scraper.ErrNotFound) {
			return result, permanent(fmt.Errorf("load board: %w", err))
		}
		return result, fmt.Errorf("load board: %w", err)
	}
	s, err := w.deps.Registry.Resolve(board)
	if err != nil {
		return result, permanent(fmt.Errorf("resolve scraper: %w", err))
	}
	if rater, ok := w.deps.Throttle.(hostRater); ok && board.RateLimitRPS > 0 {
		if host := ratelimit.Host(board.BaseURL); host != "unknown" {
			rater.SetHostRate(host, board.RateLimitRPS)
		}
	}

	maxPages := task.MaxPages
	if maxPages <= 0 {
		maxPages = 1
	}
	var (
		found    []scraper.Posting
		previous string
	)
	for page := 1; page <= maxPages; page++ {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("job context: %w", err)
		}
		if w.cancelRequested(ctx, task.JobID) {
			return result, errCancelled
		}
		pageURL, ok := s.PageURL(task.Query, task.Location, page)
		if !ok {
			break
		}
		outcome, err := w.scrapePage(ctx, task, board, s, boards.Page{
			URL: pageURL, Query: task.Query, Location: task.Location, Number: page,
		}, previous)
		if errors.Is(err, errRepeatedResult) {
			logger.Debug("board returned the same page again", zap.Int("page", page))
			break
		}
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
			if page == 1 || ctx.Err() != nil {
				return result, err
			}
			logger.Warn("page failed, keeping earlier pages", zap.Int("page", page), zap.Error(err))
			break
		}
		result.PagesScraped++
		previous = outcome.digest
		if len(outcome.postings) == 0 {
			break
		}
		found = append(found, outcome.postings...)
	}
	result.TotalFound = len(found)

	saved, counters, err := w.persist(ctx, task, board, found)
	counters.PagesScraped = result.PagesScraped
	counters.PagesFailed = len(result.Errors)
	result.Counters = counters
	result.Postings = saved
	if err != nil {
		return result, err
	}
	result.Status = scraper.JobStatusCompleted
	return result, nil
}

func (w *Worker) scrapePage(
	ctx context.Context,
	task scraper.Task,
	board scraper.JobBoard,
	s boards.Scraper,
	page boards.Page,
	previous string,
) (pageOutcome, error) {
	if !w.allowFetch(task.JobID, page.URL) {
		return pageOutcome{}, permanent(fmt.Errorf("%s: %w", page.URL, errPolicyBlocked))
	}
	jobID := progress.JobIDBytes(task.JobID)
	w.emit(progress.Event{JobID: jobID, TS: w.now(), Stage: progress.StagePageStart, Board: task.BoardName, URL: page.URL, Page: page.Number})

	if w.deps.Throttle != nil {
		if err := w.deps.Throttle.Wait(ctx, page.URL); err != nil {
			return pageOutcome{}, fmt.Errorf("throttle wait: %w", err)
		}
	}
	resp, err := w.fetch(ctx, task, board, s, page.URL)
	if err != nil {
		w.emit(progress.Event{
			JobID: jobID, TS: w.now(), Stage: progress.StagePageDone, Board: task.BoardName,
			URL: page.URL, Page: page.Number, StatusClass: progress.StatusOther, Note: err.Error(),
		})
		return pageOutcome{}, err
	}
	metrics.ObservePage(page.URL, strconv.Itoa(resp.StatusCode), len(resp.Body))
	done := progress.Event{
		JobID: jobID, TS: w.now(), Stage: progress.StagePageDone, Board: task.BoardName,
		URL: page.URL, Page: page.Number, Bytes: int64(len(resp.Body)),
		StatusClass: progress.ClassifyStatus(resp.StatusCode), Dur: resp.Duration,
	}
	if err := statusError(resp.StatusCode, page.URL); err != nil {
		done.Note = err.Error()
		w.emit(done)
		return pageOutcome{}, err
	}

	digest := w.digest(resp.Body)
	if digest != "" && digest == previous {
		w.emit(done)
		return pageOutcome{}, errRepeatedResult
	}
	w.snapshot(ctx, task, page.Number, resp)

	postings, err := s.Parse(resp.Body, page)
	if err != nil {
		done.Note = err.Error()
		w.emit(done)
		return pageOutcome{}, fmt.Errorf("parse page %d: %w", page.Number, err)
	}
	scrapedAt := w.now()
	for i := range postings {
		postings[i].JobID = task.JobID
		postings[i].BoardID = board.ID
		postings[i].ScrapedAt = scrapedAt
		if postings[i].Source == "" {
			postings[i].Source = board.Name
		}
	}
	done.Postings = int64(len(postings))
	w.emit(done)
	return pageOutcome{postings: postings, digest: digest}, nil
}

// fetch renders JS boards headless directly and promotes other pages when
// the detector flags an application shell.
func (w *Worker) fetch(
	ctx context.Context,
	task scraper.Task,
	board scraper.JobBoard,
	s boards.Scraper,
	pageURL string,
) (scraper.FetchResponse, error) {
	request := scraper.FetchRequest{JobID: task.JobID, URL: pageURL}
	if r, ok := s.(boards.Renderable); ok {
		request.WaitFor = r.WaitSelector()
	}
	if board.RequiresJS && w.headlessAllowed(task.JobID, pageURL) {
		request.UseHeadless = true
		resp, err := w.deps.Headless.Fetch(ctx, request)
		if err != nil {
			return scraper.FetchResponse{}, fmt.Errorf("headless fetch: %w", err)
		}
		resp.UsedHeadless = true
		return resp, nil
	}
	if w.deps.Probe == nil {
		return scraper.FetchResponse{}, permanent(errors.New("no probe fetcher configured"))
	}
	resp, err := w.deps.Probe.Fetch(ctx, request)
	if err != nil {
		return scraper.FetchResponse{}, fmt.Errorf("probe fetch: %w", err)
	}
	if w.deps.Detector == nil || !w.headlessAllowed(task.JobID, pageURL) || !w.deps.Detector.ShouldPromote(resp) {
		return resp, nil
	}
	request.UseHeadless = true
	rendered, err := w.deps.Headless.Fetch(ctx, request)
	if err != nil {
		w.logger.Warn("headless promotion failed",
			zap.String("job_id", task.JobID), zap.String("url", pageURL), zap.Error(err))
		return resp, nil
	}
	metrics.ObserveHeadlessPromotion()
	rendered.UsedHeadless = true
	return rendered, nil
}

// persist validates, deduplicates, stores and announces postings.
func (w *Worker) persist(
	ctx context.Context,
	task scraper.Task,
	board scraper.JobBoard,
	found []scraper.Posting,
) ([]scraper.Posting, scraper.JobCounters, error) {
	counters := scraper.JobCounters{Found: len(found)}
	if len(found) == 0 {
		return nil, counters, nil
	}
	now := w.now()
	valid := make([]scraper.Posting, 0, len(found))
	for _, p := range found {
		report := quality.Validate(p, now)
		p.QualityScore = report.Score
		if !report.Valid {
			counters.Invalid++
			continue
		}
		valid = append(valid, p)
	}
	counters.Processed = len(valid)

	unique, dupes := dedup.New(w.cfg.DedupThreshold).Filter(valid)
	hashes := make([]string, 0, len(unique))
	for _, p := range unique {
		hashes = append(hashes, p.ContentHash)
	}
	known, err := w.deps.Postings.ExistingHashes(ctx, hashes)
	if err != nil {
		return nil, counters, fmt.Errorf("check existing postings: %w", err)
	}
	fresh := make([]scraper.Posting, 0, len(unique))
	for _, p := range unique {
		if known[p.ContentHash] {
			dupes++
			continue
		}
		if w.deps.IDs != nil {
			id, err := w.deps.IDs.NewID()
			if err != nil {
				return nil, counters, fmt.Errorf("posting id: %w", err)
			}
			p.ID = id
		}
		fresh = append(fresh, p)
	}
	counters.Duplicates = dupes

	saved, err := w.deps.Postings.SavePostings(ctx, fresh)
	if err != nil {
		return nil, counters, fmt.Errorf("save postings: %w", err)
	}
	counters.Saved = saved
	site := scraper.NormalizeBoardName(board.Name)
	metrics.ObservePostings(site, "saved", saved)
	metrics.ObservePostings(site, "duplicate", dupes)
	metrics.ObservePostings(site, "invalid", counters.Invalid)

	w.publish(ctx, task, fresh)
	return fresh, counters, nil
}

func (w *Worker) publish(ctx context.Context, task scraper.Task, postings []scraper.Posting) {
	if w.cfg.Topic == "" || w.deps.Publisher == nil {
		return
	}
	for _, p := range postings {
		event := scraper.PostingEvent{
			EventType: scraper.PostingEventType,
			JobID:     task.JobID,
			Board:     task.BoardName,
			Posting:   p,
			At:        w.now(),
		}
		if _, err := w.deps.Publisher.Publish(ctx, w.cfg.Topic, event); err != nil {
			w.logger.Warn("publish posting failed",
				zap.String("job_id", task.JobID), zap.String("hash", p.ContentHash), zap.Error(err))
		}
	}
}

func (w *Worker) complete(ctx context.Context, job scraper.Job, task scraper.Task, result scraper.Result, logger *zap.Logger) {
	at := w.now()
	counters := countersOf(result)
	if err := w.deps.Jobs.UpdateJob(ctx, task.JobID, scraper.JobUpdate{
		Status:           scraper.JobStatusCompleted,
		Counters:         counters,
		Attempt:          task.Attempt,
		ExecutionSeconds: result.ExecutionTime.Seconds(),
		CompletedAt:      &at,
		At:               at,
	}); err != nil {
		logger.Error("mark job completed failed", zap.Error(err))
	}
	w.emit(progress.Event{
		JobID: progress.JobIDBytes(task.JobID), TS: at, Stage: progress.StageJobDone,
		Board: task.BoardName, Postings: int64(counters.Saved), Dur: result.ExecutionTime,
	})
	metrics.ObserveJob(string(scraper.JobStatusCompleted))
	logger.Info("job completed",
		zap.Int("pages", result.PagesScraped),
		zap.Int("found", result.TotalFound),
		zap.Int("saved", counters.Saved),
		zap.Duration("elapsed", result.ExecutionTime),
	)
	if w.hooks.OnCompleted != nil {
		w.hooks.OnCompleted(w.reload(ctx, job), result)
	}
}

func (w *Worker) cancelled(ctx context.Context, task scraper.Task, result scraper.Result, logger *zap.Logger) {
	at := w.now()
	note := "job cancelled"
	if err := w.deps.Jobs.UpdateJob(ctx, task.JobID, scraper.JobUpdate{
		Status:           scraper.JobStatusCancelled,
		Error:            note,
		Counters:         countersOf(result),
		Attempt:          task.Attempt,
		ExecutionSeconds: result.ExecutionTime.Seconds(),
		CompletedAt:      &at,
		At:               at,
	}); err != nil {
		logger.Error("mark job cancelled failed", zap.Error(err))
	}
	w.emit(progress.Event{JobID: progress.JobIDBytes(task.JobID), TS: at, Stage: progress.StageJobError, Board: task.BoardName, Note: note})
	metrics.ObserveJob(string(scraper.JobStatusCancelled))
	logger.Info("job cancelled")
}

// fail schedules a retry with exponential backoff or marks the job failed.
func (w *Worker) fail(
	ctx context.Context,
	job scraper.Job,
	task scraper.Task,
	result scraper.Result,
	cause error,
	logger *zap.Logger,
) {
	at := w.now()
	attempt := task.Attempt + 1
	maxRetries := task.MaxRetries
	if maxRetries <= 0 {
		maxRetries = w.cfg.MaxRetries
	}
	var perm permanentError
	if !errors.As(cause, &perm) && attempt <= maxRetries {
		notBefore := at.Add(w.Backoff(attempt))
		err := w.deps.Jobs.UpdateJob(ctx, task.JobID, scraper.JobUpdate{
			Status:      scraper.JobStatusRetrying,
			Error:       cause.Error(),
			Counters:    countersOf(result),
			Attempt:     attempt,
			ScheduledAt: &notBefore,
			At:          at,
		})
		if err == nil {
			retry := task
			retry.Attempt = attempt
			retry.NotBefore = notBefore
			retry.EnqueuedAt = at
			err = w.deps.Queue.Enqueue(ctx, retry)
		}
		if err == nil {
			w.emit(progress.Event{
				JobID: progress.JobIDBytes(task.JobID), TS: at, Stage: progress.StageJobHB,
				Board: task.BoardName, Note: "retry scheduled: " + cause.Error(),
			})
			metrics.ObserveJob(string(scraper.JobStatusRetrying))
			logger.Warn("job failed, retry scheduled",
				zap.Int("attempt", attempt), zap.Time("not_before", notBefore), zap.Error(cause))
			return
		}
		logger.Error("schedule retry failed", zap.Error(err))
		cause = fmt.Errorf("%w (retry not scheduled: %v)", cause, err)
	}

	if err := w.deps.Jobs.UpdateJob(ctx, task.JobID, scraper.JobUpdate{
		Status:           scraper.JobStatusFailed,
		Error:            cause.Error(),
		Counters:         countersOf(result),
		Attempt:          attempt,
		ExecutionSeconds: result.ExecutionTime.Seconds(),
		CompletedAt:      &at,
		At:               at,
	}); err != nil {
		logger.Error("mark job failed failed", zap.Error(err))
	}
	w.emit(progress.Event{
		JobID: progress.JobIDBytes(task.JobID), TS: at, Stage: progress.StageJobError,
		Board: task.BoardName, Note: cause.Error(), Dur: result.ExecutionTime,
	})
	metrics.ObserveJob(string(scraper.JobStatusFailed))
	logger.Error("job failed", zap.Int("attempts", attempt), zap.Error(cause))
	if w.hooks.OnFailed != nil {
		w.hooks.OnFailed(w.reload(ctx, job), cause)
	}
}

// Backoff returns min(2^attempt seconds, MaxBackoff).
func (w *Worker) Backoff(attempt int) time.Duration {
	if attempt >= 16 {
		return w.cfg.MaxBackoff
	}
	delay := time.Duration(1<<attempt) * time.Second
	if delay > w.cfg.MaxBackoff {
		return w.cfg.MaxBackoff
	}
	return delay
}

// cancelRequested notices cancellations recorded by another process.
func (w *Worker) cancelRequested(ctx context.Context, jobID string) bool {
	job, err := w.deps.Jobs.GetJob(ctx, jobID)
	return err == nil && job.Status == scraper.JobStatusCancelled
}

func (w *Worker) snapshot(ctx context.Context, task scraper.Task, page int, resp scraper.FetchResponse) {
	if w.deps.BlobStore == nil || len(resp.Body) == 0 {
		return
	}
	contentType := resp.ContentType()
	if contentType == "" {
		contentType = w.cfg.ContentType
	}
	path := w.blobPath(task, page, contentType)
	if _, err := w.deps.BlobStore.PutObject(ctx, path, contentType, resp.Body); err != nil {
		w.logger.Warn("store page snapshot failed",
			zap.String("job_id", task.JobID), zap.String("path", path), zap.Error(err))
	}
}

func (w *Worker) blobPath(task scraper.Task, page int, contentType string) string {
	name := fmt.Sprintf("%s/%s/%d.%s", scraper.NormalizeBoardName(task.BoardName), task.JobID, page, extension(contentType))
	prefix := strings.Trim(w.cfg.BlobPrefix, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

func (w *Worker) digest(body []byte) string {
	if w.deps.Hasher == nil || len(body) == 0 {
		return ""
	}
	sum, err := w.deps.Hasher.Hash(body)
	if err != nil {
		return ""
	}
	return sum
}

func (w *Worker) reload(ctx context.Context, fallback scraper.Job) scraper.Job {
	job, err := w.deps.Jobs.GetJob(ctx, fallback.ID)
	if err != nil {
		return fallback
	}
	return job
}

func (w *Worker) allowFetch(jobID, url string) bool {
	if w.deps.Policy == nil {
		return true
	}
	return w.deps.Policy.AllowFetch(jobID, url)
}

func (w *Worker) headlessAllowed(jobID, url string) bool {
	if !w.cfg.HeadlessOn || w.deps.Headless == nil {
		return false
	}
	if w.deps.Policy == nil {
		return true
	}
	return w.deps.Policy.AllowHeadless(jobID, url)
}

func (w *Worker) emit(evt progress.Event) {
	w.deps.Progress.Emit(evt)
}

func (w *Worker) now() time.Time {
	if w.deps.Clock == nil {
		return time.Now().UTC()
	}
	return w.deps.Clock.Now()
}

// statusError maps non-2xx responses to errors. Client errors other than
// 408 and 429 are not retried.
func statusError(code int, url string) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout, code >= 500:
		return fmt.Errorf("%s returned %d", url, code)
	default:
		return permanent(fmt.Errorf("%s returned %d", url, code))
	}
}

// countersOf fills page counters for results that failed before persisting.
func countersOf(result scraper.Result) scraper.JobCounters {
	c := result.Counters
	c.PagesScraped = result.PagesScraped
	c.PagesFailed = len(result.Errors)
	if c.Found == 0 {
		c.Found = result.TotalFound
	}
	return c
}

func extension(contentType string) string {
	media, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "bin"
	}
	switch {
	case media == "text/html":
		return "html"
	case strings.HasSuffix(media, "json"):
		return "json"
	case strings.HasSuffix(media, "xml"):
		return "xml"
	case strings.HasPrefix(media, "text/"):
		return "txt"
	default:
		return "bin"
	}
}
