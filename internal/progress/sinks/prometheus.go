package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/remotehive-autoscraper/internal/progress"
)

// PrometheusSink derives job and page metrics from the progress stream.
type PrometheusSink struct {
	jobsStarted   prometheus.Counter
	jobsFinished  *prometheus.CounterVec
	jobsRunning   prometheus.Gauge
	jobRuntime    *prometheus.HistogramVec
	pagesTotal    *prometheus.CounterVec
	pageBytes     *prometheus.CounterVec
	pagePostings  *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec

	tracker *jobTracker
}

// NewPrometheusSink registers the collectors against reg, or the default
// registerer when reg is nil.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		jobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "autoscraper_progress_jobs_started_total",
			Help: "Scrape jobs that reported JOB_START.",
		}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autoscraper_progress_jobs_finished_total",
			Help: "Scrape jobs that finished, by result.",
		}, []string{"result"}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "autoscraper_progress_jobs_running",
			Help: "Scrape jobs currently between start and finish.",
		}),
		jobRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "autoscraper_job_runtime_seconds",
			Help:    "Wall time per finished scrape job.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"result"}),
		pagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autoscraper_board_pages_total",
			Help: "Board pages fetched, by board and status class.",
		}, []string{"board", "status_class"}),
		pageBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autoscraper_board_bytes_total",
			Help: "Bytes downloaded per board.",
		}, []string{"board"}),
		pagePostings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autoscraper_board_postings_parsed_total",
			Help: "Postings parsed from board pages.",
		}, []string{"board"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "autoscraper_page_fetch_seconds",
			Help:    "Page fetch duration by board.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"board"}),
		tracker: newJobTracker(),
	}
	for _, c := range []prometheus.Collector{
		s.jobsStarted, s.jobsFinished, s.jobsRunning, s.jobRuntime,
		s.pagesTotal, s.pageBytes, s.pagePostings, s.fetchDuration,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageJobStart:
			s.jobsStarted.Inc()
			if s.tracker.start(evt.JobID) {
				s.jobsRunning.Inc()
			}
		case progress.StageJobDone:
			s.finish(evt, "success")
		case progress.StageJobError:
			s.finish(evt, "error")
		case progress.StagePageDone:
			s.page(evt)
		}
	}
	return nil
}

func (s *PrometheusSink) finish(evt progress.Event, result string) {
	s.jobsFinished.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.jobRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	if s.tracker.complete(evt.JobID) {
		s.jobsRunning.Dec()
	}
}

func (s *PrometheusSink) page(evt progress.Event) {
	board := evt.Board
	if board == "" {
		board = "unknown"
	}
	class := string(evt.StatusClass)
	if class == "" {
		class = string(progress.StatusOther)
	}
	s.pagesTotal.WithLabelValues(board, class).Inc()
	if evt.Bytes > 0 {
		s.pageBytes.WithLabelValues(board).Add(float64(evt.Bytes))
	}
	if evt.Postings > 0 {
		s.pagePostings.WithLabelValues(board).Add(float64(evt.Postings))
	}
	if evt.Dur > 0 {
		s.fetchDuration.WithLabelValues(board).Observe(evt.Dur.Seconds())
	}
}

// Close implements progress.Sink.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

// jobTracker keeps the running gauge honest when start or finish events repeat.
type jobTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newJobTracker() *jobTracker {
	return &jobTracker{running: make(map[[16]byte]struct{})}
}

func (t *jobTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *jobTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
