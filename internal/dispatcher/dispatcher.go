// Package dispatcher manages worker fan-out over the job queue.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/remotehive-autoscraper/internal/scraper"
	"github.com/JakeFAU/remotehive-autoscraper/internal/worker"
)

// ErrAlreadyRunning is returned by Run when the pool is already running.
var ErrAlreadyRunning = errors.New("dispatcher already running")

const defaultFollowInterval = 2 * time.Second

// Processor executes one dequeued task.
type Processor interface {
	Process(ctx context.Context, task scraper.Task)
}

// Dispatcher fans queue work out to a fixed pool of workers. Pausing stops
// dequeuing; tasks already executing run to completion.
type Dispatcher struct {
	queue   scraper.Queue
	workers []Processor
	logger  *zap.Logger

	mu        sync.Mutex
	base      context.Context
	gate      context.Context
	closeGate context.CancelFunc
	paused    bool
	resumed   chan struct{}
	running   atomic.Bool
}

// New creates a Dispatcher with one goroutine per worker.
func New(queue scraper.Queue, workers []*worker.Worker, logger *zap.Logger) *Dispatcher {
	procs := make([]Processor, 0, len(workers))
	for _, w := range workers {
		procs = append(procs, w)
	}
	return NewWithProcessors(queue, procs, logger)
}

// NewWithProcessors is New for arbitrary Processor implementations.
func NewWithProcessors(queue scraper.Queue, workers []Processor, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:   queue,
		workers: workers,
		logger:  logger.Named("dispatcher"),
		resumed: make(chan struct{}),
	}
}

// Size is the number of workers in the pool.
func (d *Dispatcher) Size() int { return len(d.workers) }

// Running reports whether Run is active.
func (d *Dispatcher) Running() bool { return d.running.Load() }

// Paused reports whether dequeuing is suspended.
func (d *Dispatcher) Paused() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.paused
}

// Run starts all workers and blocks until the context finishes.
func (d *Dispatcher) Run(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer d.running.Store(false)

	d.mu.Lock()
	d.base = ctx
	d.gate, d.closeGate = context.WithCancel(ctx)
	d.mu.Unlock()

	d.logger.Info("worker pool started", zap.Int("workers", len(d.workers)))
	var wg sync.WaitGroup
	for i, w := range d.workers {
		wg.Add(1)
		go func(id int, p Processor) {
			defer wg.Done()
			d.loop(ctx, id, p)
		}(i, w)
	}
	<-ctx.Done()
	wg.Wait()
	d.logger.Info("worker pool stopped")
	return nil
}

func (d *Dispatcher) loop(ctx context.Context, id int, p Processor) {
	for {
		gate, err := d.wait(ctx)
		if err != nil {
			return
		}
		task, err := d.queue.Dequeue(gate)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if gate.Err() != nil {
				continue
			}
			d.logger.Error("queue dequeue failed", zap.Int("worker", id), zap.Error(err))
			continue
		}
		d.logger.Debug("dequeued task", zap.Int("worker", id), zap.String("job_id", task.JobID))
		p.Process(ctx, task)
	}
}

// wait blocks while paused and returns the context bounding the next dequeue.
func (d *Dispatcher) wait(ctx context.Context) (context.Context, error) {
	for {
		d.mu.Lock()
		if !d.paused {
			gate := d.gate
			d.mu.Unlock()
			return gate, nil
		}
		resumed := d.resumed
		d.mu.Unlock()
		select {
		case <-resumed:
		case <-ctx.Done():
			return nil, fmt.Errorf("dispatcher wait: %w", ctx.Err())
		}
	}
}

// Pause stops workers from dequeuing. Workers blocked in Dequeue are released.
func (d *Dispatcher) Pause() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.paused {
		return
	}
	d.paused = true
	d.resumed = make(chan struct{})
	if d.closeGate != nil {
		d.closeGate()
	}
	d.logger.Info("worker pool paused")
}

// Resume lets workers dequeue again.
func (d *Dispatcher) Resume() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.paused {
		return
	}
	d.paused = false
	if d.base != nil {
		d.gate, d.closeGate = context.WithCancel(d.base)
	}
	close(d.resumed)
	d.logger.Info("worker pool resumed")
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, task scraper.Task) error {
	if err := d.queue.Enqueue(ctx, task); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

// Sync pauses or resumes the pool to match the stored engine state.
func (d *Dispatcher) Sync(ctx context.Context, control scraper.ControlReader) error {
	ctl, err := control.LoadControl(ctx)
	if err != nil {
		return fmt.Errorf("load engine state: %w", err)
	}
	if ctl.AcceptsWork() {
		d.Resume()
	} else {
		d.Pause()
	}
	return nil
}

// Follow calls Sync every interval until ctx ends. A failed read keeps the
// pool in its current state.
func (d *Dispatcher) Follow(ctx context.Context, control scraper.ControlReader, interval time.Duration) error {
	if interval <= 0 {
		interval = defaultFollowInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := d.Sync(ctx, control); err != nil && ctx.Err() == nil {
			d.logger.Warn("engine state sync failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
