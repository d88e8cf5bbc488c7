package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	queuemem "github.com/JakeFAU/remotehive-autoscraper/internal/queue/memory"
	"github.com/JakeFAU/remotehive-autoscraper/internal/scraper"
)

type recordingProcessor struct {
	mu   sync.Mutex
	seen []string
}

func (p *recordingProcessor) Process(_ context.Context, task scraper.Task) {
	p.mu.Lock()
	p.seen = append(p.seen, task.JobID)
	p.mu.Unlock()
}

func (p *recordingProcessor) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.seen)
}

func TestDispatcherRunProcessesAndStops(t *testing.T) {
	t.Parallel()
	queue := queuemem.NewQueue(10)
	proc := &recordingProcessor{}
	d := NewWithProcessors(queue, []Processor{proc, proc}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, d.Running, time.Second, 5*time.Millisecond)
	require.NoError(t, d.Enqueue(context.Background(), scraper.Task{JobID: "a"}))
	require.NoError(t, d.Enqueue(context.Background(), scraper.Task{JobID: "b"}))
	require.Eventually(t, func() bool { return proc.count() == 2 }, time.Second, 5*time.Millisecond)
	require.ErrorIs(t, d.Run(ctx), ErrAlreadyRunning)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
	require.False(t, d.Running())
}

func TestDispatcherPauseHoldsQueuedTasks(t *testing.T) {
	t.Parallel()
	queue := queuemem.NewQueue(10)
	proc := &recordingProcessor{}
	d := NewWithProcessors(queue, []Processor{proc}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Run(ctx) }()
	require.Eventually(t, d.Running, time.Second, 5*time.Millisecond)

	d.Pause()
	require.True(t, d.Paused())
	require.NoError(t, d.Enqueue(context.Background(), scraper.Task{JobID: "held"}))
	time.Sleep(50 * time.Millisecond)
	require.Zero(t, proc.count())
	require.Equal(t, 1, queue.Size())

	d.Resume()
	require.False(t, d.Paused())
	require.Eventually(t, func() bool { return proc.count() == 1 }, time.Second, 5*time.Millisecond)
	require.Zero(t, queue.Size())
}

type errorQueue struct{ err error }

func (q errorQueue) Enqueue(context.Context, scraper.Task) error { return q.err }

func (q errorQueue) Dequeue(ctx context.Context) (scraper.Task, error) {
	<-ctx.Done()
	return scraper.Task{}, ctx.Err()
}

func TestDispatcherEnqueueWrapsErrors(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	d := NewWithProcessors(errorQueue{err: boom}, nil, nil)
	err := d.Enqueue(context.Background(), scraper.Task{JobID: "job"})
	require.ErrorIs(t, err, boom)
	require.EqualError(t, err, "queue enqueue: boom")
}

type controlValue struct {
	mu  sync.Mutex
	ctl scraper.EngineControl
	err error
}

func (c *controlValue) set(status scraper.EngineStatus) {
	c.mu.Lock()
	c.ctl.Status = status
	c.mu.Unlock()
}

func (c *controlValue) LoadControl(context.Context) (scraper.EngineControl, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ctl, c.err
}

func TestSyncPausesBeforeRun(t *testing.T) {
	t.Parallel()
	queue := queuemem.NewQueue(10)
	proc := &recordingProcessor{}
	d := NewWithProcessors(queue, []Processor{proc}, nil)
	control := &controlValue{ctl: scraper.EngineControl{Status: scraper.EnginePaused}}

	require.NoError(t, d.Sync(context.Background(), control))
	require.True(t, d.Paused())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Run(ctx) }()
	require.Eventually(t, d.Running, time.Second, 5*time.Millisecond)
	require.NoError(t, queue.Enqueue(context.Background(), scraper.Task{JobID: "held"}))
	time.Sleep(50 * time.Millisecond)
	require.Zero(t, proc.count())

	control.set(scraper.EngineIdle)
	require.NoError(t, d.Sync(context.Background(), control))
	require.Eventually(t, func() bool { return proc.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestSyncReportsReadErrors(t *testing.T) {
	t.Parallel()
	d := NewWithProcessors(queuemem.NewQueue(1), nil, nil)
	err := d.Sync(context.Background(), &controlValue{err: errors.New("redis down")})
	require.ErrorContains(t, err, "load engine state: redis down")
	require.False(t, d.Paused())
}

func TestFollowTracksEngineState(t *testing.T) {
	t.Parallel()
	d := NewWithProcessors(queuemem.NewQueue(1), nil, nil)
	control := &controlValue{ctl: scraper.EngineControl{Status: scraper.EngineRunning}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Follow(ctx, control, 5*time.Millisecond) }()

	control.set(scraper.EnginePaused)
	require.Eventually(t, d.Paused, time.Second, 5*time.Millisecond)
	control.set(scraper.EngineRunning)
	require.Eventually(t, func() bool { return !d.Paused() }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("follow did not stop after context cancel")
	}
}
