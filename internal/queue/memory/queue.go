// Package memory provides an in-process priority queue for local development
// and single-process deployments.
package memory

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/remotehive-autoscraper/internal/scraper"
)

// Queue errors.
var (
	ErrQueueFull = errors.New("queue is full")
	ErrClosed    = errors.New("queue closed")
)

type entry struct {
	task  scraper.Task
	seq   uint64
	index int
	ready bool
}

// readyHeap orders due tasks: higher priority, then earlier not-before, then FIFO.
type readyHeap []*entry

func (h readyHeap) Len() int { return len(h) }

func (h readyHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if a.task.Priority != b.task.Priority {
		return a.task.Priority > b.task.Priority
	}
	if !a.task.NotBefore.Equal(b.task.NotBefore) {
		return a.task.NotBefore.Before(b.task.NotBefore)
	}
	return a.seq < b.seq
}

func (h readyHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *readyHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *readyHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// delayedHeap orders tasks that are not due yet by not-before.
type delayedHeap struct{ readyHeap }

func (h delayedHeap) Less(i, j int) bool {
	a, b := h.readyHeap[i], h.readyHeap[j]
	if !a.task.NotBefore.Equal(b.task.NotBefore) {
		return a.task.NotBefore.Before(b.task.NotBefore)
	}
	return a.seq < b.seq
}

// Queue is a bounded priority queue with context-aware operations. Tasks whose
// NotBefore lies in the future are held back until due.
type Queue struct {
	mu       sync.Mutex
	ready    readyHeap
	delayed  delayedHeap
	index    map[string]*entry
	seq      uint64
	capacity int
	now      func() time.Time

	notify    chan struct{}
	closedCh  chan struct{}
	closeOnce sync.Once
	closed    bool
}

// NewQueue constructs a queue holding at most capacity tasks.
func NewQueue(capacity int) *Queue {
	return NewQueueWithClock(capacity, time.Now)
}

// NewQueueWithClock is NewQueue with an injectable time source.
func NewQueueWithClock(capacity int, now func() time.Time) *Queue {
	if capacity <= 0 {
		capacity = 1000
	}
	if now == nil {
		now = time.Now
	}
	return &Queue{
		index:    make(map[string]*entry),
		capacity: capacity,
		now:      now,
		notify:   make(chan struct{}, 1),
		closedCh: make(chan struct{}),
	}
}

// Enqueue adds a task. A task whose job is already queued is ignored.
func (q *Queue) Enqueue(ctx context.Context, task scraper.Task) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("enqueue canceled: %w", err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	if _, exists := q.index[task.JobID]; exists {
		return nil
	}
	if len(q.index) >= q.capacity {
		return ErrQueueFull
	}
	q.seq++
	e := &entry{task: task, seq: q.seq}
	q.index[task.JobID] = e
	if task.NotBefore.After(q.now()) {
		heap.Push(&q.delayed, e)
	} else {
		e.ready = true
		heap.Push(&q.ready, e)
	}
	q.signal()
	return nil
}

// Dequeue pops the next due task, blocking until one is due, the context ends
// or the queue is closed.
func (q *Queue) Dequeue(ctx context.Context) (scraper.Task, error) {
	for {
		q.mu.Lock()
		now := q.now()
		q.promoteLocked(now)
		if q.ready.Len() > 0 {
			e := heap.Pop(&q.ready).(*entry)
			delete(q.index, e.task.JobID)
			if q.ready.Len() > 0 {
				q.signal()
			}
			q.mu.Unlock()
			return e.task, nil
		}
		if q.closed {
			q.mu.Unlock()
			return scraper.Task{}, ErrClosed
		}
		var (
			timer *time.Timer
			due   <-chan time.Time
		)
		if q.delayed.Len() > 0 {
			timer = time.NewTimer(q.delayed.readyHeap[0].task.NotBefore.Sub(now))
			due = timer.C
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			stopTimer(timer)
			return scraper.Task{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
		case <-q.closedCh:
		case <-q.notify:
		case <-due:
		}
		stopTimer(timer)
	}
}

// Remove drops a queued task by job id and reports whether it was present.
func (q *Queue) Remove(_ context.Context, jobID string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.index[jobID]
	if !ok {
		return false, nil
	}
	if e.ready {
		heap.Remove(&q.ready, e.index)
	} else {
		heap.Remove(&q.delayed, e.index)
	}
	delete(q.index, jobID)
	return true, nil
}

// Size returns the number of queued tasks, due or not.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.index)
}

// Len implements scraper.QueueInspector.
func (q *Queue) Len(context.Context) (int, error) {
	return q.Size(), nil
}

// Pending returns a snapshot of queued tasks in dequeue order.
func (q *Queue) Pending() []scraper.Task {
	q.mu.Lock()
	entries := make([]*entry, 0, len(q.index))
	for _, e := range q.index {
		entries = append(entries, e)
	}
	now := q.now()
	q.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		aDue, bDue := !a.task.NotBefore.After(now), !b.task.NotBefore.After(now)
		if aDue != bDue {
			return aDue
		}
		if aDue {
			return readyHeap{a, b}.Less(0, 1)
		}
		return delayedHeap{readyHeap{a, b}}.Less(0, 1)
	})
	tasks := make([]scraper.Task, len(entries))
	for i, e := range entries {
		tasks[i] = e.task
	}
	return tasks
}

// Close wakes blocked consumers; queued tasks that are already due can still be drained.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		q.mu.Unlock()
		close(q.closedCh)
	})
}

func (q *Queue) promoteLocked(now time.Time) {
	for q.delayed.Len() > 0 && !q.delayed.readyHeap[0].task.NotBefore.After(now) {
		e := heap.Pop(&q.delayed).(*entry)
		e.ready = true
		heap.Push(&q.ready, e)
	}
}

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}
