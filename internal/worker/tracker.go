package worker

import (
	"context"
	"sort"
	"sync"
)

// Tracker records the cancel function of every job a worker is executing so
// that other components can cancel a running job or list running ids.
type Tracker struct {
	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{running: make(map[string]context.CancelFunc)}
}

func (t *Tracker) add(jobID string, cancel context.CancelFunc) {
	t.mu.Lock()
	t.running[jobID] = cancel
	t.mu.Unlock()
}

func (t *Tracker) remove(jobID string) {
	t.mu.Lock()
	delete(t.running, jobID)
	t.mu.Unlock()
}

// Cancel cancels a running job and reports whether it was running here.
func (t *Tracker) Cancel(jobID string) bool {
	t.mu.Lock()
	cancel, ok := t.running[jobID]
	t.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Running returns the ids of executing jobs in sorted order.
func (t *Tracker) Running() []string {
	t.mu.Lock()
	ids := make([]string, 0, len(t.running))
	for id := range t.running {
		ids = append(ids, id)
	}
	t.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// Len returns the number of executing jobs.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.running)
}
