package engine

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/remotehive-autoscraper/internal/scraper"
)

// localControl holds the run state in process memory. It serves single
// process deployments where nothing else reads it.
type localControl struct {
	mu  sync.Mutex
	ctl scraper.EngineControl
}

func newLocalControl() *localControl {
	return &localControl{ctl: scraper.EngineControl{Status: scraper.EngineIdle}}
}

func (c *localControl) LoadControl(context.Context) (scraper.EngineControl, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return copyControl(c.ctl), nil
}

func (c *localControl) SaveControl(_ context.Context, ctl scraper.EngineControl) error {
	c.mu.Lock()
	c.ctl = copyControl(ctl)
	c.mu.Unlock()
	return nil
}

func (c *localControl) TouchActivity(_ context.Context, at time.Time) error {
	c.mu.Lock()
	c.ctl.LastActivity = &at
	c.mu.Unlock()
	return nil
}

func copyControl(ctl scraper.EngineControl) scraper.EngineControl {
	if ctl.StartedAt != nil {
		at := *ctl.StartedAt
		ctl.StartedAt = &at
	}
	if ctl.LastActivity != nil {
		at := *ctl.LastActivity
		ctl.LastActivity = &at
	}
	return ctl
}
