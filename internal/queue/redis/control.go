package redisqueue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/remotehive-autoscraper/internal/scraper"
)

const (
	fieldStatus       = "status"
	fieldStartedAt    = "started_at"
	fieldLastActivity = "last_activity"
)

// Control keeps the engine run state in a hash (<prefix>:engine) next to the
// task streams, so the autoscraper, workers and beat agree on it.
type Control struct {
	client *redis.Client
	key    string
}

// NewControl returns a Control for the queue prefix.
func NewControl(client *redis.Client, prefix string) (*Control, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Control{client: client, key: prefix + ":engine"}, nil
}

// LoadControl reads the hash. A missing hash is an idle engine.
func (c *Control) LoadControl(ctx context.Context) (scraper.EngineControl, error) {
	fields, err := c.client.HGetAll(ctx, c.key).Result()
	if err != nil {
		return scraper.EngineControl{}, fmt.Errorf("load engine control: %w", err)
	}
	ctl := scraper.EngineControl{Status: scraper.EngineIdle}
	if status := fields[fieldStatus]; status != "" {
		ctl.Status = scraper.EngineStatus(status)
	}
	if ctl.StartedAt, err = parseMillis(fields[fieldStartedAt]); err != nil {
		return scraper.EngineControl{}, fmt.Errorf("engine control %s: %w", fieldStartedAt, err)
	}
	if ctl.LastActivity, err = parseMillis(fields[fieldLastActivity]); err != nil {
		return scraper.EngineControl{}, fmt.Errorf("engine control %s: %w", fieldLastActivity, err)
	}
	return ctl, nil
}

// SaveControl replaces the hash in one transaction. Nil times are removed.
func (c *Control) SaveControl(ctx context.Context, ctl scraper.EngineControl) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, c.key, fieldStatus, string(ctl.Status))
		for field, at := range map[string]*time.Time{
			fieldStartedAt:    ctl.StartedAt,
			fieldLastActivity: ctl.LastActivity,
		} {
			if at == nil {
				pipe.HDel(ctx, c.key, field)
				continue
			}
			pipe.HSet(ctx, c.key, field, at.UnixMilli())
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save engine control: %w", err)
	}
	return nil
}

// TouchActivity records at as the last engine activity.
func (c *Control) TouchActivity(ctx context.Context, at time.Time) error {
	if err := c.client.HSet(ctx, c.key, fieldLastActivity, at.UnixMilli()).Err(); err != nil {
		return fmt.Errorf("touch engine activity: %w", err)
	}
	return nil
}

func parseMillis(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, err
	}
	at := time.UnixMilli(ms).UTC()
	return &at, nil
}
