// Package ratelimit provides keyed token buckets: per-host throttling for
// board fetches and per-client admission for login attempts.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/remotehive-autoscraper/internal/metrics"
)

// Config holds the default bucket shape.
type Config struct {
	// DefaultRPS <= 0 disables limiting.
	DefaultRPS   float64
	DefaultBurst int
}

// Limiter keeps one token bucket per key. Hosts may be given their own rate.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	overrides    map[string]rate.Limit
	defaultRate  rate.Limit
	defaultBurst int
}

// New creates a Limiter.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.DefaultRPS)
	if cfg.DefaultRPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.DefaultBurst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		overrides:    make(map[string]rate.Limit),
		defaultRate:  r,
		defaultBurst: burst,
	}
}

// SetHostRate overrides the rate for one host, e.g. from a board's
// rate_limit_rps. rps <= 0 restores the default.
func (l *Limiter) SetHostRate(host string, rps float64) {
	host = strings.ToLower(host)
	l.mu.Lock()
	defer l.mu.Unlock()
	limit := l.defaultRate
	if rps > 0 {
		limit = rate.Limit(rps)
		l.overrides[host] = limit
	} else {
		delete(l.overrides, host)
	}
	if existing, ok := l.limiters[host]; ok {
		existing.SetLimit(limit)
	}
}

// Wait blocks until a request to rawURL's host may proceed.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host := Host(rawURL)
	start := time.Now()
	if err := l.bucket(host).Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, waited)
	}
	return nil
}

// Allow reports whether one event for key may happen now.
func (l *Limiter) Allow(key string) bool {
	return l.bucket(key).Allow()
}

func (l *Limiter) bucket(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.limiters[key]; ok {
		return lim
	}
	limit, ok := l.overrides[key]
	if !ok {
		limit = l.defaultRate
	}
	lim := rate.NewLimiter(limit, l.defaultBurst)
	l.limiters[key] = lim
	return lim
}

// Host extracts the lower-cased hostname, or "unknown".
func Host(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
