package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Blacklist records revoked token ids until they would have expired anyway.
type Blacklist interface {
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
	Revoked(ctx context.Context, jti string) (bool, error)
}

// RedisBlacklist shares revocations across API replicas.
type RedisBlacklist struct {
	client *redis.Client
	prefix string
}

// NewRedisBlacklist stores keys as <prefix>:<jti>.
func NewRedisBlacklist(client *redis.Client, prefix string) *RedisBlacklist {
	if prefix == "" {
		prefix = "remotehive:revoked"
	}
	return &RedisBlacklist{client: client, prefix: prefix}
}

// Revoke sets the key once; repeated logouts keep the first expiry.
func (b *RedisBlacklist) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := b.client.SetNX(ctx, b.key(jti), "1", ttl).Err(); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// Revoked reports whether jti was revoked.
func (b *RedisBlacklist) Revoked(ctx context.Context, jti string) (bool, error) {
	n, err := b.client.Exists(ctx, b.key(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return n > 0, nil
}

func (b *RedisBlacklist) key(jti string) string {
	return b.prefix + ":" + jti
}

// MemoryBlacklist is a process-local Blacklist.
type MemoryBlacklist struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewMemoryBlacklist creates an empty blacklist. now may be nil.
func NewMemoryBlacklist(now func() time.Time) *MemoryBlacklist {
	if now == nil {
		now = time.Now
	}
	return &MemoryBlacklist{entries: make(map[string]time.Time), now: now}
}

// Revoke records jti until now+ttl.
func (b *MemoryBlacklist) Revoke(_ context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.entries[jti]; !ok {
		b.entries[jti] = b.now().Add(ttl)
	}
	b.sweep()
	return nil
}

// Revoked reports whether jti is revoked and not yet expired.
func (b *MemoryBlacklist) Revoked(_ context.Context, jti string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	until, ok := b.entries[jti]
	return ok && b.now().Before(until), nil
}

func (b *MemoryBlacklist) sweep() {
	now := b.now()
	for jti, until := range b.entries {
		if !now.Before(until) {
			delete(b.entries, jti)
		}
	}
}
