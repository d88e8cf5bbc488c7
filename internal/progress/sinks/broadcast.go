package sinks

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/remotehive-autoscraper/internal/progress"
)

// Broadcaster fans progress events out to live subscribers such as websocket
// clients. Slow subscribers lose events instead of stalling the hub.
type Broadcaster struct {
	mu        sync.RWMutex
	subs      map[int]chan progress.Event
	next      int
	bufferLen int
	closed    bool
	logger    *zap.Logger
}

// NewBroadcaster creates a Broadcaster whose subscribers buffer bufferLen
// events each.
func NewBroadcaster(bufferLen int, logger *zap.Logger) *Broadcaster {
	if bufferLen <= 0 {
		bufferLen = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{
		subs:      make(map[int]chan progress.Event),
		bufferLen: bufferLen,
		logger:    logger.Named("broadcast"),
	}
}

// Subscribe registers a listener. The returned cancel func unregisters it and
// closes the channel.
func (b *Broadcaster) Subscribe() (<-chan progress.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan progress.Event, b.bufferLen)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.next
	b.next++
	b.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
}

// Subscribers reports the number of live listeners.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Consume delivers the batch to every subscriber without blocking.
func (b *Broadcaster) Consume(_ context.Context, batch []progress.Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subs {
		for _, evt := range batch {
			select {
			case ch <- evt:
			default:
				b.logger.Debug("subscriber lagging, event dropped", zap.Int("subscriber", id))
			}
		}
	}
	return nil
}

// Close disconnects every subscriber.
func (b *Broadcaster) Close(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
	return nil
}
