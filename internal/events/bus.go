package events

import (
	"context"
	"log/slog"
	"sync"
)

// Publisher delivers outbound events to downstream collaborators. Writes to
// the owning store must be durable before Publish is called; downstream
// handlers are assumed idempotent, so at-least-once delivery is acceptable.
//
// Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Bus is an in-process [Publisher] that fans events out to subscriber
// channels. It backs local development and tests; a production deployment
// substitutes a broker-backed Publisher behind the same interface.
type Bus struct {
	mu   sync.RWMutex
	subs []chan Event
	done bool
}

// Compile-time interface check.
var _ Publisher = (*Bus)(nil)

// NewBus returns an empty [Bus].
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a new subscriber and returns its channel. The channel
// is buffered; a subscriber that stops draining blocks publishers.
func (b *Bus) Subscribe(buffer int) <-chan Event {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch
}

// Publish implements [Publisher]. It delivers ev to every subscriber,
// honouring context cancellation while a subscriber's buffer is full.
func (b *Bus) Publish(ctx context.Context, ev Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.done {
		return nil
	}
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Close closes all subscriber channels. Publish becomes a no-op afterwards.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return
	}
	b.done = true
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}

// LogPublisher is a [Publisher] that logs events instead of delivering them.
// Useful as a default when no downstream transport is configured.
type LogPublisher struct{}

// Compile-time interface check.
var _ Publisher = LogPublisher{}

// Publish implements [Publisher].
func (LogPublisher) Publish(ctx context.Context, ev Event) error {
	slog.InfoContext(ctx, "event published", "type", ev.EventType(), "event", ev)
	return nil
}
