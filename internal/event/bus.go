// Package event provides a small in-process publish/subscribe bus used by
// modules to announce completed scans and fleet executions without coupling
// to each other.
package event

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event is a single bus message.
type Event struct {
	Topic     string
	Source    string
	Timestamp time.Time
	Payload   any
}

// Handler processes a published event. Handlers run synchronously on the
// publisher's goroutine and must not block for long.
type Handler func(ctx context.Context, e Event)

type subscription struct {
	id int
	fn Handler
}

// Bus is a topic-based pub/sub dispatcher safe for concurrent use.
type Bus struct {
	logger *zap.Logger
	mu     sync.RWMutex
	nextID int
	topics map[string][]subscription
	all    []subscription
}

// NewBus creates an empty Bus.
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		logger: logger,
		topics: make(map[string][]subscription),
	}
}

// Subscribe registers a handler for one topic and returns an unsubscribe
// function.
func (b *Bus) Subscribe(topic string, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.topics[topic] = append(b.topics[topic], subscription{id: id, fn: h})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.topics[topic]
		for i, s := range subs {
			if s.id == id {
				b.topics[topic] = append(subs[:i], subs[i+1:]...)
				return
			}
		}
	}
}

// SubscribeAll registers a handler for every topic.
func (b *Bus) SubscribeAll(h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.all = append(b.all, subscription{id: id, fn: h})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.all {
			if s.id == id {
				b.all = append(b.all[:i], b.all[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers the event to topic subscribers and wildcard subscribers.
func (b *Bus) Publish(ctx context.Context, e Event) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	subs := make([]subscription, 0, len(b.topics[e.Topic])+len(b.all))
	subs = append(subs, b.topics[e.Topic]...)
	subs = append(subs, b.all...)
	b.mu.RUnlock()

	for _, s := range subs {
		s.fn(ctx, e)
	}

	b.logger.Debug("event published",
		zap.String("topic", e.Topic),
		zap.String("source", e.Source),
		zap.Int("subscribers", len(subs)),
	)
	return nil
}
