// Package event implements the in-process event bus used to fan out editor
// lock activity to the audit log and any other listeners.
package event

import (
	"context"
	"sync"
	"time"

	"github.com/HerbHall/exhibitdesk/pkg/plugin"
	"go.uber.org/zap"
)

// Topics published by exhibitdesk modules.
const (
	TopicRecordOpened   = "editor.record.opened"
	TopicRecordReleased = "editor.record.released"
	TopicLockOverride   = "editor.lock.override"
)

// Compile-time interface guard.
var _ plugin.EventBus = (*Bus)(nil)

type subscription struct {
	id      uint64
	handler plugin.EventHandler
}

// Bus is a synchronous publish/subscribe bus. Handlers run on the
// publishing goroutine; a panicking handler is logged and skipped.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	topics map[string][]subscription
	all    []subscription
	logger *zap.Logger
}

// NewBus creates an empty Bus.
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		topics: make(map[string][]subscription),
		logger: logger,
	}
}

// Publish delivers event to topic subscribers, then to catch-all
// subscribers, before returning.
func (b *Bus) Publish(ctx context.Context, event plugin.Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	handlers := make([]plugin.EventHandler, 0, len(b.topics[event.Topic])+len(b.all))
	for _, s := range b.topics[event.Topic] {
		handlers = append(handlers, s.handler)
	}
	for _, s := range b.all {
		handlers = append(handlers, s.handler)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.dispatch(ctx, event, h)
	}
	return nil
}

// PublishAsync delivers event on a new goroutine.
func (b *Bus) PublishAsync(ctx context.Context, event plugin.Event) {
	go func() {
		_ = b.Publish(ctx, event)
	}()
}

// Subscribe registers handler for one topic.
func (b *Bus) Subscribe(topic string, handler plugin.EventHandler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.topics[topic] = append(b.topics[topic], subscription{id: id, handler: handler})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.topics[topic] = remove(b.topics[topic], id)
		if len(b.topics[topic]) == 0 {
			delete(b.topics, topic)
		}
	}
}

// SubscribeAll registers handler for every topic.
func (b *Bus) SubscribeAll(handler plugin.EventHandler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.all = append(b.all, subscription{id: id, handler: handler})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.all = remove(b.all, id)
	}
}

func (b *Bus) dispatch(ctx context.Context, event plugin.Event, h plugin.EventHandler) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("topic", event.Topic),
				zap.Any("panic", r),
			)
		}
	}()
	h(ctx, event)
}

func remove(subs []subscription, id uint64) []subscription {
	out := subs[:0]
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}
