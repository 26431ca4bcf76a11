// Package eventbus carries game events from the host callbacks to their
// consumers.
package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"gamebridge/internal/domain"
)

const defaultQueueSize = 256

type delivery struct {
	ctx   context.Context
	event domain.GameEvent
}

// subscriber owns a queue drained by one goroutine, so each handler sees
// events in publish order.
type subscriber struct {
	id        uint64
	eventType domain.EventType // empty for SubscribeAll
	handler   domain.GameEventHandler
	queue     chan delivery
}

// Bus is an in-process, goroutine-safe event bus.
type Bus struct {
	mu        sync.RWMutex
	subs      map[uint64]*subscriber
	nextID    uint64
	closed    bool
	queueSize int
	logger    *slog.Logger
	wg        sync.WaitGroup
	now       func() time.Time
}

// Option configures a Bus.
type Option func(*Bus)

// WithQueueSize sets how many undelivered events each subscriber may hold
// before new ones are dropped.
func WithQueueSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.queueSize = n
		}
	}
}

// New creates an event bus.
func New(logger *slog.Logger, opts ...Option) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bus{
		subs:      make(map[uint64]*subscriber),
		queueSize: defaultQueueSize,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

var _ domain.EventBus = (*Bus)(nil)

// Publish queues event for every matching subscriber without waiting for
// handlers. A zero Timestamp is set to the current time. Events for a
// subscriber whose queue is full are dropped.
func (b *Bus) Publish(ctx context.Context, event domain.GameEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = b.now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs {
		if sub.eventType != "" && sub.eventType != event.Type {
			continue
		}
		select {
		case sub.queue <- delivery{ctx: ctx, event: event}:
		default:
			b.logger.Warn("event subscriber queue full, dropping event",
				"event", string(event.Type),
				"subscriber", sub.id,
			)
		}
	}
}

// Subscribe registers a handler for a specific event type.
// Returns an unsubscribe function.
func (b *Bus) Subscribe(eventType domain.EventType, handler domain.GameEventHandler) func() {
	return b.add(eventType, handler)
}

// SubscribeAll registers a handler that receives every event.
// Returns an unsubscribe function.
func (b *Bus) SubscribeAll(handler domain.GameEventHandler) func() {
	return b.add("", handler)
}

func (b *Bus) add(eventType domain.EventType, handler domain.GameEventHandler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return func() {}
	}
	b.nextID++
	sub := &subscriber{
		id:        b.nextID,
		eventType: eventType,
		handler:   handler,
		queue:     make(chan delivery, b.queueSize),
	}
	b.subs[sub.id] = sub
	b.wg.Add(1)
	go b.run(sub)

	return func() { b.remove(sub.id) }
}

// remove stops delivery to a subscriber. Events already queued are still
// handled.
func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub, ok := b.subs[id]
	if !ok {
		return
	}
	delete(b.subs, id)
	close(sub.queue)
}

func (b *Bus) run(sub *subscriber) {
	defer b.wg.Done()
	for d := range sub.queue {
		b.invoke(sub, d)
	}
}

func (b *Bus) invoke(sub *subscriber, d delivery) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"event", string(d.event.Type),
				"subscriber", sub.id,
				"panic", r,
			)
		}
	}()
	sub.handler(d.ctx, d.event)
}

// Close prevents new publishes and waits until every queued event has been
// handled. Close is idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.queue)
	}
	b.mu.Unlock()
	b.wg.Wait()
}
