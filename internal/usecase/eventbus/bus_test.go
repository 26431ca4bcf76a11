package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gamebridge/internal/domain"
)

func newTestBus(opts ...Option) *Bus {
	return New(slog.Default(), opts...)
}

func newEvent(t domain.EventType) domain.GameEvent {
	return domain.GameEvent{Type: t, Timestamp: time.Now(), Data: map[string]any{}}
}

func TestPublishSubscribe(t *testing.T) {
	bus := newTestBus()

	var got atomic.Int32
	bus.Subscribe(domain.EventPlayerConnected, func(_ context.Context, e domain.GameEvent) {
		if e.Type == domain.EventPlayerConnected {
			got.Add(1)
		}
	})

	bus.Publish(context.Background(), newEvent(domain.EventPlayerConnected))
	bus.Publish(context.Background(), newEvent(domain.EventChatMessage))
	bus.Close() // drain
	if got.Load() != 1 {
		t.Fatalf("expected 1, got %d", got.Load())
	}
}

func TestSubscribeAll(t *testing.T) {
	bus := newTestBus()

	var got atomic.Int32
	bus.SubscribeAll(func(_ context.Context, _ domain.GameEvent) {
		got.Add(1)
	})

	bus.Publish(context.Background(), newEvent(domain.EventPlayerConnected))
	bus.Publish(context.Background(), newEvent(domain.EventLog))
	bus.Close()

	if got.Load() != 2 {
		t.Fatalf("expected 2, got %d", got.Load())
	}
}

func TestDeliveryOrderPerSubscriber(t *testing.T) {
	bus := newTestBus()

	var mu sync.Mutex
	var seen []int
	bus.SubscribeAll(func(_ context.Context, e domain.GameEvent) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, e.Data["seq"].(int))
	})

	for i := range 100 {
		bus.Publish(context.Background(), domain.GameEvent{Type: domain.EventChatMessage, Data: map[string]any{"seq": i}})
	}
	bus.Close()

	if len(seen) != 100 {
		t.Fatalf("delivered %d events, want 100", len(seen))
	}
	for i, v := range seen {
		if v != i {
			t.Fatalf("event %d delivered as %d", i, v)
		}
	}
}

func TestUnsubscribe(t *testing.T) {
	bus := newTestBus()

	var got atomic.Int32
	unsub := bus.Subscribe(domain.EventPlayerDeath, func(_ context.Context, _ domain.GameEvent) {
		got.Add(1)
	})
	bus.Publish(context.Background(), newEvent(domain.EventPlayerDeath))
	unsub()
	unsub()
	bus.Publish(context.Background(), newEvent(domain.EventPlayerDeath))
	bus.Close()

	if got.Load() != 1 {
		t.Fatalf("expected 1 after unsubscribe, got %d", got.Load())
	}
}

func TestPanickingHandlerKeepsDelivering(t *testing.T) {
	bus := newTestBus()

	var got atomic.Int32
	bus.SubscribeAll(func(_ context.Context, e domain.GameEvent) {
		if e.Type == domain.EventPlayerDeath {
			panic("handler bug")
		}
		got.Add(1)
	})

	bus.Publish(context.Background(), newEvent(domain.EventPlayerDeath))
	bus.Publish(context.Background(), newEvent(domain.EventPlayerConnected))
	bus.Close()

	if got.Load() != 1 {
		t.Fatalf("expected delivery after panic, got %d", got.Load())
	}
}

func TestPublishStampsTimestamp(t *testing.T) {
	bus := newTestBus()
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	bus.now = func() time.Time { return fixed }

	var got time.Time
	bus.SubscribeAll(func(_ context.Context, e domain.GameEvent) { got = e.Timestamp })
	bus.Publish(context.Background(), domain.GameEvent{Type: domain.EventLog})
	bus.Close()

	if !got.Equal(fixed) {
		t.Errorf("Timestamp = %v, want %v", got, fixed)
	}
}

func TestFullQueueDrops(t *testing.T) {
	bus := newTestBus(WithQueueSize(1))

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	var got atomic.Int32
	bus.SubscribeAll(func(_ context.Context, _ domain.GameEvent) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		got.Add(1)
	})

	bus.Publish(context.Background(), newEvent(domain.EventLog))
	<-started
	bus.Publish(context.Background(), newEvent(domain.EventLog)) // queued
	bus.Publish(context.Background(), newEvent(domain.EventLog)) // dropped
	close(release)
	bus.Close()

	if got.Load() != 2 {
		t.Fatalf("expected 2 delivered, got %d", got.Load())
	}
}

func TestPublishAfterClose(t *testing.T) {
	bus := newTestBus()

	var got atomic.Int32
	bus.SubscribeAll(func(_ context.Context, _ domain.GameEvent) { got.Add(1) })
	bus.Close()
	bus.Close()
	bus.Publish(context.Background(), newEvent(domain.EventLog))

	unsub := bus.SubscribeAll(func(_ context.Context, _ domain.GameEvent) { got.Add(1) })
	unsub()

	if got.Load() != 0 {
		t.Fatalf("expected no delivery after close, got %d", got.Load())
	}
}

func TestConcurrentPublishAndClose(t *testing.T) {
	bus := newTestBus()
	bus.SubscribeAll(func(context.Context, domain.GameEvent) {})

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				bus.Publish(context.Background(), newEvent(domain.EventChatMessage))
			}
		}()
	}
	bus.Close()
	wg.Wait()
}
