package domain

import (
	"context"
	"time"
)

// EventType is the semantic name of a game event as the control plane knows it.
type EventType string

const (
	EventChatMessage        EventType = "chat-message"
	EventPlayerConnected    EventType = "player-connected"
	EventPlayerDisconnected EventType = "player-disconnected"
	EventPlayerDeath        EventType = "player-death"
	EventLog                EventType = "log"
)

// GameEvent is a notification raised by the game host.
type GameEvent struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// GameEventHandler is a callback invoked when a game event is received.
type GameEventHandler func(ctx context.Context, event GameEvent)

// EventBus carries game events from the host callbacks to the bridge.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(ctx context.Context, event GameEvent)
	// Subscribe registers a handler for a specific event type.
	// Returns an unsubscribe function.
	Subscribe(eventType EventType, handler GameEventHandler) func()
	// SubscribeAll registers a handler that receives every event.
	// Returns an unsubscribe function.
	SubscribeAll(handler GameEventHandler) func()
	// Close drains in-flight handlers and prevents new publishes.
	Close()
}
