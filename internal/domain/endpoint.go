package domain

import (
	"context"
	"encoding/json"
	"slices"
)

// Endpoint is one configured control-plane destination.
// It is built once at startup and never mutated.
type Endpoint struct {
	Name              string
	URL               string
	IdentityToken     string
	RegistrationToken string
	// Secondary marks a non-primary channel (e.g. a dev control plane).
	Secondary bool
	// ErrorIsFatal closes the socket and reconnects when the server sends an
	// error envelope. When false the error is only logged.
	ErrorIsFatal bool
	// IdentifyErrorIsFatal closes the socket and reconnects when identify is
	// rejected. When false the connection stays in Identifying.
	IdentifyErrorIsFatal bool
	// AllowedEvents restricts forwarded event types. Empty means all.
	AllowedEvents []EventType
	// DeniedEvents is checked after AllowedEvents.
	DeniedEvents []EventType
}

// Allows reports whether events of type t may cross this endpoint.
func (e Endpoint) Allows(t EventType) bool {
	if len(e.AllowedEvents) > 0 && !slices.Contains(e.AllowedEvents, t) {
		return false
	}
	return !slices.Contains(e.DeniedEvents, t)
}

// Role is a short label for logs.
func (e Endpoint) Role() string {
	if e.Secondary {
		return "secondary"
	}
	return "primary"
}

// ActionHandler executes one control-plane request against the game host.
// Implementations must be safe for concurrent use: every connection
// dispatches requests independently.
type ActionHandler interface {
	HandleAction(ctx context.Context, action string, payload json.RawMessage) (any, error)
}

// ActionHandlerFunc adapts a function to ActionHandler.
type ActionHandlerFunc func(ctx context.Context, action string, payload json.RawMessage) (any, error)

// HandleAction calls f.
func (f ActionHandlerFunc) HandleAction(ctx context.Context, action string, payload json.RawMessage) (any, error) {
	return f(ctx, action, payload)
}
