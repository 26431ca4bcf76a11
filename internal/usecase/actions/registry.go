// Package actions maps control-plane request actions onto host functions.
//
// A Registry is the bridge's domain.ActionHandler. Hosts register their
// game-specific actions on top of a small set of built-ins that need no
// game API:
//
//	reg := actions.New(actions.WithLogger(logger))
//	reg.Register("getPlayers", "List online players",
//	    func(ctx context.Context, _ json.RawMessage) (any, error) {
//	        return host.Players(ctx)
//	    },
//	)
package actions

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"gamebridge/internal/domain"
)

// Func executes one action. payload is the request payload as received,
// including the "action" key.
type Func func(ctx context.Context, payload json.RawMessage) (any, error)

// Descriptor describes a registered action.
type Descriptor struct {
	Name        string `json:"action"`
	Description string `json:"description"`
}

type entry struct {
	Descriptor
	fn      Func
	breaker *gobreaker.CircuitBreaker[any]
}

const defaultBreakerInterval = 60 * time.Second

// Registry dispatches actions by name. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	logger  *slog.Logger

	breakerEnabled bool
	maxFailures    uint32
	openTimeout    time.Duration
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used for breaker state changes.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// WithCircuitBreaker wraps every action registered afterwards in its own
// breaker. After maxFailures consecutive failures the action fails fast
// with domain.ErrCircuitOpen for openTimeout, then admits one probe.
func WithCircuitBreaker(maxFailures int, openTimeout time.Duration) Option {
	return func(r *Registry) {
		if maxFailures <= 0 || openTimeout <= 0 {
			return
		}
		r.breakerEnabled = true
		r.maxFailures = uint32(maxFailures)
		r.openTimeout = openTimeout
	}
}

// New creates a registry with the built-in actions registered.
func New(opts ...Option) *Registry {
	r := &Registry{
		entries: make(map[string]*entry),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.registerBuiltins()
	return r
}

var _ domain.ActionHandler = (*Registry)(nil)

// Register adds or replaces an action.
func (r *Registry) Register(name, description string, fn Func) error {
	if name == "" {
		return fmt.Errorf("actions: empty action name")
	}
	if fn == nil {
		return fmt.Errorf("actions: nil handler for %q", name)
	}

	e := &entry{Descriptor: Descriptor{Name: name, Description: description}, fn: fn}
	if r.breakerEnabled {
		e.breaker = r.newBreaker(name)
	}

	r.mu.Lock()
	_, replaced := r.entries[name]
	r.entries[name] = e
	r.mu.Unlock()

	r.logger.Debug("action registered", "action", name, "replaced", replaced)
	return nil
}

func (r *Registry) newBreaker(name string) *gobreaker.CircuitBreaker[any] {
	maxFailures := r.maxFailures
	logger := r.logger
	return gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "action:" + name,
		MaxRequests: 1,
		Interval:    defaultBreakerInterval,
		Timeout:     r.openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		// A caller giving up is not a host failure.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
}

// HandleAction implements domain.ActionHandler. Errors returned by the
// action itself are passed through unchanged.
func (r *Registry) HandleAction(ctx context.Context, action string, payload json.RawMessage) (any, error) {
	r.mu.RLock()
	e, ok := r.entries[action]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownAction, action)
	}
	if e.breaker == nil {
		return e.fn(ctx, payload)
	}

	result, err := e.breaker.Execute(func() (any, error) {
		return e.fn(ctx, payload)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("action %q: %w", action, domain.ErrCircuitOpen)
	}
	return result, err
}

// Actions lists registered actions sorted by name.
func (r *Registry) Actions() []Descriptor {
	r.mu.RLock()
	out := make([]Descriptor, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Descriptor)
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b Descriptor) int { return cmp.Compare(a.Name, b.Name) })
	return out
}

// Has reports whether action is registered.
func (r *Registry) Has(action string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[action]
	return ok
}
