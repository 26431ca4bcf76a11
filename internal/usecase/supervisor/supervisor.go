// Package supervisor owns one link.Connection per configured endpoint and
// fans game events out to them.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"gamebridge/internal/domain"
	"gamebridge/internal/usecase/link"
)

// Supervisor runs N independent connections, one of them primary. The
// connections share nothing but the action handler.
type Supervisor struct {
	conns   []*link.Connection // config order, primary included
	byName  map[string]*link.Connection
	primary *link.Connection
	logger  *slog.Logger

	mu       sync.Mutex
	started  bool
	shutdown bool
	unsub    []func()
}

// New validates endpoints and builds a disconnected connection for each.
// Exactly one endpoint must be primary and names must be unique.
func New(endpoints []domain.Endpoint, dialer domain.Dialer, handler domain.ActionHandler, opts link.Options) (*Supervisor, error) {
	if len(endpoints) == 0 {
		return nil, domain.NewDomainError("supervisor.New", domain.ErrInvalidCfg, "no endpoints")
	}
	if dialer == nil || handler == nil {
		return nil, domain.NewDomainError("supervisor.New", domain.ErrInvalidCfg, "dialer and handler are required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Supervisor{
		byName: make(map[string]*link.Connection, len(endpoints)),
		logger: logger,
	}
	for _, ep := range endpoints {
		if ep.Name == "" {
			return nil, domain.NewDomainError("supervisor.New", domain.ErrInvalidCfg, "endpoint without name")
		}
		if _, dup := s.byName[ep.Name]; dup {
			return nil, domain.NewDomainError("supervisor.New", domain.ErrInvalidCfg, fmt.Sprintf("duplicate endpoint %q", ep.Name))
		}
		conn := link.New(ep, dialer, handler, opts)
		if !ep.Secondary {
			if s.primary != nil {
				return nil, domain.NewDomainError("supervisor.New", domain.ErrInvalidCfg,
					fmt.Sprintf("endpoints %q and %q are both primary", s.primary.Endpoint().Name, ep.Name))
			}
			s.primary = conn
		}
		s.conns = append(s.conns, conn)
		s.byName[ep.Name] = conn
	}
	if s.primary == nil {
		return nil, domain.NewDomainError("supervisor.New", domain.ErrInvalidCfg, "no primary endpoint")
	}
	return s, nil
}

// Start connects every endpoint. Cancelling ctx shuts them all down.
// Connect errors are joined; endpoints that connected keep running.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return domain.NewDomainError("Supervisor.Start", domain.ErrShutdown, "")
	}
	if s.started {
		s.mu.Unlock()
		return domain.NewDomainError("Supervisor.Start", domain.ErrAlreadyConnecting, "")
	}
	s.started = true
	s.mu.Unlock()

	var errs []error
	for _, c := range s.conns {
		if err := c.Connect(ctx); err != nil {
			errs = append(errs, fmt.Errorf("endpoint %s: %w", c.Endpoint().Name, err))
		}
	}
	s.logger.Info("supervisor started", "endpoints", len(s.conns))
	return errors.Join(errs...)
}

// Attach forwards every event published on bus until Shutdown.
func (s *Supervisor) Attach(bus domain.EventBus) {
	unsub := bus.SubscribeAll(func(_ context.Context, e domain.GameEvent) {
		s.BroadcastEvent(e.Type, e.Data)
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown {
		unsub()
		return
	}
	s.unsub = append(s.unsub, unsub)
}

// BroadcastEvent emits the event on every endpoint whose filter allows it.
// Endpoints that are not identified drop it.
func (s *Supervisor) BroadcastEvent(eventType domain.EventType, data map[string]any) {
	for _, c := range s.conns {
		if c.Endpoint().Allows(eventType) {
			c.Emit(eventType, data)
		}
	}
}

// Shutdown shuts every connection down. It is idempotent.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return
	}
	s.shutdown = true
	unsub := s.unsub
	s.unsub = nil
	s.mu.Unlock()

	for _, u := range unsub {
		u()
	}
	var wg sync.WaitGroup
	for _, c := range s.conns {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Shutdown()
		}()
	}
	wg.Wait()
	s.logger.Info("supervisor stopped")
}

// Status returns one snapshot per endpoint in configuration order.
func (s *Supervisor) Status() []link.Snapshot {
	out := make([]link.Snapshot, 0, len(s.conns))
	for _, c := range s.conns {
		out = append(out, c.Snapshot())
	}
	return out
}

// Primary returns the primary connection.
func (s *Supervisor) Primary() *link.Connection { return s.primary }

// Connection looks up a connection by endpoint name.
func (s *Supervisor) Connection(name string) (*link.Connection, error) {
	c, ok := s.byName[name]
	if !ok {
		return nil, domain.NewDomainError("Supervisor.Connection", domain.ErrEndpointNotFound, name)
	}
	return c, nil
}

// LogStatus writes one line per endpoint. It backs the status_report task.
func (s *Supervisor) LogStatus(context.Context) error {
	for _, snap := range s.Status() {
		s.logger.Info("endpoint status",
			"endpoint", snap.Endpoint,
			"role", snap.Role,
			"state", snap.State.String(),
			"identified", snap.Identified,
			"attempts", snap.Attempts,
			"session", snap.SessionID,
		)
	}
	return nil
}

// Ready reports whether the primary connection is identified.
func (s *Supervisor) Ready() bool { return s.primary.Identified() }
