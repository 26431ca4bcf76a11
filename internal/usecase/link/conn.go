// Package link maintains one supervised WebSocket connection to a control
// plane endpoint: dial, identify, reconnect with backoff, answer pings,
// dispatch inbound requests and emit outbound game events.
package link

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"gamebridge/internal/adapter/wire"
	"gamebridge/internal/domain"
)

// Component is the value of the "component" log attribute on every logger
// derived by this package. The log forwarder uses it to avoid feedback loops.
const Component = "link"

// State is the lifecycle phase of a Connection.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateIdentifying
	StateReady
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateIdentifying:
		return "identifying"
	case StateReady:
		return "ready"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Options tunes a Connection. Zero values are replaced by defaults.
type Options struct {
	Backoff       Backoff
	SendQueueSize int
	WriteTimeout  time.Duration
	DialTimeout   time.Duration
	Logger        *slog.Logger
	// OnStateChange is called outside the connection lock after every
	// transition. It may be called from several goroutines.
	OnStateChange func(endpoint string, from, to State)
}

const (
	defaultSendQueueSize = 64
	defaultWriteTimeout  = 10 * time.Second
	defaultDialTimeout   = 15 * time.Second
)

func (o Options) withDefaults() Options {
	if o.Backoff.Base <= 0 {
		o.Backoff = DefaultBackoff()
	}
	if o.SendQueueSize <= 0 {
		o.SendQueueSize = defaultSendQueueSize
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultWriteTimeout
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = defaultDialTimeout
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Snapshot is a point-in-time view of a Connection.
type Snapshot struct {
	Endpoint   string
	Role       string
	State      State
	Identified bool
	Attempts   int
	SessionID  string
}

type stateChange struct {
	from, to State
}

// Connection is one supervised link to one endpoint. All methods are safe for
// concurrent use. Once Shutdown is called the Connection is inert for good.
type Connection struct {
	endpoint domain.Endpoint
	dialer   domain.Dialer
	router   *Router
	opts     Options
	logger   *slog.Logger

	mu         sync.Mutex
	state      State
	identified bool
	attempts   int
	shutdown   bool
	gen        uint64 // bumped per dial and on shutdown; stale dials and timers compare against it
	timer      *time.Timer
	sess       *session
	parent     context.Context
	stopParent func() bool
	pending    []stateChange
}

// New creates a disconnected Connection. Requests are answered by handler.
func New(ep domain.Endpoint, dialer domain.Dialer, handler domain.ActionHandler, opts Options) *Connection {
	opts = opts.withDefaults()
	logger := opts.Logger.With("component", Component, "endpoint", ep.Name, "role", ep.Role())
	return &Connection{
		endpoint: ep,
		dialer:   dialer,
		router:   NewRouter(handler, ep.Name, logger),
		opts:     opts,
		logger:   logger,
		state:    StateDisconnected,
	}
}

// Connect starts dialing in the background. It fails with domain.ErrShutdown
// after Shutdown and with domain.ErrAlreadyConnecting unless Disconnected.
// Cancelling ctx shuts the connection down.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		return domain.NewDomainError("Connection.Connect", domain.ErrShutdown, c.endpoint.Name)
	}
	if c.state != StateDisconnected {
		state := c.state
		c.mu.Unlock()
		return domain.NewDomainError("Connection.Connect", domain.ErrAlreadyConnecting, state.String())
	}
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.stopParent != nil {
		c.stopParent()
	}
	c.parent = ctx
	c.stopParent = context.AfterFunc(ctx, c.Shutdown)
	c.startLocked()
	c.unlock()
	return nil
}

// startLocked moves to Connecting and dials on a new goroutine.
func (c *Connection) startLocked() {
	c.gen++
	c.setStateLocked(StateConnecting)
	go c.dial(c.parent, c.gen)
}

func (c *Connection) dial(parent context.Context, gen uint64) {
	ctx, cancel := context.WithTimeout(parent, c.opts.DialTimeout)
	sock, err := c.dialer.Dial(ctx, c.endpoint.URL)
	cancel()

	c.mu.Lock()
	if c.shutdown || gen != c.gen {
		c.mu.Unlock()
		if err == nil {
			_ = sock.Close("connection shut down")
		}
		return
	}
	if err != nil {
		c.logger.Warn("dial failed", "error", err, "attempt", c.attempts+1)
		c.setStateLocked(StateDisconnected)
		c.scheduleReconnectLocked()
		c.unlock()
		return
	}

	identify, err := encodeIdentify(c.endpoint)
	if err != nil {
		c.mu.Unlock()
		_ = sock.Close("internal error")
		c.logger.Error("encode identify", "error", err)
		return
	}
	s := newSession(sock, c.opts.SendQueueSize)
	c.sess = s
	s.enqueue(identify)
	c.setStateLocked(StateIdentifying)
	c.logger.Info("connected, identifying", "session", s.id)
	c.unlock()

	go c.writeLoop(s)
	go c.readLoop(s)
}

func encodeIdentify(ep domain.Endpoint) ([]byte, error) {
	env, err := wire.NewIdentify(ep.IdentityToken, ep.RegistrationToken)
	if err != nil {
		return nil, err
	}
	return wire.Encode(env)
}

func (c *Connection) scheduleReconnectLocked() {
	c.attempts++
	delay := c.opts.Backoff.Next(c.attempts)
	gen := c.gen
	c.logger.Info("reconnect scheduled", "attempt", c.attempts, "delay", delay)
	c.timer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		if c.shutdown || gen != c.gen || c.state != StateDisconnected {
			c.mu.Unlock()
			return
		}
		c.timer = nil
		c.startLocked()
		c.unlock()
	})
}

// closeSession tears down s if it is still current and schedules a reconnect.
func (c *Connection) closeSession(s *session, cause error) {
	c.mu.Lock()
	if c.sess != s {
		c.mu.Unlock()
		return
	}
	c.sess = nil
	c.identified = false
	c.setStateLocked(StateDisconnected)
	if !c.shutdown {
		c.logger.Warn("connection lost", "session", s.id, "error", cause, "error_code", domain.ErrorCodeOf(cause))
		c.scheduleReconnectLocked()
	}
	c.unlock()
	s.close("reconnecting")
}

func (c *Connection) readLoop(s *session) {
	for {
		data, err := s.sock.Read(s.ctx)
		if err != nil {
			c.closeSession(s, err)
			return
		}
		c.handleFrame(s, data)
	}
}

func (c *Connection) writeLoop(s *session) {
	for {
		select {
		case <-s.done:
			return
		case data := <-s.sendCh:
			ctx, cancel := context.WithTimeout(s.ctx, c.opts.WriteTimeout)
			err := s.sock.Write(ctx, data)
			cancel()
			if err != nil {
				c.closeSession(s, err)
				return
			}
		}
	}
}

func (c *Connection) handleFrame(s *session, data []byte) {
	env, err := wire.Decode(data)
	if err != nil {
		c.logger.Warn("dropping malformed frame", "session", s.id, "error", err)
		return
	}
	switch env.Type {
	case wire.TypeIdentifyResponse:
		c.handleIdentifyResponse(s, env)
	case wire.TypeConnected:
		c.logger.Info("control plane acknowledged connection", "session", s.id)
	case wire.TypePing:
		c.sendEnvelope(s, wire.NewPong())
	case wire.TypeError:
		c.handleServerError(s, env)
	case wire.TypeRequest:
		c.handleRequest(s, env)
	default:
		c.logger.Debug("ignoring frame", "session", s.id, "type", env.Type)
	}
}

func (c *Connection) handleIdentifyResponse(s *session, env wire.Envelope) {
	verdict, err := wire.IdentifyResponseOf(env)
	if err != nil {
		c.logger.Warn("dropping identify response", "session", s.id, "error", err)
		return
	}

	c.mu.Lock()
	if c.sess != s {
		c.mu.Unlock()
		return
	}
	if verdict.Failed() {
		fatal := c.endpoint.IdentifyErrorIsFatal
		c.mu.Unlock()
		c.logger.Error("identify rejected", "session", s.id, "reason", string(verdict.Error), "fatal", fatal)
		if fatal {
			c.closeSession(s, fmt.Errorf("%w: %s", domain.ErrIdentify, verdict.Error))
		}
		return
	}
	if c.state != StateIdentifying {
		c.mu.Unlock()
		return
	}
	c.identified = true
	c.attempts = 0
	c.setStateLocked(StateReady)
	c.logger.Info("identified", "session", s.id)
	c.unlock()
}

func (c *Connection) handleServerError(s *session, env wire.Envelope) {
	detail := errorDetail(env.Payload)
	if !c.endpoint.ErrorIsFatal {
		c.logger.Warn("control plane error", "session", s.id, "detail", detail)
		return
	}
	c.logger.Error("control plane error, reconnecting", "session", s.id, "detail", detail)
	c.closeSession(s, fmt.Errorf("%w: server error: %s", domain.ErrProtocol, detail))
}

func errorDetail(payload json.RawMessage) string {
	var p struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(payload, &p); err == nil {
		if p.Message != "" {
			return p.Message
		}
		var s string
		if json.Unmarshal(p.Error, &s) == nil && s != "" {
			return s
		}
	}
	return string(payload)
}

func (c *Connection) handleRequest(s *session, env wire.Envelope) {
	req, err := wire.RequestOf(env)
	if err != nil {
		if req.RequestID == "" {
			c.logger.Warn("dropping request without id", "session", s.id, "error", err)
			return
		}
		c.sendEnvelope(s, wire.NewErrorResponse(req.RequestID, err))
		return
	}

	c.mu.Lock()
	ready := c.sess == s && c.state == StateReady
	c.mu.Unlock()
	if !ready {
		c.sendEnvelope(s, wire.NewErrorResponse(req.RequestID, domain.ErrNotIdentified))
		return
	}

	go func() {
		c.sendEnvelope(s, c.router.Handle(s.ctx, req))
	}()
}

// sendEnvelope queues env on s, waiting while the queue is full. It gives up
// when the session closes.
func (c *Connection) sendEnvelope(s *session, env wire.Envelope) {
	data, err := wire.Encode(env)
	if err != nil {
		c.logger.Error("encode frame", "session", s.id, "type", env.Type, "error", err)
		return
	}
	if err := s.send(data); err != nil {
		c.logger.Debug("frame not sent", "session", s.id, "type", env.Type, "request_id", env.RequestID, "error", err)
	}
}

// Emit forwards a game event. It is a no-op unless the connection is
// identified and never waits on the network: a full send queue drops the
// event.
func (c *Connection) Emit(eventType domain.EventType, data map[string]any) {
	c.mu.Lock()
	s := c.sess
	ok := c.identified && s != nil
	c.mu.Unlock()
	if !ok {
		return
	}

	env, err := wire.NewGameEvent(eventType, data)
	if err == nil {
		var frame []byte
		if frame, err = wire.Encode(env); err == nil {
			if !s.enqueue(frame) {
				c.logger.Warn("send queue full, dropping event", "session", s.id, "event", eventType)
			}
			return
		}
	}
	c.logger.Warn("dropping unencodable event", "event", eventType, "error", err)
}

// Shutdown stops reconnecting, closes the socket and makes the Connection
// inert. It is idempotent.
func (c *Connection) Shutdown() {
	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		return
	}
	c.shutdown = true
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	s := c.sess
	c.sess = nil
	c.identified = false
	c.setStateLocked(StateDisconnected)
	stop := c.stopParent
	c.stopParent = nil
	c.unlock()

	if stop != nil {
		stop()
	}
	if s != nil {
		s.close("bridge shutting down")
	}
	c.logger.Info("connection shut down")
}

// State returns the current lifecycle phase.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Identified reports whether the current socket completed identify.
func (c *Connection) Identified() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identified
}

// Attempts is the number of reconnects scheduled since the last successful identify.
func (c *Connection) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Endpoint returns the endpoint this connection serves.
func (c *Connection) Endpoint() domain.Endpoint { return c.endpoint }

// Snapshot returns a consistent view of the connection.
func (c *Connection) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := Snapshot{
		Endpoint:   c.endpoint.Name,
		Role:       c.endpoint.Role(),
		State:      c.state,
		Identified: c.identified,
		Attempts:   c.attempts,
	}
	if c.sess != nil {
		snap.SessionID = c.sess.id
	}
	return snap
}

func (c *Connection) setStateLocked(to State) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	c.pending = append(c.pending, stateChange{from: from, to: to})
}

// unlock releases mu and then reports queued state changes.
func (c *Connection) unlock() {
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()
	for _, ch := range pending {
		c.logger.Debug("state change", "from", ch.from, "to", ch.to)
		if c.opts.OnStateChange != nil {
			c.opts.OnStateChange(c.endpoint.Name, ch.from, ch.to)
		}
	}
}

var errSessionClosed = errors.New("session closed")

// session is one open socket with its writer queue.
type session struct {
	id     string
	sock   domain.Socket
	sendCh chan []byte
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

func newSession(sock domain.Socket, queue int) *session {
	ctx, cancel := context.WithCancel(context.Background())
	return &session{
		id:     ulid.Make().String(),
		sock:   sock,
		sendCh: make(chan []byte, queue),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
}

// enqueue queues data without waiting. It reports false when the queue is full
// or the session is closed.
func (s *session) enqueue(data []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.sendCh <- data:
		return true
	default:
		return false
	}
}

func (s *session) send(data []byte) error {
	select {
	case s.sendCh <- data:
		return nil
	case <-s.done:
		return errSessionClosed
	}
}

// close stops the writer and closes the socket. The close handshake runs in
// the background because it waits for the peer.
func (s *session) close(reason string) {
	s.once.Do(func() {
		close(s.done)
		go func() {
			_ = s.sock.Close(reason)
			s.cancel()
		}()
	})
}
