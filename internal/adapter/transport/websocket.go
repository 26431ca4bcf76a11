// Package transport opens WebSocket connections to the control plane.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"nhooyr.io/websocket"

	"gamebridge/internal/domain"
)

// DefaultReadLimit bounds the size of a single inbound frame.
const DefaultReadLimit int64 = 4 << 20

// Dialer opens nhooyr.io/websocket client connections.
type Dialer struct {
	header    http.Header
	client    *http.Client
	readLimit int64
}

// Option configures a Dialer.
type Option func(*Dialer)

// WithHeader adds an HTTP header to the upgrade request.
func WithHeader(key, value string) Option {
	return func(d *Dialer) {
		if d.header == nil {
			d.header = http.Header{}
		}
		d.header.Add(key, value)
	}
}

// WithHTTPClient sets the HTTP client used for the upgrade request.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dialer) { d.client = c }
}

// WithReadLimit sets the maximum inbound frame size in bytes.
func WithReadLimit(n int64) Option {
	return func(d *Dialer) { d.readLimit = n }
}

// NewDialer creates a Dialer.
func NewDialer(opts ...Option) *Dialer {
	d := &Dialer{readLimit: DefaultReadLimit}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dial opens a socket to url. The context bounds the handshake only.
func (d *Dialer) Dial(ctx context.Context, url string) (domain.Socket, error) {
	ws, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPClient: d.client,
		HTTPHeader: d.header,
	})
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: status %d: %w: %v", url, resp.StatusCode, domain.ErrTransport, err)
		}
		return nil, fmt.Errorf("dial %s: %w: %v", url, domain.ErrTransport, err)
	}
	if d.readLimit > 0 {
		ws.SetReadLimit(d.readLimit)
	}
	return &Conn{ws: ws}, nil
}

// Conn adapts *websocket.Conn to domain.Socket.
type Conn struct {
	ws *websocket.Conn
}

// Read returns the next data frame. Binary frames are passed through as-is.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.ws.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("read: %w: %v", domain.ErrTransport, err)
	}
	return data, nil
}

// Write sends data as a text frame.
func (c *Conn) Write(ctx context.Context, data []byte) error {
	if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write: %w: %v", domain.ErrTransport, err)
	}
	return nil
}

// Close performs the closing handshake.
func (c *Conn) Close(reason string) error {
	err := c.ws.Close(websocket.StatusNormalClosure, reason)
	if err == nil || errors.Is(err, net.ErrClosed) {
		return nil
	}
	var ce websocket.CloseError
	if errors.As(err, &ce) {
		return nil
	}
	return fmt.Errorf("close: %w: %v", domain.ErrTransport, err)
}
