package domain

import "context"

// Socket is one open, message-oriented connection to the control plane.
// Read must only be called from one goroutine; Write is serialized by the caller.
type Socket interface {
	// Read blocks until the next text frame arrives.
	Read(ctx context.Context) ([]byte, error)
	// Write sends one text frame.
	Write(ctx context.Context, data []byte) error
	// Close closes the socket with a human-readable reason.
	Close(reason string) error
}

// Dialer opens sockets.
type Dialer interface {
	Dial(ctx context.Context, url string) (Socket, error)
}
