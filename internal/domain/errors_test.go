package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainErrorFormat(t *testing.T) {
	err := NewDomainError("Connection.Connect", ErrTransport, "dial wss://example.test")
	want := "Connection.Connect: dial wss://example.test: transport failure"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorFormatNoDetail(t *testing.T) {
	err := NewDomainError("Connection.Shutdown", ErrShutdown, "")
	want := "Connection.Shutdown: connection shut down"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorUnwrap(t *testing.T) {
	err := NewDomainError("Registry.HandleAction", ErrUnknownAction, "fly")
	if !errors.Is(err, ErrUnknownAction) {
		t.Error("errors.Is should match ErrUnknownAction")
	}
	var de *DomainError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "fly", de.Detail)
}

func TestWrapOp(t *testing.T) {
	assert.Nil(t, WrapOp("op", nil))

	err := WrapOp("Codec.Decode", ErrProtocol)
	assert.ErrorIs(t, err, ErrProtocol)
	assert.Equal(t, "Codec.Decode: protocol violation", err.Error())
}

func TestErrorCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"nil", nil, CodeUnknown},
		{"transport", fmt.Errorf("read: %w", ErrTransport), CodeTransport},
		{"protocol", NewDomainError("Decode", ErrProtocol, "missing type"), CodeProtocol},
		{"circuit beats handler", fmt.Errorf("giveItem: %w", ErrCircuitOpen), CodeCircuitOpen},
		{"plain handler", ErrHandler, CodeHandler},
		{"unrelated", errors.New("boom"), CodeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorCodeOf(tt.err))
		})
	}
}

func TestCircuitOpenIsHandlerError(t *testing.T) {
	assert.ErrorIs(t, ErrCircuitOpen, ErrHandler)
}

func TestIsTransportError(t *testing.T) {
	assert.True(t, IsTransportError(fmt.Errorf("write: %w", ErrTransport)))
	assert.False(t, IsTransportError(ErrProtocol))
}
