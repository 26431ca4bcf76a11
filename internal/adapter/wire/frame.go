// Package wire implements the JSON envelope exchanged with the control plane.
//
// Every WebSocket text frame carries one Envelope: a "type" discriminator, an
// optional top-level "requestId" and a type-specific "payload" object.
package wire

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gamebridge/internal/domain"
)

// Type identifies the kind of envelope sent over the WebSocket connection.
type Type string

const (
	TypeIdentify         Type = "identify"
	TypeIdentifyResponse Type = "identifyResponse"
	TypeConnected        Type = "connected"
	TypeRequest          Type = "request"
	TypeResponse         Type = "response"
	TypeGameEvent        Type = "gameEvent"
	TypePing             Type = "ping"
	TypePong             Type = "pong"
	TypeError            Type = "error"
)

// ErrDecode is returned for frames that are not a JSON object with a type.
var ErrDecode = fmt.Errorf("decode envelope: %w", domain.ErrProtocol)

// Envelope is the message exchanged between bridge and control plane.
type Envelope struct {
	Type      Type            `json:"type"`
	RequestID string          `json:"requestId,omitempty"` // request/response correlation ID
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Encode serializes e into a single text frame.
func Encode(e Envelope) ([]byte, error) {
	if e.Type == "" {
		return nil, fmt.Errorf("encode envelope: missing type: %w", domain.ErrProtocol)
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode envelope %s: %w", e.Type, err)
	}
	return data, nil
}

// Decode parses a text frame. It fails with ErrDecode when data is not a
// well-formed JSON object or has no type.
func Decode(data []byte) (Envelope, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Envelope{}, fmt.Errorf("%w: not a JSON object", ErrDecode)
	}
	var e Envelope
	if err := json.Unmarshal(trimmed, &e); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if e.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrDecode)
	}
	return e, nil
}

// IdentifyPayload is sent right after the socket opens.
type IdentifyPayload struct {
	IdentityToken     string `json:"identityToken"`
	RegistrationToken string `json:"registrationToken,omitempty"`
}

// IdentifyResponsePayload is the server's verdict on identify.
type IdentifyResponsePayload struct {
	Error json.RawMessage `json:"error,omitempty"`
}

// Failed reports whether the server rejected the identify.
func (p IdentifyResponsePayload) Failed() bool {
	return len(p.Error) > 0 && string(p.Error) != "null"
}

// GameEventPayload wraps one game event. Type is the semantic event name,
// distinct from the outer envelope type.
type GameEventPayload struct {
	Type domain.EventType `json:"type"`
	Data map[string]any   `json:"data"`
}

// ErrorPayload is the body of a failed response.
type ErrorPayload struct {
	Error string `json:"error"`
}

// NewIdentify builds the identify envelope.
func NewIdentify(identityToken, registrationToken string) (Envelope, error) {
	return withPayload(TypeIdentify, "", IdentifyPayload{
		IdentityToken:     identityToken,
		RegistrationToken: registrationToken,
	})
}

// NewPong builds the answer to a ping.
func NewPong() Envelope {
	return Envelope{Type: TypePong}
}

// NewGameEvent builds a gameEvent envelope.
func NewGameEvent(eventType domain.EventType, data map[string]any) (Envelope, error) {
	if data == nil {
		data = map[string]any{}
	}
	return withPayload(TypeGameEvent, "", GameEventPayload{Type: eventType, Data: data})
}

// NewResponse builds the response to requestID carrying result.
func NewResponse(requestID string, result any) (Envelope, error) {
	return withPayload(TypeResponse, requestID, result)
}

// NewErrorResponse builds a response whose payload describes err.
func NewErrorResponse(requestID string, err error) Envelope {
	e, encErr := withPayload(TypeResponse, requestID, ErrorPayload{Error: err.Error()})
	if encErr != nil {
		// ErrorPayload always marshals; keep the correlation id regardless.
		return Envelope{Type: TypeResponse, RequestID: requestID, Payload: json.RawMessage(`{"error":"internal error"}`)}
	}
	return e
}

func withPayload(t Type, requestID string, v any) (Envelope, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return Envelope{Type: t, RequestID: requestID, Payload: payload}, nil
}

// IdentifyResponseOf extracts the identify verdict. An absent payload means success.
func IdentifyResponseOf(e Envelope) (IdentifyResponsePayload, error) {
	var p IdentifyResponsePayload
	if len(e.Payload) == 0 || string(e.Payload) == "null" {
		return p, nil
	}
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return p, fmt.Errorf("%w: identifyResponse payload: %v", ErrDecode, err)
	}
	return p, nil
}

// GameEventOf extracts the payload of a gameEvent envelope.
func GameEventOf(e Envelope) (GameEventPayload, error) {
	var p GameEventPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return p, fmt.Errorf("%w: gameEvent payload: %v", ErrDecode, err)
	}
	return p, nil
}
