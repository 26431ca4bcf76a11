package wire

import (
	"encoding/json"
	"fmt"
)

// Request is an inbound RPC extracted from a request envelope.
type Request struct {
	RequestID string
	Action    string
	// Payload is the full request payload, action included.
	Payload json.RawMessage
}

type requestFields struct {
	RequestID string `json:"requestId"`
	Action    string `json:"action"`
}

// RequestOf extracts the request id and action. The id may sit at the top
// level of the envelope or inside the payload; the top level wins.
func RequestOf(e Envelope) (Request, error) {
	if e.Type != TypeRequest {
		return Request{}, fmt.Errorf("%w: %s is not a request", ErrDecode, e.Type)
	}
	var f requestFields
	if len(e.Payload) > 0 {
		if err := json.Unmarshal(e.Payload, &f); err != nil {
			return Request{}, fmt.Errorf("%w: request payload: %v", ErrDecode, err)
		}
	}
	id := e.RequestID
	if id == "" {
		id = f.RequestID
	}
	if id == "" {
		return Request{}, fmt.Errorf("%w: request without requestId", ErrDecode)
	}
	if f.Action == "" {
		return Request{RequestID: id}, fmt.Errorf("%w: request %s without action", ErrDecode, id)
	}
	return Request{RequestID: id, Action: f.Action, Payload: e.Payload}, nil
}

// DecodeArgs unmarshals the action arguments into v. The control plane sends
// them under "args", either as an object or as a JSON-encoded string; without
// "args" the payload itself is used.
func DecodeArgs(payload json.RawMessage, v any) error {
	var holder struct {
		Args json.RawMessage `json:"args"`
	}
	if len(payload) == 0 {
		return fmt.Errorf("%w: empty payload", ErrDecode)
	}
	if err := json.Unmarshal(payload, &holder); err != nil {
		return fmt.Errorf("%w: payload: %v", ErrDecode, err)
	}
	raw := holder.Args
	if len(raw) == 0 || string(raw) == "null" {
		raw = payload
	} else if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return fmt.Errorf("%w: args: %v", ErrDecode, err)
		}
		raw = json.RawMessage(s)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: args: %v", ErrDecode, err)
	}
	return nil
}
