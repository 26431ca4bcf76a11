package domain

import (
	"errors"
	"fmt"
)

// Category sentinels. Every failure in the bridge maps onto one of these.
var (
	ErrTransport  = fmt.Errorf("transport failure")
	ErrProtocol   = fmt.Errorf("protocol violation")
	ErrIdentify   = fmt.Errorf("identify rejected")
	ErrHandler    = fmt.Errorf("action handler failed")
	ErrInvalidCfg = fmt.Errorf("invalid configuration")
)

// Sentinel errors for the domain layer.
var (
	ErrUnknownAction     = fmt.Errorf("unknown action")
	ErrShutdown          = fmt.Errorf("connection shut down")
	ErrAlreadyConnecting = fmt.Errorf("connection already active")
	ErrNotIdentified     = fmt.Errorf("connection not identified")
	ErrSendQueueFull     = fmt.Errorf("send queue full")
	ErrCircuitOpen       = fmt.Errorf("%w: circuit open", ErrHandler)
	ErrConfigLoad        = fmt.Errorf("failed to load configuration")
	ErrDecryption        = fmt.Errorf("decryption failed")
	ErrEncryption        = fmt.Errorf("encryption operation failed")
	ErrEndpointNotFound  = fmt.Errorf("endpoint not found")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "Connection.Connect")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ErrorCode is a machine-parseable error category for log attributes.
type ErrorCode string

const (
	CodeUnknown          ErrorCode = "UNKNOWN"
	CodeTransport        ErrorCode = "TRANSPORT"
	CodeProtocol         ErrorCode = "PROTOCOL"
	CodeIdentify         ErrorCode = "IDENTIFY"
	CodeHandler          ErrorCode = "HANDLER"
	CodeInvalidConfig    ErrorCode = "INVALID_CONFIG"
	CodeUnknownAction    ErrorCode = "UNKNOWN_ACTION"
	CodeShutdown         ErrorCode = "SHUTDOWN"
	CodeAlreadyActive    ErrorCode = "ALREADY_ACTIVE"
	CodeNotIdentified    ErrorCode = "NOT_IDENTIFIED"
	CodeSendQueueFull    ErrorCode = "SEND_QUEUE_FULL"
	CodeCircuitOpen      ErrorCode = "CIRCUIT_OPEN"
	CodeConfigLoad       ErrorCode = "CONFIG_LOAD"
	CodeDecryption       ErrorCode = "DECRYPTION"
	CodeEncryption       ErrorCode = "ENCRYPTION"
	CodeEndpointNotFound ErrorCode = "ENDPOINT_NOT_FOUND"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
// Specific sentinels are checked before the categories they wrap.
var errorCodeMap = []struct {
	err  error
	code ErrorCode
}{
	{ErrCircuitOpen, CodeCircuitOpen},
	{ErrUnknownAction, CodeUnknownAction},
	{ErrShutdown, CodeShutdown},
	{ErrAlreadyConnecting, CodeAlreadyActive},
	{ErrNotIdentified, CodeNotIdentified},
	{ErrSendQueueFull, CodeSendQueueFull},
	{ErrConfigLoad, CodeConfigLoad},
	{ErrDecryption, CodeDecryption},
	{ErrEncryption, CodeEncryption},
	{ErrEndpointNotFound, CodeEndpointNotFound},
	{ErrTransport, CodeTransport},
	{ErrProtocol, CodeProtocol},
	{ErrIdentify, CodeIdentify},
	{ErrHandler, CodeHandler},
	{ErrInvalidCfg, CodeInvalidConfig},
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}
	for _, entry := range errorCodeMap {
		if errors.Is(err, entry.err) {
			return entry.code
		}
	}
	return CodeUnknown
}

// IsTransportError reports whether err should be handled by reconnecting.
func IsTransportError(err error) bool {
	return errors.Is(err, ErrTransport)
}
