package push

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUsage marks errors the caller must fix before trying again.
	ErrUsage = errors.New("push: usage error")
	// ErrTransport marks delivery failures that are safe to retry.
	ErrTransport = errors.New("push: transport error")
)

// UsageError reports a caller or configuration mistake detected before any
// network I/O.
type UsageError struct {
	Transport string
	Message   string
}

func (e *UsageError) Error() string {
	if e.Transport == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Transport, e.Message)
}

func (e *UsageError) Is(target error) bool { return target == ErrUsage }

// NewUsageError creates a new UsageError.
func NewUsageError(transport, format string, args ...any) *UsageError {
	return &UsageError{Transport: transport, Message: fmt.Sprintf(format, args...)}
}

// TransportError reports that the backend could not be reached, answered with
// an unexpected status, or returned a body that breaks its contract.
type TransportError struct {
	Transport  string
	StatusCode int
	Body       []byte
	Message    string
	Err        error
}

func (e *TransportError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Transport, e.Message)
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// NewTransportError creates a TransportError for a response with the given status.
func NewTransportError(transport string, statusCode int, body []byte, message string) *TransportError {
	return &TransportError{Transport: transport, StatusCode: statusCode, Body: body, Message: message}
}

// NewUnreachableError creates a TransportError for a request that never got a response.
func NewUnreachableError(transport, message string, err error) *TransportError {
	return &TransportError{Transport: transport, Message: message, Err: err}
}

// TokenUnregisteredError is returned when the backend reports that the device
// token is no longer valid. Callers should remove the token from their store.
type TokenUnregisteredError struct {
	Token     string
	Transport string
	// UnregisteredAt is only provided by APNs.
	UnregisteredAt *time.Time
}

func (e *TokenUnregisteredError) Error() string {
	return fmt.Sprintf("Token is not registered with %s: %s", e.Transport, e.Token)
}

// NewTokenUnregisteredError creates a new TokenUnregisteredError.
func NewTokenUnregisteredError(token, transport string, unregisteredAt *time.Time) *TokenUnregisteredError {
	return &TokenUnregisteredError{Token: token, Transport: transport, UnregisteredAt: unregisteredAt}
}

// InternalError reports an upstream response that violates its own contract,
// such as an identity provider returning no usable access token.
type InternalError struct {
	Message string
	Err     error
}

func (e *InternalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *InternalError) Unwrap() error { return e.Err }

// NewInternalError creates a new InternalError.
func NewInternalError(message string, err error) *InternalError {
	return &InternalError{Message: message, Err: err}
}

// IsTokenUnregistered reports whether err carries a TokenUnregisteredError and returns it.
func IsTokenUnregistered(err error) (*TokenUnregisteredError, bool) {
	var unregistered *TokenUnregisteredError
	if errors.As(err, &unregistered) {
		return unregistered, true
	}
	return nil, false
}
