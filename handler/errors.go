package handler

import (
	"errors"
	"fmt"
)

// TransportError reports a failed provider exchange: a non-2xx HTTP
// response or a connection-level failure (StatusCode 0).
type TransportError struct {
	StatusCode int
	Reason     string
	err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider returned %d: %s", e.StatusCode, e.Reason)
	}
	return e.err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.err
}

// NewTransportError wraps a provider exchange failure.
func NewTransportError(statusCode int, reason string, err error) error {
	return &TransportError{StatusCode: statusCode, Reason: reason, err: err}
}

// AsTransport extracts a TransportError from an error chain.
func AsTransport(err error) (*TransportError, bool) {
	var te *TransportError
	ok := errors.As(err, &te)
	return te, ok
}
