// Package domain contains the core types of the Kinesis Video ingest client.
package domain

import (
	"errors"
	"fmt"
)

// Client errors. Every error returned by the ingest and archive clients
// matches exactly one of these with errors.Is.
var (
	// ErrConfiguration indicates missing or invalid credentials, stream name or
	// client settings. It is returned before any network call.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrEndpointUnavailable indicates the control plane failed to return a
	// data endpoint.
	ErrEndpointUnavailable = errors.New("endpoint unavailable")

	// ErrMalformedEndpoint indicates a data endpoint that is not an https URL
	// with a region label.
	ErrMalformedEndpoint = errors.New("malformed endpoint")

	// ErrInitialisationFailed indicates stream provisioning failed for a
	// reason other than the stream already existing.
	ErrInitialisationFailed = errors.New("initialisation failed")

	// ErrTransport indicates a connection, timeout, write or status failure
	// while streaming media.
	ErrTransport = errors.New("transport error")

	// ErrQuery indicates a fragment listing failure.
	ErrQuery = errors.New("fragment query failed")

	// ErrInvalidState indicates an operation called in the wrong client state.
	ErrInvalidState = errors.New("invalid client state")

	// ErrStreamBusy indicates another upload holds the stream's upload lock.
	ErrStreamBusy = errors.New("stream is busy")
)

// OpError wraps a client error with the operation and endpoint it concerns.
type OpError struct {
	// Op is the operation that failed (e.g., "PutMedia").
	Op string

	// Endpoint is the endpoint the operation targeted, if known.
	Endpoint string

	// Kind is one of the package sentinel errors.
	Kind error

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *OpError) Error() string {
	msg := e.Op + ": " + e.Kind.Error()
	if e.Endpoint != "" {
		msg += " (" + e.Endpoint + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns both the sentinel kind and the cause for errors.Is/errors.As.
func (e *OpError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewOpError creates a new OpError.
func NewOpError(op string, kind error, endpoint string, err error) *OpError {
	return &OpError{
		Op:       op,
		Endpoint: endpoint,
		Kind:     kind,
		Err:      err,
	}
}

// Errorf creates an OpError whose cause is a formatted message.
func Errorf(op string, kind error, format string, args ...any) *OpError {
	return &OpError{
		Op:   op,
		Kind: kind,
		Err:  fmt.Errorf(format, args...),
	}
}
