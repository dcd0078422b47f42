package unifi

import (
	"errors"
	"fmt"
)

// ErrNotConnected is returned when a directory or control operation is
// invoked before a successful Connect. This always indicates a caller
// sequencing defect, never a network condition.
var ErrNotConnected = errors.New("unifi: not connected (call Connect first)")

// ErrStationNotFound is returned by StationByMAC when the requested MAC
// is absent from the latest enumeration.
var ErrStationNotFound = errors.New("unifi: station not found")

// ConnectError wraps any failure during Connect: network unreachable,
// TLS failure, or authentication rejected. Connection failure is an
// expected outcome callers branch on, so it is always delivered as a
// value rather than a panic, and no session remains open behind it.
type ConnectError struct {
	Host string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("unifi: connect to %s failed: %v", e.Host, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// APIError reports a non-success HTTP status from the controller for an
// in-session request. It carries the status code and endpoint for
// diagnosis; the toolkit performs no retries on it.
type APIError struct {
	Status   int
	Endpoint string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("unifi: %s returned status %d", e.Endpoint, e.Status)
}

// DecodeError reports a response body that could not be parsed into the
// expected shape. This is a controller-side contract violation and is
// not retried.
type DecodeError struct {
	Endpoint string
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("unifi: decode response from %s: %v", e.Endpoint, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
