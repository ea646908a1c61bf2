// Package errors defines the error taxonomy shared by the mDNS packages.
//
// Three structured types cover the three origins of failure:
//   - ValidationError: caller misuse, returned synchronously, no state change
//   - WireFormatError: malformed or oversized wire data, never surfaced to peers
//   - NetworkError: transport failures
//
// Sentinels cover conditions callers branch on with errors.Is.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	// ErrInvalidArgument is returned for malformed caller input.
	ErrInvalidArgument = errors.New("mdns: invalid argument")

	// ErrDuplicateService is returned when a (service, proto) pair is already registered.
	ErrDuplicateService = errors.New("mdns: service already registered")

	// ErrServiceNotFound is returned when a (service, proto) pair is not registered.
	ErrServiceNotFound = errors.New("mdns: service not found")

	// ErrNotRunning is returned by operations issued before start or after close.
	ErrNotRunning = errors.New("mdns: server not running")

	// ErrQueueFull is returned when the action queue cannot accept more work.
	ErrQueueFull = errors.New("mdns: action queue full")

	// ErrNotFound is returned by single-answer queries that saw no answer.
	ErrNotFound = errors.New("mdns: no answer")

	// ErrNoHostname is returned when an operation needs a host name and none is set.
	ErrNoHostname = errors.New("mdns: hostname not set")

	// ErrPacketTooLarge is returned when a write would exceed the maximum message size.
	ErrPacketTooLarge = errors.New("mdns: packet exceeds maximum size")

	// ErrForeignDomain is returned when a decoded name is outside .local and .arpa.
	ErrForeignDomain = errors.New("mdns: name outside local domain")
)

// ValidationError reports invalid caller input.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("mdns: invalid %s %v: %s", e.Field, e.Value, e.Message)
}

// Unwrap lets errors.Is match ErrInvalidArgument.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidArgument
}

// WireFormatError reports malformed wire data at a given offset.
type WireFormatError struct {
	Operation string
	Offset    int
	Message   string
}

func (e *WireFormatError) Error() string {
	return fmt.Sprintf("mdns: %s at offset %d: %s", e.Operation, e.Offset, e.Message)
}

// NetworkError reports a transport failure.
type NetworkError struct {
	Operation string
	Err       error
	Details   string
}

func (e *NetworkError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("mdns: %s: %v (%s)", e.Operation, e.Err, e.Details)
	}
	return fmt.Sprintf("mdns: %s: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error.
func (e *NetworkError) Unwrap() error {
	return e.Err
}
