package registry

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Common errors returned by the registry client.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")
)

// FaultClass classifies a failed registry call.
type FaultClass string

const (
	// FaultService represents a transient registry-side fault (5xx).
	FaultService FaultClass = "service"

	// FaultTimeout represents an operation timeout or network fault.
	FaultTimeout FaultClass = "timeout"

	// FaultPermanent represents a non-retryable fault (4xx, bad payload).
	FaultPermanent FaultClass = "permanent"
)

// Error represents a registry fault with its classification.
type Error struct {
	StatusCode int
	Fault      FaultClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("registry %s fault (status %d): %s: %v",
			e.Fault, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("registry %s fault (status %d): %s",
		e.Fault, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is a registry fault worth retrying.
// Only transient service faults and timeouts qualify; permanent faults
// and unclassified errors propagate immediately.
func IsRetryable(err error) bool {
	var regErr *Error
	if !errors.As(err, &regErr) {
		return false
	}

	switch regErr.Fault {
	case FaultService:
		return true
	case FaultTimeout:
		return true
	case FaultPermanent:
		return false
	default:
		return false
	}
}

// classifyStatus maps an HTTP status code to a fault class.
func classifyStatus(status int) FaultClass {
	if status >= 500 {
		return FaultService
	}
	return FaultPermanent
}

// isTimeout reports whether a transport-level error is a timeout.
// Deadline expiry and net-level timeouts both count; plain connection
// failures are classified as service faults by the caller.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
