package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Class buckets a backend failure into one of the four categories the
// pipeline reacts to. Each class has a distinct recovery path: connection
// errors are retried with backoff, protocol errors abort the current turn,
// upstream errors terminate the session, and timeouts fail the turn (with one
// extended retry allowed for the first synthesis call of a session).
type Class string

const (
	// ClassConnection is a transient network failure: dial refused, reset,
	// unexpected close. Retried with capped exponential backoff.
	ClassConnection Class = "connection"

	// ClassProtocol is a malformed or unexpected message from a backend. The
	// turn is aborted but the connection is not assumed broken.
	ClassProtocol Class = "protocol"

	// ClassUpstream is a failure the backend itself reported (authorization,
	// quota, capacity). Never silently retried.
	ClassUpstream Class = "upstream"

	// ClassTimeout is the absence of a response within budget.
	ClassTimeout Class = "timeout"
)

// Error wraps a backend failure with its class and the backend it came from,
// so the orchestrator can pick the recovery path without knowing provider
// internals.
type Error struct {
	Class   Class
	Backend string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s error: %v", e.Backend, e.Class, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err for the named backend with an explicit class.
func NewError(class Class, backend string, err error) *Error {
	return &Error{Class: class, Backend: backend, Err: err}
}

// Classifier lets provider error types carry their own class. Provider
// packages implement this on their typed errors instead of importing the
// taxonomy directly.
type Classifier interface {
	ErrorClass() string
}

// Classify determines the Class of err. Pre-classified errors keep their
// class; context deadline and net timeouts map to ClassTimeout; everything
// else is treated as a connection-level failure, the only safe default for a
// retry decision.
func Classify(err error) Class {
	var re *Error
	if errors.As(err, &re) {
		return re.Class
	}

	var cl Classifier
	if errors.As(err, &cl) {
		switch Class(cl.ErrorClass()) {
		case ClassConnection, ClassProtocol, ClassUpstream, ClassTimeout:
			return Class(cl.ErrorClass())
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassTimeout
	}

	return ClassConnection
}

// Retryable reports whether an error of this class may be retried against the
// same backend.
func (c Class) Retryable() bool {
	return c == ClassConnection || c == ClassTimeout
}
