// Package engineerr classifies every failure the engine can produce
// into a small, fixed taxonomy of Kinds, the way the teacher's broker
// package distinguishes transient from permanent failures in
// internal/retry/client.go's isTransientError -- except here the
// classification is carried as data on the error itself instead of
// being re-derived from a string match at each call site.
package engineerr

import (
	"errors"
	"fmt"
)

// Kind classifies why an operation failed.
type Kind string

const (
	// KindPlatformAPI covers venue/broker API failures: rejected
	// orders, malformed responses, rate limiting, connectivity.
	KindPlatformAPI Kind = "platform_api"

	// KindRiskLimit covers rejections by the risk manager's
	// transaction algebra: insufficient budget, halted trading,
	// position limit breaches.
	KindRiskLimit Kind = "risk_limit"

	// KindConfigValidation covers construction-time configuration
	// errors: missing required fields, out-of-range values.
	KindConfigValidation Kind = "config_validation"

	// KindSystemHealth covers infrastructure failures: storage I/O,
	// clock/NTP probe failures, persistence corruption.
	KindSystemHealth Kind = "system_health"

	// KindExecutionFailure covers failures inside the execution
	// queue's state machine: a leg fill that never confirms, an
	// illegal state transition, a reservation that vanished.
	KindExecutionFailure Kind = "execution_failure"
)

// Error is an engine error tagged with a Kind, an optional venue or
// component the failure originated from, and a wrapped cause.
type Error struct {
	Kind    Kind
	Op      string // operation name, e.g. "risk.ReserveBudget"
	Venue   string // empty if not venue-specific
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Venue != "" {
		if e.Err != nil {
			return fmt.Sprintf("%s[%s] %s: %s: %v", e.Op, e.Kind, e.Venue, e.Message, e.Err)
		}
		return fmt.Sprintf("%s[%s] %s: %s", e.Op, e.Kind, e.Venue, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s[%s]: %s: %v", e.Op, e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s[%s]: %s", e.Op, e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs an Error with no wrapped cause.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap constructs an Error wrapping an underlying cause.
func Wrap(kind Kind, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

// WithVenue returns a copy of e annotated with the originating venue.
func (e *Error) WithVenue(venue string) *Error {
	cp := *e
	cp.Venue = venue
	return &cp
}

// Is reports whether err is an *Error of the given Kind, unwrapping
// through any chain built with fmt.Errorf's %w or engineerr.Wrap.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, returning ok=false if err is not
// (or does not wrap) an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
