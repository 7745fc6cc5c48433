package fetch

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a fetch failure. Every transport and decoder
// boundary classifies its failures into one of these buckets before they
// reach the orchestrator; retry decisions are made on the kind alone.
type ErrorKind int

const (
	// TransientTransport marks failures expected to succeed on retry:
	// timeouts, connection resets, HTTP 429, and HTTP 5xx.
	TransientTransport ErrorKind = iota
	// PermanentTransport marks failures that will not change outcome on
	// retry: HTTP 4xx other than 429, malformed URLs, cancellation.
	PermanentTransport
	// DecodeFailure marks payload decode errors. The bytes already arrived
	// correctly and decoding is deterministic, so these are never retried.
	DecodeFailure
	// AttemptsExhausted marks a transient failure that outlived the retry
	// budget; the wrapped error is the last transient failure observed.
	AttemptsExhausted
)

// String returns the string representation of the error kind.
func (k ErrorKind) String() string {
	switch k {
	case TransientTransport:
		return "transient_transport"
	case PermanentTransport:
		return "permanent_transport"
	case DecodeFailure:
		return "decode"
	case AttemptsExhausted:
		return "attempts_exhausted"
	default:
		return "unknown"
	}
}

// Error is a classified fetch failure.
type Error struct {
	// Kind is the taxonomy bucket.
	Kind ErrorKind
	// Op names the operation that failed (transport, decode, admission).
	Op string
	// StatusCode is the HTTP status when the failure carries one.
	StatusCode int
	// Attempts is the number of transport invocations used, set on
	// AttemptsExhausted errors.
	Attempts int
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Kind == AttemptsExhausted:
		return fmt.Sprintf("%s: attempts exhausted after %d tries: %v", e.Op, e.Attempts, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: %s (status %d): %v", e.Op, e.Kind, e.StatusCode, e.Err)
	default:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// transientErr wraps err as a transient transport failure.
func transientErr(op string, status int, err error) *Error {
	return &Error{Kind: TransientTransport, Op: op, StatusCode: status, Err: err}
}

// permanentErr wraps err as a permanent transport failure.
func permanentErr(op string, status int, err error) *Error {
	return &Error{Kind: PermanentTransport, Op: op, StatusCode: status, Err: err}
}

// decodeErr wraps err as a decode failure.
func decodeErr(err error) *Error {
	return &Error{Kind: DecodeFailure, Op: "decode", Err: err}
}

// exhaustedErr wraps the last transient failure once the retry budget is
// spent.
func exhaustedErr(attempts int, last error) *Error {
	status := 0
	var fe *Error
	if errors.As(last, &fe) {
		status = fe.StatusCode
	}
	return &Error{Kind: AttemptsExhausted, Op: "fetch", StatusCode: status, Attempts: attempts, Err: last}
}

// KindOf extracts the taxonomy bucket from err. The second return is
// false when err is not a classified fetch error.
func KindOf(err error) (ErrorKind, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return 0, false
}

// IsTransient reports whether err is a transient transport failure.
func IsTransient(err error) bool {
	kind, ok := KindOf(err)
	return ok && kind == TransientTransport
}
