package tangguh

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorKind classifies a failure for retry decisions. Kinds describe what
// went wrong, not where: the transport maps its protocol details onto a
// status code or a plain error, and classification happens here.
type ErrorKind string

const (
	KindNetwork      ErrorKind = "Network"
	KindTimeout      ErrorKind = "Timeout"
	KindServer       ErrorKind = "Server"
	KindUnauthorized ErrorKind = "Unauthorized"
	KindForbidden    ErrorKind = "Forbidden"
	KindNotFound     ErrorKind = "NotFound"
	KindValidation   ErrorKind = "Validation"
	KindClient       ErrorKind = "Client"
)

// Sentinel errors for common failure scenarios
var (
	// ErrCircuitOpen is returned when the endpoint's circuit breaker is open.
	ErrCircuitOpen = errors.New("tangguh: circuit open")

	// ErrOffline is returned when an operation requires connectivity and the
	// network monitor reports the device offline.
	ErrOffline = errors.New("tangguh: offline")

	// ErrStorageKeyNotFound is returned by Storage implementations when a
	// key has never been written.
	ErrStorageKeyNotFound = errors.New("tangguh: storage key not found")
)

// Error is the failure type surfaced to callers. Retryable is annotated by
// the retry engine when it gives up, so UI collaborators can read the
// message, kind and retryability without inspecting causes.
type Error struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	Cause      error
	Retryable  bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is compares error kinds for errors.Is.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	if targetErr, ok := target.(*Error); ok {
		return e.Kind == targetErr.Kind
	}
	return false
}

// NewError builds an Error of the given kind.
func NewError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// FromStatus maps an HTTP status code onto an error kind. Used by
// transports that surface non-2xx responses as errors.
func FromStatus(code int, message string) *Error {
	kind := KindClient
	switch {
	case code >= 500 && code <= 599:
		kind = KindServer
	case code == 401:
		kind = KindUnauthorized
	case code == 403:
		kind = KindForbidden
	case code == 404:
		kind = KindNotFound
	case code == 422:
		kind = KindValidation
	}
	if message == "" {
		message = "request failed"
	}
	return &Error{Kind: kind, StatusCode: code, Message: message}
}

// Classify normalizes any error from the transport boundary into *Error.
// Errors that already carry a kind pass through; context deadlines and
// net timeouts become Timeout; everything else without an HTTP status is
// a transport-level fault and classifies as Network.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var taggedErr *Error
	if errors.As(err, &taggedErr) {
		return taggedErr
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Message: "request timed out", Cause: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: KindTimeout, Message: "request timed out", Cause: err}
	}

	return &Error{Kind: KindNetwork, Message: "network request failed", Cause: err}
}

// KindOf returns the classified kind of err.
func KindOf(err error) ErrorKind {
	return Classify(err).Kind
}

// IsRetryableKind reports whether a kind is retryable under the default
// policy. Client errors are not: a 4xx will not get better on its own,
// with the documented exception that an auth collaborator may retry a 401
// once after refreshing the token via RetryConfig.ShouldRetry.
func IsRetryableKind(kind ErrorKind) bool {
	switch kind {
	case KindNetwork, KindTimeout, KindServer:
		return true
	default:
		return false
	}
}
