package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
)

// Class buckets a remote-call failure for retry and surfacing decisions.
type Class string

const (
	// ClassTransient — network errors, timeouts, 5xx, rate limiting.
	// Retried up to the attempt budget.
	ClassTransient Class = "transient"

	// ClassPermanent — validation, auth, not-found. Surfaced immediately
	// without consuming retry budget.
	ClassPermanent Class = "permanent"

	// ClassCircuitOpen — the breaker rejected the call before any
	// network attempt.
	ClassCircuitOpen Class = "circuit_open"

	// ClassCanceled — the caller's context ended. Not retried and not a
	// remote failure.
	ClassCanceled Class = "canceled"
)

// HTTPError carries a non-2xx status from a remote endpoint. The body
// is truncated by callers before constructing it; it is never a full
// payload.
type HTTPError struct {
	StatusCode int
	Status     string
	Detail     string
}

func (e *HTTPError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("remote status %d: %s", e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("remote status %d %s", e.StatusCode, e.Status)
}

// permanentError marks an error as permanent regardless of its shape.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so Classify reports it as ClassPermanent. Used by
// callers that know a failure is not worth retrying (e.g. a malformed
// response body).
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Classify buckets err into the failure taxonomy. Unrecognized errors
// from remote calls default to transient: for a polling loop a spurious
// stop is worse than a wasted retry, and permanent conditions arrive as
// explicit 4xx statuses or Permanent-wrapped errors.
func Classify(err error) Class {
	if err == nil {
		return ""
	}

	if errors.Is(err, context.Canceled) {
		return ClassCanceled
	}

	var open *CircuitOpenError
	if errors.As(err, &open) {
		return ClassCircuitOpen
	}

	var perm *permanentError
	if errors.As(err, &perm) {
		return ClassPermanent
	}

	// An http.Client timeout satisfies errors.Is(err,
	// context.DeadlineExceeded) while being an ordinary remote timeout,
	// so timeout-flavored net errors classify before the deadline check.
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassTransient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassCanceled
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode == http.StatusTooManyRequests:
			return ClassTransient
		case httpErr.StatusCode >= 500:
			return ClassTransient
		case httpErr.StatusCode >= 400:
			return ClassPermanent
		default:
			return ClassTransient
		}
	}

	if errors.As(err, &netErr) {
		return ClassTransient
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ClassTransient
	}

	return ClassTransient
}

// Retryable reports whether a failure of this class consumes retry
// budget.
func (c Class) Retryable() bool { return c == ClassTransient }
