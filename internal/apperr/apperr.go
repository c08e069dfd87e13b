// Package apperr defines the error-kind taxonomy shared by the workflow
// runtime, the LLM invocation layer, and the HTTP surface so each can
// branch on retryability without inspecting provider-specific error types.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for retry and HTTP-status purposes.
type Kind string

const (
	KindInvalidInput         Kind = "invalid_input"
	KindRateLimited          Kind = "rate_limited"
	KindUpstreamTimeout      Kind = "upstream_timeout"
	KindUpstreamUnavailable  Kind = "upstream_unavailable"
	KindTransient            Kind = "transient"
	KindNonRetryable         Kind = "non_retryable"
	KindNotFound             Kind = "not_found"
	KindConflict             Kind = "conflict"
	KindInternal             Kind = "internal"
)

// Error is the typed error carried through the system. It serialises to the
// {error:{message, type, status, details?, path}} envelope on the wire.
type Error struct {
	Cause   error  `json:"-"`
	Kind    Kind   `json:"type"`
	Message string `json:"message"`
	Path    string `json:"path,omitempty"`
	Details any    `json:"details,omitempty"`
	Status  int    `json:"status"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an Error of the given kind with the conventional HTTP
// status for that kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Status: statusFor(kind)}
}

// Wrap constructs an Error of the given kind, preserving the original cause.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause, Status: statusFor(kind)}
}

func statusFor(kind Kind) int {
	switch kind {
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindUpstreamTimeout:
		return http.StatusGatewayTimeout
	case KindUpstreamUnavailable:
		return http.StatusServiceUnavailable
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindTransient:
		return http.StatusServiceUnavailable
	case KindNonRetryable:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// IsRetryable reports whether the workflow runtime and the LLM layer should
// retry an error of this kind with backoff rather than fail immediately.
func IsRetryable(kind Kind) bool {
	switch kind {
	case KindTransient, KindUpstreamTimeout, KindUpstreamUnavailable, KindRateLimited:
		return true
	default:
		return false
	}
}

// KindOf extracts the Kind from err if it is (or wraps) an *Error, defaulting
// to KindInternal otherwise.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
