// SPDX-FileCopyrightText: Copyright 2026 Toolgate Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a gateway failure so callers can decide whether to
// retry, re-authenticate, or give up. Execution never returns an opaque
// failure for a condition that maps to one of these kinds.
type ErrorKind string

const (
	// KindValidation indicates bad arguments or a schema violation.
	// The upstream was never contacted.
	KindValidation ErrorKind = "validation"

	// KindAuth indicates a credential exchange failure or an
	// audience/scope denial. Not retryable with the same credential.
	KindAuth ErrorKind = "auth"

	// KindAccessDenied indicates the caller has no matching policy or
	// group for the requested tool.
	KindAccessDenied ErrorKind = "access_denied"

	// KindUpstreamTransient indicates a timeout, connection failure, or
	// 5xx response. Eligible for a small number of caller-visible retries.
	KindUpstreamTransient ErrorKind = "upstream_transient"

	// KindUpstreamRejected indicates a non-auth 4xx from the upstream,
	// surfaced as-is and not retried.
	KindUpstreamRejected ErrorKind = "upstream_rejected"

	// KindSourceUnavailable indicates the source's circuit is open and the
	// call failed fast without a network attempt.
	KindSourceUnavailable ErrorKind = "source_unavailable"

	// KindConcurrencyConflict indicates a command targeted a stale
	// aggregate version. The caller must reload and retry.
	KindConcurrencyConflict ErrorKind = "concurrency_conflict"

	// KindNotFound indicates a referenced entity does not exist.
	KindNotFound ErrorKind = "not_found"

	// KindInternal indicates an unclassified engine failure.
	KindInternal ErrorKind = "internal"
)

// Error is the typed error returned across gateway package boundaries.
// Check the kind with [KindOf] or errors.As.
type Error struct {
	// Kind classifies the failure.
	Kind ErrorKind

	// Message describes the failure.
	Message string

	// Cause is the underlying error, if any.
	Cause error
}

// Error returns the error message.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new typed error.
func NewError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Errorf creates a new typed error with a formatted message and no cause.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of err, or KindInternal if err carries no kind.
func KindOf(err error) ErrorKind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var ge *Error
	return errors.As(err, &ge) && ge.Kind == kind
}

// NewValidationError creates a validation error.
func NewValidationError(message string, cause error) *Error {
	return NewError(KindValidation, message, cause)
}

// NewAuthError creates an auth error.
func NewAuthError(message string, cause error) *Error {
	return NewError(KindAuth, message, cause)
}

// NewAccessDeniedError creates an access-denied error.
func NewAccessDeniedError(message string) *Error {
	return NewError(KindAccessDenied, message, nil)
}

// NewUpstreamTransientError creates a transient upstream error.
func NewUpstreamTransientError(message string, cause error) *Error {
	return NewError(KindUpstreamTransient, message, cause)
}

// NewUpstreamRejectedError creates a non-retryable upstream rejection.
func NewUpstreamRejectedError(message string, cause error) *Error {
	return NewError(KindUpstreamRejected, message, cause)
}

// NewSourceUnavailableError creates a circuit-open error.
func NewSourceUnavailableError(sourceName string) *Error {
	return Errorf(KindSourceUnavailable, "source %s is unavailable (circuit open)", sourceName)
}

// NewConcurrencyConflictError creates a stale-version command rejection.
func NewConcurrencyConflictError(streamID string, expected, actual uint64) *Error {
	return Errorf(KindConcurrencyConflict,
		"stream %s: expected version %d, actual %d", streamID, expected, actual)
}

// NewNotFoundError creates a not-found error.
func NewNotFoundError(what, id string) *Error {
	return Errorf(KindNotFound, "%s %s not found", what, id)
}
