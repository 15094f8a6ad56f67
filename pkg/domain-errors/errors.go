// Package domainerrors defines the error vocabulary services speak. Stores and
// gateways return sentinel or raw errors; services wrap them with a Code so
// transports can map them without inspecting error strings.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies an error for callers and for HTTP mapping.
type Code string

const (
	// CodeValidation marks malformed input or a business-rule violation
	// (duplicate active certificate, wrong state for an operation). Never
	// retried automatically.
	CodeValidation Code = "validation_error"

	// CodeNotFound marks a missing certificate, policy, or insured party.
	CodeNotFound Code = "not_found"

	// CodeConflict marks a uniqueness conflict detected by storage.
	CodeConflict Code = "conflict"

	// CodeIdempotencyConflict marks an idempotency key reused with a
	// different request, or a concurrent in-flight request on the same key.
	// Distinct from CodeValidation so clients can tell "already running"
	// from "invalid".
	CodeIdempotencyConflict Code = "idempotency_conflict"

	// CodeExternalAPI marks a registry or provider failure, including an
	// open circuit breaker and call timeouts.
	CodeExternalAPI Code = "external_api_error"

	// CodeTimeout marks a local deadline expiry (transaction, shutdown).
	CodeTimeout Code = "timeout"

	// CodeBadRequest marks a structurally invalid request before any
	// business rule applies.
	CodeBadRequest Code = "bad_request"

	// CodeInternal marks everything we cannot attribute to the caller.
	// Descriptions for internal errors are not echoed to clients.
	CodeInternal Code = "internal_error"
)

// Error carries a code, a human description, and an optional wrapped cause.
type Error struct {
	Code        Code
	Description string
	cause       error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Description, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds a domain error with no cause.
func New(code Code, description string) *Error {
	return &Error{Code: code, Description: description}
}

// Newf builds a domain error with a formatted description.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Description: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and description to an underlying cause. The cause stays
// reachable through errors.Is/As so sentinel checks keep working.
func Wrap(err error, code Code, description string) *Error {
	return &Error{Code: code, Description: description, cause: err}
}

// HasCode reports whether err or anything it wraps carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	for errors.As(err, &de) {
		if de.Code == code {
			return true
		}
		err = de.cause
		if err == nil {
			return false
		}
	}
	return false
}

// Is lets errors.Is match two domain errors by code alone.
func (e *Error) Is(target error) bool {
	var de *Error
	if errors.As(target, &de) {
		return e.Code == de.Code
	}
	return false
}
