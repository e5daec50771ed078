package ir

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes errors raised by the session and the store.
type ErrorCode string

const (
	// ErrCodeConflictingIdentity indicates two different entities were
	// attached to one identifier within a session.
	ErrCodeConflictingIdentity ErrorCode = "CONFLICTING_IDENTITY"

	// ErrCodeMalformedQuery indicates unbalanced sub-clauses, invalid query
	// text or an otherwise uncompilable query.
	ErrCodeMalformedQuery ErrorCode = "MALFORMED_QUERY"

	// ErrCodeMissingParameter indicates query text references a parameter
	// that was not bound.
	ErrCodeMissingParameter ErrorCode = "MISSING_PARAMETER"

	// ErrCodeNotFound indicates a document does not exist.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// ErrCodeConcurrencyConflict indicates an expected revision did not
	// match the stored revision.
	ErrCodeConcurrencyConflict ErrorCode = "CONCURRENCY_CONFLICT"

	// ErrCodeQueryFailed indicates the store could not run a compiled
	// query. Retrying the same query fails the same way.
	ErrCodeQueryFailed ErrorCode = "QUERY_FAILED"

	// ErrCodeTransportFailure wraps any failure reaching the store.
	ErrCodeTransportFailure ErrorCode = "TRANSPORT_FAILURE"

	// ErrCodeSchemaViolation indicates a document body failed validation
	// against its collection schema.
	ErrCodeSchemaViolation ErrorCode = "SCHEMA_VIOLATION"

	// ErrCodeSessionClosed indicates an operation on a closed session.
	ErrCodeSessionClosed ErrorCode = "SESSION_CLOSED"

	// ErrCodeSessionBusy indicates an operation was issued while another
	// operation on the same session was in flight.
	ErrCodeSessionBusy ErrorCode = "SESSION_BUSY"

	// ErrCodeRequestLimit indicates the session exceeded its request budget.
	ErrCodeRequestLimit ErrorCode = "REQUEST_LIMIT_EXCEEDED"
)

// Error is the structured error type shared by the session and the store.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// ID identifies the affected document, if any.
	ID string

	// Details contains additional context.
	Details map[string]string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.ID != "" {
		msg = fmt.Sprintf("%s (id=%s)", msg, e.ID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf creates an *Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf returns the ErrorCode of err, or "" if err is not an *Error.
// Uses errors.As to handle wrapped errors.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// HasCode reports whether err is an *Error with the given code.
func HasCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// IsNotFound reports whether err is a NOT_FOUND error.
func IsNotFound(err error) bool {
	return HasCode(err, ErrCodeNotFound)
}

// IsConcurrencyConflict reports whether err is a CONCURRENCY_CONFLICT error.
func IsConcurrencyConflict(err error) bool {
	return HasCode(err, ErrCodeConcurrencyConflict)
}

// IsMalformedQuery reports whether err is a MALFORMED_QUERY error.
func IsMalformedQuery(err error) bool {
	return HasCode(err, ErrCodeMalformedQuery)
}

// IsMissingParameter reports whether err is a MISSING_PARAMETER error.
func IsMissingParameter(err error) bool {
	return HasCode(err, ErrCodeMissingParameter)
}

// IsConflictingIdentity reports whether err is a CONFLICTING_IDENTITY error.
func IsConflictingIdentity(err error) bool {
	return HasCode(err, ErrCodeConflictingIdentity)
}

// IsTransportFailure reports whether err is a TRANSPORT_FAILURE error.
func IsTransportFailure(err error) bool {
	return HasCode(err, ErrCodeTransportFailure)
}

// IsQueryFailed reports whether err is a QUERY_FAILED error.
func IsQueryFailed(err error) bool {
	return HasCode(err, ErrCodeQueryFailed)
}

// NewNotFoundError creates a NOT_FOUND error for a document id.
func NewNotFoundError(id string) *Error {
	return &Error{Code: ErrCodeNotFound, Message: "document does not exist", ID: id}
}

// NewConcurrencyError creates a CONCURRENCY_CONFLICT error.
func NewConcurrencyError(id, expected, actual string) *Error {
	return &Error{
		Code:    ErrCodeConcurrencyConflict,
		Message: "expected revision does not match stored revision",
		ID:      id,
		Details: map[string]string{
			"expected": expected,
			"actual":   actual,
		},
	}
}

// NewMissingParameterError creates a MISSING_PARAMETER error.
func NewMissingParameterError(name string) *Error {
	return &Error{
		Code:    ErrCodeMissingParameter,
		Message: fmt.Sprintf("query references unbound parameter $%s", name),
		Details: map[string]string{"parameter": name},
	}
}

// NewTransportError wraps a failure to reach the store.
func NewTransportError(op string, err error) *Error {
	return &Error{
		Code:    ErrCodeTransportFailure,
		Message: op + " failed",
		Err:     err,
	}
}
