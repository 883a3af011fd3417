package repokit

import (
	"errors"
	"fmt"
)

// =====================================
// Error Handling
// =====================================

// Error represents a repokit-specific error.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Code    string
}

// Error implements the error interface
func (e Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e Error) Unwrap() error {
	return e.Cause
}

// Is checks if the error is of a specific type
func (e Error) Is(target error) bool {
	if targetErr, ok := target.(Error); ok {
		return e.Type == targetErr.Type
	}
	return false
}

// NewError creates a new Error
func NewError(errorType ErrorType, message string) Error {
	return Error{
		Type:    errorType,
		Message: message,
	}
}

// NewErrorWithCause creates a new Error with a cause
func NewErrorWithCause(errorType ErrorType, message string, cause error) Error {
	return Error{
		Type:    errorType,
		Message: message,
		Cause:   cause,
	}
}

// ConcurrencyError is returned from the update path when the caller's
// concurrency token no longer matches the stored one. It is the only
// domain-level failure the repository raises for a well-formed request;
// "not found" conditions are empty results, never errors.
type ConcurrencyError struct {
	EntityID interface{}
	Expected string
	Actual   string
}

// Error implements the error interface
func (e ConcurrencyError) Error() string {
	return fmt.Sprintf("concurrency: entity %v version mismatch (expected %q, actual %q)",
		e.EntityID, e.Expected, e.Actual)
}

// IsConcurrencyConflict checks if an error is a concurrency conflict
func IsConcurrencyConflict(err error) bool {
	var conflict ConcurrencyError
	if errors.As(err, &conflict) {
		return true
	}
	return IsErrorType(err, ErrorTypeConcurrency)
}

// IsNotFound checks if an error is a "not found" error
func IsNotFound(err error) bool {
	return IsErrorType(err, ErrorTypeNotFound)
}

// IsInvalidFilter checks if an error is an "invalid filter" error
func IsInvalidFilter(err error) bool {
	return IsErrorType(err, ErrorTypeInvalidFilter)
}

// IsInvalidOrder checks if an error is an "invalid order" error
func IsInvalidOrder(err error) bool {
	return IsErrorType(err, ErrorTypeInvalidOrder)
}

// IsSpecification checks if an error came from named-specification resolution
func IsSpecification(err error) bool {
	return IsErrorType(err, ErrorTypeSpecification)
}

// IsUnsupported checks if an error is an "unsupported" error
func IsUnsupported(err error) bool {
	return IsErrorType(err, ErrorTypeUnsupported)
}

// IsErrorType checks if an error is of a specific type
func IsErrorType(err error, errorType ErrorType) bool {
	var rkErr Error
	if errors.As(err, &rkErr) {
		return rkErr.Type == errorType
	}
	return false
}
