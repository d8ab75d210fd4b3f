// Package errors defines the error values shared across flowgate components.
package errors

import (
	"errors"
	"fmt"
)

// Common error values used across the flowgate library

var (
	// ErrRateLimited indicates that a request was rejected by the rate gate.
	// Callers should back off and retry later.
	ErrRateLimited = errors.New("rate limited")

	// ErrQueueFull indicates that the bounded queue rejected an item because
	// it was at capacity. This is the explicit load-shedding signal.
	ErrQueueFull = errors.New("queue full")

	// ErrQueueClosed indicates that an operation was attempted on a closed queue
	ErrQueueClosed = errors.New("queue closed")

	// ErrTaskTimeout indicates that a task exceeded its execution deadline
	ErrTaskTimeout = errors.New("task timed out")

	// ErrPumpStopped indicates that an operation was attempted on a stopped pump
	ErrPumpStopped = errors.New("pump stopped")

	// ErrInvalidConfiguration indicates invalid configuration parameters
	ErrInvalidConfiguration = errors.New("invalid configuration")
)

// IsRetryable returns true if the error indicates a condition that might
// be resolved by retrying the operation later
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrQueueFull) ||
		errors.Is(err, ErrTaskTimeout)
}

// IsTemporary returns true if the error indicates a temporary condition
func IsTemporary(err error) bool {
	return errors.Is(err, ErrQueueFull) || errors.Is(err, ErrTaskTimeout)
}

// ValidationError describes a configuration value that failed validation.
type ValidationError struct {
	Module string      // component that rejected the value
	Field  string      // configuration field name
	Value  interface{} // the offending value
	Reason string      // why the value was rejected
	Hint   string      // optional guidance for fixing the value
}

// NewValidationError creates a ValidationError for the given module and field.
func NewValidationError(module, field string, value interface{}, reason string) *ValidationError {
	return &ValidationError{
		Module: module,
		Field:  field,
		Value:  value,
		Reason: reason,
	}
}

// WithHint attaches guidance to the error and returns the same instance
// for chaining.
func (e *ValidationError) WithHint(hint string) *ValidationError {
	e.Hint = hint
	return e
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("%s: invalid %s=%v (%s)", e.Module, e.Field, e.Value, e.Reason)
	if e.Hint != "" {
		msg += " - " + e.Hint
	}
	return msg
}

// Unwrap allows errors.Is(err, ErrInvalidConfiguration) checks.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidConfiguration
}

// IsValidationError reports whether err is, or wraps, a ValidationError.
func IsValidationError(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}

// OperationError describes a failed operation on a flowgate component.
type OperationError struct {
	Module    string // component the operation belongs to
	Operation string // operation name, e.g. "Offer"
	Cause     error  // underlying error
	Context   string // optional extra detail
}

// NewOperationError creates an OperationError wrapping cause.
func NewOperationError(module, operation string, cause error) *OperationError {
	return &OperationError{
		Module:    module,
		Operation: operation,
		Cause:     cause,
	}
}

// WithContext attaches extra detail to the error and returns the same
// instance for chaining.
func (e *OperationError) WithContext(context string) *OperationError {
	e.Context = context
	return e
}

func (e *OperationError) Error() string {
	msg := fmt.Sprintf("%s.%s failed: %v", e.Module, e.Operation, e.Cause)
	if e.Context != "" {
		msg += " (" + e.Context + ")"
	}
	return msg
}

func (e *OperationError) Unwrap() error {
	return e.Cause
}
