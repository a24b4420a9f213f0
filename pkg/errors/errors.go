package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// Error is the base interface for all typed errors in the engine.
// It extends the standard error interface with a code and a stable reason
// string that callers can match on.
type Error interface {
	error
	// Code returns the error code.
	Code() string
	// Reason returns the stable, machine-readable reason string.
	Reason() string
	// Unwrap returns the underlying cause.
	Unwrap() error
}

// BaseError provides a foundation for all typed errors.
type BaseError struct {
	code   string
	reason string
	cause  error
	stack  []uintptr
}

// Error implements the error interface.
func (e *BaseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.reason, e.cause)
	}
	return e.reason
}

// Code returns the error code.
func (e *BaseError) Code() string {
	return e.code
}

// Reason returns the stable reason string.
func (e *BaseError) Reason() string {
	return e.reason
}

// Unwrap returns the underlying cause.
func (e *BaseError) Unwrap() error {
	return e.cause
}

// captureStack captures the current stack trace.
func captureStack(skip int) []uintptr {
	const maxDepth = 32
	stack := make([]uintptr, maxDepth)
	n := runtime.Callers(skip+2, stack)
	return stack[:n]
}

// StackTrace returns a formatted stack trace string.
func (e *BaseError) StackTrace() string {
	if len(e.stack) == 0 {
		return ""
	}

	var buf strings.Builder
	frames := runtime.CallersFrames(e.stack)
	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "runtime/") {
			fmt.Fprintf(&buf, "%s\n\t%s:%d\n", frame.Function, frame.File, frame.Line)
		}
		if !more {
			break
		}
	}
	return buf.String()
}

// AuthorizationError is returned when the caller does not hold the role an
// operation requires.
type AuthorizationError struct {
	*BaseError
	Caller string
}

// NewAuthorizationError creates a new authorization error.
func NewAuthorizationError(caller string) *AuthorizationError {
	return &AuthorizationError{
		BaseError: &BaseError{
			code:   CodeAuthorization,
			reason: "unauthorised",
			stack:  captureStack(1),
		},
		Caller: caller,
	}
}

// Error implements the error interface.
func (e *AuthorizationError) Error() string {
	if e.Caller != "" {
		return fmt.Sprintf("unauthorised: caller %s", e.Caller)
	}
	return "unauthorised"
}

// InvalidStateError is returned when an operation is illegal in the escrow's
// current status.
type InvalidStateError struct {
	*BaseError
	Status string
}

// NewInvalidStateError creates a new invalid state error.
func NewInvalidStateError(status string) *InvalidStateError {
	return &InvalidStateError{
		BaseError: &BaseError{
			code:   CodeInvalidState,
			reason: "invalid status",
			stack:  captureStack(1),
		},
		Status: status,
	}
}

// Error implements the error interface.
func (e *InvalidStateError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("invalid status: %s", e.Status)
	}
	return "invalid status"
}

// ValidationError represents malformed operation arguments.
type ValidationError struct {
	*BaseError
	Field string
}

// NewValidationError creates a new validation error with a stable reason.
func NewValidationError(reason string) *ValidationError {
	return &ValidationError{
		BaseError: &BaseError{
			code:   CodeValidation,
			reason: reason,
			stack:  captureStack(1),
		},
	}
}

// WithField attaches the offending field name.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// InsufficientFundsError is returned when a reserve or payout exceeds the
// available funds.
type InsufficientFundsError struct {
	*BaseError
}

// NewInsufficientFundsError creates a new insufficient funds error.
func NewInsufficientFundsError(reason string) *InsufficientFundsError {
	return &InsufficientFundsError{
		BaseError: &BaseError{
			code:   CodeInsufficientFunds,
			reason: reason,
			stack:  captureStack(1),
		},
	}
}

// PrecisionError is returned when a decimal amount carries more fractional
// digits than the token supports.
type PrecisionError struct {
	*BaseError
	Value    string
	Decimals uint8
}

// NewPrecisionError creates a new precision error.
func NewPrecisionError(value string, decimals uint8) *PrecisionError {
	return &PrecisionError{
		BaseError: &BaseError{
			code:   CodePrecision,
			reason: "amount exceeds token precision",
			stack:  captureStack(1),
		},
		Value:    value,
		Decimals: decimals,
	}
}

// Error implements the error interface.
func (e *PrecisionError) Error() string {
	return fmt.Sprintf("amount %q exceeds token precision of %d decimals", e.Value, e.Decimals)
}

// UpstreamDataError is returned when a downloaded blob is missing required
// structure.
type UpstreamDataError struct {
	*BaseError
	URL string
}

// NewUpstreamDataError creates a new upstream data error.
func NewUpstreamDataError(reason string, cause error) *UpstreamDataError {
	return &UpstreamDataError{
		BaseError: &BaseError{
			code:   CodeUpstreamData,
			reason: reason,
			cause:  cause,
			stack:  captureStack(1),
		},
	}
}

// WithURL attaches the blob URL the data came from.
func (e *UpstreamDataError) WithURL(url string) *UpstreamDataError {
	e.URL = url
	return e
}

// NotFoundError represents a missing resource.
type NotFoundError struct {
	*BaseError
	Resource string
	ID       string
}

// NewNotFoundError creates a new not found error.
func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{
		BaseError: &BaseError{
			code:   CodeNotFound,
			reason: fmt.Sprintf("%s not found", resource),
			stack:  captureStack(1),
		},
		Resource: resource,
		ID:       id,
	}
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

// InternalError represents an internal engine error.
type InternalError struct {
	*BaseError
	Operation string
}

// NewInternalError creates a new internal error.
func NewInternalError(reason string, cause error) *InternalError {
	if reason == "" {
		reason = "internal error"
	}
	return &InternalError{
		BaseError: &BaseError{
			code:   CodeInternal,
			reason: reason,
			cause:  cause,
			stack:  captureStack(1),
		},
	}
}

// WithOperation sets the operation context.
func (e *InternalError) WithOperation(op string) *InternalError {
	e.Operation = op
	return e
}

// Wrap wraps an error with additional context. If the error is already one
// of our typed errors, the code is preserved; otherwise an InternalError is
// created.
func Wrap(err error, reason string) error {
	if err == nil {
		return nil
	}

	if e, ok := err.(Error); ok {
		return &BaseError{
			code:   e.Code(),
			reason: reason,
			cause:  err,
			stack:  captureStack(1),
		}
	}

	return &InternalError{
		BaseError: &BaseError{
			code:   CodeInternal,
			reason: reason,
			cause:  err,
			stack:  captureStack(1),
		},
	}
}

// Wrapf wraps an error with a formatted reason.
func Wrapf(err error, format string, args ...interface{}) error {
	return Wrap(err, fmt.Sprintf(format, args...))
}

// CodeOf returns the code of err, or CodeInternal for untyped errors.
func CodeOf(err error) string {
	var e Error
	if errors.As(err, &e) {
		return e.Code()
	}
	return CodeInternal
}

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code string) bool {
	var e Error
	if errors.As(err, &e) {
		return e.Code() == code
	}
	return false
}
