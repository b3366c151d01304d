package domain

import (
	"errors"
	"fmt"
)

// Application error codes
const (
	EINVALID      = "invalid"      // Invalid input or validation failure
	EUNAUTHORIZED = "unauthorized" // Authentication required
	EFORBIDDEN    = "forbidden"    // Permission denied
	ENOTFOUND     = "not_found"    // Resource not found
	ECONFLICT     = "conflict"     // Resource conflict (e.g., duplicate)
	ETOOLARGE     = "too_large"    // Request entity too large
	ERATELIMIT    = "rate_limit"   // Rate limit exceeded
	EQUOTA        = "quota"        // SMS quota limit reached
	EPAYMENT      = "payment"      // Payment past due
	EINTERNAL     = "internal"     // Internal server error
)

// ErrBusinessNotFound is the sentinel for a missing business row. Store
// implementations return it so callers can branch with errors.Is without
// depending on the storage layer.
var ErrBusinessNotFound = errors.New("business not found")

// ErrBatchNotFound is the sentinel for a missing batch row.
var ErrBatchNotFound = errors.New("batch not found")

// Error represents an application error with structured information.
type Error struct {
	Code    string // Machine-readable error code
	Op      string // Operation that failed (e.g., "quota.reserve")
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf creates a new Error with the given code, operation, and formatted message.
func Errorf(code, op, format string, args ...interface{}) *Error {
	return &Error{
		Code:    code,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
	}
}

// ErrorCode returns the code of the root error, or EINTERNAL if none.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var qe *QuotaDeniedError
	if errors.As(err, &qe) {
		return qe.Code()
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return EINTERNAL
}

// ErrorMessage returns the human-readable message of the error.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var qe *QuotaDeniedError
	if errors.As(err, &qe) {
		return qe.UserMessage()
	}
	var e *Error
	if errors.As(err, &e) {
		// For internal errors, return generic message
		if e.Code == EINTERNAL {
			return "An internal error occurred. Please try again later."
		}
		return e.Message
	}
	return "An internal error occurred. Please try again later."
}

// ErrorOp returns the operation of the root error, if any.
func ErrorOp(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Op
	}
	return ""
}

// Convenience constructors for common error types

// NotFound creates a not found error.
func NotFound(op, resource, id string) *Error {
	return &Error{
		Code:    ENOTFOUND,
		Op:      op,
		Message: fmt.Sprintf("%s with ID %q not found", resource, id),
	}
}

// Invalid creates a validation error.
func Invalid(op, message string) *Error {
	return &Error{
		Code:    EINVALID,
		Op:      op,
		Message: message,
	}
}

// Unauthorized creates an authentication error.
func Unauthorized(op, message string) *Error {
	return &Error{
		Code:    EUNAUTHORIZED,
		Op:      op,
		Message: message,
	}
}

// Conflict creates a conflict error.
func Conflict(op, message string) *Error {
	return &Error{
		Code:    ECONFLICT,
		Op:      op,
		Message: message,
	}
}

// Internal creates an internal error, wrapping the underlying error.
func Internal(err error, op, message string) *Error {
	return &Error{
		Code:    EINTERNAL,
		Op:      op,
		Message: message,
		Err:     err,
	}
}

// RateLimit creates a rate limit error.
func RateLimit(op string) *Error {
	return &Error{
		Code:    ERATELIMIT,
		Op:      op,
		Message: "Too many requests. Please try again later.",
	}
}

// =============================================================================
// Quota denial errors
// =============================================================================

// DenyReason identifies why a quota reservation was denied.
type DenyReason string

const (
	DenyLimitReached   DenyReason = "limit_reached"
	DenyPaymentPastDue DenyReason = "payment_past_due"
)

// QuotaDeniedError is returned when a reservation is refused by the quota
// gate. It is an expected outcome, not an infrastructure failure: callers
// branch on Reason and report Remaining/Requested to the user.
type QuotaDeniedError struct {
	Op        string
	Reason    DenyReason
	Remaining int // slots still available at lock time
	Requested int // slots the caller asked for
}

func (e *QuotaDeniedError) Error() string {
	switch e.Reason {
	case DenyPaymentPastDue:
		return fmt.Sprintf("%s: payment past due", e.Op)
	default:
		return fmt.Sprintf("%s: quota limit reached (requested %d, remaining %d)", e.Op, e.Requested, e.Remaining)
	}
}

// Code maps the denial reason to an application error code.
func (e *QuotaDeniedError) Code() string {
	if e.Reason == DenyPaymentPastDue {
		return EPAYMENT
	}
	return EQUOTA
}

// UserMessage returns the user-facing message for this denial.
func (e *QuotaDeniedError) UserMessage() string {
	if e.Reason == DenyPaymentPastDue {
		return "Your payment is past due. Please update your payment method to keep sending."
	}
	return "You've reached your monthly SMS limit. Upgrade your plan to keep sending."
}

// LimitReached creates a quota denial for insufficient capacity.
func LimitReached(op string, remaining, requested int) *QuotaDeniedError {
	return &QuotaDeniedError{
		Op:        op,
		Reason:    DenyLimitReached,
		Remaining: remaining,
		Requested: requested,
	}
}

// PaymentPastDue creates a quota denial for the past_due billing gate.
func PaymentPastDue(op string, remaining, requested int) *QuotaDeniedError {
	return &QuotaDeniedError{
		Op:        op,
		Reason:    DenyPaymentPastDue,
		Remaining: remaining,
		Requested: requested,
	}
}

// ValidationError represents field-level validation errors.
type ValidationError struct {
	Op     string
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: validation failed", e.Op)
}

// NewValidationError creates a new validation error with the first field error.
func NewValidationError(op, field, message string) *ValidationError {
	return &ValidationError{
		Op: op,
		Fields: map[string]string{
			field: message,
		},
	}
}
