package shared

import (
	"errors"
	"fmt"
)

// ErrorCode is the machine-readable classification carried by every engine error.
type ErrorCode string

const (
	CodeValidationFailed      ErrorCode = "VALIDATION_FAILED"
	CodeNotFound              ErrorCode = "NOT_FOUND"
	CodeForbidden             ErrorCode = "FORBIDDEN"
	CodeConflict              ErrorCode = "CONFLICT"
	CodeBusinessRuleViolation ErrorCode = "BUSINESS_RULE_VIOLATION"
)

// Error is the typed error returned by all engine operations. Validation
// errors additionally enumerate the offending fields.
type Error struct {
	Code    ErrorCode
	Message string
	Fields  map[string]string
}

func (e *Error) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s %v", e.Code, e.Message, e.Fields)
}

// NewError builds a typed engine error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewValidationError builds a VALIDATION_FAILED error with per-field detail.
func NewValidationError(message string, fields map[string]string) *Error {
	return &Error{Code: CodeValidationFailed, Message: message, Fields: fields}
}

// CodeOf extracts the ErrorCode from err, or "" when err is not an engine error.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}
