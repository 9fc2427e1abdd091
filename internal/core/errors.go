package core

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors for handling decisions.
type ErrorCategory string

const (
	ErrCatValidation ErrorCategory = "validation" // Invalid input or arguments
	ErrCatSandbox    ErrorCategory = "sandbox"    // Path escape or disallowed command
	ErrCatResource   ErrorCategory = "resource"   // Size or output ceiling exceeded
	ErrCatTimeout    ErrorCategory = "timeout"    // Operation timed out
	ErrCatSpawn      ErrorCategory = "spawn"      // Process could not be started
	ErrCatProvider   ErrorCategory = "provider"   // Model endpoint failure
	ErrCatBuild      ErrorCategory = "build"      // Build validation failure
	ErrCatState      ErrorCategory = "state"      // Invalid status transition or conflict
	ErrCatCancelled  ErrorCategory = "cancelled"  // Cancelled by user
	ErrCatNotFound   ErrorCategory = "not_found"  // Resource not found
	ErrCatInternal   ErrorCategory = "internal"   // Unexpected internal error
)

// DomainError represents a structured error from the domain layer.
type DomainError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Retryable bool
	Cause     error
	Details   map[string]interface{}
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches a target.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Category == t.Category && e.Code == t.Code
}

// WithCause wraps an underlying error.
func (e *DomainError) WithCause(cause error) *DomainError {
	e.Cause = cause
	return e
}

// WithDetail adds contextual information.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ErrValidation creates a validation error.
func ErrValidation(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatValidation,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrSandbox creates a sandbox violation error.
func ErrSandbox(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatSandbox,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrResource creates a resource-exceeded error.
func ErrResource(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatResource,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrTimeout creates a timeout error.
func ErrTimeout(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatTimeout,
		Code:      "TIMEOUT",
		Message:   message,
		Retryable: true,
	}
}

// ErrSpawn creates a process spawn error.
func ErrSpawn(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatSpawn,
		Code:      "SPAWN_FAILED",
		Message:   message,
		Retryable: false,
	}
}

// ErrProvider creates a model provider error.
func ErrProvider(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatProvider,
		Code:      "PROVIDER_ERROR",
		Message:   message,
		Retryable: true,
	}
}

// ErrBuild creates a build validation error.
func ErrBuild(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatBuild,
		Code:      "BUILD_FAILED",
		Message:   message,
		Retryable: true,
	}
}

// ErrState creates a state error.
func ErrState(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatState,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrCancelled creates a cancellation error.
func ErrCancelled(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatCancelled,
		Code:      "CANCELLED",
		Message:   message,
		Retryable: false,
	}
}

// ErrNotFound creates a not found error.
func ErrNotFound(resource, id string) *DomainError {
	return &DomainError{
		Category:  ErrCatNotFound,
		Code:      "NOT_FOUND",
		Message:   fmt.Sprintf("%s not found: %s", resource, id),
		Retryable: false,
	}
}

// ErrInvalidStatus creates the typed error returned when an operation is
// attempted on a task whose status is outside the permitted starting set.
func ErrInvalidStatus(operation string, current TaskStatus, allowed []TaskStatus) *DomainError {
	return &DomainError{
		Category:  ErrCatState,
		Code:      CodeInvalidStatus,
		Message:   fmt.Sprintf("cannot %s task in status %q; allowed statuses: %v", operation, current, allowed),
		Retryable: false,
		Details: map[string]interface{}{
			"operation": operation,
			"status":    string(current),
			"allowed":   statusStrings(allowed),
		},
	}
}

func statusStrings(statuses []TaskStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Retryable
	}
	return false
}

// GetCategory extracts the error category.
func GetCategory(err error) ErrorCategory {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Category
	}
	return ErrCatInternal
}

// AsDomainError extracts the DomainError from an error chain.
func AsDomainError(err error) (*DomainError, bool) {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr, true
	}
	return nil, false
}

// IsCategory checks if an error belongs to a category.
func IsCategory(err error, cat ErrorCategory) bool {
	return GetCategory(err) == cat
}

// Predefined error codes
const (
	CodeTaskNotFound     = "TASK_NOT_FOUND"
	CodeInvalidStatus    = "INVALID_STATUS"
	CodeSessionActive    = "SESSION_ALREADY_ACTIVE"
	CodeNoSession        = "NO_ACTIVE_SESSION"
	CodePathEscape       = "PATH_ESCAPE"
	CodeCommandDenied    = "COMMAND_DENIED"
	CodeFileTooLarge     = "FILE_TOO_LARGE"
	CodeOutputExceeded   = "OUTPUT_EXCEEDED"
	CodeUnknownTool      = "UNKNOWN_TOOL"
	CodeWorkspaceFailed  = "WORKSPACE_SETUP_FAILED"
	CodeMaxIterations    = "MAX_ITERATIONS"
	CodeConsecutiveFails = "CONSECUTIVE_FAILURES"
	CodeServerCrashed    = "SERVER_CRASHED"
)
