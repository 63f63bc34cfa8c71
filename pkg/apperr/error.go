// Package apperr provides structured application errors with the pipeline's
// failure taxonomy: transient faults retry through the queue, conflicts
// retry the merge, and structural faults surface for operator attention.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes
const (
	// Pipeline taxonomy
	CodeTransient     = "TRANSIENT"      // external service unavailable/timed out
	CodeStructural    = "STRUCTURAL"     // merge cannot locate or safely link an entity
	CodeConflict      = "CONFLICT"       // optimistic version conflict
	CodeDuplicate     = "DUPLICATE"      // unexpected natural-key collision
	CodeInvalidState  = "INVALID_STATE"  // illegal message status transition
	CodeLowConfidence = "LOW_CONFIDENCE" // absorbed into ManualReview, rarely surfaced

	// Resource / request errors (ops API)
	CodeNotFound      = "NOT_FOUND"
	CodeBadRequest    = "BAD_REQUEST"
	CodeDatabaseError = "DATABASE_ERROR"
	CodeInternalError = "INTERNAL_ERROR"
)

// AppError represents a structured application error.
type AppError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Status  int            `json:"-"`
	Details map[string]any `json:"details,omitempty"`
	Err     error          `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// Constructor functions
func New(code, message string, status int) *AppError {
	return &AppError{Code: code, Message: message, Status: status}
}

func Wrap(err error, code, message string, status int) *AppError {
	return &AppError{Code: code, Message: message, Status: status, Err: err}
}

// Transient marks an external-service fault eligible for queue-level retry.
func Transient(service string, err error) *AppError {
	return &AppError{
		Code:    CodeTransient,
		Message: fmt.Sprintf("external service unavailable: %s", service),
		Status:  http.StatusBadGateway,
		Details: map[string]any{"service": service},
		Err:     err,
	}
}

// Structural marks a merge fault that needs operator attention.
func Structural(message string, err error) *AppError {
	return &AppError{
		Code:    CodeStructural,
		Message: message,
		Status:  http.StatusUnprocessableEntity,
		Err:     err,
	}
}

// Conflict marks an optimistic-concurrency version mismatch.
func Conflict(entity string) *AppError {
	return &AppError{
		Code:    CodeConflict,
		Message: fmt.Sprintf("version conflict on %s", entity),
		Status:  http.StatusConflict,
	}
}

// Duplicate marks an unexpected natural-key collision.
func Duplicate(entity, key string) *AppError {
	return &AppError{
		Code:    CodeDuplicate,
		Message: fmt.Sprintf("%s already exists: %s", entity, key),
		Status:  http.StatusConflict,
		Details: map[string]any{"key": key},
	}
}

// InvalidState marks an illegal message status transition.
func InvalidState(from, to string) *AppError {
	return &AppError{
		Code:    CodeInvalidState,
		Message: fmt.Sprintf("illegal transition %s -> %s", from, to),
		Status:  http.StatusConflict,
	}
}

func NotFound(resource string) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Status:  http.StatusNotFound,
	}
}

func BadRequest(message string) *AppError {
	return &AppError{
		Code:    CodeBadRequest,
		Message: message,
		Status:  http.StatusBadRequest,
	}
}

func DatabaseError(operation string, err error) *AppError {
	return &AppError{
		Code:    CodeDatabaseError,
		Message: fmt.Sprintf("database error: %s", operation),
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

func Internal(message string) *AppError {
	if message == "" {
		message = "internal error"
	}
	return &AppError{
		Code:    CodeInternalError,
		Message: message,
		Status:  http.StatusInternalServerError,
	}
}

// Helper functions
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return Wrap(err, CodeInternalError, "internal error", http.StatusInternalServerError)
}

// IsCode reports whether err carries the given application error code.
func IsCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsTransient reports whether err should be retried through the queue.
func IsTransient(err error) bool {
	return IsCode(err, CodeTransient)
}

// IsConflict reports whether err is an optimistic version conflict.
func IsConflict(err error) bool {
	return IsCode(err, CodeConflict)
}

func GetHTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}
