// Package errors provides custom error types and error handling utilities.
// Following Go idioms, errors are values that carry context about what went wrong.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors for the application.
// These can be checked with errors.Is() for specific error handling.
var (
	// ErrNotFound indicates a resource was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrConflict indicates a duplicate resource.
	ErrConflict = errors.New("resource already exists")

	// ErrValidation indicates malformed or missing input.
	ErrValidation = errors.New("invalid input")

	// ErrInvalidState indicates an operation not allowed in the current state.
	ErrInvalidState = errors.New("invalid state for operation")

	// ErrAccessDenied indicates a path or resource outside the allowed scope.
	ErrAccessDenied = errors.New("access denied")

	// ErrInvalidURL indicates an invalid or malformed URL.
	ErrInvalidURL = errors.New("invalid URL")

	// ErrDownload indicates the video download failed.
	ErrDownload = errors.New("download failed")

	// ErrSeparation indicates the stem separation failed.
	ErrSeparation = errors.New("separation failed")

	// ErrProvider indicates an external metadata/lyrics provider failed.
	ErrProvider = errors.New("provider request failed")

	// ErrStorage indicates a database or filesystem failure.
	ErrStorage = errors.New("storage failure")

	// ErrTimeout indicates an operation timed out.
	ErrTimeout = errors.New("operation timed out")

	// ErrCancelled indicates an operation was cancelled by user.
	ErrCancelled = errors.New("operation cancelled")

	// ErrRateLimited indicates too many requests were made.
	ErrRateLimited = errors.New("rate limited")
)

// AppError is a structured error type that carries additional context.
type AppError struct {
	Op      string // Operation that failed (e.g., "JobStore.Create")
	Err     error  // Underlying error
	Message string // User-friendly message
	Code    string // Error code for API responses
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap allows errors.Is and errors.As to work with wrapped errors.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError with the given operation and error.
func New(op string, err error) *AppError {
	return &AppError{
		Op:  op,
		Err: err,
	}
}

// NewWithMessage creates a new AppError with a user-friendly message.
func NewWithMessage(op string, err error, message string) *AppError {
	return &AppError{
		Op:      op,
		Err:     err,
		Message: message,
	}
}

// NewWithCode creates a new AppError with an error code for API responses.
func NewWithCode(op string, err error, code string, message string) *AppError {
	return &AppError{
		Op:      op,
		Err:     err,
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with operation context.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &AppError{Op: op, Err: err}
}

// WrapWithMessage wraps an error with a user-friendly message.
func WrapWithMessage(op string, err error, message string) error {
	if err == nil {
		return nil
	}
	return &AppError{Op: op, Err: err, Message: message}
}

// Code returns the API error code for err. An explicit AppError code wins;
// otherwise the code is derived from the sentinel chain.
func Code(err error) string {
	var app *AppError
	if errors.As(err, &app) && app.Code != "" {
		return app.Code
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrConflict):
		return "CONFLICT"
	case errors.Is(err, ErrValidation):
		return "VALIDATION_ERROR"
	case errors.Is(err, ErrInvalidState):
		return "INVALID_STATE"
	case errors.Is(err, ErrAccessDenied):
		return "SECURITY_VIOLATION"
	case errors.Is(err, ErrInvalidURL):
		return "INVALID_URL"
	case errors.Is(err, ErrDownload):
		return "DOWNLOAD_ERROR"
	case errors.Is(err, ErrSeparation):
		return "SEPARATION_ERROR"
	case errors.Is(err, ErrProvider):
		return "PROVIDER_ERROR"
	case errors.Is(err, ErrTimeout):
		return "TIMEOUT"
	case errors.Is(err, ErrCancelled):
		return "CANCELLED"
	case errors.Is(err, ErrRateLimited):
		return "RATE_LIMITED"
	case errors.Is(err, ErrStorage):
		return "STORAGE_ERROR"
	default:
		return "INTERNAL_ERROR"
	}
}

// IsNotFound checks if an error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict checks if an error is a duplicate-resource error.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsCancelled checks if an error is a cancellation error.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}

// IsTimeout checks if an error is a timeout error.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsInvalidState checks if an error is an invalid-state error.
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidState)
}
