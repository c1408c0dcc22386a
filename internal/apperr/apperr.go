// Package apperr defines the error taxonomy shared by the core and the HTTP
// layer, and maps it to status codes and stable machine-readable codes.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrValidation    = errors.New("validation error")
	ErrDuplicateWord = errors.New("word already exists")
	ErrNotFound      = errors.New("not found")
	ErrStoreFailure  = errors.New("store failure")
	ErrUnavailable   = errors.New("unavailable")
)

// AppError carries a sentinel, a user-facing message and the HTTP status to
// report.
type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// Validation returns a 400 ErrValidation with the given message.
func Validation(format string, args ...any) *AppError {
	return Newf(ErrValidation, http.StatusBadRequest, format, args...)
}

// storeError keeps the operation name and the underlying cause while
// matching ErrStoreFailure.
type storeError struct {
	op  string
	err error
}

func (e *storeError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrStoreFailure.Error(), e.op, e.err)
}

func (e *storeError) Is(target error) bool {
	return target == ErrStoreFailure
}

func (e *storeError) Unwrap() error {
	return e.err
}

// StoreFailure wraps err as an ErrStoreFailure for operation op. Errors that
// already belong to the taxonomy are returned unchanged.
func StoreFailure(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrDuplicateWord) || errors.Is(err, ErrStoreFailure) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &storeError{op: op, err: fmt.Errorf("timed out: %w", err)}
	}
	return &storeError{op: op, err: err}
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrDuplicateWord):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Code returns the machine-readable code reported in error bodies.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrDuplicateWord):
		return "duplicate_word"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	default:
		return "store_failure"
	}
}

// Message returns the user-facing text for err. Store failures get a generic
// message so driver details never reach the response body.
func Message(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	switch {
	case errors.Is(err, ErrDuplicateWord):
		return "Word already exists in database"
	case errors.Is(err, ErrNotFound):
		return "not found"
	case errors.Is(err, ErrUnavailable):
		return "service not configured"
	case errors.Is(err, ErrValidation):
		return "invalid request"
	default:
		return "internal server error"
	}
}
