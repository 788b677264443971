// Package errors defines the error taxonomy shared across the engine: user
// errors (bad query, bad filter), internal errors (corrupt index, codec
// failure) and resource exhaustion, plus an AppError wrapper carrying an
// HTTP status code for the service layer.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// User errors: abort the current request only.
	ErrInvalidFilter    = errors.New("invalid filter expression")
	ErrInvalidCriterion = errors.New("invalid ranking criterion")
	ErrQueryTooComplex  = errors.New("query too complex")
	ErrInvalidInput     = errors.New("invalid input")
	ErrDocumentNotFound = errors.New("document not found")

	// Internal errors: indicate a bug or data corruption.
	ErrInternal       = errors.New("internal error")
	ErrIndexCorrupted = errors.New("index corrupted")

	// ErrTimeout is returned when a search exceeds its deadline. No partial
	// results are returned alongside it.
	ErrTimeout = errors.New("search timed out")
)

// AppError attaches a user-facing message and an HTTP status code to a
// sentinel error.
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

// IsUserError reports whether err should be surfaced to the caller as their
// mistake rather than a server fault.
func IsUserError(err error) bool {
	return errors.Is(err, ErrInvalidFilter) ||
		errors.Is(err, ErrInvalidCriterion) ||
		errors.Is(err, ErrQueryTooComplex) ||
		errors.Is(err, ErrInvalidInput)
}

// HTTPStatusCode maps an error to the HTTP status the service layer should
// respond with.
func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrDocumentNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidFilter),
		errors.Is(err, ErrInvalidCriterion),
		errors.Is(err, ErrQueryTooComplex),
		errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
