// Package errors defines the sentinel error kinds shared by the miner and the
// recommender, plus AppError which attaches a user-facing message and an HTTP
// status to a sentinel.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrInvalidThreshold = errors.New("invalid threshold")
	ErrEmptyInput       = errors.New("empty input")
	ErrTableNotLoaded   = errors.New("rule table not loaded")
	ErrMalformedTable   = errors.New("malformed persisted rule table")
	ErrInvalidInput     = errors.New("invalid input")
	ErrInternal         = errors.New("internal error")
	ErrTimeout          = errors.New("operation timed out")
)

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

// InvalidThreshold reports a threshold parameter outside its valid range.
// The message names the parameter, the rejected value and the range.
func InvalidThreshold(param string, value float64, validRange string) *AppError {
	return Newf(ErrInvalidThreshold, http.StatusBadRequest,
		"%s must be in %s, got %v", param, validRange, value)
}

// Malformed wraps a decoding failure of a persisted rule table.
func Malformed(path string, cause error) *AppError {
	return &AppError{
		Err:        ErrMalformedTable,
		Message:    fmt.Sprintf("%s: %v", path, cause),
		StatusCode: http.StatusInternalServerError,
	}
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrInvalidThreshold), errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrTableNotLoaded), errors.Is(err, ErrTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
