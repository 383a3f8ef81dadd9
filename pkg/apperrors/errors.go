// Package apperrors holds the error taxonomy shared by the scheduling service,
// its HTTP surface and the dashboard command client.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	CodeValidation         = "VALIDATION_ERROR"
	CodeInvalidTransition  = "INVALID_TRANSITION"
	CodeConflict           = "CONFLICT"
	CodeForbidden          = "FORBIDDEN"
	CodeNotFound           = "NOT_FOUND"
	CodePreconditionFailed = "PRECONDITION_FAILED"
	CodeTimeout            = "TIMEOUT"
	CodeUnavailable        = "SERVICE_UNAVAILABLE"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeInternal           = "INTERNAL_ERROR"
)

var (
	ErrValidation         = errors.New("validation error")
	ErrInvalidTransition  = errors.New("invalid transition")
	ErrConflict           = errors.New("conflict")
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("not found")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrTimeout            = errors.New("timeout")
	ErrUnavailable        = errors.New("service unavailable")
)

var taxonomy = []struct {
	err    error
	code   string
	status int
}{
	{ErrValidation, CodeValidation, http.StatusBadRequest},
	{ErrInvalidTransition, CodeInvalidTransition, http.StatusUnprocessableEntity},
	{ErrConflict, CodeConflict, http.StatusConflict},
	{ErrForbidden, CodeForbidden, http.StatusForbidden},
	{ErrNotFound, CodeNotFound, http.StatusNotFound},
	{ErrPreconditionFailed, CodePreconditionFailed, http.StatusPreconditionFailed},
	{ErrTimeout, CodeTimeout, http.StatusGatewayTimeout},
	{ErrUnavailable, CodeUnavailable, http.StatusServiceUnavailable},
}

// BatchError reports which element of a bulk request failed.
type BatchError struct {
	Index int
	Err   error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("session %d: %v", e.Index, e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}

// Code returns the wire code for err, or CodeInternal when err is outside the taxonomy.
func Code(err error) string {
	for _, entry := range taxonomy {
		if errors.Is(err, entry.err) {
			return entry.code
		}
	}
	return CodeInternal
}

// HTTPStatus returns the response status for err.
func HTTPStatus(err error) int {
	for _, entry := range taxonomy {
		if errors.Is(err, entry.err) {
			return entry.status
		}
	}
	return http.StatusInternalServerError
}

// FromCode maps a wire code back to its sentinel. Unknown codes return nil.
func FromCode(code string) error {
	for _, entry := range taxonomy {
		if entry.code == code {
			return entry.err
		}
	}
	return nil
}

// Retryable reports whether err signals a transport-level failure where the
// caller does not know the server-side outcome.
func Retryable(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrUnavailable)
}
