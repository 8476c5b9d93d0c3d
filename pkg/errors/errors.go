// Package errors defines the error values shared by the review service and
// its clients, and the HTTP status each one maps to.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinels. Wrap them, or return an *AppError whose Err is one of them, so
// callers can match with errors.Is.
var (
	ErrNotFound         = errors.New("resource not found")
	ErrAlreadyExists    = errors.New("resource already exists")
	ErrInvalidInput     = errors.New("invalid input")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrForbidden        = errors.New("forbidden")
	ErrInternal         = errors.New("internal error")
	ErrConflict         = errors.New("conflict")
	ErrServiceUnavail   = errors.New("service unavailable")
	ErrRateLimited      = errors.New("rate limited")
	ErrUnsupportedMedia = errors.New("unsupported media type")
	ErrPayloadTooLarge  = errors.New("payload too large")
)

// sentinelStatus is consulted in order by HTTPStatus for errors that are not
// an *AppError.
var sentinelStatus = []struct {
	err    error
	status int
}{
	{ErrNotFound, http.StatusNotFound},
	{ErrAlreadyExists, http.StatusConflict},
	{ErrConflict, http.StatusConflict},
	{ErrInvalidInput, http.StatusBadRequest},
	{ErrUnauthorized, http.StatusUnauthorized},
	{ErrForbidden, http.StatusForbidden},
	{ErrRateLimited, http.StatusTooManyRequests},
	{ErrUnsupportedMedia, http.StatusUnsupportedMediaType},
	{ErrPayloadTooLarge, http.StatusRequestEntityTooLarge},
	{ErrServiceUnavail, http.StatusServiceUnavailable},
}

// AppError is an error with a stable machine code and the HTTP status it is
// reported with. Message is safe to show to API callers.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Code + ": " + e.Message
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
}

func (e *AppError) Unwrap() error { return e.Err }

func newAppError(code string, status int, sentinel error, message string) *AppError {
	return &AppError{Code: code, Message: message, Status: status, Err: sentinel}
}

// NotFound reports that the resource identified by id does not exist.
func NotFound(resource, id string) *AppError {
	return newAppError("NOT_FOUND", http.StatusNotFound, ErrNotFound,
		fmt.Sprintf("%s %s not found", resource, id))
}

// AlreadyExists reports a uniqueness violation on field.
func AlreadyExists(resource, field, value string) *AppError {
	return newAppError("ALREADY_EXISTS", http.StatusConflict, ErrAlreadyExists,
		fmt.Sprintf("%s with %s %q already exists", resource, field, value))
}

// Conflict reports a state conflict under a caller-chosen code, such as a
// moderation decision that contradicts an earlier one.
func Conflict(code, message string) *AppError {
	return newAppError(code, http.StatusConflict, ErrConflict, message)
}

func InvalidInput(message string) *AppError {
	return newAppError("INVALID_INPUT", http.StatusBadRequest, ErrInvalidInput, message)
}

func Unauthorized(message string) *AppError {
	return newAppError("UNAUTHORIZED", http.StatusUnauthorized, ErrUnauthorized, message)
}

func Forbidden(message string) *AppError {
	return newAppError("FORBIDDEN", http.StatusForbidden, ErrForbidden, message)
}

func RateLimited(message string) *AppError {
	return newAppError("RATE_LIMITED", http.StatusTooManyRequests, ErrRateLimited, message)
}

func UnsupportedMediaType(message string) *AppError {
	return newAppError("UNSUPPORTED_MEDIA_TYPE", http.StatusUnsupportedMediaType, ErrUnsupportedMedia, message)
}

func PayloadTooLarge(message string) *AppError {
	return newAppError("PAYLOAD_TOO_LARGE", http.StatusRequestEntityTooLarge, ErrPayloadTooLarge, message)
}

func ServiceUnavailable(message string) *AppError {
	return newAppError("SERVICE_UNAVAILABLE", http.StatusServiceUnavailable, ErrServiceUnavail, message)
}

// Internal hides err behind a generic message. The cause is kept for logs.
func Internal(err error) *AppError {
	return newAppError("INTERNAL_ERROR", http.StatusInternalServerError, err, "an internal error occurred")
}

// HTTPStatus returns the status err should be reported with. Unknown errors
// are internal.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	for _, s := range sentinelStatus {
		if errors.Is(err, s.err) {
			return s.status
		}
	}
	return http.StatusInternalServerError
}
