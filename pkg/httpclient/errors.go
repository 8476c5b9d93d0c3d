package httpclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	apperrors "github.com/localguide/reviews/pkg/errors"
)

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 1 << 20

// errorEnvelope is the error body written by httputil.WriteError.
type errorEnvelope struct {
	Error *struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Fields  map[string]string `json:"fields,omitempty"`
	} `json:"error"`
}

// FieldError is a 400 response that named the offending fields.
type FieldError struct {
	*apperrors.AppError
	Fields map[string]string
}

func (e *FieldError) Unwrap() error { return e.AppError }

// StatusError is a 5xx response. Body holds at most the first megabyte.
type StatusError struct {
	Service string
	Status  int
	Code    string
	Body    string
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s returned %d (%s): %s", e.Service, e.Status, e.Code, e.Body)
	}
	return fmt.Sprintf("%s returned %d: %s", e.Service, e.Status, e.Body)
}

// ParseResponseError consumes and closes a non-2xx response and converts it
// into an error. Structured 4xx bodies become *apperrors.AppError values with
// the remote code preserved, so callers can match on the usual sentinels.
// Anything else becomes a *StatusError.
func ParseResponseError(resp *http.Response, service string) error {
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return fmt.Errorf("%s returned %d, read body: %w", service, resp.StatusCode, err)
	}

	var env errorEnvelope
	if json.Unmarshal(raw, &env) != nil || env.Error == nil {
		return &StatusError{Service: service, Status: resp.StatusCode, Body: string(raw)}
	}
	if resp.StatusCode >= 500 {
		return &StatusError{Service: service, Status: resp.StatusCode, Code: env.Error.Code, Body: env.Error.Message}
	}

	appErr := remoteAppError(resp.StatusCode, env.Error.Code, service+": "+env.Error.Message)
	if len(env.Error.Fields) > 0 {
		return &FieldError{AppError: appErr, Fields: env.Error.Fields}
	}
	return appErr
}

func remoteAppError(status int, code, message string) *apperrors.AppError {
	var e *apperrors.AppError
	switch status {
	case http.StatusNotFound:
		e = apperrors.NotFound("", "")
	case http.StatusBadRequest:
		e = apperrors.InvalidInput("")
	case http.StatusConflict:
		e = apperrors.Conflict(code, "")
	case http.StatusUnauthorized:
		e = apperrors.Unauthorized("")
	case http.StatusForbidden:
		e = apperrors.Forbidden("")
	case http.StatusTooManyRequests:
		e = apperrors.RateLimited("")
	case http.StatusRequestEntityTooLarge:
		e = apperrors.PayloadTooLarge("")
	case http.StatusUnsupportedMediaType:
		e = apperrors.UnsupportedMediaType("")
	default:
		e = &apperrors.AppError{Status: status}
	}
	if code != "" {
		e.Code = code
	}
	e.Message = message
	return e
}
