// Package httputil writes the JSON envelope every review API response uses:
// {"data": ...} on success and {"error": {...}} on failure.
package httputil

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	apperrors "github.com/localguide/reviews/pkg/errors"
	"github.com/localguide/reviews/pkg/logger"
	"github.com/localguide/reviews/pkg/validator"
)

type Response struct {
	Data  any            `json:"data,omitempty"`
	Error *ErrorResponse `json:"error,omitempty"`
}

type ErrorResponse struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
}

// WriteJSON encodes v with status. Encoding errors are dropped because the
// status line has already been sent.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// genericErrors describes bare sentinel errors that reach WriteError without
// an *apperrors.AppError around them.
var genericErrors = map[int]ErrorResponse{
	http.StatusNotFound:            {Code: "NOT_FOUND", Message: "resource not found"},
	http.StatusConflict:            {Code: "CONFLICT", Message: "resource state conflict"},
	http.StatusBadRequest:          {Code: "INVALID_INPUT", Message: "invalid input"},
	http.StatusUnauthorized:        {Code: "UNAUTHORIZED", Message: "authentication required"},
	http.StatusForbidden:           {Code: "FORBIDDEN", Message: "insufficient permissions"},
	http.StatusTooManyRequests:     {Code: "RATE_LIMITED", Message: "too many requests"},
	http.StatusServiceUnavailable:  {Code: "SERVICE_UNAVAILABLE", Message: "service temporarily unavailable"},
	http.StatusInternalServerError: {Code: "INTERNAL_ERROR", Message: "an internal error occurred"},
}

// WriteError maps err to a status and error body. Validation failures list
// their fields. 5xx causes are logged and never echoed to the client. The
// request-scoped logger is preferred over fallback when one is installed.
func WriteError(w http.ResponseWriter, r *http.Request, err error, fallback *slog.Logger) {
	status, body := describe(err)
	body.RequestID = logger.CorrelationIDFromContext(r.Context())

	if status >= http.StatusInternalServerError {
		l := logger.FromContext(r.Context())
		if l == slog.Default() && fallback != nil {
			l = fallback
		}
		l.ErrorContext(r.Context(), "request failed",
			slog.String("error", err.Error()),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)
	}

	WriteJSON(w, status, Response{Error: &body})
}

func describe(err error) (int, ErrorResponse) {
	var valErr *validator.ValidationError
	if errors.As(err, &valErr) {
		return http.StatusBadRequest, ErrorResponse{
			Code:    "VALIDATION_ERROR",
			Message: "request validation failed",
			Fields:  valErr.Fields(),
		}
	}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.Status, ErrorResponse{Code: appErr.Code, Message: appErr.Message}
	}

	status := apperrors.HTTPStatus(err)
	body, ok := genericErrors[status]
	if !ok {
		status, body = http.StatusInternalServerError, genericErrors[http.StatusInternalServerError]
	}
	return status, body
}

// DecodeJSON reads a JSON body of at most maxBytes into dst. Oversized bodies
// are a 413 and anything undecodable a 400.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any, maxBytes int64) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil {
		return nil
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return apperrors.PayloadTooLarge("request body too large")
	}
	return apperrors.InvalidInput("invalid request body")
}
