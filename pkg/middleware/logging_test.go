package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/localguide/reviews/pkg/logger"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func logLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal(line, &entry))
		out = append(out, entry)
	}
	return out
}

func TestRequestLogging_CorrelationID(t *testing.T) {
	tests := []struct {
		name    string
		inbound string
		keep    bool
	}{
		{"generated when absent", "", false},
		{"propagated from caller", "widget-42", true},
		{"oversized replaced", strings.Repeat("x", maxCorrelationIDLen+1), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			h := RequestLogging(discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = logger.CorrelationIDFromContext(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/v1/reviews/lakes/hotel/grand-view", nil)
			if tt.inbound != "" {
				req.Header.Set(CorrelationHeader, tt.inbound)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			require.NotEmpty(t, seen)
			assert.Equal(t, seen, rec.Header().Get(CorrelationHeader))
			if tt.keep {
				assert.Equal(t, tt.inbound, seen)
			} else {
				assert.NotEqual(t, tt.inbound, seen)
				assert.Len(t, seen, 36)
			}
		})
	}
}

func TestRequestLogging_AccessLine(t *testing.T) {
	var buf bytes.Buffer
	h := RequestLogging(logger.NewWithWriter("review", "info", &buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = io.WriteString(w, `{"data":{"status":"pending"}}`)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/reviews/lakes/hotel/grand-view", nil)
	req.Header.Set(CorrelationHeader, "corr-1")
	h.ServeHTTP(httptest.NewRecorder(), req)

	lines := logLines(t, &buf)
	require.Len(t, lines, 1)
	entry := lines[0]
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "POST", entry["method"])
	assert.EqualValues(t, http.StatusAccepted, entry["status"])
	assert.EqualValues(t, len(`{"data":{"status":"pending"}}`), entry["bytes"])
	assert.Equal(t, "corr-1", entry["correlation_id"])
}

func TestRequestLogging_ServerErrorsWarn(t *testing.T) {
	var buf bytes.Buffer
	h := RequestLogging(logger.NewWithWriter("review", "info", &buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	lines := logLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "WARN", lines[0]["level"])
}

func TestRequestLogger_EnrichesContextLogger(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(t.Context()) }()

	var buf bytes.Buffer
	base := logger.NewWithWriter("review", "info", &buf)
	h := RequestLogging(discardLogger())(RequestLogger(base)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).InfoContext(r.Context(), "listing reviews")
	})))

	ctx, span := tp.Tracer("test").Start(t.Context(), "GET")
	defer span.End()
	req := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx)
	req.Header.Set(CorrelationHeader, "corr-7")
	h.ServeHTTP(httptest.NewRecorder(), req)

	lines := logLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "corr-7", lines[0]["correlation_id"])
	assert.Equal(t, span.SpanContext().TraceID().String(), lines[0]["trace_id"])
	assert.Equal(t, "review", lines[0]["service"])
}

func TestStatusRecorder(t *testing.T) {
	rec := record(httptest.NewRecorder())
	assert.Equal(t, http.StatusOK, rec.Status())

	rec.WriteHeader(http.StatusTooManyRequests)
	rec.WriteHeader(http.StatusInternalServerError)
	assert.Equal(t, http.StatusTooManyRequests, rec.Status())
	assert.Same(t, rec, record(rec))

	implicit := record(httptest.NewRecorder())
	_, _ = implicit.Write([]byte("ok"))
	assert.Equal(t, http.StatusOK, implicit.Status())
	assert.Equal(t, 2, implicit.bytes)
}
