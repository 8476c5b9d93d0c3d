package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func lastLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &entry))
	return entry
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		" warn ":  slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), "level %q", in)
	}
}

func TestNewWithWriter(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter("review-service", "warn", &buf)

	l.Info("dropped")
	assert.Empty(t, buf.String())

	l.Warn("review store slow", slog.Int("ms", 250))
	entry := lastLine(t, &buf)
	assert.Equal(t, "review-service", entry["service"])
	assert.Equal(t, "review store slow", entry["msg"])
	assert.EqualValues(t, 250, entry["ms"])
	assert.NotContains(t, entry, "source")

	buf.Reset()
	NewWithWriter("review-service", "debug", &buf).Debug("with source")
	assert.Contains(t, lastLine(t, &buf), "source")
}

func TestWithContext(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()

	tests := []struct {
		name    string
		ctx     func() context.Context
		present []string
		absent  []string
	}{
		{
			name:   "empty context",
			ctx:    context.Background,
			absent: []string{"correlation_id", "actor", "trace_id", "span_id"},
		},
		{
			name: "correlation and actor",
			ctx: func() context.Context {
				ctx := WithCorrelationID(context.Background(), "req-1")
				return WithActor(ctx, "moderator@example.com")
			},
			present: []string{"correlation_id", "actor"},
			absent:  []string{"trace_id"},
		},
		{
			name: "inside a span",
			ctx: func() context.Context {
				ctx, span := tp.Tracer("test").Start(context.Background(), "moderate")
				span.End()
				return ctx
			},
			present: []string{"trace_id", "span_id"},
			absent:  []string{"correlation_id", "actor"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			base := slog.New(slog.NewJSONHandler(&buf, nil))
			WithContext(tt.ctx(), base).Info("decided")

			entry := lastLine(t, &buf)
			for _, k := range tt.present {
				assert.NotEmpty(t, entry[k], k)
			}
			for _, k := range tt.absent {
				assert.NotContains(t, entry, k)
			}
		})
	}
}

func TestContextAccessors(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, CorrelationIDFromContext(ctx))
	assert.Empty(t, ActorFromContext(ctx))
	assert.Same(t, slog.Default(), FromContext(ctx))

	l := slog.New(slog.DiscardHandler)
	ctx = NewContext(WithActor(WithCorrelationID(ctx, "req-9"), "mod-1"), l)
	assert.Equal(t, "req-9", CorrelationIDFromContext(ctx))
	assert.Equal(t, "mod-1", ActorFromContext(ctx))
	assert.Same(t, l, FromContext(ctx))
}
