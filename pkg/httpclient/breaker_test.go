package httpclient

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBreaker(t *testing.T, openFor time.Duration) BreakerConfig {
	cfg := DefaultBreakerConfig("test-" + t.Name())
	cfg.MinRequests = 3
	cfg.OpenTimeout = openFor
	return cfg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBreaker_TripsOnServerErrors(t *testing.T) {
	srv, calls := flakyServer(t, 100, http.StatusInternalServerError)
	cfg := newTestBreaker(t, time.Minute)
	b := NewBreakerClient(New(fastConfig(0)), cfg, quietLogger())

	for range 3 {
		_, err := b.Get(context.Background(), srv.URL)
		var statusErr *StatusError
		require.ErrorAs(t, err, &statusErr)
		assert.Equal(t, http.StatusInternalServerError, statusErr.Status)
	}
	assert.Equal(t, gobreaker.StateOpen, b.State())

	_, err := b.Get(context.Background(), srv.URL)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(breakerRejected.WithLabelValues(cfg.Name)))
	assert.Equal(t, 2.0, testutil.ToFloat64(breakerState.WithLabelValues(cfg.Name)))
}

func TestBreaker_ClientErrorsDoNotTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":{"code":"NOT_FOUND","message":"review scope not found"}}`)
	}))
	defer srv.Close()

	b := NewBreakerClient(New(fastConfig(0)), newTestBreaker(t, time.Minute), quietLogger())
	for range 5 {
		resp, err := b.Get(context.Background(), srv.URL)
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		resp.Body.Close()
	}
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func TestBreaker_RecoversThroughHalfOpen(t *testing.T) {
	var failing atomic.Bool
	failing.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failing.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	b := NewBreakerClient(New(fastConfig(0)), newTestBreaker(t, 50*time.Millisecond), quietLogger())
	for range 3 {
		_, _ = b.Post(context.Background(), srv.URL, "application/json", strings.NewReader(`{}`))
	}
	require.Equal(t, gobreaker.StateOpen, b.State())

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, gobreaker.StateHalfOpen, b.State())

	failing.Store(false)
	resp, err := b.Post(context.Background(), srv.URL, "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	srv, _ := flakyServer(t, 100, http.StatusBadGateway)

	b := NewBreakerClient(New(fastConfig(0)), newTestBreaker(t, 50*time.Millisecond), quietLogger())
	for range 3 {
		_, _ = b.Get(context.Background(), srv.URL)
	}
	time.Sleep(80 * time.Millisecond)

	_, err := b.Get(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Equal(t, gobreaker.StateOpen, b.State())
}
