package httpclient

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker/v2"
)

// ErrCircuitOpen is returned without contacting the server while the breaker
// is open, or while a half-open breaker already has its probe in flight.
var (
	ErrCircuitOpen     = gobreaker.ErrOpenState
	ErrTooManyRequests = gobreaker.ErrTooManyRequests
)

var (
	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "http_client_breaker_state",
		Help: "Circuit breaker state per breaker: 0 closed, 1 half-open, 2 open.",
	}, []string{"breaker"})

	breakerRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_client_breaker_rejected_total",
		Help: "Requests refused by an open circuit breaker.",
	}, []string{"breaker"})
)

// BreakerConfig tunes a BreakerClient.
type BreakerConfig struct {
	Name string
	// HalfOpenRequests is how many probes pass while half-open.
	HalfOpenRequests uint32
	// ResetInterval clears the closed-state counts. Zero never clears them.
	ResetInterval time.Duration
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
	// The breaker trips once MinRequests have been seen and at least
	// FailureRatio of them failed.
	FailureRatio float64
	MinRequests  uint32
}

func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:             name,
		HalfOpenRequests: 1,
		ResetInterval:    time.Minute,
		OpenTimeout:      30 * time.Second,
		FailureRatio:     0.5,
		MinRequests:      5,
	}
}

// BreakerClient counts transport errors and 5xx responses as failures.
// 4xx responses are the caller's problem and count as successes.
type BreakerClient struct {
	client  *Client
	breaker *gobreaker.CircuitBreaker[*http.Response]
	name    string
}

func NewBreakerClient(client *Client, cfg BreakerConfig, logger *slog.Logger) *BreakerClient {
	breakerState.WithLabelValues(cfg.Name).Set(stateValue(gobreaker.StateClosed))

	return &BreakerClient{
		client: client,
		name:   cfg.Name,
		breaker: gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
			Name:        cfg.Name,
			MaxRequests: cfg.HalfOpenRequests,
			Interval:    cfg.ResetInterval,
			Timeout:     cfg.OpenTimeout,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.Requests >= cfg.MinRequests &&
					float64(c.TotalFailures) >= cfg.FailureRatio*float64(c.Requests)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("circuit breaker changed state",
					slog.String("breaker", name),
					slog.String("from", from.String()),
					slog.String("to", to.String()),
				)
				breakerState.WithLabelValues(name).Set(stateValue(to))
			},
		}),
	}
}

// Do sends req through the breaker. A 5xx response is returned as a
// *StatusError with the body already consumed.
func (b *BreakerClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	resp, err := b.breaker.Execute(func() (*http.Response, error) {
		resp, err := b.client.Do(ctx, req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, ParseResponseError(resp, b.name)
		}
		return resp, nil
	})
	if err == ErrCircuitOpen || err == ErrTooManyRequests {
		breakerRejected.WithLabelValues(b.name).Inc()
	}
	return resp, err
}

func (b *BreakerClient) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build GET %s: %w", url, err)
	}
	return b.Do(ctx, req)
}

func (b *BreakerClient) Post(ctx context.Context, url, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("build POST %s: %w", url, err)
	}
	req.Header.Set("Content-Type", contentType)
	return b.Do(ctx, req)
}

func (b *BreakerClient) State() gobreaker.State {
	return b.breaker.State()
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
