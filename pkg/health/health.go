// Package health serves the liveness and readiness probes. Readiness runs
// every registered dependency check in parallel: a failing critical check
// (the review store) makes the service unready, a failing non-critical one
// (cache, event bus) only marks it degraded.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

type Checker func(ctx context.Context) error

type Status string

const (
	StatusUp       Status = "up"
	StatusDown     Status = "down"
	StatusDegraded Status = "degraded"
)

type Response struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

type CheckResult struct {
	Status    Status `json:"status"`
	Critical  bool   `json:"critical"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

type check struct {
	fn       Checker
	critical bool
}

type Handler struct {
	mu      sync.RWMutex
	checks  map[string]check
	timeout time.Duration
	now     func() time.Time
}

// NewHandler bounds each readiness probe to five seconds.
func NewHandler() *Handler {
	return &Handler{checks: map[string]check{}, timeout: 5 * time.Second, now: time.Now}
}

func (h *Handler) RegisterCritical(name string, fn Checker) { h.add(name, fn, true) }

func (h *Handler) RegisterNonCritical(name string, fn Checker) { h.add(name, fn, false) }

func (h *Handler) add(name string, fn Checker, critical bool) {
	h.mu.Lock()
	h.checks[name] = check{fn: fn, critical: critical}
	h.mu.Unlock()
}

// Check runs every registered check concurrently and folds the results.
func (h *Handler) Check(ctx context.Context) Response {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	h.mu.RLock()
	names := make([]string, 0, len(h.checks))
	checks := make([]check, 0, len(h.checks))
	for name, c := range h.checks {
		names = append(names, name)
		checks = append(checks, c)
	}
	h.mu.RUnlock()

	results := make([]CheckResult, len(checks))
	var g errgroup.Group
	for i, c := range checks {
		g.Go(func() error {
			start := h.now()
			err := c.fn(ctx)
			results[i] = CheckResult{
				Status:    StatusUp,
				Critical:  c.critical,
				LatencyMS: h.now().Sub(start).Milliseconds(),
			}
			if err != nil {
				results[i].Status = StatusDown
				results[i].Error = err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()

	resp := Response{Status: StatusUp, Timestamp: h.now().UTC(), Checks: make(map[string]CheckResult, len(names))}
	for i, name := range names {
		res := results[i]
		resp.Checks[name] = res
		switch {
		case res.Status == StatusUp:
		case res.Critical:
			resp.Status = StatusDown
		case resp.Status == StatusUp:
			resp.Status = StatusDegraded
		}
	}
	return resp
}

// LivenessHandler answers 200 while the process can serve HTTP at all.
func (h *Handler) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, Response{Status: StatusUp, Timestamp: h.now().UTC()})
	}
}

// ReadinessHandler answers 503 only when a critical check is down.
func (h *Handler) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := h.Check(r.Context())
		status := http.StatusOK
		if resp.Status == StatusDown {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, resp)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
