package middleware

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	apperrors "github.com/localguide/reviews/pkg/errors"
	"github.com/localguide/reviews/pkg/httputil"
)

// RateLimitConfig configures the per-client token bucket.
type RateLimitConfig struct {
	// RPS is the sustained number of requests per second per client.
	RPS float64
	// Burst is the bucket size.
	Burst int
	// TrustProxy makes the limiter key on X-Forwarded-For / X-Real-IP.
	// Only enable it behind a proxy that overwrites those headers.
	TrustProxy bool
	// IdleTTL is how long an unused bucket is kept. Defaults to 3 minutes.
	IdleTTL time.Duration
}

type bucket struct {
	*rate.Limiter
	touched time.Time
}

// buckets maps client addresses to token buckets.
type buckets struct {
	mu     sync.Mutex
	byAddr map[string]*bucket
	limit  rate.Limit
	burst  int
	idle   time.Duration
	swept  time.Time
	clock  func() time.Time
}

func newBuckets(cfg RateLimitConfig) *buckets {
	return &buckets{
		byAddr: make(map[string]*bucket),
		limit:  rate.Limit(cfg.RPS),
		burst:  cfg.Burst,
		idle:   cfg.IdleTTL,
		swept:  time.Now(),
		clock:  time.Now,
	}
}

// take spends one token for addr. When the bucket is empty it returns the
// time until the next token.
func (b *buckets) take(addr string) (time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock()
	if now.Sub(b.swept) > b.idle {
		b.sweep(now)
	}

	bk := b.byAddr[addr]
	if bk == nil {
		bk = &bucket{Limiter: rate.NewLimiter(b.limit, b.burst)}
		b.byAddr[addr] = bk
	}
	bk.touched = now

	res := bk.ReserveN(now, 1)
	if !res.OK() {
		return time.Second, false
	}
	if wait := res.DelayFrom(now); wait > 0 {
		res.CancelAt(now)
		return wait, false
	}
	return 0, true
}

func (b *buckets) sweep(now time.Time) {
	for addr, bk := range b.byAddr {
		if now.Sub(bk.touched) > b.idle {
			delete(b.byAddr, addr)
		}
	}
	b.swept = now
}

func (b *buckets) size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.byAddr)
}

func retryAfterSeconds(wait time.Duration) string {
	return strconv.Itoa(max(1, int(math.Ceil(wait.Seconds()))))
}

// RateLimit returns middleware that enforces a per-IP token bucket.
// Requests over the limit get 429 with a Retry-After hint.
func RateLimit(cfg RateLimitConfig, l *slog.Logger) func(http.Handler) http.Handler {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 3 * time.Minute
	}
	cfg.Burst = max(cfg.Burst, 1)
	limiter := newBuckets(cfg)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			addr := ClientIP(r, cfg.TrustProxy)
			wait, ok := limiter.take(addr)
			if ok {
				next.ServeHTTP(w, r)
				return
			}
			l.WarnContext(r.Context(), "rate limit exceeded",
				slog.String("ip", addr),
				slog.String("path", r.URL.Path),
				slog.Duration("retry_in", wait),
			)
			w.Header().Set("Retry-After", retryAfterSeconds(wait))
			httputil.WriteError(w, r, apperrors.RateLimited("too many requests"), l)
		})
	}
}

// ClientIP returns the caller's address. With trustProxy set the first
// X-Forwarded-For hop wins, then X-Real-IP, then the socket peer.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		first, _, _ := strings.Cut(r.Header.Get("X-Forwarded-For"), ",")
		for _, candidate := range []string{first, r.Header.Get("X-Real-IP")} {
			if addr, err := netip.ParseAddr(strings.TrimSpace(candidate)); err == nil {
				return addr.Unmap().String()
			}
		}
	}

	if ap, err := netip.ParseAddrPort(r.RemoteAddr); err == nil {
		return ap.Addr().Unmap().String()
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
