// Package ratelimit implements the fixed-window submission limiter used by
// the submission gate. A key is allowed while its count within the current
// window is at most the limit, so the request that reaches the limit exactly
// still goes through.
package ratelimit

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/blake2b"
)

// Decision is the outcome of a single Allow call.
type Decision struct {
	Allowed    bool
	Count      int64
	RetryAfter time.Duration
}

// Limiter counts hits per key inside fixed windows.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// Config holds the window parameters shared by every backend.
type Config struct {
	Limit  int64
	Window time.Duration
}

// DefaultConfig allows 5 submissions per 10 minutes.
func DefaultConfig() Config {
	return Config{Limit: 5, Window: 10 * time.Minute}
}

func (c Config) validate() error {
	if c.Limit <= 0 {
		return fmt.Errorf("rate limit must be positive, got %d", c.Limit)
	}
	if c.Window <= 0 {
		return fmt.Errorf("rate limit window must be positive, got %s", c.Window)
	}
	return nil
}

// ClientKey derives the limiter key for one client submitting to one scope.
// The address is hashed with BLAKE2b so raw client IPs never end up in
// Redis keys or in the limiter's memory.
func ClientKey(scope, clientIP string) string {
	if clientIP == "" {
		clientIP = "unknown"
	}
	sum := blake2b.Sum256([]byte(clientIP))
	return scope + "|" + hex.EncodeToString(sum[:16])
}

// windowStart truncates now to the start of its window.
func windowStart(now time.Time, window time.Duration) time.Time {
	return now.Truncate(window)
}

func decide(count int64, cfg Config, start, now time.Time) Decision {
	d := Decision{Allowed: count <= cfg.Limit, Count: count}
	if !d.Allowed {
		d.RetryAfter = start.Add(cfg.Window).Sub(now)
		if d.RetryAfter < time.Second {
			d.RetryAfter = time.Second
		}
	}
	return d
}

// ---------------------------------------------------------------------------
// In-memory backend
// ---------------------------------------------------------------------------

type bucket struct {
	start time.Time
	count int64
}

// MemoryLimiter keeps counters in process. It is suitable for a single
// instance; use RedisLimiter when several replicas share traffic.
type MemoryLimiter struct {
	cfg Config

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
	now       func() time.Time
}

// NewMemoryLimiter creates an in-process limiter.
func NewMemoryLimiter(cfg Config) (*MemoryLimiter, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &MemoryLimiter{
		cfg:     cfg,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}, nil
}

// Allow records a hit for key and reports whether it is within the limit.
func (l *MemoryLimiter) Allow(_ context.Context, key string) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	start := windowStart(now, l.cfg.Window)

	// Expired windows are dropped at most once per window.
	if now.Sub(l.lastSweep) > l.cfg.Window {
		for k, b := range l.buckets {
			if b.start.Before(start) {
				delete(l.buckets, k)
			}
		}
		l.lastSweep = now
	}

	b, ok := l.buckets[key]
	if !ok || !b.start.Equal(start) {
		b = &bucket{start: start}
		l.buckets[key] = b
	}
	b.count++
	return decide(b.count, l.cfg, start, now), nil
}

// ---------------------------------------------------------------------------
// Redis backend
// ---------------------------------------------------------------------------

const keyPrefix = "ratelimit:review:"

// RedisLimiter shares counters between replicas through Redis. Each window
// has its own key which expires with the window.
type RedisLimiter struct {
	client redis.UniversalClient
	cfg    Config
	now    func() time.Time
}

// NewRedisLimiter creates a limiter backed by the given client.
func NewRedisLimiter(client redis.UniversalClient, cfg Config) (*RedisLimiter, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &RedisLimiter{client: client, cfg: cfg, now: time.Now}, nil
}

func (l *RedisLimiter) windowKey(key string, start time.Time) string {
	return fmt.Sprintf("%s%s:%d", keyPrefix, key, start.Unix())
}

// Allow increments the window counter atomically. The expiry is set in the
// same pipeline so an abandoned key never outlives its window.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	now := l.now()
	start := windowStart(now, l.cfg.Window)
	k := l.windowKey(key, start)

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.Expire(ctx, k, l.cfg.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, fmt.Errorf("increment rate limit counter: %w", err)
	}
	return decide(incr.Val(), l.cfg, start, now), nil
}
