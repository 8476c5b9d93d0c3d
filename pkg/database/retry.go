package database

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// retryPolicy drives the startup retries for connecting and migrating.
type retryPolicy struct {
	attempts int
	base     time.Duration
	jitter   float64
}

var startupRetry = retryPolicy{attempts: 3, base: time.Second, jitter: 0.25}

// wait returns the pause after the given failed attempt (0-indexed): the base
// doubled per attempt, spread by the jitter fraction in both directions.
func (p retryPolicy) wait(attempt int) time.Duration {
	d := p.base << max(attempt, 0)
	spread := float64(d) * p.jitter * (2*rand.Float64() - 1) // #nosec G404
	return d + time.Duration(spread)
}

// do calls fn until it succeeds, returns an error retryable rejects, or the
// attempts run out. A nil retryable treats every error as transient.
func (p retryPolicy) do(ctx context.Context, logger *slog.Logger, what string, retryable func(error) bool, fn func(context.Context) error) error {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	var err error
	for attempt := range p.attempts {
		if err = fn(ctx); err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}
		if attempt == p.attempts-1 {
			break
		}

		pause := p.wait(attempt)
		logger.WarnContext(ctx, what+" failed, retrying",
			slog.Int("attempt", attempt+1),
			slog.Int("max_attempts", p.attempts),
			slog.Duration("backoff", pause),
			slog.String("error", err.Error()),
		)
		t := time.NewTimer(pause)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("%s: %w", what, ctx.Err())
		case <-t.C:
		}
	}
	return fmt.Errorf("%s after %d attempts: %w", what, p.attempts, err)
}

// transient reports whether err is a lost or refused connection rather than
// something the server rejected. Only the former is worth retrying.
func transient(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// cannot_connect_now: the server is still starting up.
		return pgErr.Code == "57P03"
	}

	var (
		connErr *pgconn.ConnectError
		netErr  net.Error
	)
	switch {
	case errors.As(err, &connErr), errors.As(err, &netErr):
		return true
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return true
	case errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE):
		return true
	}
	return pgconn.SafeToRetry(err)
}
