// Command server runs the review HTTP service.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/localguide/reviews/pkg/logger"
	"github.com/localguide/reviews/services/review/internal/app"
	"github.com/localguide/reviews/services/review/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := serve(ctx)
	stop()
	os.Exit(code)
}

func serve(ctx context.Context) int {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		return 2
	}

	log := logger.New("review-service", cfg.LogLevel)
	slog.SetDefault(log)
	log.Info("starting review service",
		slog.String("environment", cfg.Environment),
		slog.Int("http_port", cfg.HTTPPort),
		slog.String("store", cfg.StoreDriver),
		slog.String("rate_limit_backend", cfg.RateLimitBackend),
	)

	svc, err := app.NewApp(cfg, log)
	if err != nil {
		log.Error("startup failed", slog.String("error", err.Error()))
		return 1
	}
	if err := svc.Run(ctx); err != nil {
		log.Error("service exited", slog.String("error", err.Error()))
		return 1
	}
	log.Info("review service stopped")
	return 0
}
