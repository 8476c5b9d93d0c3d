package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/localguide/reviews/pkg/database"
	"github.com/localguide/reviews/pkg/health"
	pkgkafka "github.com/localguide/reviews/pkg/kafka"
	"github.com/localguide/reviews/pkg/middleware"
	"github.com/localguide/reviews/pkg/tracing"
	"github.com/localguide/reviews/services/review/internal/auth"
	"github.com/localguide/reviews/services/review/internal/cache"
	"github.com/localguide/reviews/services/review/internal/config"
	"github.com/localguide/reviews/services/review/internal/event"
	handler "github.com/localguide/reviews/services/review/internal/handler/http"
	"github.com/localguide/reviews/services/review/internal/ratelimit"
	"github.com/localguide/reviews/services/review/internal/repository"
	"github.com/localguide/reviews/services/review/internal/repository/memory"
	"github.com/localguide/reviews/services/review/internal/repository/postgres"
	"github.com/localguide/reviews/services/review/internal/service"
	"github.com/localguide/reviews/services/review/internal/sites"
	"github.com/localguide/reviews/services/review/migrations"
)

// App owns the review service's dependencies and HTTP server.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	server  *http.Server
	rdb     *redis.Client
	closers []closer
}

type closer struct {
	name  string
	close func(context.Context) error
}

// onClose registers a resource; release closes them in reverse order.
func (a *App) onClose(name string, fn func(context.Context) error) {
	a.closers = append(a.closers, closer{name: name, close: fn})
}

// NewApp connects every configured dependency and builds the router. On
// failure whatever was already opened is released again.
func NewApp(cfg *config.Config, logger *slog.Logger) (_ *App, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.release()
		}
	}()

	probes := health.NewHandler()

	repo, err := a.openStore(ctx, probes)
	if err != nil {
		return nil, err
	}
	registry, err := a.loadRegistry()
	if err != nil {
		return nil, err
	}
	if err := a.openRedis(ctx, probes); err != nil {
		return nil, err
	}
	limiter, err := a.newLimiter()
	if err != nil {
		return nil, err
	}
	events := a.openEvents(probes)

	// Opened last so release flushes spans right after the HTTP drain.
	shutdownTracer, err := tracing.Setup(ctx, tracing.Config{
		Enabled:        cfg.OTELEnabled,
		ServiceName:    handler.ServiceName,
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}
	a.onClose("tracer", shutdownTracer)

	jwtManager, err := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTExpiry)
	if err != nil {
		return nil, fmt.Errorf("init jwt manager: %w", err)
	}

	var listCache service.ListCache
	if cfg.ListCacheEnabled() {
		listCache = cache.NewListCache(a.rdb, cfg.ListCacheTTL)
	}

	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.AllowedOrigins = cfg.CORSAllowedOrigins

	router := handler.NewRouter(handler.Services{
		Gate:           service.NewSubmissionGate(repo, limiter, registry, events, logger),
		Moderation:     service.NewModerationService(repo, listCache, events, logger),
		Aggregation:    service.NewAggregationService(repo, listCache, registry, logger),
		TokenValidator: jwtManager.Validator(),
	}, probes, logger, handler.RouterConfig{
		CORS:            corsCfg,
		PublicRateLimit: middleware.RateLimitConfig{RPS: cfg.PublicRPS, Burst: cfg.PublicBurst},
		TrustProxy:      cfg.TrustProxyHeaders,
		CacheMaxAge:     cfg.CacheMaxAge,
		PprofCIDRs:      cfg.PprofAllowedCIDRs,
	})

	a.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       time.Minute,
	}
	return a, nil
}

// openStore returns the review repository for the configured driver. The
// postgres store is migrated and registered as a critical readiness check.
func (a *App) openStore(ctx context.Context, probes *health.Handler) (repository.ReviewRepository, error) {
	cfg := a.cfg
	if cfg.StoreDriver == config.StoreMemory {
		a.logger.Warn("using in-memory review store; data is lost on restart")
		return memory.NewReviewRepository(), nil
	}

	pool, err := database.NewPostgresPoolWithLogger(ctx, &database.PostgresConfig{
		URL:             cfg.DatabaseURL,
		Host:            cfg.PostgresHost,
		Port:            cfg.PostgresPort,
		User:            cfg.PostgresUser,
		Password:        cfg.PostgresPass,
		DBName:          cfg.PostgresDB,
		SSLMode:         cfg.PostgresSSL,
		ApplicationName: handler.ServiceName,
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		MaxConnLifetime: time.Duration(cfg.DBMaxConnLifetimeMins) * time.Minute,
		MaxConnIdleTime: time.Duration(cfg.DBMaxConnIdleTimeMins) * time.Minute,
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	a.onClose("postgres", func(context.Context) error {
		pool.Close()
		return nil
	})
	a.logger.Info("review store connected", slog.String("database", cfg.PostgresDB))

	if err := database.RegisterPoolMetrics(prometheus.DefaultRegisterer, pool, handler.ServiceName); err != nil {
		a.logger.Warn("pool metrics not registered", slog.String("error", err.Error()))
	}
	if err := database.RunMigrations(ctx, pool, migrations.FS, a.logger); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	if cfg.SlowQueryThresholdMs > 0 {
		database.SetSlowQueryLogging(time.Duration(cfg.SlowQueryThresholdMs)*time.Millisecond, a.logger)
	}

	probes.RegisterCritical("postgres", pool.Ping)
	return postgres.NewReviewRepository(pool), nil
}

// loadRegistry reads the site registry file. Without one every well-formed
// scope is accepted.
func (a *App) loadRegistry() (service.ScopeRegistry, error) {
	if a.cfg.SitesFile == "" {
		return nil, nil
	}
	reg, err := sites.Load(a.cfg.SitesFile)
	if err != nil {
		return nil, err
	}
	a.logger.Info("site registry loaded",
		slog.String("file", a.cfg.SitesFile),
		slog.Int("sites", reg.Len()),
	)
	return reg, nil
}

func (a *App) openRedis(ctx context.Context, probes *health.Handler) error {
	cfg := a.cfg
	if !cfg.RedisEnabled {
		return nil
	}
	rcfg := database.DefaultRedisConfig()
	rcfg.Host, rcfg.Port = cfg.RedisHost, cfg.RedisPort
	rcfg.Password, rcfg.DB = cfg.RedisPassword, cfg.RedisDB
	rcfg.ClientName = handler.ServiceName
	rdb, err := database.NewRedisClient(ctx, rcfg)
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	a.rdb = rdb
	a.onClose("redis", func(context.Context) error { return rdb.Close() })
	a.logger.Info("redis connected", slog.String("addr", rcfg.Addr()))

	probes.RegisterNonCritical("redis", database.RedisPinger(rdb))
	return nil
}

// openEvents returns nil when Kafka is disabled; the services then skip
// publishing.
func (a *App) openEvents(probes *health.Handler) service.EventPublisher {
	if !a.cfg.KafkaEnabled {
		return nil
	}
	producer := pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(a.cfg.KafkaBrokers), a.logger)
	a.onClose("kafka", func(context.Context) error { return producer.Close() })
	a.logger.Info("kafka producer ready", slog.Any("brokers", a.cfg.KafkaBrokers))

	probes.RegisterNonCritical("kafka", producer.Ping)
	return event.NewProducer(producer, a.logger)
}

func (a *App) newLimiter() (ratelimit.Limiter, error) {
	limitCfg := ratelimit.Config{Limit: a.cfg.RateLimitMax, Window: a.cfg.RateLimitWindow}
	if a.cfg.RateLimitBackend == config.RateLimitRedis {
		l, err := ratelimit.NewRedisLimiter(a.rdb, limitCfg)
		if err != nil {
			return nil, fmt.Errorf("init redis rate limiter: %w", err)
		}
		return l, nil
	}
	l, err := ratelimit.NewMemoryLimiter(limitCfg)
	if err != nil {
		return nil, fmt.Errorf("init rate limiter: %w", err)
	}
	return l, nil
}

// Handler is the routed HTTP handler, for tests.
func (a *App) Handler() http.Handler {
	return a.server.Handler
}

// Run serves HTTP until ctx is cancelled or the listener fails, then shuts
// down.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("http server listening", slog.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		a.logger.Info("shutting down")
		return a.Shutdown()
	})
	return g.Wait()
}

// Shutdown drains in-flight requests for up to five seconds, then releases
// the tracer, Kafka, Redis and Postgres in that order.
func (a *App) Shutdown() error {
	drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errs []error
	if err := a.server.Shutdown(drainCtx); err != nil {
		a.logger.Error("http drain failed", slog.String("error", err.Error()))
		errs = append(errs, fmt.Errorf("shutdown http: %w", err))
	}
	errs = append(errs, a.release())
	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}

func (a *App) release() error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.close(ctx); err != nil {
			a.logger.Error("close failed", slog.String("resource", c.name), slog.String("error", err.Error()))
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
