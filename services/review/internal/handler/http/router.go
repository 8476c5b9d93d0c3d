package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/localguide/reviews/pkg/health"
	"github.com/localguide/reviews/pkg/middleware"
	"github.com/localguide/reviews/services/review/internal/auth"
	"github.com/localguide/reviews/services/review/internal/service"
)

// ServiceName labels metrics and spans emitted by the router.
const ServiceName = "review"

// RouterConfig holds the HTTP-level knobs of the router.
type RouterConfig struct {
	CORS            middleware.CORSConfig
	PublicRateLimit middleware.RateLimitConfig
	TrustProxy      bool
	// CacheMaxAge is the Cache-Control max-age for public listings, in seconds.
	CacheMaxAge int
	PprofCIDRs  []string
}

// Services bundles what the handlers need.
type Services struct {
	Gate           *service.SubmissionGate
	Moderation     *service.ModerationService
	Aggregation    *service.AggregationService
	TokenValidator middleware.TokenValidator
}

// NewRouter creates a chi router with all review service routes registered.
func NewRouter(svcs Services, healthHandler *health.Handler, logger *slog.Logger, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.Tracing(ServiceName))
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.PrometheusMetrics(ServiceName))
	r.Use(middleware.CORS(cfg.CORS))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})
	if len(cfg.PprofCIDRs) > 0 {
		middleware.RegisterPprof(r, cfg.PprofCIDRs, logger)
	}

	// Public review endpoints
	reviewHandler := NewReviewHandler(svcs.Gate, svcs.Aggregation, cfg.TrustProxy, logger)
	rateLimit := cfg.PublicRateLimit
	rateLimit.TrustProxy = cfg.TrustProxy

	r.Route("/api/v1/reviews/{siteSlug}/{entityType}/{entitySlug}", func(r chi.Router) {
		if rateLimit.RPS > 0 {
			r.Use(middleware.RateLimit(rateLimit, logger))
		}
		r.Use(ContentTypeJSON)

		r.With(middleware.CacheControl(cfg.CacheMaxAge)).Get("/", reviewHandler.ListReviews)
		r.With(middleware.NoStore).Post("/", reviewHandler.SubmitReview)
	})

	// Moderator endpoints
	moderationHandler := NewModerationHandler(svcs.Moderation, logger)

	r.Route("/api/v1/moderation/reviews", func(r chi.Router) {
		r.Use(middleware.NoStore)
		r.Use(ContentTypeJSON)
		r.Use(middleware.Auth(svcs.TokenValidator))
		r.Use(middleware.RequireRole(auth.RoleModerator, auth.RoleAdmin))

		r.Get("/", moderationHandler.ListQueue)
		r.Get("/{id}", moderationHandler.GetReview)
		r.Post("/{id}/approve", moderationHandler.Approve)
		r.Post("/{id}/reject", moderationHandler.Reject)
	})

	return r
}
