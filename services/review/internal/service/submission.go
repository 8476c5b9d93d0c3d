package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	apperrors "github.com/localguide/reviews/pkg/errors"
	"github.com/localguide/reviews/pkg/tracing"
	"github.com/localguide/reviews/pkg/validator"
	"github.com/localguide/reviews/services/review/internal/domain"
	"github.com/localguide/reviews/services/review/internal/ratelimit"
	"github.com/localguide/reviews/services/review/internal/repository"
	"github.com/localguide/reviews/services/review/internal/textclean"
)

// PendingMessage is shown to every submitter, genuine or not.
const PendingMessage = "Thank you! Your review has been received and will appear once a moderator has approved it."

// SubmitInput holds the raw fields of a submission.
type SubmitInput struct {
	Scope       domain.Scope
	Rating      *float64
	DisplayName string
	Body        string
	Honeypot    string
	ClientIP    string
}

// SubmitResult is returned for every accepted submission. It deliberately
// carries no review id so a trapped bot cannot tell it apart from a real
// success.
type SubmitResult struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func acceptedResult() *SubmitResult {
	return &SubmitResult{Status: string(domain.StatePending), Message: PendingMessage}
}

// submission is the normalised form that goes through field validation.
type submission struct {
	DisplayName string   `json:"displayName" validate:"required,min=2,max=40"`
	Body        string   `json:"body" validate:"required,min=20,max=1200"`
	Rating      *float64 `json:"rating" validate:"required,gte=1,lte=5,integral"`
}

// RateLimitError is returned when a client has exhausted its window.
type RateLimitError struct {
	*apperrors.AppError
	RetryAfter time.Duration
}

func (e *RateLimitError) Unwrap() error { return e.AppError }

// SubmissionGate screens anonymous submissions before they reach the store.
type SubmissionGate struct {
	repo     repository.ReviewRepository
	limiter  ratelimit.Limiter
	registry ScopeRegistry
	events   EventPublisher
	logger   *slog.Logger
	now      func() time.Time
}

// NewSubmissionGate creates a new gate. limiter, registry and events are
// optional; a nil value disables that step.
func NewSubmissionGate(
	repo repository.ReviewRepository,
	limiter ratelimit.Limiter,
	registry ScopeRegistry,
	events EventPublisher,
	logger *slog.Logger,
) *SubmissionGate {
	return &SubmissionGate{
		repo:     repo,
		limiter:  limiter,
		registry: registry,
		events:   events,
		logger:   logger,
		now:      time.Now,
	}
}

// Submit runs the gate: honeypot, normalisation, field validation, scope
// check, rate limit, then persistence of a pending review.
func (g *SubmissionGate) Submit(ctx context.Context, in SubmitInput) (_ *SubmitResult, err error) {
	ctx, span := tracing.Start(ctx, "SubmissionGate.Submit", attribute.String("review.scope", in.Scope.String()))
	defer func() { tracing.End(span, err) }()

	if in.Honeypot != "" {
		submissionsTotal.WithLabelValues(OutcomeSpam).Inc()
		g.logger.InfoContext(ctx, "honeypot submission discarded",
			slog.String("scope", in.Scope.String()),
		)
		return acceptedResult(), nil
	}

	sub := submission{
		DisplayName: textclean.Line(in.DisplayName),
		Body:        textclean.Block(in.Body),
		Rating:      in.Rating,
	}
	if err := validator.Validate(&sub); err != nil {
		submissionsTotal.WithLabelValues(OutcomeInvalid).Inc()
		return nil, err
	}

	if !scopeAllowed(g.registry, in.Scope) {
		submissionsTotal.WithLabelValues(OutcomeUnknownScope).Inc()
		return nil, apperrors.NotFound("review scope", in.Scope.String())
	}

	if err := g.checkRate(ctx, in.Scope, in.ClientIP); err != nil {
		submissionsTotal.WithLabelValues(OutcomeRateLimited).Inc()
		return nil, err
	}

	review := &domain.Review{
		ID:              uuid.New().String(),
		Scope:           in.Scope,
		Rating:          int(math.Round(*sub.Rating)),
		DisplayName:     sub.DisplayName,
		Body:            sub.Body,
		CreatedAt:       g.now().UTC(),
		ModerationState: domain.StatePending,
	}
	span.SetAttributes(attribute.String("review.id", review.ID))
	if err := g.repo.Create(ctx, review); err != nil {
		submissionsTotal.WithLabelValues(OutcomeError).Inc()
		return nil, fmt.Errorf("create review: %w", err)
	}
	submissionsTotal.WithLabelValues(OutcomeAccepted).Inc()

	g.logger.InfoContext(ctx, "review submitted",
		slog.String("review_id", review.ID),
		slog.String("scope", review.Scope.String()),
		slog.Int("rating", review.Rating),
	)

	if g.events != nil {
		if err := g.events.PublishReviewSubmitted(ctx, review); err != nil {
			g.logger.WarnContext(ctx, "failed to publish review submitted event",
				slog.String("review_id", review.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	return acceptedResult(), nil
}

// checkRate applies the per scope and client limit. Limiter failures let the
// submission through.
func (g *SubmissionGate) checkRate(ctx context.Context, scope domain.Scope, ip string) error {
	if g.limiter == nil {
		return nil
	}
	d, err := g.limiter.Allow(ctx, ratelimit.ClientKey(scope.String(), ip))
	if err != nil {
		g.logger.WarnContext(ctx, "rate limiter unavailable, allowing submission",
			slog.String("scope", scope.String()),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if d.Allowed {
		return nil
	}

	g.logger.InfoContext(ctx, "submission rate limited",
		slog.String("scope", scope.String()),
		slog.Int64("count", d.Count),
	)
	return &RateLimitError{
		AppError:   apperrors.RateLimited("too many reviews submitted, please wait before trying again"),
		RetryAfter: d.RetryAfter,
	}
}
