// Package service holds the review business logic: the submission gate, the
// moderation engine and the aggregation of approved reviews.
package service

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/localguide/reviews/services/review/internal/domain"
)

// EventPublisher publishes review lifecycle events. Publishing is best
// effort: a failure is logged and never undoes the stored change.
type EventPublisher interface {
	PublishReviewSubmitted(ctx context.Context, review *domain.Review) error
	PublishReviewModerated(ctx context.Context, review *domain.Review) error
}

// ListCache caches the approved snapshot of a scope under a version that
// moderation bumps.
type ListCache interface {
	Version(ctx context.Context, scope domain.Scope) (int64, error)
	Get(ctx context.Context, scope domain.Scope, version int64) ([]domain.Review, bool, error)
	Set(ctx context.Context, scope domain.Scope, version int64, reviews []domain.Review) error
	Invalidate(ctx context.Context, scope domain.Scope) error
}

// ScopeRegistry restricts which sites and entity types accept reviews.
type ScopeRegistry interface {
	Allows(scope domain.Scope) bool
}

// Submission outcomes recorded in review_submissions_total.
const (
	OutcomeAccepted     = "accepted"
	OutcomeSpam         = "spam"
	OutcomeInvalid      = "invalid"
	OutcomeUnknownScope = "unknown_scope"
	OutcomeRateLimited  = "rate_limited"
	OutcomeError        = "error"
)

var (
	submissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "review_submissions_total",
			Help: "Review submissions by gate outcome",
		},
		[]string{"outcome"},
	)

	moderationDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "review_moderation_decisions_total",
			Help: "Moderation decisions that changed a review's state",
		},
		[]string{"decision"},
	)
)

// scopeAllowed reports whether reviews may be stored or read for scope.
func scopeAllowed(registry ScopeRegistry, scope domain.Scope) bool {
	if !scope.Valid() {
		return false
	}
	return registry == nil || registry.Allows(scope)
}
