package repository

import (
	"context"

	"github.com/localguide/reviews/services/review/internal/domain"
)

// QueueFilter defines filter criteria for the moderation queue.
type QueueFilter struct {
	State    domain.ModerationState
	SiteSlug string
	Page     int
	PerPage  int
}

// ReviewRepository defines the interface for review persistence operations.
// Implementations must keep every read scoped to a single Scope and must apply
// a transition atomically with its audit record.
type ReviewRepository interface {
	// Create inserts a new review. Reviews are insert-only.
	Create(ctx context.Context, review *domain.Review) error

	// GetByID retrieves a review by its unique identifier.
	GetByID(ctx context.Context, id string) (*domain.Review, error)

	// ListApproved returns every approved review of a scope as one snapshot.
	ListApproved(ctx context.Context, scope domain.Scope) ([]domain.Review, error)

	// ListByState returns reviews in the given state, oldest first, with the total count.
	ListByState(ctx context.Context, filter QueueFilter) ([]domain.Review, int, error)

	// Transition moves a pending review to the action's target state and
	// records the action. It fails with domain.ErrInvalidTransition when the
	// review has already left the pending state.
	Transition(ctx context.Context, id string, action *domain.ModerationAction) (*domain.Review, error)

	// ListActions returns the audit trail of a review, oldest first.
	ListActions(ctx context.Context, reviewID string) ([]domain.ModerationAction, error)
}
