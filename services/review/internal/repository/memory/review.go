// Package memory is an in-process review store for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	apperrors "github.com/localguide/reviews/pkg/errors"
	"github.com/localguide/reviews/services/review/internal/domain"
	"github.com/localguide/reviews/services/review/internal/repository"
)

// ReviewRepository keeps reviews in a map guarded by a RWMutex. Values are
// copied in and out under the lock, so readers never see a partially applied
// transition.
type ReviewRepository struct {
	mu      sync.RWMutex
	reviews map[string]domain.Review
	byScope map[domain.Scope][]string
	actions map[string][]domain.ModerationAction
}

var _ repository.ReviewRepository = (*ReviewRepository)(nil)

// NewReviewRepository returns an empty store.
func NewReviewRepository() *ReviewRepository {
	return &ReviewRepository{
		reviews: make(map[string]domain.Review),
		byScope: make(map[domain.Scope][]string),
		actions: make(map[string][]domain.ModerationAction),
	}
}

func (r *ReviewRepository) Create(_ context.Context, review *domain.Review) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.reviews[review.ID]; ok {
		return apperrors.AlreadyExists("review", "id", review.ID)
	}
	r.reviews[review.ID] = *review
	r.byScope[review.Scope] = append(r.byScope[review.Scope], review.ID)
	return nil
}

func (r *ReviewRepository) GetByID(_ context.Context, id string) (*domain.Review, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rv, ok := r.reviews[id]
	if !ok {
		return nil, apperrors.NotFound("review", id)
	}
	return &rv, nil
}

func (r *ReviewRepository) ListApproved(_ context.Context, scope domain.Scope) ([]domain.Review, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []domain.Review{}
	for _, id := range r.byScope[scope] {
		if rv := r.reviews[id]; rv.ModerationState == domain.StateApproved {
			out = append(out, rv)
		}
	}
	domain.SortReviews(out, domain.SortNewest)
	return out, nil
}

func (r *ReviewRepository) ListByState(_ context.Context, filter repository.QueueFilter) ([]domain.Review, int, error) {
	r.mu.RLock()
	matched := []domain.Review{}
	for _, rv := range r.reviews {
		if rv.ModerationState != filter.State {
			continue
		}
		if filter.SiteSlug != "" && rv.Scope.SiteSlug != filter.SiteSlug {
			continue
		}
		matched = append(matched, rv)
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.Before(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})

	perPage := filter.PerPage
	if perPage <= 0 {
		perPage = 20
	}
	start := min((max(filter.Page, 1)-1)*perPage, len(matched))
	end := min(start+perPage, len(matched))
	return matched[start:end], len(matched), nil
}

func (r *ReviewRepository) Transition(_ context.Context, id string, action *domain.ModerationAction) (*domain.Review, error) {
	if !domain.CanTransition(domain.StatePending, action.ToState) {
		return nil, fmt.Errorf("%w: target state %q", domain.ErrInvalidTransition, action.ToState)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rv, ok := r.reviews[id]
	if !ok {
		return nil, apperrors.NotFound("review", id)
	}
	if !domain.CanTransition(rv.ModerationState, action.ToState) {
		return nil, fmt.Errorf("%w: review %s is %s", domain.ErrInvalidTransition, id, rv.ModerationState)
	}

	moderatedAt := action.CreatedAt
	rv.ModerationState = action.ToState
	rv.ModeratedAt = &moderatedAt
	rv.ModeratedBy = action.Moderator
	rv.ModerationNote = action.Note
	r.reviews[id] = rv

	action.ReviewID = id
	action.FromState = domain.StatePending
	r.actions[id] = append(r.actions[id], *action)

	return &rv, nil
}

func (r *ReviewRepository) ListActions(_ context.Context, reviewID string) ([]domain.ModerationAction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.ModerationAction, len(r.actions[reviewID]))
	copy(out, r.actions[reviewID])
	return out, nil
}
