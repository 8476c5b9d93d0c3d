package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/localguide/reviews/pkg/errors"
	"github.com/localguide/reviews/services/review/internal/domain"
	"github.com/localguide/reviews/services/review/internal/repository"
)

var (
	scopeA = domain.Scope{SiteSlug: "saltaire-guide", EntityType: "cafe", EntitySlug: "salts-diner"}
	scopeB = domain.Scope{SiteSlug: "saltaire-guide", EntityType: "cafe", EntitySlug: "the-boathouse"}
	t0     = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
)

func newReview(id string, scope domain.Scope, rating int, offset time.Duration) *domain.Review {
	return &domain.Review{
		ID:              id,
		Scope:           scope,
		Rating:          rating,
		DisplayName:     "Sam",
		Body:            "Lovely coffee and quick service, would return.",
		CreatedAt:       t0.Add(offset),
		ModerationState: domain.StatePending,
	}
}

func approve(t *testing.T, repo *ReviewRepository, id string) {
	t.Helper()
	_, err := repo.Transition(context.Background(), id, &domain.ModerationAction{
		ID: "act-" + id, ToState: domain.StateApproved, Moderator: "mod-1", CreatedAt: t0.Add(time.Hour),
	})
	require.NoError(t, err)
}

func TestCreate_DuplicateID(t *testing.T) {
	repo := NewReviewRepository()
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newReview("r1", scopeA, 5, 0)))
	err := repo.Create(ctx, newReview("r1", scopeA, 4, 0))
	assert.ErrorIs(t, err, apperrors.ErrAlreadyExists)
}

func TestGetByID_ReturnsCopy(t *testing.T) {
	repo := NewReviewRepository()
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, newReview("r1", scopeA, 5, 0)))

	got, err := repo.GetByID(ctx, "r1")
	require.NoError(t, err)
	got.ModerationState = domain.StateApproved

	again, err := repo.GetByID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatePending, again.ModerationState, "callers must not mutate stored reviews")

	_, err = repo.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestListApproved_OnlyApprovedInScope(t *testing.T) {
	repo := NewReviewRepository()
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newReview("a1", scopeA, 5, 0)))
	require.NoError(t, repo.Create(ctx, newReview("a2", scopeA, 3, time.Minute)))
	require.NoError(t, repo.Create(ctx, newReview("a3", scopeA, 1, 2*time.Minute)))
	require.NoError(t, repo.Create(ctx, newReview("b1", scopeB, 4, 0)))

	approve(t, repo, "a1")
	approve(t, repo, "b1")
	_, err := repo.Transition(ctx, "a3", &domain.ModerationAction{ID: "x", ToState: domain.StateRejected, Moderator: "mod-1"})
	require.NoError(t, err)

	got, err := repo.ListApproved(ctx, scopeA)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a1", got[0].ID)

	empty, err := repo.ListApproved(ctx, domain.Scope{SiteSlug: "x", EntityType: "y", EntitySlug: "z"})
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestTransition_OnlyFromPending(t *testing.T) {
	repo := NewReviewRepository()
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, newReview("r1", scopeA, 5, 0)))

	approve(t, repo, "r1")

	_, err := repo.Transition(ctx, "r1", &domain.ModerationAction{ID: "a2", ToState: domain.StateRejected})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = repo.Transition(ctx, "missing", &domain.ModerationAction{ID: "a3", ToState: domain.StateApproved})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	actions, err := repo.ListActions(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, actions, 1, "a failed transition must not leave an audit row")
	assert.Equal(t, domain.StatePending, actions[0].FromState)
	assert.Equal(t, domain.StateApproved, actions[0].ToState)
}

func TestTransition_ConcurrentDecisionsApplyOnce(t *testing.T) {
	repo := NewReviewRepository()
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, newReview("r1", scopeA, 5, 0)))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			to := domain.StateApproved
			if i%2 == 1 {
				to = domain.StateRejected
			}
			_, err := repo.Transition(ctx, "r1", &domain.ModerationAction{ID: fmt.Sprintf("a%d", i), ToState: to})
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	actions, err := repo.ListActions(ctx, "r1")
	require.NoError(t, err)
	assert.Len(t, actions, 1)
}

func TestListApproved_ConcurrentWithModeration(t *testing.T) {
	repo := NewReviewRepository()
	ctx := context.Background()
	const n = 50
	for i := 0; i < n; i++ {
		require.NoError(t, repo.Create(ctx, newReview(fmt.Sprintf("r%02d", i), scopeA, 1+i%5, time.Duration(i)*time.Second)))
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			to := domain.StateApproved
			if i%3 == 0 {
				to = domain.StateRejected
			}
			_, _ = repo.Transition(ctx, fmt.Sprintf("r%02d", i), &domain.ModerationAction{ID: fmt.Sprintf("a%d", i), ToState: to})
		}
	}()

	for i := 0; i < 100; i++ {
		got, err := repo.ListApproved(ctx, scopeA)
		require.NoError(t, err)
		for _, rv := range got {
			assert.Equal(t, domain.StateApproved, rv.ModerationState)
		}
	}
	wg.Wait()
}

func TestListByState_PaginatesOldestFirst(t *testing.T) {
	repo := NewReviewRepository()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Create(ctx, newReview(fmt.Sprintf("r%d", i), scopeA, 5, time.Duration(i)*time.Minute)))
	}
	require.NoError(t, repo.Create(ctx, newReview("other-site", domain.Scope{SiteSlug: "leeds-eats", EntityType: "cafe", EntitySlug: "x"}, 5, 0)))

	page, total, err := repo.ListByState(ctx, repository.QueueFilter{
		State: domain.StatePending, SiteSlug: "saltaire-guide", Page: 2, PerPage: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, page, 2)
	assert.Equal(t, "r2", page[0].ID)
	assert.Equal(t, "r3", page[1].ID)

	page, _, err = repo.ListByState(ctx, repository.QueueFilter{State: domain.StatePending, Page: 10, PerPage: 2})
	require.NoError(t, err)
	assert.Empty(t, page)
}
