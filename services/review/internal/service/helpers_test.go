package service

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/localguide/reviews/services/review/internal/domain"
	"github.com/localguide/reviews/services/review/internal/ratelimit"
	"github.com/localguide/reviews/services/review/internal/repository"
)

// --- Mocks ---

type mockReviewRepository struct {
	mock.Mock
}

var _ repository.ReviewRepository = (*mockReviewRepository)(nil)

func (m *mockReviewRepository) Create(ctx context.Context, review *domain.Review) error {
	args := m.Called(ctx, review)
	return args.Error(0)
}

func (m *mockReviewRepository) GetByID(ctx context.Context, id string) (*domain.Review, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Review), args.Error(1)
}

func (m *mockReviewRepository) ListApproved(ctx context.Context, scope domain.Scope) ([]domain.Review, error) {
	args := m.Called(ctx, scope)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Review), args.Error(1)
}

func (m *mockReviewRepository) ListByState(ctx context.Context, filter repository.QueueFilter) ([]domain.Review, int, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Int(1), args.Error(2)
	}
	return args.Get(0).([]domain.Review), args.Int(1), args.Error(2)
}

func (m *mockReviewRepository) Transition(ctx context.Context, id string, action *domain.ModerationAction) (*domain.Review, error) {
	args := m.Called(ctx, id, action)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Review), args.Error(1)
}

func (m *mockReviewRepository) ListActions(ctx context.Context, reviewID string) ([]domain.ModerationAction, error) {
	args := m.Called(ctx, reviewID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.ModerationAction), args.Error(1)
}

type mockEvents struct {
	mock.Mock
}

func (m *mockEvents) PublishReviewSubmitted(ctx context.Context, review *domain.Review) error {
	args := m.Called(ctx, review)
	return args.Error(0)
}

func (m *mockEvents) PublishReviewModerated(ctx context.Context, review *domain.Review) error {
	args := m.Called(ctx, review)
	return args.Error(0)
}

type mockCache struct {
	mock.Mock
}

func (m *mockCache) Version(ctx context.Context, scope domain.Scope) (int64, error) {
	args := m.Called(ctx, scope)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockCache) Get(ctx context.Context, scope domain.Scope, version int64) ([]domain.Review, bool, error) {
	args := m.Called(ctx, scope, version)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).([]domain.Review), args.Bool(1), args.Error(2)
}

func (m *mockCache) Set(ctx context.Context, scope domain.Scope, version int64, reviews []domain.Review) error {
	args := m.Called(ctx, scope, version, reviews)
	return args.Error(0)
}

func (m *mockCache) Invalidate(ctx context.Context, scope domain.Scope) error {
	args := m.Called(ctx, scope)
	return args.Error(0)
}

type mockLimiter struct {
	mock.Mock
}

func (m *mockLimiter) Allow(ctx context.Context, key string) (ratelimit.Decision, error) {
	args := m.Called(ctx, key)
	return args.Get(0).(ratelimit.Decision), args.Error(1)
}

type allowList map[domain.Scope]bool

func (a allowList) Allows(scope domain.Scope) bool { return a[scope] }

// --- Test Helpers ---

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

var testScope = domain.Scope{SiteSlug: "lakes", EntityType: "hotel", EntitySlug: "grand-view"}

func ratingPtr(f float64) *float64 { return &f }

func validInput() SubmitInput {
	return SubmitInput{
		Scope:       testScope,
		Rating:      ratingPtr(4),
		DisplayName: "Ana",
		Body:        "Quiet rooms and a very friendly front desk.",
		ClientIP:    "203.0.113.7",
	}
}

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func approvedReview(id string, rating int, age time.Duration) domain.Review {
	return domain.Review{
		ID:              id,
		Scope:           testScope,
		Rating:          rating,
		DisplayName:     "Guest " + id,
		Body:            "A perfectly adequate stay with no surprises.",
		CreatedAt:       baseTime.Add(-age),
		ModerationState: domain.StateApproved,
	}
}

func counterValue(t *testing.T, vec *prometheus.CounterVec, label string) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, vec.WithLabelValues(label).Write(&m))
	return m.GetCounter().GetValue()
}

func queueFilter(state domain.ModerationState) repository.QueueFilter {
	return repository.QueueFilter{State: state, Page: 1, PerPage: 100}
}
