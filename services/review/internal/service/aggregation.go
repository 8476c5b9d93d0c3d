package service

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	apperrors "github.com/localguide/reviews/pkg/errors"
	"github.com/localguide/reviews/pkg/pagination"
	"github.com/localguide/reviews/pkg/tracing"
	"github.com/localguide/reviews/services/review/internal/domain"
	"github.com/localguide/reviews/services/review/internal/repository"
)

// ListOptions controls ordering and paging of a public listing.
type ListOptions struct {
	Sort    string
	Page    int
	PerPage int
}

// ListResult is the public view of a scope: one page of approved reviews
// plus a summary over all of them.
type ListResult struct {
	Reviews    []domain.PublicReview `json:"reviews"`
	Summary    domain.Summary        `json:"summary"`
	Sort       domain.SortOrder      `json:"sort"`
	Page       int                   `json:"page"`
	PerPage    int                   `json:"per_page"`
	TotalPages int                   `json:"total_pages"`
}

// AggregationService serves approved reviews and their summary.
type AggregationService struct {
	repo     repository.ReviewRepository
	cache    ListCache
	registry ScopeRegistry
	logger   *slog.Logger
}

// NewAggregationService creates a new aggregation service. cache and
// registry are optional.
func NewAggregationService(
	repo repository.ReviewRepository,
	cache ListCache,
	registry ScopeRegistry,
	logger *slog.Logger,
) *AggregationService {
	return &AggregationService{
		repo:     repo,
		cache:    cache,
		registry: registry,
		logger:   logger,
	}
}

// List returns the approved reviews of scope. Summary, ordering and the page
// are all derived from a single snapshot so they always agree.
func (s *AggregationService) List(ctx context.Context, scope domain.Scope, opts ListOptions) (_ *ListResult, err error) {
	ctx, span := tracing.Start(ctx, "AggregationService.List", attribute.String("review.scope", scope.String()))
	defer func() { tracing.End(span, err) }()

	if !scopeAllowed(s.registry, scope) {
		return nil, apperrors.NotFound("review scope", scope.String())
	}
	order, err := domain.ParseSortOrder(opts.Sort)
	if err != nil {
		return nil, apperrors.InvalidInput(err.Error())
	}
	params := pagination.New(opts.Page, opts.PerPage)

	snapshot, err := s.approved(ctx, scope)
	if err != nil {
		return nil, err
	}

	summary := domain.Summarize(snapshot)
	domain.SortReviews(snapshot, order)
	page := pagination.Page(snapshot, params)

	public := make([]domain.PublicReview, 0, len(page))
	for i := range page {
		public = append(public, page[i].Public())
	}

	return &ListResult{
		Reviews:    public,
		Summary:    summary,
		Sort:       order,
		Page:       params.Page,
		PerPage:    params.PerPage,
		TotalPages: pagination.TotalPages(len(snapshot), params.PerPage),
	}, nil
}

// approved loads the approved snapshot, through the cache when one is
// configured. Cache failures fall back to the store.
func (s *AggregationService) approved(ctx context.Context, scope domain.Scope) ([]domain.Review, error) {
	if s.cache == nil {
		return s.load(ctx, scope)
	}

	version, err := s.cache.Version(ctx, scope)
	if err != nil {
		s.logger.WarnContext(ctx, "review list cache unavailable",
			slog.String("scope", scope.String()),
			slog.String("error", err.Error()),
		)
		return s.load(ctx, scope)
	}

	cached, ok, err := s.cache.Get(ctx, scope, version)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to read cached review list",
			slog.String("scope", scope.String()),
			slog.String("error", err.Error()),
		)
	}
	if ok {
		return visibleOnly(cached), nil
	}

	reviews, err := s.load(ctx, scope)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, scope, version, reviews); err != nil {
		s.logger.WarnContext(ctx, "failed to cache review list",
			slog.String("scope", scope.String()),
			slog.String("error", err.Error()),
		)
	}
	return reviews, nil
}

func (s *AggregationService) load(ctx context.Context, scope domain.Scope) ([]domain.Review, error) {
	reviews, err := s.repo.ListApproved(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("list approved reviews: %w", err)
	}
	return visibleOnly(reviews), nil
}

// visibleOnly drops anything that is not approved, filtering in place.
func visibleOnly(reviews []domain.Review) []domain.Review {
	out := reviews[:0]
	for i := range reviews {
		if reviews[i].Visible() {
			out = append(out, reviews[i])
		}
	}
	return out
}
