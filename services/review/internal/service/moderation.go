package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	apperrors "github.com/localguide/reviews/pkg/errors"
	"github.com/localguide/reviews/pkg/pagination"
	"github.com/localguide/reviews/pkg/tracing"
	"github.com/localguide/reviews/services/review/internal/domain"
	"github.com/localguide/reviews/services/review/internal/repository"
	"github.com/localguide/reviews/services/review/internal/textclean"
)

// MaxNoteLength bounds the free-text note a moderator may attach.
const MaxNoteLength = 500

// QueueInput holds the parameters of a moderation queue listing.
type QueueInput struct {
	State    string
	SiteSlug string
	Page     int
	PerPage  int
}

// ReviewDetail is the moderator view of a review with its audit trail.
type ReviewDetail struct {
	domain.Review
	Actions []domain.ModerationAction `json:"actions"`
}

// ModerationService applies moderator decisions to reviews.
type ModerationService struct {
	repo   repository.ReviewRepository
	cache  ListCache
	events EventPublisher
	logger *slog.Logger
	now    func() time.Time
}

// NewModerationService creates a new moderation service. cache and events
// are optional.
func NewModerationService(
	repo repository.ReviewRepository,
	cache ListCache,
	events EventPublisher,
	logger *slog.Logger,
) *ModerationService {
	return &ModerationService{
		repo:   repo,
		cache:  cache,
		events: events,
		logger: logger,
		now:    time.Now,
	}
}

// Approve publishes a pending review.
func (s *ModerationService) Approve(ctx context.Context, id, moderator, note string) (*domain.Review, error) {
	return s.decide(ctx, id, domain.StateApproved, moderator, note)
}

// Reject discards a pending review for good.
func (s *ModerationService) Reject(ctx context.Context, id, moderator, note string) (*domain.Review, error) {
	return s.decide(ctx, id, domain.StateRejected, moderator, note)
}

// decide moves a review to target. Repeating the decision the review already
// carries is a no-op that returns the review unchanged; the opposite decision
// is a conflict.
func (s *ModerationService) decide(ctx context.Context, id string, target domain.ModerationState, moderator, note string) (_ *domain.Review, err error) {
	ctx, span := tracing.Start(ctx, "ModerationService.decide",
		attribute.String("review.id", id),
		attribute.String("review.target_state", string(target)),
	)
	defer func() { tracing.End(span, err) }()

	if _, err := uuid.Parse(id); err != nil {
		return nil, apperrors.NotFound("review", id)
	}
	if moderator == "" {
		return nil, apperrors.InvalidInput("moderator is required")
	}
	note = textclean.Block(note)
	if utf8.RuneCountInString(note) > MaxNoteLength {
		return nil, apperrors.InvalidInput(fmt.Sprintf("note must be at most %d characters", MaxNoteLength))
	}

	action := &domain.ModerationAction{
		ID:        uuid.New().String(),
		ReviewID:  id,
		FromState: domain.StatePending,
		ToState:   target,
		Moderator: moderator,
		Note:      note,
		CreatedAt: s.now().UTC(),
	}

	review, err := s.repo.Transition(ctx, id, action)
	if errors.Is(err, domain.ErrInvalidTransition) {
		current, getErr := s.repo.GetByID(ctx, id)
		if getErr != nil {
			return nil, fmt.Errorf("get review after rejected transition: %w", getErr)
		}
		if current.ModerationState == target {
			s.logger.InfoContext(ctx, "moderation decision already applied",
				slog.String("review_id", id),
				slog.String("state", string(target)),
				slog.String("moderator", moderator),
			)
			return current, nil
		}
		return nil, apperrors.Conflict("INVALID_TRANSITION",
			fmt.Sprintf("review %s is already %s", id, current.ModerationState))
	}
	if err != nil {
		return nil, fmt.Errorf("transition review: %w", err)
	}

	moderationDecisionsTotal.WithLabelValues(string(target)).Inc()
	s.logger.InfoContext(ctx, "review moderated",
		slog.String("review_id", review.ID),
		slog.String("scope", review.Scope.String()),
		slog.String("state", string(review.ModerationState)),
		slog.String("moderator", moderator),
	)

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, review.Scope); err != nil {
			s.logger.WarnContext(ctx, "failed to invalidate review list cache",
				slog.String("scope", review.Scope.String()),
				slog.String("error", err.Error()),
			)
		}
	}
	if s.events != nil {
		if err := s.events.PublishReviewModerated(ctx, review); err != nil {
			s.logger.WarnContext(ctx, "failed to publish review moderated event",
				slog.String("review_id", review.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	return review, nil
}

// Queue lists reviews awaiting a decision, oldest first. An empty state
// means pending.
func (s *ModerationService) Queue(ctx context.Context, in QueueInput) (*pagination.Result[domain.Review], error) {
	state := domain.StatePending
	if in.State != "" {
		state = domain.ModerationState(in.State)
		if !state.Valid() {
			return nil, apperrors.InvalidInput(fmt.Sprintf("unknown moderation state %q", in.State))
		}
	}

	params := pagination.New(in.Page, in.PerPage)
	reviews, total, err := s.repo.ListByState(ctx, repository.QueueFilter{
		State:    state,
		SiteSlug: in.SiteSlug,
		Page:     params.Page,
		PerPage:  params.PerPage,
	})
	if err != nil {
		return nil, fmt.Errorf("list moderation queue: %w", err)
	}
	if reviews == nil {
		reviews = []domain.Review{}
	}

	result := pagination.NewResult(reviews, total, params)
	return &result, nil
}

// Get returns a review with its audit trail.
func (s *ModerationService) Get(ctx context.Context, id string) (*ReviewDetail, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, apperrors.NotFound("review", id)
	}

	review, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get review: %w", err)
	}
	actions, err := s.repo.ListActions(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list moderation actions: %w", err)
	}
	if actions == nil {
		actions = []domain.ModerationAction{}
	}
	return &ReviewDetail{Review: *review, Actions: actions}, nil
}
