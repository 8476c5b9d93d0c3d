package event

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	pkgkafka "github.com/localguide/reviews/pkg/kafka"
	"github.com/localguide/reviews/pkg/logger"
	"github.com/localguide/reviews/services/review/internal/domain"
)

// Kafka topics for review lifecycle events.
var (
	TopicReviewSubmitted = pkgkafka.Topic("review", "submitted")
	TopicReviewApproved  = pkgkafka.Topic("review", "approved")
	TopicReviewRejected  = pkgkafka.Topic("review", "rejected")
)

// SourceReviewService identifies events originating from this service.
const SourceReviewService = "review-service"

// ReviewSubmittedData is the payload for review.submitted. The body is left
// out; consumers that need it read the review through the moderation API.
type ReviewSubmittedData struct {
	ID         string    `json:"id"`
	SiteSlug   string    `json:"site_slug"`
	EntityType string    `json:"entity_type"`
	EntitySlug string    `json:"entity_slug"`
	Rating     int       `json:"rating"`
	CreatedAt  time.Time `json:"created_at"`
}

// ReviewModeratedData is the payload for review.approved and review.rejected.
type ReviewModeratedData struct {
	ID          string    `json:"id"`
	SiteSlug    string    `json:"site_slug"`
	EntityType  string    `json:"entity_type"`
	EntitySlug  string    `json:"entity_slug"`
	Rating      int       `json:"rating"`
	State       string    `json:"state"`
	ModeratedBy string    `json:"moderated_by"`
	ModeratedAt time.Time `json:"moderated_at"`
}

// Publisher is the subset of the Kafka producer used here.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Producer publishes review domain events to Kafka.
type Producer struct {
	kafka  Publisher
	logger *slog.Logger
}

// NewProducer creates a new event producer for the review service.
func NewProducer(kafka Publisher, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// PublishReviewSubmitted publishes a review.submitted event.
func (p *Producer) PublishReviewSubmitted(ctx context.Context, review *domain.Review) error {
	data := ReviewSubmittedData{
		ID:         review.ID,
		SiteSlug:   review.Scope.SiteSlug,
		EntityType: review.Scope.EntityType,
		EntitySlug: review.Scope.EntitySlug,
		Rating:     review.Rating,
		CreatedAt:  review.CreatedAt,
	}
	return p.publish(ctx, TopicReviewSubmitted, review.ID, data)
}

// PublishReviewModerated publishes review.approved or review.rejected
// depending on the state the review moved to.
func (p *Producer) PublishReviewModerated(ctx context.Context, review *domain.Review) error {
	var topic string
	switch review.ModerationState {
	case domain.StateApproved:
		topic = TopicReviewApproved
	case domain.StateRejected:
		topic = TopicReviewRejected
	default:
		return fmt.Errorf("no event for review state %q", review.ModerationState)
	}

	data := ReviewModeratedData{
		ID:          review.ID,
		SiteSlug:    review.Scope.SiteSlug,
		EntityType:  review.Scope.EntityType,
		EntitySlug:  review.Scope.EntitySlug,
		Rating:      review.Rating,
		State:       string(review.ModerationState),
		ModeratedBy: review.ModeratedBy,
	}
	if review.ModeratedAt != nil {
		data.ModeratedAt = *review.ModeratedAt
	}
	return p.publish(ctx, topic, review.ID, data)
}

func (p *Producer) publish(ctx context.Context, topic, reviewID string, data any) error {
	event, err := pkgkafka.NewEvent(topic, SourceReviewService, reviewID, data)
	if err != nil {
		return err
	}
	event.CorrelationID = logger.CorrelationIDFromContext(ctx)

	if err := p.kafka.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}

	p.logger.DebugContext(ctx, "published review event",
		slog.String("topic", topic),
		slog.String("review_id", reviewID),
	)
	return nil
}
