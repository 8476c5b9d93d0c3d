package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/localguide/reviews/pkg/database"
	apperrors "github.com/localguide/reviews/pkg/errors"
	"github.com/localguide/reviews/services/review/internal/domain"
	"github.com/localguide/reviews/services/review/internal/repository"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var reviewColumns = []string{
	"id", "site_slug", "entity_type", "entity_slug", "rating", "display_name", "body",
	"created_at", "moderation_state", "moderated_at", "moderated_by", "moderation_note",
}

var actionColumns = []string{
	"id", "review_id", "from_state", "to_state", "moderator", "note", "created_at",
}

// ReviewRepository implements review persistence operations using PostgreSQL.
type ReviewRepository struct {
	db database.DBTX
}

var _ repository.ReviewRepository = (*ReviewRepository)(nil)

// NewReviewRepository creates a new PostgreSQL-backed review repository.
func NewReviewRepository(db database.DBTX) *ReviewRepository {
	return &ReviewRepository{db: db}
}

// Create inserts a new review into the database.
func (r *ReviewRepository) Create(ctx context.Context, review *domain.Review) (err error) {
	query, args, err := psql.Insert("reviews").
		Columns(reviewColumns...).
		Values(
			review.ID,
			review.Scope.SiteSlug,
			review.Scope.EntityType,
			review.Scope.EntitySlug,
			review.Rating,
			review.DisplayName,
			review.Body,
			review.CreatedAt,
			string(review.ModerationState),
			review.ModeratedAt,
			review.ModeratedBy,
			review.ModerationNote,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert review: %w", err)
	}

	ctx, end := database.TraceQuery(ctx, "CreateReview", query)
	defer func() { end(err) }()

	if _, err = r.db.Exec(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return apperrors.AlreadyExists("review", "id", review.ID)
		}
		return fmt.Errorf("insert review: %w", err)
	}
	return nil
}

// GetByID retrieves a review by its identifier.
func (r *ReviewRepository) GetByID(ctx context.Context, id string) (_ *domain.Review, err error) {
	query, args, err := psql.Select(reviewColumns...).
		From("reviews").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get review: %w", err)
	}

	ctx, end := database.TraceQuery(ctx, "GetReview", query)
	defer func() { end(err) }()

	rv, err := scanReview(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("review", id)
		}
		return nil, fmt.Errorf("get review: %w", err)
	}
	return rv, nil
}

// ListApproved returns all approved reviews of one scope. The single SELECT
// gives a consistent snapshot under READ COMMITTED.
func (r *ReviewRepository) ListApproved(ctx context.Context, scope domain.Scope) (_ []domain.Review, err error) {
	query, args, err := psql.Select(reviewColumns...).
		From("reviews").
		Where(sq.Eq{"site_slug": scope.SiteSlug}).
		Where(sq.Eq{"entity_type": scope.EntityType}).
		Where(sq.Eq{"entity_slug": scope.EntitySlug}).
		Where(sq.Eq{"moderation_state": string(domain.StateApproved)}).
		OrderBy("created_at DESC", "id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list approved: %w", err)
	}

	ctx, end := database.TraceQuery(ctx, "ListApprovedReviews", query)
	defer func() { end(err) }()

	reviews, err := r.queryReviews(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list approved reviews: %w", err)
	}
	return reviews, nil
}

// ListByState returns one page of reviews in the given state, oldest first.
func (r *ReviewRepository) ListByState(ctx context.Context, filter repository.QueueFilter) (_ []domain.Review, _ int, err error) {
	where := sq.And{sq.Eq{"moderation_state": string(filter.State)}}
	if filter.SiteSlug != "" {
		where = append(where, sq.Eq{"site_slug": filter.SiteSlug})
	}

	countQuery, countArgs, err := psql.Select("count(*)").From("reviews").Where(where).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build count reviews: %w", err)
	}

	ctx, end := database.TraceQuery(ctx, "ListReviewsByState", countQuery)
	defer func() { end(err) }()

	var total int
	if err = r.db.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count reviews: %w", err)
	}

	perPage := filter.PerPage
	if perPage <= 0 {
		perPage = 20
	}
	page := max(filter.Page, 1)

	query, args, err := psql.Select(reviewColumns...).
		From("reviews").
		Where(where).
		OrderBy("created_at ASC", "id ASC").
		Limit(uint64(perPage)).
		Offset(uint64((page - 1) * perPage)).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build list reviews: %w", err)
	}

	reviews, err := r.queryReviews(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list reviews by state: %w", err)
	}
	return reviews, total, nil
}

// Transition applies a moderation decision as a compare-and-set on the
// pending state and records the audit row in the same transaction.
func (r *ReviewRepository) Transition(ctx context.Context, id string, action *domain.ModerationAction) (_ *domain.Review, err error) {
	if !domain.CanTransition(domain.StatePending, action.ToState) {
		return nil, fmt.Errorf("%w: target state %q", domain.ErrInvalidTransition, action.ToState)
	}

	updateQuery, updateArgs, err := psql.Update("reviews").
		Set("moderation_state", string(action.ToState)).
		Set("moderated_at", action.CreatedAt).
		Set("moderated_by", action.Moderator).
		Set("moderation_note", action.Note).
		Where("id = ? AND moderation_state = ?", id, string(domain.StatePending)).
		Suffix("RETURNING " + strings.Join(reviewColumns, ", ")).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build transition review: %w", err)
	}

	insertQuery, insertArgs, err := psql.Insert("moderation_actions").
		Columns(actionColumns...).
		Values(action.ID, id, string(domain.StatePending), string(action.ToState), action.Moderator, action.Note, action.CreatedAt).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build insert action: %w", err)
	}

	ctx, end := database.TraceQuery(ctx, "TransitionReview", updateQuery)
	defer func() { end(err) }()

	var updated *domain.Review
	err = database.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		rv, err := scanReview(tx.QueryRow(ctx, updateQuery, updateArgs...))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return r.explainNoTransition(ctx, tx, id)
			}
			return fmt.Errorf("update review state: %w", err)
		}

		if _, err := tx.Exec(ctx, insertQuery, insertArgs...); err != nil {
			return fmt.Errorf("insert moderation action: %w", err)
		}
		action.ReviewID = id
		action.FromState = domain.StatePending
		updated = rv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// explainNoTransition distinguishes an unknown id from a review that has
// already reached a terminal state.
func (r *ReviewRepository) explainNoTransition(ctx context.Context, tx pgx.Tx, id string) error {
	var state string
	err := tx.QueryRow(ctx, "SELECT moderation_state FROM reviews WHERE id = $1", id).Scan(&state)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NotFound("review", id)
		}
		return fmt.Errorf("read review state: %w", err)
	}
	return fmt.Errorf("%w: review %s is %s", domain.ErrInvalidTransition, id, state)
}

// ListActions returns the moderation audit trail for a review.
func (r *ReviewRepository) ListActions(ctx context.Context, reviewID string) (_ []domain.ModerationAction, err error) {
	query, args, err := psql.Select(actionColumns...).
		From("moderation_actions").
		Where(sq.Eq{"review_id": reviewID}).
		OrderBy("created_at ASC", "id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list actions: %w", err)
	}

	ctx, end := database.TraceQuery(ctx, "ListModerationActions", query)
	defer func() { end(err) }()

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list moderation actions: %w", err)
	}
	defer rows.Close()

	actions := []domain.ModerationAction{}
	for rows.Next() {
		var (
			a        domain.ModerationAction
			from, to string
		)
		if err := rows.Scan(&a.ID, &a.ReviewID, &from, &to, &a.Moderator, &a.Note, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan moderation action: %w", err)
		}
		a.FromState = domain.ModerationState(from)
		a.ToState = domain.ModerationState(to)
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate moderation actions: %w", err)
	}
	return actions, nil
}

func (r *ReviewRepository) queryReviews(ctx context.Context, query string, args ...any) ([]domain.Review, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	reviews := []domain.Review{}
	for rows.Next() {
		rv, err := scanReview(rows)
		if err != nil {
			return nil, fmt.Errorf("scan review row: %w", err)
		}
		reviews = append(reviews, *rv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate review rows: %w", err)
	}
	return reviews, nil
}

// scanReview reads one row laid out as reviewColumns.
func scanReview(row pgx.Row) (*domain.Review, error) {
	var (
		rv    domain.Review
		state string
	)
	err := row.Scan(
		&rv.ID,
		&rv.Scope.SiteSlug,
		&rv.Scope.EntityType,
		&rv.Scope.EntitySlug,
		&rv.Rating,
		&rv.DisplayName,
		&rv.Body,
		&rv.CreatedAt,
		&state,
		&rv.ModeratedAt,
		&rv.ModeratedBy,
		&rv.ModerationNote,
	)
	if err != nil {
		return nil, err
	}
	rv.ModerationState = domain.ModerationState(state)
	return &rv, nil
}

// isUniqueViolation checks for a PostgreSQL unique constraint violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
