package http

import (
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/localguide/reviews/pkg/httputil"
	"github.com/localguide/reviews/pkg/middleware"
	"github.com/localguide/reviews/pkg/pagination"
	"github.com/localguide/reviews/services/review/internal/domain"
	"github.com/localguide/reviews/services/review/internal/service"
)

// MaxSubmissionBytes caps the size of a submission body.
const MaxSubmissionBytes = 16 << 10

// ReviewHandler handles the public review endpoints.
type ReviewHandler struct {
	gate       *service.SubmissionGate
	agg        *service.AggregationService
	trustProxy bool
	logger     *slog.Logger
}

// NewReviewHandler creates a new public review HTTP handler.
func NewReviewHandler(gate *service.SubmissionGate, agg *service.AggregationService, trustProxy bool, logger *slog.Logger) *ReviewHandler {
	return &ReviewHandler{
		gate:       gate,
		agg:        agg,
		trustProxy: trustProxy,
		logger:     logger,
	}
}

// --- Request DTOs ---

// SubmitReviewRequest is the JSON request body for submitting a review.
// Rating is a pointer so a missing value is told apart from zero.
type SubmitReviewRequest struct {
	Rating      *float64 `json:"rating"`
	DisplayName string   `json:"displayName"`
	Body        string   `json:"body"`
	Honeypot    string   `json:"honeypot,omitempty"`
}

func scopeFromRequest(r *http.Request) domain.Scope {
	return domain.Scope{
		SiteSlug:   chi.URLParam(r, "siteSlug"),
		EntityType: chi.URLParam(r, "entityType"),
		EntitySlug: chi.URLParam(r, "entitySlug"),
	}
}

// --- Handlers ---

// ListReviews handles GET /api/v1/reviews/{siteSlug}/{entityType}/{entitySlug}
func (h *ReviewHandler) ListReviews(w http.ResponseWriter, r *http.Request) {
	params := pagination.FromRequest(r)

	result, err := h.agg.List(r.Context(), scopeFromRequest(r), service.ListOptions{
		Sort:    r.URL.Query().Get("sort"),
		Page:    params.Page,
		PerPage: params.PerPage,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: result})
}

// SubmitReview handles POST /api/v1/reviews/{siteSlug}/{entityType}/{entitySlug}
func (h *ReviewHandler) SubmitReview(w http.ResponseWriter, r *http.Request) {
	var req SubmitReviewRequest
	if err := httputil.DecodeJSON(w, r, &req, MaxSubmissionBytes); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	result, err := h.gate.Submit(r.Context(), service.SubmitInput{
		Scope:       scopeFromRequest(r),
		Rating:      req.Rating,
		DisplayName: req.DisplayName,
		Body:        req.Body,
		Honeypot:    req.Honeypot,
		ClientIP:    middleware.ClientIP(r, h.trustProxy),
	})
	if err != nil {
		var rlErr *service.RateLimitError
		if errors.As(err, &rlErr) {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(rlErr.RetryAfter.Seconds()))))
		}
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusAccepted, httputil.Response{Data: result})
}
