package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/localguide/reviews/pkg/httputil"
	"github.com/localguide/reviews/pkg/middleware"
	"github.com/localguide/reviews/pkg/pagination"
	"github.com/localguide/reviews/services/review/internal/domain"
	"github.com/localguide/reviews/services/review/internal/service"
)

const maxDecisionBytes = 4 << 10

// ModerationHandler handles the moderator endpoints.
type ModerationHandler struct {
	service *service.ModerationService
	logger  *slog.Logger
}

// NewModerationHandler creates a new moderation HTTP handler.
func NewModerationHandler(svc *service.ModerationService, logger *slog.Logger) *ModerationHandler {
	return &ModerationHandler{
		service: svc,
		logger:  logger,
	}
}

// DecisionRequest is the optional JSON body of approve and reject.
type DecisionRequest struct {
	Note string `json:"note"`
}

// ListQueue handles GET /api/v1/moderation/reviews
func (h *ModerationHandler) ListQueue(w http.ResponseWriter, r *http.Request) {
	params := pagination.FromRequest(r)
	q := r.URL.Query()

	result, err := h.service.Queue(r.Context(), service.QueueInput{
		State:    q.Get("state"),
		SiteSlug: q.Get("site"),
		Page:     params.Page,
		PerPage:  params.PerPage,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, result)
}

// GetReview handles GET /api/v1/moderation/reviews/{id}
func (h *ModerationHandler) GetReview(w http.ResponseWriter, r *http.Request) {
	detail, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: detail})
}

// Approve handles POST /api/v1/moderation/reviews/{id}/approve
func (h *ModerationHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, domain.StateApproved)
}

// Reject handles POST /api/v1/moderation/reviews/{id}/reject
func (h *ModerationHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, domain.StateRejected)
}

func (h *ModerationHandler) decide(w http.ResponseWriter, r *http.Request, target domain.ModerationState) {
	var req DecisionRequest
	if r.ContentLength != 0 && r.Body != nil && r.Body != http.NoBody {
		if err := httputil.DecodeJSON(w, r, &req, maxDecisionBytes); err != nil {
			httputil.WriteError(w, r, err, h.logger)
			return
		}
	}

	id := chi.URLParam(r, "id")
	moderator := middleware.SubjectFromContext(r.Context())

	var (
		review *domain.Review
		err    error
	)
	if target == domain.StateApproved {
		review, err = h.service.Approve(r.Context(), id, moderator, req.Note)
	} else {
		review, err = h.service.Reject(r.Context(), id, moderator, req.Note)
	}
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: review})
}
