package http

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localguide/reviews/pkg/health"
	"github.com/localguide/reviews/pkg/middleware"
	"github.com/localguide/reviews/services/review/internal/auth"
	"github.com/localguide/reviews/services/review/internal/domain"
	"github.com/localguide/reviews/services/review/internal/ratelimit"
	"github.com/localguide/reviews/services/review/internal/repository"
	"github.com/localguide/reviews/services/review/internal/repository/memory"
	"github.com/localguide/reviews/services/review/internal/service"
)

// =============================================================================
// Test helpers
// =============================================================================

const (
	testSecret = "0123456789abcdef0123456789abcdef"
	reviewsURL = "/api/v1/reviews/lakes/hotel/grand-view"
	modURL     = "/api/v1/moderation/reviews"
)

type testEnv struct {
	router http.Handler
	repo   *memory.ReviewRepository
	jwt    *auth.JWTManager
}

type allowList map[domain.Scope]bool

func (a allowList) Allows(scope domain.Scope) bool { return a[scope] }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestEnv(t *testing.T, limit int64) *testEnv {
	t.Helper()
	logger := testLogger()
	repo := memory.NewReviewRepository()

	limiter, err := ratelimit.NewMemoryLimiter(ratelimit.Config{Limit: limit, Window: time.Hour})
	require.NoError(t, err)
	jwtManager, err := auth.NewJWTManager(testSecret, time.Hour)
	require.NoError(t, err)

	registry := allowList{
		{SiteSlug: "lakes", EntityType: "hotel", EntitySlug: "grand-view"}: true,
	}

	validator := jwtManager.Validator()
	svcs := Services{
		Gate:        service.NewSubmissionGate(repo, limiter, registry, nil, logger),
		Moderation:  service.NewModerationService(repo, nil, nil, logger),
		Aggregation: service.NewAggregationService(repo, nil, registry, logger),
		TokenValidator: func(token string) (*middleware.Claims, error) {
			if token == "reader-token" {
				return &middleware.Claims{Subject: "someone", Role: "reader"}, nil
			}
			return validator(token)
		},
	}

	router := NewRouter(svcs, health.NewHandler(), logger, RouterConfig{
		CORS:        middleware.DefaultCORSConfig(),
		CacheMaxAge: 60,
	})
	return &testEnv{router: router, repo: repo, jwt: jwtManager}
}

func (e *testEnv) token(t *testing.T) string {
	t.Helper()
	tok, err := e.jwt.GenerateToken("mod-ana", auth.RoleModerator)
	require.NoError(t, err)
	return tok
}

func (e *testEnv) do(t *testing.T, method, target string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) pending(t *testing.T) []domain.Review {
	t.Helper()
	reviews, _, err := e.repo.ListByState(context.Background(), repository.QueueFilter{State: domain.StatePending, Page: 1, PerPage: 100})
	require.NoError(t, err)
	return reviews
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code      string            `json:"code"`
		Message   string            `json:"message"`
		Fields    map[string]string `json:"fields"`
		RequestID string            `json:"request_id"`
	} `json:"error"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	return env
}

func validSubmission() []byte {
	b, _ := json.Marshal(map[string]any{
		"rating":      5,
		"displayName": "Sam",
		"body":        "Lovely coffee and quick service, would return.",
	})
	return b
}

// =============================================================================
// GET /api/v1/reviews/{site}/{type}/{slug}
// =============================================================================

func TestListReviews_EmptyScope(t *testing.T) {
	env := newTestEnv(t, 5)

	rec := env.do(t, http.MethodGet, reviewsURL, nil, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "public, max-age=60", rec.Header().Get("Cache-Control"))
	assert.NotEmpty(t, rec.Header().Get("X-Correlation-ID"))

	var body map[string]map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	data := body["data"]
	assert.Equal(t, []any{}, data["reviews"])
	assert.Equal(t, "newest", data["sort"])

	summary := data["summary"].(map[string]any)
	assert.Equal(t, float64(0), summary["count"])
	assert.Nil(t, summary["average"])
	assert.Len(t, summary["distribution"], 5)
}

func TestListReviews_UnknownScope(t *testing.T) {
	env := newTestEnv(t, 5)

	rec := env.do(t, http.MethodGet, "/api/v1/reviews/lakes/hotel/somewhere-else", nil, nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "NOT_FOUND", decode(t, rec).Error.Code)
}

func TestListReviews_UnknownSort(t *testing.T) {
	env := newTestEnv(t, 5)

	rec := env.do(t, http.MethodGet, reviewsURL+"?sort=random", nil, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "INVALID_INPUT", decode(t, rec).Error.Code)
}

// =============================================================================
// POST /api/v1/reviews/{site}/{type}/{slug}
// =============================================================================

func TestSubmitReview_Accepted(t *testing.T) {
	env := newTestEnv(t, 5)

	rec := env.do(t, http.MethodPost, reviewsURL, validSubmission(), nil)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	var result service.SubmitResult
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &result))
	assert.Equal(t, "pending", result.Status)
	assert.Contains(t, result.Message, "once a moderator has approved it")
	assert.NotContains(t, rec.Body.String(), `"id"`)
	assert.Len(t, env.pending(t), 1)
}

func TestSubmitReview_HoneypotIndistinguishable(t *testing.T) {
	env := newTestEnv(t, 5)

	genuine := env.do(t, http.MethodPost, reviewsURL, validSubmission(), nil)

	trap, _ := json.Marshal(map[string]any{
		"rating":      5,
		"displayName": "Sam",
		"body":        "Lovely coffee and quick service, would return.",
		"honeypot":    "http://spam.example",
	})
	trapped := env.do(t, http.MethodPost, reviewsURL, trap, nil)

	assert.Equal(t, genuine.Code, trapped.Code)
	assert.Equal(t, genuine.Body.String(), trapped.Body.String())
	assert.Len(t, env.pending(t), 1)
}

func TestSubmitReview_ValidationError(t *testing.T) {
	env := newTestEnv(t, 5)
	body, _ := json.Marshal(map[string]any{"rating": 6, "displayName": "Sam", "body": "Too short"})

	rec := env.do(t, http.MethodPost, reviewsURL, body, nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decode(t, rec)
	assert.Equal(t, "VALIDATION_ERROR", resp.Error.Code)
	assert.Contains(t, resp.Error.Fields, "rating")
	assert.Contains(t, resp.Error.Fields, "body")
	assert.Empty(t, env.pending(t))
}

func TestSubmitReview_MalformedJSON(t *testing.T) {
	env := newTestEnv(t, 5)

	rec := env.do(t, http.MethodPost, reviewsURL, []byte(`{"rating": 5,`), nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_INPUT", decode(t, rec).Error.Code)
}

func TestSubmitReview_RatingAsString(t *testing.T) {
	env := newTestEnv(t, 5)

	rec := env.do(t, http.MethodPost, reviewsURL, []byte(`{"rating":"5","displayName":"Sam","body":"Lovely coffee and quick service."}`), nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, env.pending(t))
}

func TestSubmitReview_WrongContentType(t *testing.T) {
	env := newTestEnv(t, 5)
	req := httptest.NewRequest(http.MethodPost, reviewsURL, strings.NewReader("rating=5"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	assert.Equal(t, "UNSUPPORTED_MEDIA_TYPE", decode(t, rec).Error.Code)
}

func TestSubmitReview_JSONWithCharsetAccepted(t *testing.T) {
	env := newTestEnv(t, 5)

	rec := env.do(t, http.MethodPost, reviewsURL, validSubmission(), map[string]string{
		"Content-Type": "application/json; charset=utf-8",
	})

	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestSubmitReview_TooLarge(t *testing.T) {
	env := newTestEnv(t, 5)
	body, _ := json.Marshal(map[string]any{
		"rating":      5,
		"displayName": "Sam",
		"body":        strings.Repeat("x", MaxSubmissionBytes+1),
	})

	rec := env.do(t, http.MethodPost, reviewsURL, body, nil)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Empty(t, env.pending(t))
}

func TestSubmitReview_UnknownScope(t *testing.T) {
	env := newTestEnv(t, 5)

	rec := env.do(t, http.MethodPost, "/api/v1/reviews/lakes/ferry/night-boat", validSubmission(), nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, env.pending(t))
}

func TestSubmitReview_RateLimited(t *testing.T) {
	env := newTestEnv(t, 1)

	first := env.do(t, http.MethodPost, reviewsURL, validSubmission(), nil)
	require.Equal(t, http.StatusAccepted, first.Code)

	second := env.do(t, http.MethodPost, reviewsURL, validSubmission(), nil)

	require.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))
	assert.Equal(t, "RATE_LIMITED", decode(t, second).Error.Code)
	assert.Len(t, env.pending(t), 1)
}

// =============================================================================
// Moderation endpoints
// =============================================================================

func TestModeration_RequiresToken(t *testing.T) {
	env := newTestEnv(t, 5)

	rec := env.do(t, http.MethodGet, modURL, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, modURL, nil, map[string]string{"Authorization": "Bearer nonsense"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestModeration_RequiresRole(t *testing.T) {
	env := newTestEnv(t, 5)

	rec := env.do(t, http.MethodGet, modURL, nil, map[string]string{"Authorization": "Bearer reader-token"})

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestModeration_ApproveFlow(t *testing.T) {
	env := newTestEnv(t, 5)
	authz := map[string]string{"Authorization": "Bearer " + env.token(t)}

	require.Equal(t, http.StatusAccepted, env.do(t, http.MethodPost, reviewsURL, validSubmission(), nil).Code)

	queue := env.do(t, http.MethodGet, modURL+"?state=pending", nil, authz)
	require.Equal(t, http.StatusOK, queue.Code)
	assert.Equal(t, "no-store", queue.Header().Get("Cache-Control"))
	var page struct {
		Data       []domain.Review `json:"data"`
		TotalCount int             `json:"total_count"`
	}
	require.NoError(t, json.NewDecoder(queue.Body).Decode(&page))
	require.Equal(t, 1, page.TotalCount)
	id := page.Data[0].ID

	note, _ := json.Marshal(DecisionRequest{Note: "genuine"})
	approve := env.do(t, http.MethodPost, modURL+"/"+id+"/approve", note, authz)
	require.Equal(t, http.StatusOK, approve.Code)
	var approved domain.Review
	require.NoError(t, json.Unmarshal(decode(t, approve).Data, &approved))
	assert.Equal(t, domain.StateApproved, approved.ModerationState)
	assert.Equal(t, "mod-ana", approved.ModeratedBy)
	assert.Equal(t, "genuine", approved.ModerationNote)

	again := env.do(t, http.MethodPost, modURL+"/"+id+"/approve", nil, authz)
	assert.Equal(t, http.StatusOK, again.Code)

	reject := env.do(t, http.MethodPost, modURL+"/"+id+"/reject", nil, authz)
	assert.Equal(t, http.StatusConflict, reject.Code)
	assert.Equal(t, "INVALID_TRANSITION", decode(t, reject).Error.Code)

	list := env.do(t, http.MethodGet, reviewsURL, nil, nil)
	require.Equal(t, http.StatusOK, list.Code)
	var result service.ListResult
	require.NoError(t, json.Unmarshal(decode(t, list).Data, &result))
	require.Len(t, result.Reviews, 1)
	assert.Equal(t, id, result.Reviews[0].ID)
	assert.Equal(t, 1, result.Summary.Count)
	assert.Equal(t, 1, result.Summary.Distribution[5])
	assert.NotContains(t, list.Body.String(), "moderatedBy")

	detail := env.do(t, http.MethodGet, modURL+"/"+id, nil, authz)
	require.Equal(t, http.StatusOK, detail.Code)
	var full service.ReviewDetail
	require.NoError(t, json.Unmarshal(decode(t, detail).Data, &full))
	assert.Len(t, full.Actions, 1)
}

func TestModeration_UnknownReview(t *testing.T) {
	env := newTestEnv(t, 5)
	authz := map[string]string{"Authorization": "Bearer " + env.token(t)}

	rec := env.do(t, http.MethodPost, modURL+"/00000000-0000-4000-8000-000000000000/approve", nil, authz)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, modURL+"/not-a-uuid", nil, authz)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestModeration_MalformedDecisionBody(t *testing.T) {
	env := newTestEnv(t, 5)
	authz := map[string]string{"Authorization": "Bearer " + env.token(t)}

	rec := env.do(t, http.MethodPost, modURL+"/00000000-0000-4000-8000-000000000000/reject", []byte("{"), authz)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestModeration_UnknownQueueState(t *testing.T) {
	env := newTestEnv(t, 5)
	authz := map[string]string{"Authorization": "Bearer " + env.token(t)}

	rec := env.do(t, http.MethodGet, modURL+"?state=archived", nil, authz)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// Ops endpoints
// =============================================================================

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, 5)

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/health/live", nil, nil).Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/health/ready", nil, nil).Code)

	metrics := env.do(t, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, metrics.Code)
	assert.Contains(t, metrics.Body.String(), "http_requests_total")
}

func TestPprofNotMountedWithoutAllowlist(t *testing.T) {
	env := newTestEnv(t, 5)

	rec := env.do(t, http.MethodGet, "/debug/pprof/", nil, nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, 5)

	rec := env.do(t, http.MethodOptions, reviewsURL, nil, map[string]string{
		"Origin":                        "https://lakes.example",
		"Access-Control-Request-Method": "POST",
	})

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestContentTypeJSON_AllowsEmptyBody(t *testing.T) {
	called := false
	h := ContentTypeJSON(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))

	assert.True(t, called)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
