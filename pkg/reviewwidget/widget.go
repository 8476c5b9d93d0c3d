// Package reviewwidget is the client side of the review API as used by
// server-rendered pages: it loads the approved list and summary of one entity,
// submits new reviews and renders the result.
package reviewwidget

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	apperrors "github.com/localguide/reviews/pkg/errors"
	"github.com/localguide/reviews/pkg/httpclient"
)

// Messages shown by the widget.
const (
	PendingNotice   = "Thank you! Your review has been received and will appear once a moderator has approved it."
	RateLimitNotice = "You have sent several reviews in a short time. Please wait a few minutes and try again."
	FailureNotice   = "Your review could not be sent right now. Please try again later."
)

var (
	// ErrSubmitInFlight is returned while a previous submission is outstanding.
	ErrSubmitInFlight = errors.New("a submission is already in progress")
	// ErrRateLimited is returned when the server throttles submissions.
	ErrRateLimited = errors.New("too many submissions")
	// ErrSubmitFailed covers every other failed submission.
	ErrSubmitFailed = errors.New("submission failed")

	errSuperseded = errors.New("list request superseded by a newer sort")
)

// ValidationError carries per-field messages returned by the server.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %d field(s)", len(e.Fields))
}

// Mount identifies the entity a widget is rendered for.
type Mount struct {
	SiteSlug   string
	EntityType string
	EntitySlug string
	EntityName string
}

func (m Mount) path() string {
	return "/api/v1/reviews/" + url.PathEscape(m.SiteSlug) + "/" +
		url.PathEscape(m.EntityType) + "/" + url.PathEscape(m.EntitySlug)
}

// Review is one approved review as returned by the API.
type Review struct {
	ID          string    `json:"id"`
	Rating      int       `json:"rating"`
	DisplayName string    `json:"displayName"`
	Body        string    `json:"body"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Summary aggregates the approved reviews of the entity. Average is nil when
// there are none.
type Summary struct {
	Count        int            `json:"count"`
	Average      *float64       `json:"average"`
	Distribution map[string]int `json:"distribution"`
}

// Form holds the values of the submission form.
type Form struct {
	Rating      int
	DisplayName string
	Body        string
	Honeypot    string
}

// View is a snapshot of everything the widget renders.
type View struct {
	Mount       Mount
	Reviews     []Review
	Summary     Summary
	Sort        string
	Unavailable bool
	Submitting  bool
	Form        Form
	Notice      string
	FieldErrors map[string]string
}

// Options tunes a Widget. Zero values select defaults.
type Options struct {
	HTTPConfig httpclient.Config
	Breaker    httpclient.BreakerConfig
	Logger     *slog.Logger
}

// Widget is safe for concurrent use.
type Widget struct {
	baseURL string
	mount   Mount
	client  *httpclient.BreakerClient
	logger  *slog.Logger
	loads   singleflight.Group

	// fetchSlot admits one List request at a time.
	fetchSlot  chan struct{}
	submitting atomic.Bool

	mu       sync.Mutex
	view     View
	wantSort string // order of the most recent Load
}

// New creates a widget for mount talking to the review API at baseURL.
func New(baseURL string, mount Mount, opts Options) *Widget {
	if opts.HTTPConfig.Timeout == 0 {
		opts.HTTPConfig = httpclient.DefaultConfig()
		opts.HTTPConfig.Timeout = 5 * time.Second
		opts.HTTPConfig.MaxRetries = 1
	}
	if opts.Breaker.Name == "" {
		opts.Breaker = httpclient.DefaultBreakerConfig("review-widget")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Widget{
		baseURL:   strings.TrimRight(baseURL, "/"),
		mount:     mount,
		client:    httpclient.NewBreakerClient(httpclient.New(opts.HTTPConfig), opts.Breaker, opts.Logger),
		logger:    opts.Logger.With(slog.String("scope", mount.SiteSlug+"/"+mount.EntityType+"/"+mount.EntitySlug)),
		fetchSlot: make(chan struct{}, 1),
		view: View{
			Mount:   mount,
			Reviews: []Review{},
			Summary: emptySummary(),
			Sort:    "newest",
		},
	}
}

func emptySummary() Summary {
	return Summary{Distribution: map[string]int{"1": 0, "2": 0, "3": 0, "4": 0, "5": 0}}
}

type listPayload struct {
	Reviews []Review `json:"reviews"`
	Summary Summary  `json:"summary"`
	Sort    string   `json:"sort"`
}

// Load fetches the approved list in the given sort order. Only one List
// request is in flight per widget; concurrent loads of the same order share
// it, and a response for an order the user has since moved away from is
// dropped. Any failure leaves an empty, unavailable view rather than an
// error.
func (w *Widget) Load(ctx context.Context, sort string) View {
	if sort == "" {
		sort = "newest"
	}
	w.mu.Lock()
	w.wantSort = sort
	w.mu.Unlock()

	v, err, _ := w.loads.Do(sort, func() (any, error) {
		return w.fetchLatest(ctx, sort)
	})

	w.mu.Lock()
	defer w.mu.Unlock()
	if sort != w.wantSort || errors.Is(err, errSuperseded) {
		return w.snapshot()
	}
	w.view.Sort = sort
	if err != nil {
		w.logger.WarnContext(ctx, "review list unavailable",
			slog.String("sort", sort),
			slog.String("error", err.Error()),
		)
		w.view.Reviews = []Review{}
		w.view.Summary = emptySummary()
		w.view.Unavailable = true
		return w.snapshot()
	}

	p := v.(*listPayload)
	w.view.Reviews = p.Reviews
	w.view.Summary = p.Summary
	w.view.Unavailable = false
	return w.snapshot()
}

// fetchLatest waits for the fetch slot and skips the request when a Load for
// another order arrived in the meantime.
func (w *Widget) fetchLatest(ctx context.Context, sort string) (*listPayload, error) {
	select {
	case w.fetchSlot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-w.fetchSlot }()

	w.mu.Lock()
	stale := sort != w.wantSort
	w.mu.Unlock()
	if stale {
		return nil, errSuperseded
	}
	return w.fetch(ctx, sort)
}

func (w *Widget) fetch(ctx context.Context, sort string) (*listPayload, error) {
	q := url.Values{"sort": {sort}}
	resp, err := w.client.Get(ctx, w.baseURL+w.mount.path()+"?"+q.Encode())
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, httpclient.ParseResponseError(resp, "review-api")
	}
	defer func() { _ = resp.Body.Close() }()

	var env struct {
		Data *listPayload `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode review list: %w", err)
	}
	if env.Data == nil {
		return nil, errors.New("decode review list: missing data")
	}
	if env.Data.Reviews == nil {
		env.Data.Reviews = []Review{}
	}
	if env.Data.Summary.Distribution == nil {
		env.Data.Summary = emptySummary()
	}
	return env.Data, nil
}

// Submit sends form to the API. The review only becomes visible after a
// moderator approves it, so a successful submission clears the form, shows
// PendingNotice and reloads the list without expecting the new review in it.
func (w *Widget) Submit(ctx context.Context, form Form) error {
	if !w.submitting.CompareAndSwap(false, true) {
		return ErrSubmitInFlight
	}
	w.beginSubmit(form)
	defer func() {
		w.submitting.Store(false)
		w.mu.Lock()
		w.view.Submitting = false
		w.mu.Unlock()
	}()

	err := w.post(ctx, form)

	w.mu.Lock()
	sort := w.view.Sort
	if w.wantSort != "" {
		sort = w.wantSort
	}
	w.view.FieldErrors = nil
	var verr *ValidationError
	switch {
	case err == nil:
		w.view.Form = Form{}
		w.view.Notice = PendingNotice
	case errors.As(err, &verr):
		w.view.FieldErrors = verr.Fields
		w.view.Notice = ""
	case errors.Is(err, ErrRateLimited):
		w.view.Notice = RateLimitNotice
	default:
		w.view.Notice = FailureNotice
	}
	w.mu.Unlock()

	if err != nil {
		return err
	}
	w.Load(ctx, sort)
	return nil
}

func (w *Widget) beginSubmit(form Form) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.view.Submitting = true
	w.view.Form = form
}

func (w *Widget) post(ctx context.Context, form Form) error {
	body, err := json.Marshal(map[string]any{
		"rating":      form.Rating,
		"displayName": form.DisplayName,
		"body":        form.Body,
		"honeypot":    form.Honeypot,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSubmitFailed, err)
	}

	resp, err := w.client.Post(ctx, w.baseURL+w.mount.path(), "application/json", bytes.NewReader(body))
	if err != nil {
		w.logger.WarnContext(ctx, "review submission failed", slog.String("error", err.Error()))
		return fmt.Errorf("%w: %v", ErrSubmitFailed, err)
	}
	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK {
		_ = resp.Body.Close()
		return nil
	}

	perr := httpclient.ParseResponseError(resp, "review-api")
	var fieldErr *httpclient.FieldError
	switch {
	case errors.As(perr, &fieldErr):
		return &ValidationError{Fields: fieldErr.Fields}
	case errors.Is(perr, apperrors.ErrRateLimited):
		return ErrRateLimited
	default:
		w.logger.WarnContext(ctx, "review submission rejected", slog.String("error", perr.Error()))
		return fmt.Errorf("%w: %v", ErrSubmitFailed, perr)
	}
}

// View returns a snapshot of the current state.
func (w *Widget) View() View {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snapshot()
}

func (w *Widget) snapshot() View {
	v := w.view
	v.Reviews = append(make([]Review, 0, len(w.view.Reviews)), w.view.Reviews...)
	if w.view.FieldErrors != nil {
		v.FieldErrors = make(map[string]string, len(w.view.FieldErrors))
		for k, msg := range w.view.FieldErrors {
			v.FieldErrors[k] = msg
		}
	}
	return v
}

// ClampStars maps a stored rating onto the 0..5 stars that can be drawn.
// Ratings outside the range only exist in legacy data.
func ClampStars(rating int) int {
	switch {
	case rating < 0:
		return 0
	case rating > 5:
		return 5
	default:
		return rating
	}
}
