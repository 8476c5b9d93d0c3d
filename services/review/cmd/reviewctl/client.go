package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/localguide/reviews/pkg/httpclient"
	"github.com/localguide/reviews/pkg/pagination"
	"github.com/localguide/reviews/services/review/internal/domain"
	"github.com/localguide/reviews/services/review/internal/service"
)

const apiName = "review-api"

// apiClient talks to the moderation endpoints of the review API.
type apiClient struct {
	http    *httpclient.Client
	baseURL string
	token   string
}

func newAPIClient(httpClient *httpclient.Client, baseURL, token string) *apiClient {
	return &apiClient{
		http:    httpClient,
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
	}
}

func (c *apiClient) queue(ctx context.Context, state, site string, page, perPage int) (*pagination.Result[domain.Review], error) {
	q := url.Values{}
	if state != "" {
		q.Set("state", state)
	}
	if site != "" {
		q.Set("site", site)
	}
	if page > 0 {
		q.Set("page", fmt.Sprint(page))
	}
	if perPage > 0 {
		q.Set("per_page", fmt.Sprint(perPage))
	}

	var out pagination.Result[domain.Review]
	if err := c.do(ctx, http.MethodGet, "/api/v1/moderation/reviews?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) show(ctx context.Context, id string) (*service.ReviewDetail, error) {
	var out struct {
		Data service.ReviewDetail `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/moderation/reviews/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

func (c *apiClient) decide(ctx context.Context, id, decision, note string) (*domain.Review, error) {
	body, err := json.Marshal(map[string]string{"note": note})
	if err != nil {
		return nil, fmt.Errorf("encode decision: %w", err)
	}

	var out struct {
		Data domain.Review `json:"data"`
	}
	path := "/api/v1/moderation/reviews/" + url.PathEscape(id) + "/" + decision
	if err := c.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

func (c *apiClient) do(ctx context.Context, method, path string, body []byte, dst any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, http.NoBody)
	if body != nil {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	}
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return httpclient.ParseResponseError(resp, apiName)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
