//go:build integration

package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/localguide/reviews/pkg/httpclient"
)

const devJWTSecret = "development-only-review-secret-change-me"

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

var (
	baseURL    = strings.TrimRight(envOr("REVIEW_API_URL", "http://localhost:8010"), "/")
	site       = envOr("REVIEW_TEST_SITE", "saltaire-guide")
	entityType = envOr("REVIEW_TEST_ENTITY_TYPE", "cafe")
)

// freshScope returns an entity slug no earlier run has reviewed.
func freshScope(prefix string) string {
	return fmt.Sprintf("%s-%d-%d", prefix, time.Now().UnixNano(), rand.IntN(100000))
}

func reviewsPath(entitySlug string) string {
	return fmt.Sprintf("/api/v1/reviews/%s/%s/%s", site, entityType, entitySlug)
}

// api talks to the running service through the shared retrying client.
type api struct {
	t      *testing.T
	client *httpclient.Client
	token  string
}

// newAPI skips the test when the service is not running.
func newAPI(t *testing.T) *api {
	t.Helper()
	cfg := httpclient.DefaultConfig()
	cfg.Timeout = 10 * time.Second
	cfg.MaxRetries = 1
	a := &api{t: t, client: httpclient.New(cfg)}

	probe := &http.Client{Timeout: 2 * time.Second}
	resp, err := probe.Get(baseURL + "/health/live")
	if err != nil {
		t.Skipf("review service at %s not reachable: %v", baseURL, err)
	}
	_ = resp.Body.Close()
	return a
}

// asModerator returns a copy that sends a moderator token minted from the
// shared secret, as reviewctl does.
func (a *api) asModerator() *api {
	a.t.Helper()
	now := time.Now()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  "integration-test",
		"role": "moderator",
		"iss":  "review-service",
		"iat":  now.Unix(),
		"exp":  now.Add(10 * time.Minute).Unix(),
	}).SignedString([]byte(envOr("JWT_SECRET", devJWTSecret)))
	require.NoError(a.t, err)
	return &api{t: a.t, client: a.client, token: token}
}

// reply is a decoded JSON response.
type reply struct {
	t      *testing.T
	status int
	body   map[string]any
}

func (a *api) get(path string) reply { return a.call(http.MethodGet, path, nil) }

func (a *api) post(path string, payload any) reply { return a.call(http.MethodPost, path, payload) }

func (a *api) call(method, path string, payload any) reply {
	a.t.Helper()
	var body io.Reader = http.NoBody
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(a.t, err)
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(a.t.Context(), method, baseURL+path, body)
	require.NoError(a.t, err)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.client.Do(a.t.Context(), req)
	require.NoError(a.t, err, "%s %s", method, path)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(a.t, err)
	r := reply{t: a.t, status: resp.StatusCode, body: map[string]any{}}
	if len(raw) > 0 && json.Unmarshal(raw, &r.body) != nil {
		r.body = map[string]any{"raw": string(raw)}
	}
	return r
}

func (r reply) expect(status int) reply {
	r.t.Helper()
	require.Equal(r.t, status, r.status, "body: %v", r.body)
	return r
}

// at walks a dot separated path through nested objects; nil when absent.
func (r reply) at(path string) any {
	var cur any = r.body
	for _, key := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[key]
	}
	return cur
}

func (r reply) num(path string) float64 {
	r.t.Helper()
	v, ok := r.at(path).(float64)
	require.True(r.t, ok, "number at %q, got %v", path, r.at(path))
	return v
}

func (r reply) str(path string) string {
	r.t.Helper()
	v, ok := r.at(path).(string)
	require.True(r.t, ok, "string at %q, got %v", path, r.at(path))
	return v
}

func (r reply) list(path string) []any {
	r.t.Helper()
	v, ok := r.at(path).([]any)
	require.True(r.t, ok, "array at %q, got %v", path, r.at(path))
	return v
}
