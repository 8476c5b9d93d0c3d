// Package cache holds the Redis read-through cache for approved review lists.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/localguide/reviews/services/review/internal/domain"
)

const keyPrefix = "reviews:list:"

// ListCache stores the approved snapshot of a scope under a versioned key.
// Moderation bumps the scope version, which orphans every older entry, so a
// reader that resolved the new version can never see a list from before the
// decision. Orphaned entries expire with the TTL.
type ListCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewListCache creates a cache with the given entry TTL.
func NewListCache(client redis.UniversalClient, ttl time.Duration) *ListCache {
	return &ListCache{client: client, ttl: ttl}
}

func versionKey(scope domain.Scope) string {
	return keyPrefix + "version:" + scope.String()
}

func entryKey(scope domain.Scope, version int64) string {
	return fmt.Sprintf("%s%s:v%d", keyPrefix, scope.String(), version)
}

// Version returns the current version of the scope. A scope that was never
// invalidated is at version zero.
func (c *ListCache) Version(ctx context.Context, scope domain.Scope) (int64, error) {
	v, err := c.client.Get(ctx, versionKey(scope)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get list version: %w", err)
	}
	return v, nil
}

// Get returns the cached approved reviews for scope at version. The boolean
// is false on a miss.
func (c *ListCache) Get(ctx context.Context, scope domain.Scope, version int64) ([]domain.Review, bool, error) {
	data, err := c.client.Get(ctx, entryKey(scope, version)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get cached list: %w", err)
	}

	var reviews []domain.Review
	if err := json.Unmarshal(data, &reviews); err != nil {
		return nil, false, fmt.Errorf("unmarshal cached list: %w", err)
	}
	return reviews, true, nil
}

// Set stores the approved reviews for scope at version.
func (c *ListCache) Set(ctx context.Context, scope domain.Scope, version int64, reviews []domain.Review) error {
	if reviews == nil {
		reviews = []domain.Review{}
	}
	data, err := json.Marshal(reviews)
	if err != nil {
		return fmt.Errorf("marshal list: %w", err)
	}
	if err := c.client.Set(ctx, entryKey(scope, version), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("set cached list: %w", err)
	}
	return nil
}

// Invalidate moves the scope to a new version.
func (c *ListCache) Invalidate(ctx context.Context, scope domain.Scope) error {
	if err := c.client.Incr(ctx, versionKey(scope)).Err(); err != nil {
		return fmt.Errorf("bump list version: %w", err)
	}
	return nil
}
