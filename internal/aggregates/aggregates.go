// Package aggregates provides the user-aggregate lookup the feature
// extractor consumes: per-user transaction count and average amount.
package aggregates

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Service resolves user aggregates from the repository with a
// cache-aside layer in front; the cache keeps repeated lookups for
// active users off the database.
type Service struct {
	repo  domain.Repository
	cache domain.Cache
	ttl   time.Duration
}

// NewService creates a new aggregate lookup service.
func NewService(repo domain.Repository, cache domain.Cache) *Service {
	return &Service{
		repo:  repo,
		cache: cache,
		ttl:   2 * time.Minute,
	}
}

// Lookup returns the aggregates for a user. A cache miss falls through
// to the repository; cache write failures are logged, not surfaced.
func (s *Service) Lookup(ctx context.Context, userID string) (*domain.UserAggregates, error) {
	if userID == "" {
		return nil, fmt.Errorf("userID is required")
	}

	key := cacheKey(userID)

	if s.cache != nil {
		if data, err := s.cache.Get(ctx, key); err == nil && data != nil {
			var agg domain.UserAggregates
			if err := json.Unmarshal(data, &agg); err == nil {
				return &agg, nil
			}
		}
	}

	agg, err := s.repo.UserAggregates(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user aggregates: %w", err)
	}

	if s.cache != nil {
		if data, err := json.Marshal(agg); err == nil {
			if err := s.cache.Set(ctx, key, data, s.ttl); err != nil {
				slog.Warn("failed to cache user aggregates", "user_id", userID, "error", err)
			}
		}
	}

	return agg, nil
}

// Invalidate drops the cached aggregates for a user. Called after each
// persisted transaction so the next evaluation sees fresh statistics.
func (s *Service) Invalidate(ctx context.Context, userID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, cacheKey(userID)); err != nil {
		slog.Warn("failed to invalidate user aggregates", "user_id", userID, "error", err)
	}
}

// Velocity atomically counts transactions submitted by a user within
// the window. Backed by the cache's counter primitive.
func (s *Service) Velocity(ctx context.Context, userID string, window time.Duration) (int64, error) {
	if s.cache == nil {
		return 0, fmt.Errorf("no cache available for velocity counters")
	}
	return s.cache.IncrementCounter(ctx, "velocity:"+userID, window)
}

func cacheKey(userID string) string {
	return "aggregates:" + userID
}
