// Package cache decorates a catalog.Store with a Redis read-through cache.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/R3E-Network/ipa_gateway/internal/catalog"
	"github.com/R3E-Network/ipa_gateway/internal/logging"
)

// DefaultTTL bounds how long a slug is served after it changes in the backend.
const DefaultTTL = time.Minute

const keyPrefix = "ipa:catalog:slug:"

// Redis is the subset of *redis.Client used by the cache.
type Redis interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// Store caches successful lookups of the wrapped store. Misses are not
// cached so newly published apps become visible immediately. Cache failures
// degrade to backend reads.
type Store struct {
	next   catalog.Store
	redis  Redis
	ttl    time.Duration
	logger *logging.Logger
}

var _ catalog.Store = (*Store)(nil)

// New wraps next. A non-positive ttl uses DefaultTTL.
func New(next catalog.Store, rdb Redis, ttl time.Duration, logger *logging.Logger) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{next: next, redis: rdb, ttl: ttl, logger: logger}
}

// Key returns the Redis key for an app identifier.
func Key(id string) string {
	return keyPrefix + id
}

// Slug implements catalog.Store.
func (s *Store) Slug(ctx context.Context, id string) (string, error) {
	key := Key(id)

	cached, err := s.redis.Get(ctx, key).Result()
	switch {
	case err == nil && cached != "":
		return cached, nil
	case err != nil && !errors.Is(err, redis.Nil):
		s.warn(ctx, "catalog cache read failed", key, err)
	}

	slug, err := s.next.Slug(ctx, id)
	if err != nil {
		return "", err
	}

	if err := s.redis.Set(ctx, key, slug, s.ttl).Err(); err != nil {
		s.warn(ctx, "catalog cache write failed", key, err)
	}
	return slug, nil
}

func (s *Store) warn(ctx context.Context, msg, key string, err error) {
	if s.logger == nil {
		return
	}
	s.logger.WithContext(ctx).WithError(err).WithField("key", key).Warn(msg)
}
