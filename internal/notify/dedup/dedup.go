// Package dedup suppresses repeated processing of redelivered messages.
package dedup

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
)

// DefaultTTL bounds how long a processed key is remembered.
const DefaultTTL = 10 * time.Minute

// Store remembers processed keys in Redis.
type Store struct {
	rdb    redis.Cmdable
	prefix string
	ttl    time.Duration
}

// New creates a Store. Keys are namespaced with prefix.
func New(rdb redis.Cmdable, prefix string, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{rdb: rdb, prefix: prefix, ttl: ttl}
}

// Once runs fn unless key was already processed within the TTL. The claim is
// released when fn fails so that a redelivery is processed again.
func (s *Store) Once(ctx context.Context, key string, fn func(ctx context.Context) error) (ran bool, _ error) {
	k := s.prefix + key
	claimed, err := s.rdb.SetNX(ctx, k, "1", s.ttl).Result()
	if err != nil {
		return false, errors.Wrap(err, "claim key")
	}
	if !claimed {
		return false, nil
	}
	if err := fn(ctx); err != nil {
		if delErr := s.rdb.Del(context.WithoutCancel(ctx), k).Err(); delErr != nil {
			return true, errors.Wrapf(err, "release key: %v", delErr)
		}
		return true, err
	}
	return true, nil
}
