// Package redisstore keeps durable session records in Redis.
//
// Expiry is delegated to Redis key TTLs, so no sweeper is needed.
package redisstore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bluescreen10/sugary/session"
)

var _ session.Backend = (*RedisStore)(nil)

type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

type config func(*RedisStore)

// WithPrefix sets the key prefix of every record. (default "session:")
func WithPrefix(prefix string) config {
	return config(func(s *RedisStore) {
		s.prefix = prefix
	})
}

func New(rdb *redis.Client, cfgs ...config) *RedisStore {
	s := &RedisStore{rdb: rdb, prefix: "session:"}
	for _, cfg := range cfgs {
		cfg(s)
	}
	return s
}

// Get returns the record data for id. found is false once the key expired.
func (s *RedisStore) Get(ctx context.Context, id string) ([]byte, bool, error) {
	data, err := s.rdb.Get(ctx, s.prefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}

	return data, true, nil
}

// Set stores data under id with a TTL reaching expiresAt. A record already
// expired is deleted instead.
func (s *RedisStore) Set(ctx context.Context, id string, data []byte, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return s.Delete(ctx, id)
	}
	return s.rdb.Set(ctx, s.prefix+id, data, ttl).Err()
}

// Delete removes the record. Deleting a missing id is a no-op.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	return s.rdb.Del(ctx, s.prefix+id).Err()
}

// Ping reports whether Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}
