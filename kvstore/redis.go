/*
Copyright © 2026 Acey Labs.

Released under MIT license.
*/

package kvstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisTimeout bounds every Redis round trip issued by RedisStore.
// The limiter's admission path is synchronous, so a hung connection must not
// stall callers for longer than this.
const DefaultRedisTimeout = 2 * time.Second

// RedisStoreOpts represents options for RedisStore.
type RedisStoreOpts struct {
	// KeyPrefix is prepended to every storage key for namespacing.
	KeyPrefix string

	// Timeout bounds each Redis operation. DefaultRedisTimeout is used if zero.
	Timeout time.Duration

	// TTL is an optional expiration applied on every Save.
	// Zero means records never expire.
	TTL time.Duration
}

// RedisStore is a Store implementation backed by Redis. It allows several
// processes to share one persisted limiter state. There is no cross-process
// locking: concurrent writers race with last-write-wins semantics on the
// whole record, which the limiter accepts by design.
type RedisStore struct {
	client    redis.Cmdable
	keyPrefix string
	timeout   time.Duration
	ttl       time.Duration
}

// NewRedisStore creates a Redis-backed key-value store.
// It expects a pre-configured redis.Cmdable (redis.Client, redis.ClusterClient, etc.).
func NewRedisStore(client redis.Cmdable) *RedisStore {
	return NewRedisStoreWithOpts(client, RedisStoreOpts{})
}

// NewRedisStoreWithOpts is a configurable version of NewRedisStore.
func NewRedisStoreWithOpts(client redis.Cmdable, opts RedisStoreOpts) *RedisStore {
	if opts.Timeout == 0 {
		opts.Timeout = DefaultRedisTimeout
	}
	return &RedisStore{
		client:    client,
		keyPrefix: opts.KeyPrefix,
		timeout:   opts.Timeout,
		ttl:       opts.TTL,
	}
}

// Load implements the Store interface.
func (s *RedisStore) Load(key string) ([]byte, error) {
	ctx, cancel := s.opContext()
	defer cancel()
	data, err := s.client.Get(ctx, s.keyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis get %q: %w", key, err)
	}
	return data, nil
}

// Save implements the Store interface.
func (s *RedisStore) Save(key string, data []byte) error {
	ctx, cancel := s.opContext()
	defer cancel()
	if err := s.client.Set(ctx, s.keyPrefix+key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

// Remove implements the Store interface.
func (s *RedisStore) Remove(key string) error {
	ctx, cancel := s.opContext()
	defer cancel()
	if err := s.client.Del(ctx, s.keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("redis del %q: %w", key, err)
	}
	return nil
}

func (s *RedisStore) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}
