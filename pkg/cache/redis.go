package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a Store backed by a networked Redis instance, for
// multi-process deployments sharing one cache. Expiry is server-side
// (per-key TTL); prefix scans use SCAN MATCH.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore creates a Redis-backed store from connection options.
func NewRedisStore(opts *redis.Options) *RedisStore {
	return &RedisStore{rdb: redis.NewClient(opts)}
}

// Ping verifies connectivity. Useful at startup and for health checks.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

// Close closes the underlying connection. Implements io.Closer.
func (r *RedisStore) Close() error {
	return r.rdb.Close()
}

// Get implements Store.
func (r *RedisStore) Get(ctx context.Context, key string) (*Entry, error) {
	raw, err := r.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read cache entry from Redis: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("failed to deserialize cache entry: %w", err)
	}
	return &entry, nil
}

// SetWithTTL implements Store.
func (r *RedisStore) SetWithTTL(ctx context.Context, key string, entry *Entry, ttl time.Duration) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to serialize cache entry: %w", err)
	}
	if err := r.rdb.Set(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write cache entry to Redis: %w", err)
	}
	return nil
}

// ScanPrefix implements Store.
func (r *RedisStore) ScanPrefix(ctx context.Context, prefix string) (map[string]*Entry, error) {
	result := make(map[string]*Entry)

	iter := r.rdb.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		entry, err := r.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if entry != nil {
			result[key] = entry
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan cache keys: %w", err)
	}
	return result, nil
}

// DeletePattern implements Store.
func (r *RedisStore) DeletePattern(ctx context.Context, prefix string) error {
	iter := r.rdb.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := r.rdb.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("failed to delete cache key %s: %w", iter.Val(), err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan cache keys for deletion: %w", err)
	}
	return nil
}

// Size implements Store. Only keys in the cache namespace are counted; the
// Redis database may hold unrelated keys.
func (r *RedisStore) Size(ctx context.Context) (int, error) {
	count := 0
	iter := r.rdb.Scan(ctx, 0, keyNamespace+"*", 0).Iterator()
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("failed to count cache keys: %w", err)
	}
	return count, nil
}

// Entries implements Store. Scoped to the cache namespace.
func (r *RedisStore) Entries(ctx context.Context) (map[string]*Entry, error) {
	return r.ScanPrefix(ctx, keyNamespace)
}
