package linkkit

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisKVStore persists registry blobs in Redis. Values never expire; the
// registry contract has no TTL semantics.
type RedisKVStore struct {
	client *redis.Client
}

// NewRedisKVStore connects to the Redis instance described by redisURL
// (redis:// or rediss://) and verifies connectivity with a ping.
func NewRedisKVStore(ctx context.Context, redisURL string) (*RedisKVStore, error) {
	options, parseErr := redis.ParseURL(redisURL)
	if parseErr != nil {
		return nil, fmt.Errorf("linkstore.redis.parse_url: %w", parseErr)
	}
	client := redis.NewClient(options)
	if pingErr := client.Ping(ctx).Err(); pingErr != nil {
		return nil, fmt.Errorf("linkstore.redis.ping: %w", pingErr)
	}
	return &RedisKVStore{client: client}, nil
}

// Get returns the value for key or ErrKeyNotFound.
func (store *RedisKVStore) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := store.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("linkstore.redis.get: %w", ErrKeyNotFound)
		}
		return nil, fmt.Errorf("linkstore.redis.get: %w", err)
	}
	return value, nil
}

// Set stores value under key with no expiry.
func (store *RedisKVStore) Set(ctx context.Context, key string, value []byte) error {
	if err := store.client.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("linkstore.redis.set: %w", err)
	}
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (store *RedisKVStore) Delete(ctx context.Context, key string) error {
	if err := store.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("linkstore.redis.delete: %w", err)
	}
	return nil
}

// Close releases the underlying Redis connection pool.
func (store *RedisKVStore) Close() error {
	return store.client.Close()
}
