package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/abdhe/llm-mediator/pkg/provider"
)

// RedisStore is the shared second cache tier. Values are stored as JSON
// provider.Result documents with a Redis-side TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a Redis-backed result store.
func NewRedisStore(addr, password string, db int, ttl time.Duration) *RedisStore {
	return NewRedisStoreFromClient(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}), ttl)
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

// Get retrieves a stored result by key.
// Returns the result and true if found, or zero value and false if not.
func (r *RedisStore) Get(ctx context.Context, key string) (provider.Result, bool, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return provider.Result{}, false, nil
	}
	if err != nil {
		return provider.Result{}, false, fmt.Errorf("redis_store: get: %w", err)
	}

	var res provider.Result
	if err := json.Unmarshal(val, &res); err != nil {
		return provider.Result{}, false, fmt.Errorf("redis_store: unmarshal: %w", err)
	}
	return res, true, nil
}

// Set stores a result for ttl, or the store's default TTL if ttl <= 0.
func (r *RedisStore) Set(ctx context.Context, key string, res provider.Result, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = r.ttl
	}
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("redis_store: marshal: %w", err)
	}
	if err := r.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis_store: set: %w", err)
	}
	return nil
}

// Delete removes a key.
func (r *RedisStore) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis_store: del: %w", err)
	}
	return nil
}

// Ping checks the Redis connection.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
