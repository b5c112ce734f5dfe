package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisNonceStore keeps nonces in Redis and relies on key expiry for garbage collection.
type RedisNonceStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisNonceStore connects to Redis. Keys expire after ttl.
func NewRedisNonceStore(addr, password string, db int, ttl time.Duration) *RedisNonceStore {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisNonceStore{client: client, ttl: ttl}
}

func nonceRedisKey(address, value string) string {
	return fmt.Sprintf("nonce:%s:%s", address, value)
}

// Ping checks connectivity.
func (r *RedisNonceStore) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return wrap("ping redis", err)
	}
	return nil
}

// Close releases the client.
func (r *RedisNonceStore) Close() error {
	return r.client.Close()
}

func (r *RedisNonceStore) InsertNonce(ctx context.Context, nonce Nonce) error {
	stamp := nonce.CreatedAt.UTC().Format(time.RFC3339Nano)
	if err := r.client.Set(ctx, nonceRedisKey(nonce.Address, nonce.Value), stamp, r.ttl).Err(); err != nil {
		return wrap("insert nonce", err)
	}
	return nil
}

func (r *RedisNonceStore) FindNonce(ctx context.Context, address, value string, notBefore time.Time) (Nonce, bool, error) {
	raw, err := r.client.Get(ctx, nonceRedisKey(address, value)).Result()
	if errors.Is(err, redis.Nil) {
		return Nonce{}, false, nil
	}
	if err != nil {
		return Nonce{}, false, wrap("find nonce", err)
	}

	createdAt, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return Nonce{}, false, wrap("parse nonce timestamp", err)
	}
	if !createdAt.After(notBefore) {
		return Nonce{}, false, nil
	}
	return Nonce{Address: address, Value: value, CreatedAt: createdAt}, true, nil
}

// DeleteNonce relies on DEL returning the number of removed keys, which Redis serialises.
func (r *RedisNonceStore) DeleteNonce(ctx context.Context, address, value string) (bool, error) {
	removed, err := r.client.Del(ctx, nonceRedisKey(address, value)).Result()
	if err != nil {
		return false, wrap("delete nonce", err)
	}
	return removed == 1, nil
}

// DeleteNoncesBefore is a no-op; Redis expires keys on its own.
func (r *RedisNonceStore) DeleteNoncesBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

var _ NonceStore = (*RedisNonceStore)(nil)
