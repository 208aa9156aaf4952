// Package redis backs the cache.KV interface with Redis.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/couchcryptid/hazard-alert-service/internal/cache"
	goredis "github.com/go-redis/redis/v8"
)

// KV implements cache.KV on a Redis client.
type KV struct {
	client *goredis.Client
	prefix string
}

// NewClient connects to addr and verifies the connection.
func NewClient(ctx context.Context, addr string) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return client, nil
}

// NewKV wraps client. Keys are namespaced with prefix.
func NewKV(client *goredis.Client, prefix string) *KV {
	return &KV{client: client, prefix: prefix}
}

func (k *KV) Get(ctx context.Context, key string) (string, error) {
	val, err := k.client.Get(ctx, k.prefix+key).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return "", cache.ErrCacheMiss
		}
		return "", fmt.Errorf("redis get: %w", err)
	}
	return val, nil
}

func (k *KV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := k.client.Set(ctx, k.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// CheckReadiness pings Redis.
func (k *KV) CheckReadiness(ctx context.Context) error {
	return k.client.Ping(ctx).Err()
}
