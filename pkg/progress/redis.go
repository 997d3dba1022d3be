package progress

import (
	"context"
	"errors"
	"fmt"

	"github.com/Sternrassler/fudo-extractor/pkg/dataset"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces marker keys.
const DefaultRedisPrefix = "fudo-extractor:marker:"

// RedisBackend keeps markers as Redis strings keyed by prefix + marker path.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

var _ Backend = (*RedisBackend)(nil)

// NewRedisBackend stores markers in client. An empty prefix uses DefaultRedisPrefix.
func NewRedisBackend(client *redis.Client, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisBackend{client: client, prefix: prefix}
}

// NewRedisBackendFromURL parses a redis:// URL and checks connectivity.
func NewRedisBackendFromURL(ctx context.Context, url, prefix string) (*RedisBackend, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisBackend(client, prefix), nil
}

func (b *RedisBackend) key(ds dataset.Descriptor) string {
	return b.prefix + ds.MarkerKey()
}

// Get implements Backend.
func (b *RedisBackend) Get(ctx context.Context, ds dataset.Descriptor) (string, bool, error) {
	val, err := b.client.Get(ctx, b.key(ds)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %s: %w", b.key(ds), err)
	}
	return val, true, nil
}

// Set implements Backend. Markers never expire.
func (b *RedisBackend) Set(ctx context.Context, ds dataset.Descriptor, value string) error {
	if err := b.client.Set(ctx, b.key(ds), value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", b.key(ds), err)
	}
	return nil
}

// Name implements Backend.
func (b *RedisBackend) Name() string {
	return "redis"
}

// Close closes the underlying client.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}
