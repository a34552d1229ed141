// Package redis registers the "redis" array cache backend, grounded on the
// teacher's go-redis entries cache: a Ping-validated client, key-per-entity
// addressing, and a configurable TTL. Arrays are serialized with the
// teleological array codec rather than JSON, since the codec already frames
// every space's output compactly.
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/google/uuid"

	"github.com/chirino/memory-service/internal/codec"
	"github.com/chirino/memory-service/internal/config"
	"github.com/chirino/memory-service/internal/model"
	"github.com/chirino/memory-service/internal/registry/arraycache"
)

const defaultTTL = 10 * time.Minute

func init() {
	arraycache.Register(arraycache.Plugin{
		Name:   "redis",
		Loader: load,
	})
}

func load(ctx context.Context) (arraycache.ArrayCache, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.RedisURL == "" {
		return nil, fmt.Errorf("redis array cache: MEMORY_SERVICE_REDIS_URL is required")
	}
	ttl := cfg.CacheEpochTTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	opts, err := goredis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("redis array cache: invalid URL: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis array cache: ping failed: %w", err)
	}
	return &arrayCache{client: client, ttl: ttl}, nil
}

type arrayCache struct {
	client *goredis.Client
	ttl    time.Duration
}

func key(id uuid.UUID) string {
	return fmt.Sprintf("array:%s", id.String())
}

func (c *arrayCache) Available() bool { return true }

func (c *arrayCache) Get(ctx context.Context, id uuid.UUID) (*model.TeleologicalArray, error) {
	data, err := c.client.Get(ctx, key(id)).Bytes()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return codec.Decode(data)
}

func (c *arrayCache) Set(ctx context.Context, array *model.TeleologicalArray) error {
	blob, err := codec.Encode(array)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key(array.ID), blob, c.ttl).Err()
}

func (c *arrayCache) Remove(ctx context.Context, id uuid.UUID) error {
	return c.client.Del(ctx, key(id)).Err()
}

var _ arraycache.ArrayCache = (*arrayCache)(nil)
