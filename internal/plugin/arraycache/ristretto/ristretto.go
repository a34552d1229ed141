// Package ristretto registers the "ristretto" array cache backend: an
// in-process, cost-bounded LRU/LFU cache for the dominant single-node
// deployment, so the common path never pays a network round trip to warm a
// recently-written or recently-retrieved array.
package ristretto

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/google/uuid"

	"github.com/chirino/memory-service/internal/codec"
	"github.com/chirino/memory-service/internal/config"
	"github.com/chirino/memory-service/internal/model"
	"github.com/chirino/memory-service/internal/registry/arraycache"
)

func init() {
	arraycache.Register(arraycache.Plugin{
		Name:   "ristretto",
		Loader: load,
	})
}

func load(ctx context.Context) (arraycache.ArrayCache, error) {
	cfg := config.FromContext(ctx)
	maxCost := int64(64 * 1024 * 1024)
	if cfg != nil && cfg.RistrettoMaxCost > 0 {
		maxCost = cfg.RistrettoMaxCost
	}
	c, err := ristretto.NewCache(&ristretto.Config[uuid.UUID, []byte]{
		NumCounters: maxCost / 1024 * 10,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("ristretto array cache: %w", err)
	}
	return &arrayCache{store: c}, nil
}

type arrayCache struct {
	store *ristretto.Cache[uuid.UUID, []byte]
}

func (c *arrayCache) Available() bool { return true }

func (c *arrayCache) Get(_ context.Context, id uuid.UUID) (*model.TeleologicalArray, error) {
	blob, ok := c.store.Get(id)
	if !ok {
		return nil, nil
	}
	return codec.Decode(blob)
}

func (c *arrayCache) Set(_ context.Context, array *model.TeleologicalArray) error {
	blob, err := codec.Encode(array)
	if err != nil {
		return err
	}
	c.store.Set(array.ID, blob, int64(len(blob)))
	return nil
}

func (c *arrayCache) Remove(_ context.Context, id uuid.UUID) error {
	c.store.Del(id)
	return nil
}

var _ arraycache.ArrayCache = (*arrayCache)(nil)
