// Package noop registers the "none" array cache backend: every Get misses,
// every Set/Remove is a no-op.
package noop

import (
	"context"

	"github.com/google/uuid"

	"github.com/chirino/memory-service/internal/model"
	"github.com/chirino/memory-service/internal/registry/arraycache"
)

func init() {
	arraycache.Register(arraycache.Plugin{
		Name: "none",
		Loader: func(ctx context.Context) (arraycache.ArrayCache, error) {
			return &cache{}, nil
		},
	})
}

type cache struct{}

func (c *cache) Available() bool { return false }

func (c *cache) Get(_ context.Context, _ uuid.UUID) (*model.TeleologicalArray, error) {
	return nil, nil
}

func (c *cache) Set(_ context.Context, _ *model.TeleologicalArray) error { return nil }

func (c *cache) Remove(_ context.Context, _ uuid.UUID) error { return nil }

var _ arraycache.ArrayCache = (*cache)(nil)
