// Package arraycache is the plugin registry for the in-process/shared cache
// that sits in front of the primary store, keyed by array UUID.
package arraycache

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/chirino/memory-service/internal/model"
)

type contextKey struct{}

// WithContext returns a new context carrying the given ArrayCache.
func WithContext(ctx context.Context, c ArrayCache) context.Context {
	return context.WithValue(ctx, contextKey{}, c)
}

// FromContext retrieves the ArrayCache from the context. Returns nil if none was set.
func FromContext(ctx context.Context) ArrayCache {
	c, _ := ctx.Value(contextKey{}).(ArrayCache)
	return c
}

// ArrayCache caches fully-decoded teleological arrays by ID, sparing
// repeated primary-store fetch+decode for hot retrieval entry points and
// recently-written arrays.
type ArrayCache interface {
	Available() bool
	Get(ctx context.Context, id uuid.UUID) (*model.TeleologicalArray, error)
	Set(ctx context.Context, array *model.TeleologicalArray) error
	Remove(ctx context.Context, id uuid.UUID) error
}

// Loader creates a cache from configuration.
type Loader func(ctx context.Context) (ArrayCache, error)

// Plugin bundles a backend name with its loader.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds an array cache backend plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered backend names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the Loader for the named backend.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown array cache %q; valid: %v", name, Names())
}
