// Package denseindex is the plugin registry for the per-space ANN index that
// backs the 10 dense/HDC spaces (§4.3). The index coordinator addresses
// vectors by an internal uint64 ID, never the array's UUID directly — the
// UUID<->uint64 bijection is the coordinator's own concern.
package denseindex

import (
	"context"
	"fmt"

	"github.com/chirino/memory-service/internal/config"
	"github.com/chirino/memory-service/internal/model"
)

// Match is one ranked result from a per-space nearest-neighbor search.
type Match struct {
	InternalID uint64
	Score      float32
}

// Index is the ANN index SPI. A single Index instance serves every space;
// backends route internally by space name/table/collection.
type Index interface {
	// EnsureSpace prepares backend-side storage for space (e.g. a vec0
	// virtual table, a postgres table, a qdrant collection) sized to
	// model.Attributes[space].Dimension.
	EnsureSpace(ctx context.Context, space model.Space) error

	// Add inserts or replaces the vector for internalID in space.
	Add(ctx context.Context, space model.Space, internalID uint64, vector []float32) error

	// Remove deletes internalID from space. Not an error if absent.
	Remove(ctx context.Context, space model.Space, internalID uint64) error

	// Search returns the topK nearest neighbors to query in space, ordered
	// by the space's configured distance metric (best first).
	Search(ctx context.Context, space model.Space, query []float32, topK int) ([]Match, error)

	Close() error
}

// Loader constructs an Index from configuration.
type Loader func(ctx context.Context, cfg *config.Config) (Index, error)

// Plugin bundles a backend name with its loader.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a dense-index backend plugin.
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
	return nil, fmt.Errorf("unknown dense index backend %q; registered: %v", name, Names())
}
