// Package primarystore is the plugin registry for the durable key-value store
// that holds encoded teleological arrays, their metadata, and secondary
// indexes (session, tier, timestamp), per SPEC_FULL.md §4.2.
package primarystore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/chirino/memory-service/internal/config"
	"github.com/chirino/memory-service/internal/model"
)

// Store is the primary-store SPI. Every operation is atomic across the
// arrays/metadata/secondaries families it touches: there is no intermediate
// state in which an array is present but any of its secondaries is not.
type Store interface {
	// Store validates, encodes, and durably persists array in a single
	// atomic write batch. Returns DuplicateIDError if the UUID is already
	// present and not tombstoned.
	Store(ctx context.Context, array *model.TeleologicalArray) error
	// StoreBatch persists every array in one atomic batch: either all are
	// durable or none are.
	StoreBatch(ctx context.Context, arrays []*model.TeleologicalArray) error
	// Retrieve decodes and returns the array for id, or (nil, nil) if absent
	// or tombstoned.
	Retrieve(ctx context.Context, id uuid.UUID) (*model.TeleologicalArray, error)
	// RetrieveBatch returns, for each id, the array or nil — never a
	// half-decoded array.
	RetrieveBatch(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*model.TeleologicalArray, error)
	// Delete atomically tombstones id, removes its blob and metadata, and
	// updates secondaries.
	Delete(ctx context.Context, id uuid.UUID) error

	ListBySession(ctx context.Context, sessionID string, limit int) ([]uuid.UUID, error)
	ListByTier(ctx context.Context, tier model.ServingTier, limit int) ([]uuid.UUID, error)
	ListBefore(ctx context.Context, ts time.Time, limit int) ([]uuid.UUID, error)
	ListRange(ctx context.Context, start, end time.Time, limit int) ([]uuid.UUID, error)

	// MigrateTier atomically updates an array's metadata tier and the tier
	// secondary index.
	MigrateTier(ctx context.Context, id uuid.UUID, tier model.ServingTier) error

	// Migrate runs schema bootstrap/upgrade for the backend.
	Migrate(ctx context.Context) error

	Close() error
}

// Loader constructs a Store from configuration.
type Loader func(ctx context.Context, cfg *config.Config) (Store, error)

// Plugin bundles a backend name with its loader.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a primary-store backend plugin.
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
	return nil, fmt.Errorf("unknown primary store backend %q; registered: %v", name, Names())
}
