package service

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"github.com/chirino/memory-service/internal/model"
	"github.com/chirino/memory-service/internal/registry/primarystore"
)

// TierMigrator periodically demotes arrays that have gone stale in their
// current serving tier: hot arrays idle past warmAfter move to warm, warm
// arrays idle past coldAfter move to cold. Tier is kept in the metadata
// record only: neither the codec nor any index backend reads it, so demotion
// changes neither how an array's vectors are stored nor its retrievability.
type TierMigrator struct {
	store     primarystore.Store
	interval  time.Duration
	batchSize int
	warmAfter time.Duration
	coldAfter time.Duration
}

// NewTierMigrator creates a tier migrator.
func NewTierMigrator(store primarystore.Store, interval time.Duration, batchSize int, warmAfter, coldAfter time.Duration) *TierMigrator {
	return &TierMigrator{store: store, interval: interval, batchSize: batchSize, warmAfter: warmAfter, coldAfter: coldAfter}
}

// Start begins the periodic tier migration loop. Returns when ctx is cancelled.
func (t *TierMigrator) Start(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.runOnce(ctx)
		}
	}
}

func (t *TierMigrator) runOnce(ctx context.Context) {
	now := time.Now()
	hot := t.demote(ctx, model.TierHot, model.TierWarm, now.Add(-t.warmAfter))
	warm := t.demote(ctx, model.TierWarm, model.TierCold, now.Add(-t.coldAfter))
	if hot+warm > 0 {
		log.Info("Tier migrator: demoted arrays", "hot_to_warm", hot, "warm_to_cold", warm)
	}
}

func (t *TierMigrator) demote(ctx context.Context, from, to model.ServingTier, cutoff time.Time) int {
	ids, err := t.store.ListByTier(ctx, from, t.batchSize)
	if err != nil {
		log.Error("Tier migrator: list by tier failed", "tier", from, "err", err)
		return 0
	}

	moved := 0
	for _, id := range ids {
		array, err := t.store.Retrieve(ctx, id)
		if err != nil || array == nil {
			continue
		}
		if array.Metadata.LastAccessed.After(cutoff) {
			continue
		}
		if err := t.store.MigrateTier(ctx, id, to); err != nil {
			log.Error("Tier migrator: migrate failed", "id", id, "err", err)
			continue
		}
		moved++
	}
	return moved
}
