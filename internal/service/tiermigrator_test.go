package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/chirino/memory-service/internal/model"
)

// fakeTierStore is a minimal in-memory primarystore.Store stand-in covering
// only the methods the tier migrator and purpose scheduler actually call.
type fakeTierStore struct {
	arrays map[uuid.UUID]*model.TeleologicalArray
}

func newFakeTierStore() *fakeTierStore {
	return &fakeTierStore{arrays: map[uuid.UUID]*model.TeleologicalArray{}}
}

func (f *fakeTierStore) put(tier model.ServingTier, lastAccessed time.Time) uuid.UUID {
	id := uuid.New()
	f.arrays[id] = &model.TeleologicalArray{
		ID:       id,
		Metadata: model.MetadataRecord{Tier: tier, LastAccessed: lastAccessed},
	}
	return id
}

func (f *fakeTierStore) Store(ctx context.Context, array *model.TeleologicalArray) error { return nil }
func (f *fakeTierStore) StoreBatch(ctx context.Context, arrays []*model.TeleologicalArray) error {
	return nil
}
func (f *fakeTierStore) Retrieve(ctx context.Context, id uuid.UUID) (*model.TeleologicalArray, error) {
	return f.arrays[id], nil
}
func (f *fakeTierStore) RetrieveBatch(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*model.TeleologicalArray, error) {
	return nil, nil
}
func (f *fakeTierStore) Delete(ctx context.Context, id uuid.UUID) error { return nil }
func (f *fakeTierStore) ListBySession(ctx context.Context, sessionID string, limit int) ([]uuid.UUID, error) {
	return nil, nil
}
func (f *fakeTierStore) ListByTier(ctx context.Context, tier model.ServingTier, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for id, a := range f.arrays {
		if a.Metadata.Tier == tier {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
func (f *fakeTierStore) ListBefore(ctx context.Context, ts time.Time, limit int) ([]uuid.UUID, error) {
	return nil, nil
}
func (f *fakeTierStore) ListRange(ctx context.Context, start, end time.Time, limit int) ([]uuid.UUID, error) {
	return nil, nil
}
func (f *fakeTierStore) MigrateTier(ctx context.Context, id uuid.UUID, tier model.ServingTier) error {
	f.arrays[id].Metadata.Tier = tier
	return nil
}
func (f *fakeTierStore) Migrate(ctx context.Context) error { return nil }
func (f *fakeTierStore) Close() error                      { return nil }

func TestTierMigrator_DemotesStaleHotArray(t *testing.T) {
	store := newFakeTierStore()
	staleID := store.put(model.TierHot, time.Now().Add(-48*time.Hour))
	freshID := store.put(model.TierHot, time.Now())

	migrator := NewTierMigrator(store, time.Hour, 100, 24*time.Hour, 7*24*time.Hour)
	migrator.runOnce(context.Background())

	require.Equal(t, model.TierWarm, store.arrays[staleID].Metadata.Tier)
	require.Equal(t, model.TierHot, store.arrays[freshID].Metadata.Tier)
}

func TestTierMigrator_DemotesStaleWarmArrayToCold(t *testing.T) {
	store := newFakeTierStore()
	staleID := store.put(model.TierWarm, time.Now().Add(-30*24*time.Hour))

	migrator := NewTierMigrator(store, time.Hour, 100, 24*time.Hour, 7*24*time.Hour)
	migrator.runOnce(context.Background())

	require.Equal(t, model.TierCold, store.arrays[staleID].Metadata.Tier)
}

func TestTierMigrator_LeavesColdArraysAlone(t *testing.T) {
	store := newFakeTierStore()
	id := store.put(model.TierCold, time.Now().Add(-365*24*time.Hour))

	migrator := NewTierMigrator(store, time.Hour, 100, 24*time.Hour, 7*24*time.Hour)
	migrator.runOnce(context.Background())

	require.Equal(t, model.TierCold, store.arrays[id].Metadata.Tier)
}

func TestTierMigrator_StartStopsOnContextCancel(t *testing.T) {
	store := newFakeTierStore()
	migrator := NewTierMigrator(store, time.Millisecond, 100, time.Hour, 24*time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		migrator.Start(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after context cancellation")
	}
}
