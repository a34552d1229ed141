package gormstore

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	sqlitedriver "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/chirino/memory-service/internal/model"
)

// fullArray builds a TeleologicalArray with all thirteen slots correctly
// tagged and shaped, suitable for round-tripping through the codec.
func fullArray(t *testing.T) *model.TeleologicalArray {
	t.Helper()
	var a model.TeleologicalArray
	a.ID = uuid.New()
	a.CreatedAt = time.Now().UTC().Truncate(time.Second)
	a.SourceDigest = []byte{0xDE, 0xAD, 0xBE, 0xEF}
	for i := 0; i < model.NumSpaces; i++ {
		s := model.Space(i)
		attrs := model.Attributes[s]
		switch attrs.Kind {
		case model.KindDense:
			o := model.Output{Space: s, Dense: make([]float32, attrs.Dimension)}
			if s == model.Causal {
				o.CausalTag = model.DirectionCause
			}
			a.Embeddings[i] = o
		case model.KindSparseLexical:
			a.Embeddings[i] = model.Output{Space: s, Sparse: []model.SparseTerm{{Index: 0, Weight: 1}}}
		case model.KindTokenBag:
			a.Embeddings[i] = model.Output{Space: s, Tokens: [][]float32{make([]float32, attrs.Dimension)}}
		case model.KindBinaryHDC:
			words := (attrs.Dimension + 63) / 64
			a.Embeddings[i] = model.Output{Space: s, HDC: make([]uint64, words), HDCBits: attrs.Dimension}
		}
	}
	return &a
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlitedriver.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	s := New(db, nil)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_StoreAndRetrieve_RoundTrips(t *testing.T) {
	s := newTestStore(t)
	a := fullArray(t)

	require.NoError(t, s.Store(context.Background(), a))

	got, err := s.Retrieve(context.Background(), a.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, a.ID, got.ID)
	require.Equal(t, a.SourceDigest, got.SourceDigest)
	require.Equal(t, a.CreatedAt, got.CreatedAt)
}

func TestStore_Store_RejectsDuplicateID(t *testing.T) {
	s := newTestStore(t)
	a := fullArray(t)
	require.NoError(t, s.Store(context.Background(), a))

	err := s.Store(context.Background(), a)
	require.Error(t, err)
	var dup *model.DuplicateIDError
	require.ErrorAs(t, err, &dup)
}

func TestStore_Retrieve_UnknownIDReturnsNil(t *testing.T) {
	s := newTestStore(t)
	got, err := s.Retrieve(context.Background(), uuid.New())
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestStore_Delete_TombstonesAndHidesFromRetrieve(t *testing.T) {
	s := newTestStore(t)
	a := fullArray(t)
	require.NoError(t, s.Store(context.Background(), a))

	require.NoError(t, s.Delete(context.Background(), a.ID))

	got, err := s.Retrieve(context.Background(), a.ID)
	require.NoError(t, err)
	require.Nil(t, got)

	// A second store with the same ID is rejected by the tombstone, not
	// silently allowed to resurrect the array.
	err = s.Store(context.Background(), a)
	require.Error(t, err)
	var dup *model.DuplicateIDError
	require.ErrorAs(t, err, &dup)
}

func TestStore_RetrieveBatch_SkipsMissingAndTombstonedIDs(t *testing.T) {
	s := newTestStore(t)
	a1 := fullArray(t)
	a2 := fullArray(t)
	require.NoError(t, s.Store(context.Background(), a1))
	require.NoError(t, s.Store(context.Background(), a2))
	require.NoError(t, s.Delete(context.Background(), a2.ID))

	missing := uuid.New()
	out, err := s.RetrieveBatch(context.Background(), []uuid.UUID{a1.ID, a2.ID, missing})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Contains(t, out, a1.ID)
}

func TestStore_ListBySession_FiltersByMetadataSessionID(t *testing.T) {
	s := newTestStore(t)
	a1 := fullArray(t)
	a1.Metadata.SessionID = "session-a"
	a2 := fullArray(t)
	a2.Metadata.SessionID = "session-b"
	require.NoError(t, s.Store(context.Background(), a1))
	require.NoError(t, s.Store(context.Background(), a2))

	ids, err := s.ListBySession(context.Background(), "session-a", 10)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{a1.ID}, ids)
}

func TestStore_ListByTier_FiltersByMetadataTier(t *testing.T) {
	s := newTestStore(t)
	hot := fullArray(t)
	hot.Metadata.Tier = model.TierHot
	cold := fullArray(t)
	cold.Metadata.Tier = model.TierCold
	require.NoError(t, s.Store(context.Background(), hot))
	require.NoError(t, s.Store(context.Background(), cold))

	ids, err := s.ListByTier(context.Background(), model.TierCold, 10)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{cold.ID}, ids)
}

func TestStore_ListBeforeAndListRange_OrderByCreatedAt(t *testing.T) {
	s := newTestStore(t)
	base := time.Now().UTC().Truncate(time.Second)
	early := fullArray(t)
	early.CreatedAt = base.Add(-time.Hour)
	late := fullArray(t)
	late.CreatedAt = base.Add(time.Hour)
	require.NoError(t, s.Store(context.Background(), early))
	require.NoError(t, s.Store(context.Background(), late))

	before, err := s.ListBefore(context.Background(), base, 10)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{early.ID}, before)

	ranged, err := s.ListRange(context.Background(), base.Add(-2*time.Hour), base.Add(2*time.Hour), 10)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{early.ID, late.ID}, ranged)
}

func TestStore_MigrateTier_UpdatesMetadata(t *testing.T) {
	s := newTestStore(t)
	a := fullArray(t)
	a.Metadata.Tier = model.TierHot
	require.NoError(t, s.Store(context.Background(), a))

	require.NoError(t, s.MigrateTier(context.Background(), a.ID, model.TierWarm))

	ids, err := s.ListByTier(context.Background(), model.TierWarm, 10)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{a.ID}, ids)
}

func TestStore_RetrieveBatch_BumpsAccessCount(t *testing.T) {
	s := newTestStore(t)
	a := fullArray(t)
	require.NoError(t, s.Store(context.Background(), a))

	_, err := s.Retrieve(context.Background(), a.ID)
	require.NoError(t, err)
	_, err = s.Retrieve(context.Background(), a.ID)
	require.NoError(t, err)

	var meta metadataRow
	require.NoError(t, s.DB.First(&meta, "id = ?", a.ID.String()).Error)
	require.GreaterOrEqual(t, meta.AccessCount, int64(2))
}
