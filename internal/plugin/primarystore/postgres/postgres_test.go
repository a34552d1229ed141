package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/chirino/memory-service/internal/config"
	"github.com/chirino/memory-service/internal/model"
	_ "github.com/chirino/memory-service/internal/plugin/primarystore/postgres"
	"github.com/chirino/memory-service/internal/registry/primarystore"
	"github.com/chirino/memory-service/internal/testutil/testpg"
)

func fullArray(t *testing.T) *model.TeleologicalArray {
	t.Helper()
	var a model.TeleologicalArray
	a.ID = uuid.New()
	a.CreatedAt = time.Now().UTC().Truncate(time.Second)
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

func setupTestStore(t *testing.T) (primarystore.Store, context.Context) {
	t.Helper()

	dbURL := testpg.StartPostgres(t)

	cfg := config.DefaultConfig()
	cfg.DBURL = dbURL
	cfg.DatastoreMigrateAtStart = true
	ctx := config.WithContext(context.Background(), &cfg)

	loader, err := primarystore.Select("postgres")
	require.NoError(t, err)

	store, err := loader(ctx, &cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return store, ctx
}

func TestPostgresStore_StoreAndRetrieve_RoundTrips(t *testing.T) {
	store, ctx := setupTestStore(t)
	a := fullArray(t)

	require.NoError(t, store.Store(ctx, a))

	got, err := store.Retrieve(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, a.ID, got.ID)
}

func TestPostgresStore_Delete_HidesFromRetrieve(t *testing.T) {
	store, ctx := setupTestStore(t)
	a := fullArray(t)
	require.NoError(t, store.Store(ctx, a))

	require.NoError(t, store.Delete(ctx, a.ID))

	got, err := store.Retrieve(ctx, a.ID)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestPostgresStore_ListBySession_FiltersByMetadata(t *testing.T) {
	store, ctx := setupTestStore(t)
	a := fullArray(t)
	a.Metadata.SessionID = "pg-session"
	require.NoError(t, store.Store(ctx, a))

	ids, err := store.ListBySession(ctx, "pg-session", 10)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{a.ID}, ids)
}
