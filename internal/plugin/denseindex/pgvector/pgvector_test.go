package pgvector_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chirino/memory-service/internal/config"
	"github.com/chirino/memory-service/internal/model"
	_ "github.com/chirino/memory-service/internal/plugin/denseindex/pgvector"
	"github.com/chirino/memory-service/internal/registry/denseindex"
	"github.com/chirino/memory-service/internal/testutil/testpg"
)

func newTestIndex(t *testing.T) denseindex.Index {
	t.Helper()
	dbURL := testpg.StartPostgres(t)
	cfg := config.DefaultConfig()
	cfg.PgvectorURL = dbURL

	loader, err := denseindex.Select("pgvector")
	require.NoError(t, err)
	idx, err := loader(context.Background(), &cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestIndex_AddAndSearch_RanksByCosineSimilarity(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	dim := model.Attributes[model.Semantic].Dimension

	near := make([]float32, dim)
	near[0] = 1
	far := make([]float32, dim)
	far[1] = 1

	require.NoError(t, idx.Add(ctx, model.Semantic, 1, near))
	require.NoError(t, idx.Add(ctx, model.Semantic, 2, far))

	query := make([]float32, dim)
	query[0] = 1
	matches, err := idx.Search(ctx, model.Semantic, query, 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	require.Equal(t, uint64(1), matches[0].InternalID)
	require.Greater(t, matches[0].Score, matches[1].Score)
}

func TestIndex_Add_UpsertsExistingID(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	dim := model.Attributes[model.Semantic].Dimension

	v1 := make([]float32, dim)
	v1[0] = 1
	require.NoError(t, idx.Add(ctx, model.Semantic, 9, v1))

	v2 := make([]float32, dim)
	v2[1] = 1
	require.NoError(t, idx.Add(ctx, model.Semantic, 9, v2))

	query := make([]float32, dim)
	query[1] = 1
	matches, err := idx.Search(ctx, model.Semantic, query, 5)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Equal(t, uint64(9), matches[0].InternalID)
}

func TestIndex_Remove_DropsRowFromResults(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	dim := model.Attributes[model.Semantic].Dimension

	v := make([]float32, dim)
	v[0] = 1
	require.NoError(t, idx.Add(ctx, model.Semantic, 4, v))
	require.NoError(t, idx.Remove(ctx, model.Semantic, 4))

	matches, err := idx.Search(ctx, model.Semantic, v, 5)
	require.NoError(t, err)
	require.Empty(t, matches)
}
