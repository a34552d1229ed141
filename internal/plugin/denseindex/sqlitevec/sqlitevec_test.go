package sqlitevec

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chirino/memory-service/internal/config"
	"github.com/chirino/memory-service/internal/model"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.SQLiteVecPath = ":memory:"
	idx, err := load(context.Background(), &cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx.(*Index)
}

func TestIndex_EnsureSpace_IsIdempotent(t *testing.T) {
	idx := newTestIndex(t)
	require.NoError(t, idx.EnsureSpace(context.Background(), model.Semantic))
	require.NoError(t, idx.EnsureSpace(context.Background(), model.Semantic))
}

func TestIndex_AddAndSearch_RanksByDistance(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	dim := model.Attributes[model.Semantic].Dimension

	near := make([]float32, dim)
	near[0] = 1
	far := make([]float32, dim)
	far[0] = -1

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

func TestIndex_Add_ReplacesExistingRow(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	dim := model.Attributes[model.Semantic].Dimension

	v1 := make([]float32, dim)
	v1[0] = 1
	require.NoError(t, idx.Add(ctx, model.Semantic, 7, v1))

	v2 := make([]float32, dim)
	v2[1] = 1
	require.NoError(t, idx.Add(ctx, model.Semantic, 7, v2))

	query := make([]float32, dim)
	query[1] = 1
	matches, err := idx.Search(ctx, model.Semantic, query, 5)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Equal(t, uint64(7), matches[0].InternalID)
}

func TestIndex_Remove_DropsRowFromResults(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	dim := model.Attributes[model.Semantic].Dimension

	v := make([]float32, dim)
	v[0] = 1
	require.NoError(t, idx.Add(ctx, model.Semantic, 3, v))
	require.NoError(t, idx.Remove(ctx, model.Semantic, 3))

	matches, err := idx.Search(ctx, model.Semantic, v, 5)
	require.NoError(t, err)
	require.Empty(t, matches)
}

func TestIndex_Spaces_DoNotShareTables(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	semDim := model.Attributes[model.Semantic].Dimension
	codeDim := model.Attributes[model.Code].Dimension

	semVec := make([]float32, semDim)
	semVec[0] = 1
	require.NoError(t, idx.Add(ctx, model.Semantic, 1, semVec))

	require.NoError(t, idx.EnsureSpace(ctx, model.Code))
	codeVec := make([]float32, codeDim)
	codeVec[0] = 1
	matches, err := idx.Search(ctx, model.Code, codeVec, 5)
	require.NoError(t, err)
	require.Empty(t, matches)
}
