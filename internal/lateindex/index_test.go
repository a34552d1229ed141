package lateindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIndex_SearchFindsExactMatch(t *testing.T) {
	idx := New(4)
	ctx := context.Background()

	docTokens := [][]float32{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
	}
	require.NoError(t, idx.Add(ctx, 1, docTokens))

	matches, err := idx.Search(ctx, docTokens, 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Equal(t, uint64(1), matches[0].InternalID)
	require.InDelta(t, 2.0, matches[0].Score, 1e-4)
}

func TestIndex_SearchRanksByMaxSim(t *testing.T) {
	idx := New(3)
	ctx := context.Background()

	closeDoc := [][]float32{{1, 0, 0}}
	farDoc := [][]float32{{0, 0, 1}}
	require.NoError(t, idx.Add(ctx, 1, closeDoc))
	require.NoError(t, idx.Add(ctx, 2, farDoc))

	query := [][]float32{{1, 0, 0}}
	matches, err := idx.Search(ctx, query, 10)
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	require.Equal(t, uint64(1), matches[0].InternalID)
}

func TestIndex_RemoveDropsDocumentFromResults(t *testing.T) {
	idx := New(2)
	ctx := context.Background()
	tokens := [][]float32{{1, 1}}
	require.NoError(t, idx.Add(ctx, 1, tokens))
	require.NoError(t, idx.Remove(ctx, 1))

	matches, err := idx.Search(ctx, tokens, 10)
	require.NoError(t, err)
	require.Empty(t, matches)
}

func TestIndex_SearchRespectsTopK(t *testing.T) {
	idx := New(2)
	ctx := context.Background()
	tokens := [][]float32{{1, 1}}
	for i := uint64(1); i <= 5; i++ {
		require.NoError(t, idx.Add(ctx, i, tokens))
	}

	matches, err := idx.Search(ctx, tokens, 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)
}

func TestIndex_AddReplacesExistingDocument(t *testing.T) {
	idx := New(2)
	ctx := context.Background()
	require.NoError(t, idx.Add(ctx, 1, [][]float32{{1, 0}}))
	require.NoError(t, idx.Add(ctx, 1, [][]float32{{0, 1}}))

	matches, err := idx.Search(ctx, [][]float32{{0, 1}}, 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.InDelta(t, 1.0, matches[0].Score, 1e-4)
}

func TestPopcount16(t *testing.T) {
	require.Equal(t, 0, popcount16(0))
	require.Equal(t, 1, popcount16(1))
	require.Equal(t, 16, popcount16(0xFFFF))
	require.Equal(t, 3, popcount16(0b1011))
}

func TestCosine_OrthogonalVectorsScoreZero(t *testing.T) {
	require.Equal(t, float32(0), cosine([]float32{1, 0}, []float32{0, 1}))
}

func TestCosine_ZeroVectorScoresZero(t *testing.T) {
	require.Equal(t, float32(0), cosine([]float32{0, 0}, []float32{1, 1}))
}
