package ristretto

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/chirino/memory-service/internal/config"
	"github.com/chirino/memory-service/internal/model"
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

func newTestCache(t *testing.T) *arrayCache {
	t.Helper()
	cfg := config.DefaultConfig()
	ctx := config.WithContext(context.Background(), &cfg)
	c, err := load(ctx)
	require.NoError(t, err)
	return c.(*arrayCache)
}

func TestArrayCache_Available(t *testing.T) {
	c := newTestCache(t)
	require.True(t, c.Available())
}

func TestArrayCache_SetThenGet_RoundTrips(t *testing.T) {
	c := newTestCache(t)
	a := fullArray(t)

	require.NoError(t, c.Set(context.Background(), a))
	c.store.Wait()

	got, err := c.Get(context.Background(), a.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, a.ID, got.ID)
}

func TestArrayCache_Get_MissReturnsNilNoError(t *testing.T) {
	c := newTestCache(t)
	got, err := c.Get(context.Background(), uuid.New())
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestArrayCache_Remove_EvictsEntry(t *testing.T) {
	c := newTestCache(t)
	a := fullArray(t)
	require.NoError(t, c.Set(context.Background(), a))
	c.store.Wait()

	require.NoError(t, c.Remove(context.Background(), a.ID))
	c.store.Wait()

	got, err := c.Get(context.Background(), a.ID)
	require.NoError(t, err)
	require.Nil(t, got)
}
