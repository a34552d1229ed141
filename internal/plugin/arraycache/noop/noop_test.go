package noop

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/chirino/memory-service/internal/registry/arraycache"
)

func TestCache_AlwaysUnavailableAndMisses(t *testing.T) {
	loader, err := arraycache.Select("none")
	require.NoError(t, err)
	c, err := loader(context.Background())
	require.NoError(t, err)

	require.False(t, c.Available())

	id := uuid.New()
	got, err := c.Get(context.Background(), id)
	require.NoError(t, err)
	require.Nil(t, got)

	require.NoError(t, c.Set(context.Background(), nil))
	require.NoError(t, c.Remove(context.Background(), id))
}
