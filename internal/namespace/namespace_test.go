package namespace_test

import (
	"testing"

	"github.com/chirino/memory-service/internal/namespace"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	encoded, err := namespace.Encode([]string{"users", "alice", "projects"}, 0)
	require.NoError(t, err)

	segments, err := namespace.Decode(encoded)
	require.NoError(t, err)
	require.Equal(t, []string{"users", "alice", "projects"}, segments)
}

func TestPrefixDoesNotMatchLongerSegment(t *testing.T) {
	a, err := namespace.Encode([]string{"users", "alice"}, 0)
	require.NoError(t, err)
	b, err := namespace.Encode([]string{"users", "aliced"}, 0)
	require.NoError(t, err)

	require.True(t, namespace.HasPrefix(a, a))
	require.False(t, namespace.HasPrefix(b, a))
}

func TestMaxDepthRejected(t *testing.T) {
	_, err := namespace.Encode([]string{"a", "b", "c"}, 2)
	require.Error(t, err)
}

func TestMatchesSuffix(t *testing.T) {
	encoded, err := namespace.Encode([]string{"users", "alice", "projects", "memory-service"}, 0)
	require.NoError(t, err)

	require.True(t, namespace.MatchesSuffix(encoded, []string{"projects", "memory-service"}))
	require.False(t, namespace.MatchesSuffix(encoded, []string{"projects", "other"}))
}
