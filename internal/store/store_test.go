package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicetree/core/internal/graphmodel"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_PositionRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertPosition(ctx, "/v/a.md", graphmodel.Position{X: 1, Y: 2}))
	require.NoError(t, s.UpsertPosition(ctx, "/v/b.md", graphmodel.Position{X: 3, Y: 4}))

	all, err := s.AllPositions(ctx)
	require.NoError(t, err)
	assert.Equal(t, graphmodel.Position{X: 1, Y: 2}, all["/v/a.md"])
	assert.Equal(t, graphmodel.Position{X: 3, Y: 4}, all["/v/b.md"])

	require.NoError(t, s.DeletePosition(ctx, "/v/a.md"))
	all, err = s.AllPositions(ctx)
	require.NoError(t, err)
	_, ok := all["/v/a.md"]
	assert.False(t, ok)
}

func TestStore_UndoHistoryLifoAndBounded(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	d1 := graphmodel.GraphDelta{graphmodel.Delete("/v/one.md")}
	d2 := graphmodel.GraphDelta{graphmodel.Delete("/v/two.md")}
	d3 := graphmodel.GraphDelta{graphmodel.Delete("/v/three.md")}

	require.NoError(t, s.PushUndo(ctx, d1, 2))
	require.NoError(t, s.PushUndo(ctx, d2, 2))
	require.NoError(t, s.PushUndo(ctx, d3, 2)) // evicts d1

	popped, ok, err := s.PopUndo(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "/v/three.md", popped[0].Delete.NodeID)

	popped, ok, err = s.PopUndo(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "/v/two.md", popped[0].Delete.NodeID)

	_, ok, err = s.PopUndo(ctx)
	require.NoError(t, err)
	assert.False(t, ok) // d1 was evicted
}

func TestStore_ContextSeedRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordContextSeed(ctx, "/v/ctx-nodes/k.md", "/v/x.md", 3))

	seed, radius, ok, err := s.ContextSeed(ctx, "/v/ctx-nodes/k.md")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "/v/x.md", seed)
	assert.Equal(t, 3, radius)

	_, _, ok, err = s.ContextSeed(ctx, "/v/ctx-nodes/missing.md")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_ContextSeedUpdateOverwritesRadius(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordContextSeed(ctx, "/v/ctx-nodes/k.md", "/v/x.md", 2))
	require.NoError(t, s.RecordContextSeed(ctx, "/v/ctx-nodes/k.md", "/v/x.md", 5))

	_, radius, ok, err := s.ContextSeed(ctx, "/v/ctx-nodes/k.md")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 5, radius)
}
