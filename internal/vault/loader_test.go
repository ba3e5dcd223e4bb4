package vault

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicetree/core/internal/apperrors"
	"github.com/voicetree/core/internal/graphmodel"
	"github.com/voicetree/core/internal/store"
)

func writeFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	full := filepath.Join(dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func TestLoadVault_OrderIndependent(t *testing.T) {
	dirA := t.TempDir()
	writeFile(t, dirA, "a.md", "# A\n\nLinks to [[b]].\n")
	writeFile(t, dirA, "b.md", "# B\n\nLinks to [[a]].\n")

	dirB := t.TempDir()
	writeFile(t, dirB, "b.md", "# B\n\nLinks to [[a]].\n")
	writeFile(t, dirB, "a.md", "# A\n\nLinks to [[b]].\n")

	resA, err := LoadVault(dirA, nil, 0, nil, nil)
	require.NoError(t, err)
	resB, err := LoadVault(dirB, nil, 0, nil, nil)
	require.NoError(t, err)

	aID := filepath.Join(dirA, "a.md")
	bID := filepath.Join(dirA, "b.md")
	require.Len(t, resA.Graph.Nodes[aID].OutgoingEdges, 1)
	assert.Equal(t, bID, resA.Graph.Nodes[aID].OutgoingEdges[0].TargetID)

	aID2 := filepath.Join(dirB, "a.md")
	bID2 := filepath.Join(dirB, "b.md")
	require.Len(t, resB.Graph.Nodes[bID2].OutgoingEdges, 1)
	assert.Equal(t, aID2, resB.Graph.Nodes[bID2].OutgoingEdges[0].TargetID)
}

func TestLoadVault_FileCountCeilingExceeded(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.md", "# A\n")
	writeFile(t, dir, "b.md", "# B\n")

	_, err := LoadVault(dir, nil, 1, nil, nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsFileLimitExceeded(err))
}

func TestLoadVault_ParseFailureYieldsSentinelNode(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "bad.md", "---\ncolor: [unterminated\n---\nBody\n")

	res, err := LoadVault(dir, nil, 0, nil, nil)
	require.NoError(t, err)
	require.Len(t, res.ParseErrors, 1)

	id := filepath.Join(dir, "bad.md")
	node, ok := res.Graph.Nodes[id]
	require.True(t, ok)
	assert.Equal(t, id, node.ID)
}

func TestLoadVault_AssignsDeterministicPositions(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "root.md", "# Root\n\n[[child]]\n")
	writeFile(t, dir, "child.md", "# Child\n")

	res, err := LoadVault(dir, nil, 0, nil, nil)
	require.NoError(t, err)

	for id, n := range res.Graph.Nodes {
		assert.NotNil(t, n.UIMetadata.Position, "node %s should have a seeded position", id)
	}
}

func TestLoadVaultInto_AdditiveDeltaOnlyCoversNewFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.md", "# A\n")

	first, err := LoadVault(dir, nil, 0, nil, nil)
	require.NoError(t, err)
	require.Len(t, first.Delta, 1)

	writeFile(t, dir, "b.md", "# B\n")
	second, err := LoadVaultInto(first.Graph, dir, nil, 0, nil, nil)
	require.NoError(t, err)

	assert.Len(t, second.Delta, 1) // only b.md; a.md was rescanned unchanged
	assert.Len(t, second.Graph.Nodes, 2)
}

func TestLoadVault_PrefersPersistedPositionOverSeeding(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "orphan.md", "# Orphan\n")

	db, err := store.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	defer db.Close()

	id := filepath.Join(dir, "orphan.md")
	want := graphmodel.Position{X: 42, Y: -7}
	require.NoError(t, db.UpsertPosition(context.Background(), id, want))

	res, err := LoadVault(dir, nil, 0, nil, db)
	require.NoError(t, err)

	got := res.Graph.Nodes[id].UIMetadata.Position
	require.NotNil(t, got)
	assert.Equal(t, want, *got)
}

func TestLoadVault_NoClassifierLeavesNodeTypeUnset(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "daily/2024-01-01.md", "# Jan 1\n")

	// This test documents LoadVault's contract when no classifier is
	// supplied: AdditionalYAML stays untouched.
	res, loadErr := LoadVault(dir, nil, 0, nil, nil)
	require.NoError(t, loadErr)
	id := filepath.Join(dir, "daily", "2024-01-01.md")
	_, hasType := res.Graph.Nodes[id].UIMetadata.AdditionalYAML["node_type"]
	assert.False(t, hasType)
}
