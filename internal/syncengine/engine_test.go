package syncengine_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicetree/core/internal/graphmodel"
	"github.com/voicetree/core/internal/store"
	"github.com/voicetree/core/internal/syncengine"
	"github.com/voicetree/core/internal/vault"
	"github.com/voicetree/core/internal/vaultfs"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newTestEngine(t *testing.T, graph *graphmodel.Graph, resolver *vault.LinkResolver, vaultPaths []string) *syncengine.Engine {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return syncengine.New(graph, resolver, syncengine.Options{
		WritePath:  vaultPaths[0],
		VaultPaths: vaultPaths,
		Persist:    db,
		DeltaTTL:   time.Minute,
		ActionTTL:  time.Minute,
	})
}

func TestEngine_ModifyNodeContent_WritesToDiskAndBroadcasts(t *testing.T) {
	dir := t.TempDir()
	aPath := filepath.Join(dir, "a.md")
	writeFile(t, aPath, "Hello world")

	resolver := vault.NewLinkResolver()
	resolver.AddFile(dir, aPath)

	node, _, err := vault.ParseNode(aPath, "Hello world")
	require.NoError(t, err)

	graph := graphmodel.NewGraph()
	graph.Nodes[aPath] = node

	e := newTestEngine(t, graph, resolver, []string{dir})
	ch, unsub := e.Subscribe(4)
	defer unsub()

	require.NoError(t, e.ModifyNodeContent(context.Background(), aPath, "Hello again"))

	select {
	case d := <-ch:
		require.Len(t, d, 1)
		assert.Equal(t, aPath, d[0].TargetNodeID())
	case <-time.After(time.Second):
		t.Fatal("expected a broadcast delta")
	}

	on, err := os.ReadFile(aPath)
	require.NoError(t, err)
	assert.Contains(t, string(on), "Hello again")
}

func TestEngine_HandleFSEvent_SuppressesOwnWriteEcho(t *testing.T) {
	dir := t.TempDir()
	aPath := filepath.Join(dir, "a.md")
	writeFile(t, aPath, "Hello [[b]]")
	bPath := filepath.Join(dir, "b.md")
	writeFile(t, bPath, "B body")

	resolver := vault.NewLinkResolver()
	resolver.AddFile(dir, aPath)
	resolver.AddFile(dir, bPath)

	aNode, _, err := vault.ParseNode(aPath, "Hello [[b]]")
	require.NoError(t, err)
	resolver.ResolveEdges(&aNode)
	bNode, _, err := vault.ParseNode(bPath, "B body")
	require.NoError(t, err)

	graph := graphmodel.NewGraph()
	graph.Nodes[aPath] = aNode
	graph.Nodes[bPath] = bNode

	e := newTestEngine(t, graph, resolver, []string{dir})

	for i := 0; i < 10; i++ {
		require.NoError(t, e.ModifyNodeContent(context.Background(), aPath, "Hello again [[b]]"))

		encoded, err := os.ReadFile(aPath)
		require.NoError(t, err)

		pushes, err := e.HandleFSEvent(context.Background(), vaultfs.Event{
			AbsolutePath: aPath,
			Type:         vaultfs.Changed,
			Content:      string(encoded),
		})
		require.NoError(t, err, "iteration %d", i)
		assert.Empty(t, pushes, "iteration %d: own write should be suppressed as an echo", i)

		snap := e.Snapshot()
		require.Len(t, snap.Nodes[aPath].OutgoingEdges, 1, "iteration %d: link must not duplicate", i)
	}
}

func TestEngine_DeleteNode_PreservesTransitiveReachability(t *testing.T) {
	dir := t.TempDir()
	pPath := filepath.Join(dir, "parent.md")
	zPath := filepath.Join(dir, "middle.md")
	cPath := filepath.Join(dir, "child.md")
	writeFile(t, pPath, "parent")
	writeFile(t, zPath, "middle")
	writeFile(t, cPath, "child")

	graph := graphmodel.NewGraph()
	graph.Nodes[pPath] = graphmodel.GraphNode{
		ID:            pPath,
		OutgoingEdges: []graphmodel.Edge{{TargetID: zPath}},
		UIMetadata:    graphmodel.NodeUIMetadata{Title: "parent"},
	}
	graph.Nodes[zPath] = graphmodel.GraphNode{
		ID:            zPath,
		OutgoingEdges: []graphmodel.Edge{{TargetID: cPath}},
		UIMetadata:    graphmodel.NodeUIMetadata{Title: "middle"},
	}
	graph.Nodes[cPath] = graphmodel.GraphNode{
		ID:         cPath,
		UIMetadata: graphmodel.NodeUIMetadata{Title: "child"},
	}

	resolver := vault.NewLinkResolver()
	e := newTestEngine(t, graph, resolver, []string{dir})

	require.NoError(t, e.DeleteNode(context.Background(), zPath))

	snap := e.Snapshot()
	_, stillThere := snap.Nodes[zPath]
	assert.False(t, stillThere)
	require.Contains(t, snap.Nodes, pPath)
	require.Len(t, snap.Nodes[pPath].OutgoingEdges, 1)
	assert.Equal(t, cPath, snap.Nodes[pPath].OutgoingEdges[0].TargetID)

	_, err := os.Stat(zPath)
	assert.True(t, os.IsNotExist(err))
}

func TestEngine_HandleFSEvent_PushesExternalEditToOpenEditor(t *testing.T) {
	dir := t.TempDir()
	aPath := filepath.Join(dir, "a.md")
	writeFile(t, aPath, "original")

	node, _, err := vault.ParseNode(aPath, "original")
	require.NoError(t, err)

	graph := graphmodel.NewGraph()
	graph.Nodes[aPath] = node

	resolver := vault.NewLinkResolver()
	resolver.AddFile(dir, aPath)

	e := newTestEngine(t, graph, resolver, []string{dir})
	e.OpenEditor(aPath, "original")

	pushes, err := e.HandleFSEvent(context.Background(), vaultfs.Event{
		AbsolutePath: aPath,
		Type:         vaultfs.Changed,
		Content:      "changed externally",
	})
	require.NoError(t, err)
	require.Len(t, pushes, 1)
	assert.Equal(t, aPath, pushes[0].NodeID)
	assert.Contains(t, pushes[0].Content, "changed externally")
}

func TestEngine_HandleFSEvent_IgnoresPathsOutsideWatchedVaults(t *testing.T) {
	dir := t.TempDir()
	outside := t.TempDir()
	aPath := filepath.Join(dir, "a.md")
	writeFile(t, aPath, "in vault")

	node, _, err := vault.ParseNode(aPath, "in vault")
	require.NoError(t, err)
	graph := graphmodel.NewGraph()
	graph.Nodes[aPath] = node

	e := newTestEngine(t, graph, vault.NewLinkResolver(), []string{dir})

	pushes, err := e.HandleFSEvent(context.Background(), vaultfs.Event{
		AbsolutePath: filepath.Join(outside, "stray.md"),
		Type:         vaultfs.Added,
		Content:      "should be ignored",
	})
	require.NoError(t, err)
	assert.Empty(t, pushes)

	snap := e.Snapshot()
	assert.NotContains(t, snap.Nodes, filepath.Join(outside, "stray.md"))
}

func TestEngine_UndoRedo_RoundTripOnSimpleEdit(t *testing.T) {
	dir := t.TempDir()
	aPath := filepath.Join(dir, "a.md")
	writeFile(t, aPath, "before")

	node, _, err := vault.ParseNode(aPath, "before")
	require.NoError(t, err)
	graph := graphmodel.NewGraph()
	graph.Nodes[aPath] = node

	e := newTestEngine(t, graph, vault.NewLinkResolver(), []string{dir})

	require.NoError(t, e.ModifyNodeContent(context.Background(), aPath, "after"))
	assert.Contains(t, e.Snapshot().Nodes[aPath].ContentWithoutYamlOrLinks, "after")

	require.NoError(t, e.Undo(context.Background()))
	assert.Contains(t, e.Snapshot().Nodes[aPath].ContentWithoutYamlOrLinks, "before")

	require.NoError(t, e.Redo(context.Background()))
	assert.Contains(t, e.Snapshot().Nodes[aPath].ContentWithoutYamlOrLinks, "after")
}

func TestEngine_Undo_RestoresTransitivelyRewrittenIncomers(t *testing.T) {
	dir := t.TempDir()
	pPath := filepath.Join(dir, "parent.md")
	zPath := filepath.Join(dir, "middle.md")
	cPath := filepath.Join(dir, "child.md")
	writeFile(t, pPath, "parent")
	writeFile(t, zPath, "middle")
	writeFile(t, cPath, "child")

	graph := graphmodel.NewGraph()
	graph.Nodes[pPath] = graphmodel.GraphNode{
		ID:            pPath,
		OutgoingEdges: []graphmodel.Edge{{TargetID: zPath}},
		UIMetadata:    graphmodel.NodeUIMetadata{Title: "parent"},
	}
	graph.Nodes[zPath] = graphmodel.GraphNode{
		ID:            zPath,
		OutgoingEdges: []graphmodel.Edge{{TargetID: cPath}},
		UIMetadata:    graphmodel.NodeUIMetadata{Title: "middle"},
	}
	graph.Nodes[cPath] = graphmodel.GraphNode{
		ID:         cPath,
		UIMetadata: graphmodel.NodeUIMetadata{Title: "child"},
	}

	e := newTestEngine(t, graph, vault.NewLinkResolver(), []string{dir})

	require.NoError(t, e.DeleteNode(context.Background(), zPath))
	require.NotContains(t, e.Snapshot().Nodes, zPath)

	require.NoError(t, e.Undo(context.Background()))

	snap := e.Snapshot()
	require.Contains(t, snap.Nodes, zPath)
	require.Contains(t, snap.Nodes, pPath)
	require.Len(t, snap.Nodes[pPath].OutgoingEdges, 1)
	assert.Equal(t, zPath, snap.Nodes[pPath].OutgoingEdges[0].TargetID,
		"undoing the delete must restore parent's edge to middle, not leave it pointing at child")
}

func TestEngine_S1_OrphanFollowsWritePathChange(t *testing.T) {
	primary := t.TempDir()
	secondary := t.TempDir()

	e := newTestEngine(t, graphmodel.NewGraph(), vault.NewLinkResolver(), []string{primary, secondary})

	id1, err := e.CreateOrphanNode(context.Background(), "First", graphmodel.Position{})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id1, primary), "orphan created under the initial write path must land in %q, got %q", primary, id1)

	e.SetDefaultWritePath(secondary)

	id2, err := e.CreateOrphanNode(context.Background(), "Second", graphmodel.Position{})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id2, secondary), "orphan created after switching the write path must land in %q, not %q", secondary, primary)
	assert.False(t, strings.HasPrefix(id2, primary))
}

func TestEngine_CreateContextNode_NoUnseenNodesRightAfterCreation(t *testing.T) {
	dir := t.TempDir()
	xPath := filepath.Join(dir, "x.md")
	yPath := filepath.Join(dir, "y.md")
	writeFile(t, xPath, "X body [[y]]")
	writeFile(t, yPath, "Y body")

	resolver := vault.NewLinkResolver()
	resolver.AddFile(dir, xPath)
	resolver.AddFile(dir, yPath)

	xNode, _, err := vault.ParseNode(xPath, "X body [[y]]")
	require.NoError(t, err)
	resolver.ResolveEdges(&xNode)
	yNode, _, err := vault.ParseNode(yPath, "Y body")
	require.NoError(t, err)

	graph := graphmodel.NewGraph()
	graph.Nodes[xPath] = xNode
	graph.Nodes[yPath] = yNode

	e := newTestEngine(t, graph, resolver, []string{dir})

	ctxID, err := e.CreateContextNode(context.Background(), xPath, 3)
	require.NoError(t, err)

	unseen, err := e.GetUnseenNodesAroundContextNode(context.Background(), ctxID, 0)
	require.NoError(t, err)
	assert.Empty(t, unseen, "nothing new has been added since capture")
}

func TestEngine_CreateChildNode_ClearsRedoHistory(t *testing.T) {
	dir := t.TempDir()
	aPath := filepath.Join(dir, "a.md")
	writeFile(t, aPath, "root")

	node, _, err := vault.ParseNode(aPath, "root")
	require.NoError(t, err)
	graph := graphmodel.NewGraph()
	graph.Nodes[aPath] = node

	e := newTestEngine(t, graph, vault.NewLinkResolver(), []string{dir})

	require.NoError(t, e.ModifyNodeContent(context.Background(), aPath, "root v2"))
	require.NoError(t, e.Undo(context.Background()))

	_, err = e.CreateChildNode(context.Background(), aPath, "child")
	require.NoError(t, err)

	err = e.Redo(context.Background())
	assert.Error(t, err, "a fresh user intent must invalidate the redo stack")
}
