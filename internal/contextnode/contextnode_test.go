package contextnode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicetree/core/internal/graphmodel"
)

func graphWithEdge(a, b string) *graphmodel.Graph {
	g := graphmodel.NewGraph()
	g.Nodes[a] = graphmodel.GraphNode{ID: a, OutgoingEdges: []graphmodel.Edge{{TargetID: b}}, UIMetadata: graphmodel.NodeUIMetadata{Title: a}}
	g.Nodes[b] = graphmodel.GraphNode{ID: b, UIMetadata: graphmodel.NodeUIMetadata{Title: b}}
	return g
}

func TestCreate_CapturesNeighborhoodAndMarksContextNode(t *testing.T) {
	g := graphWithEdge("/v/x.md", "/v/y.md")

	d, usedRadius, err := Create(g, "/v/x.md", 2, "/v")
	require.NoError(t, err)
	require.True(t, d.IsUpsert())
	assert.Equal(t, 2, usedRadius)

	node := d.Upsert.Node
	assert.True(t, node.UIMetadata.IsContextNode)
	assert.Contains(t, node.UIMetadata.ContainedNodeIDs, "/v/x.md")
	assert.Contains(t, node.UIMetadata.ContainedNodeIDs, "/v/y.md")
	assert.Empty(t, node.OutgoingEdges)
}

func TestCreate_UnknownSeed(t *testing.T) {
	g := graphmodel.NewGraph()
	_, _, err := Create(g, "/v/missing.md", 2, "/v")
	assert.Error(t, err)
}

func TestUnseen_S5_NewNodeAppearsAfterCreation(t *testing.T) {
	g := graphWithEdge("/v/x.md", "/v/y.md")

	d, _, err := Create(g, "/v/x.md", 2, "/v")
	require.NoError(t, err)
	ctxID := d.Upsert.Node.ID

	g2 := graphmodel.ApplyDelta(g, graphmodel.GraphDelta{d})

	// Add N -> X after the context node was captured.
	g2.Nodes["/v/n.md"] = graphmodel.GraphNode{
		ID:            "/v/n.md",
		OutgoingEdges: []graphmodel.Edge{{TargetID: "/v/x.md"}},
		UIMetadata:    graphmodel.NodeUIMetadata{Title: "N"},
	}

	unseen, err := Unseen(g2, ctxID, 2)
	require.NoError(t, err)
	require.Len(t, unseen, 1)
	assert.Equal(t, "/v/n.md", unseen[0].ID)
}

func TestUnseen_NotAContextNode(t *testing.T) {
	g := graphWithEdge("/v/x.md", "/v/y.md")
	_, err := Unseen(g, "/v/x.md", 2)
	assert.Error(t, err)
}

func TestUnseenWithSeed_UsesSuppliedAnchorOverFrontmatter(t *testing.T) {
	g := graphWithEdge("/v/x.md", "/v/y.md")

	d, _, err := Create(g, "/v/x.md", 2, "/v")
	require.NoError(t, err)
	ctxID := d.Upsert.Node.ID

	g2 := graphmodel.ApplyDelta(g, graphmodel.GraphDelta{d})
	// Corrupt the frontmatter-embedded seed, as if the file were hand-edited.
	ctxNode := g2.Nodes[ctxID]
	ctxNode.UIMetadata.AdditionalYAML[seedKey] = "/v/does-not-exist.md"
	g2.Nodes[ctxID] = ctxNode

	g2.Nodes["/v/n.md"] = graphmodel.GraphNode{
		ID:            "/v/n.md",
		OutgoingEdges: []graphmodel.Edge{{TargetID: "/v/x.md"}},
		UIMetadata:    graphmodel.NodeUIMetadata{Title: "N"},
	}

	unseen, err := UnseenWithSeed(g2, ctxID, "/v/x.md", 2)
	require.NoError(t, err)
	require.Len(t, unseen, 1)
	assert.Equal(t, "/v/n.md", unseen[0].ID)
}
