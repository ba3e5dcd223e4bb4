// Package contextnode builds and diffs context nodes: materialized,
// long-lived snapshots of a node's ego-neighborhood used by agents as a
// frozen conversational context.
package contextnode

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/voicetree/core/internal/apperrors"
	"github.com/voicetree/core/internal/graphmodel"
)

// ContextNodesDir is the reserved subfolder context node files are
// synthesized under, relative to the write path.
const ContextNodesDir = "ctx-nodes"

// seedKey is the AdditionalYAML key a context node records its anchor
// (seed) id under, since containedNodeIDs alone doesn't distinguish the
// seed from the rest of its captured neighborhood.
const seedKey = "context_seed_id"

// DefaultRadius is the neighborhood radius used when a caller supplies
// radius <= 0 to Create or Unseen.
const DefaultRadius = 2

func resolveRadius(radius int) int {
	if radius <= 0 {
		return DefaultRadius
	}
	return radius
}

// UnseenNode is a node newly reachable from a context node's anchor since
// the context node was created.
type UnseenNode struct {
	ID   graphmodel.NodeID
	Body string
}

// Create derives the UpsertNode for a new context node rooted at seedID,
// covering every node within radius hops of seedID in the undirected
// projection of g. writeDir is the vault directory new nodes are written
// under (the context node's id is synthesized inside writeDir/ctx-nodes).
// It returns the radius actually used (resolveRadius's output), so a caller
// that persists the seed record can record the effective value rather than
// a possibly-zero request.
func Create(g *graphmodel.Graph, seedID graphmodel.NodeID, radius int, writeDir string) (graphmodel.NodeDelta, int, error) {
	if _, ok := g.Nodes[seedID]; !ok {
		return graphmodel.NodeDelta{}, 0, apperrors.NewUnknownNodeError(seedID)
	}
	radius = resolveRadius(radius)

	seen := bfsUndirected(g, seedID, radius)

	id := filepath.Join(writeDir, ContextNodesDir, fmt.Sprintf("%s.md", uuid.NewString()))

	body := asciiSpanningTree(g, seedID, seen) + "\n\n" + preOrderBodies(g, seedID, seen)

	contained := sortedIDs(seen)
	node := graphmodel.GraphNode{
		ID:                        id,
		ContentWithoutYamlOrLinks: body,
		UIMetadata: graphmodel.NodeUIMetadata{
			Title:            "Context: " + g.Nodes[seedID].UIMetadata.Title,
			IsContextNode:    true,
			ContainedNodeIDs: contained,
			Position:         centroid(g, contained),
			AdditionalYAML:   map[string]string{seedKey: seedID},
		},
	}
	return graphmodel.Upsert(node, nil), radius, nil
}

// Unseen recomputes the current neighborhood around ctx's anchor and
// returns every node present now but absent from the context node's
// frozen ContainedNodeIDs snapshot. The anchor is taken from the context
// node's own frontmatter (its context_seed_id key, else the first contained
// id); radius is the caller's, with DefaultRadius used when it is <= 0.
// Callers with access to a persisted seed record (surviving a manual edit to that frontmatter) should prefer
// UnseenWithSeed instead.
func Unseen(g *graphmodel.Graph, ctxID graphmodel.NodeID, radius int) ([]UnseenNode, error) {
	ctx, ok := g.Nodes[ctxID]
	if !ok {
		return nil, apperrors.NewUnknownNodeError(ctxID)
	}
	if !ctx.UIMetadata.IsContextNode || len(ctx.UIMetadata.ContainedNodeIDs) == 0 {
		return nil, fmt.Errorf("node %q is not a context node with a captured neighborhood", ctxID)
	}

	seedID, ok := ctx.UIMetadata.AdditionalYAML[seedKey]
	if !ok {
		seedID = ctx.UIMetadata.ContainedNodeIDs[0]
	}
	return UnseenWithSeed(g, ctxID, seedID, radius)
}

// UnseenWithSeed is Unseen with the anchor supplied explicitly rather than
// read back off the context node's frontmatter, for callers that keep the
// anchor in a store of record (internal/store's context-seed table) that
// should take precedence over the copy embedded in the file.
func UnseenWithSeed(g *graphmodel.Graph, ctxID, seedID graphmodel.NodeID, radius int) ([]UnseenNode, error) {
	ctx, ok := g.Nodes[ctxID]
	if !ok {
		return nil, apperrors.NewUnknownNodeError(ctxID)
	}
	if !ctx.UIMetadata.IsContextNode || len(ctx.UIMetadata.ContainedNodeIDs) == 0 {
		return nil, fmt.Errorf("node %q is not a context node with a captured neighborhood", ctxID)
	}
	if _, ok := g.Nodes[seedID]; !ok {
		return nil, apperrors.NewUnknownNodeError(seedID)
	}
	radius = resolveRadius(radius)

	captured := make(map[graphmodel.NodeID]bool, len(ctx.UIMetadata.ContainedNodeIDs))
	for _, id := range ctx.UIMetadata.ContainedNodeIDs {
		captured[id] = true
	}

	current := bfsUndirected(g, seedID, radius)

	var unseen []UnseenNode
	for id := range current {
		if captured[id] {
			continue
		}
		unseen = append(unseen, UnseenNode{ID: id, Body: g.Nodes[id].ContentWithoutYamlOrLinks})
	}
	sort.Slice(unseen, func(i, j int) bool { return unseen[i].ID < unseen[j].ID })
	return unseen, nil
}

// bfsUndirected returns the set of node ids within radius hops of root,
// following edges in either direction. root itself is included.
func bfsUndirected(g *graphmodel.Graph, root graphmodel.NodeID, radius int) map[graphmodel.NodeID]bool {
	incoming := graphmodel.BuildIncomingIndex(g)
	seen := map[graphmodel.NodeID]bool{root: true}
	frontier := []graphmodel.NodeID{root}

	for depth := 0; depth < radius; depth++ {
		var next []graphmodel.NodeID
		for _, id := range frontier {
			neighbors := make([]graphmodel.NodeID, 0)
			for _, e := range g.Nodes[id].OutgoingEdges {
				if _, ok := g.Nodes[e.TargetID]; ok {
					neighbors = append(neighbors, e.TargetID)
				}
			}
			neighbors = append(neighbors, incoming[id]...)
			for _, n := range neighbors {
				if !seen[n] {
					seen[n] = true
					next = append(next, n)
				}
			}
		}
		frontier = next
		if len(frontier) == 0 {
			break
		}
	}
	return seen
}

func sortedIDs(set map[graphmodel.NodeID]bool) []graphmodel.NodeID {
	ids := make([]graphmodel.NodeID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func centroid(g *graphmodel.Graph, ids []graphmodel.NodeID) *graphmodel.Position {
	var sumX, sumY float64
	var n int
	for _, id := range ids {
		p := g.Nodes[id].UIMetadata.Position
		if p == nil {
			continue
		}
		sumX += p.X
		sumY += p.Y
		n++
	}
	if n == 0 {
		return nil
	}
	return &graphmodel.Position{X: sumX / float64(n), Y: sumY / float64(n)}
}

func asciiSpanningTree(g *graphmodel.Graph, root graphmodel.NodeID, scope map[graphmodel.NodeID]bool) string {
	tree := graphmodel.SpanningTree(g, root)
	var sb strings.Builder
	var walk func(id graphmodel.NodeID, depth int, visited map[graphmodel.NodeID]bool)
	walk = func(id graphmodel.NodeID, depth int, visited map[graphmodel.NodeID]bool) {
		if visited[id] || !scope[id] {
			return
		}
		visited[id] = true
		sb.WriteString(strings.Repeat("  ", depth))
		sb.WriteString("- ")
		sb.WriteString(tree.Nodes[id].UIMetadata.Title)
		sb.WriteString("\n")
		children := append([]graphmodel.Edge(nil), tree.Nodes[id].OutgoingEdges...)
		sort.Slice(children, func(i, j int) bool { return children[i].TargetID < children[j].TargetID })
		for _, e := range children {
			walk(e.TargetID, depth+1, visited)
		}
	}
	walk(root, 0, map[graphmodel.NodeID]bool{})
	return sb.String()
}

func preOrderBodies(g *graphmodel.Graph, root graphmodel.NodeID, scope map[graphmodel.NodeID]bool) string {
	tree := graphmodel.SpanningTree(g, root)
	var sb strings.Builder
	var walk func(id graphmodel.NodeID, visited map[graphmodel.NodeID]bool)
	walk = func(id graphmodel.NodeID, visited map[graphmodel.NodeID]bool) {
		if visited[id] || !scope[id] {
			return
		}
		visited[id] = true
		sb.WriteString(g.Nodes[id].ContentWithoutYamlOrLinks)
		sb.WriteString("\n\n")
		children := append([]graphmodel.Edge(nil), tree.Nodes[id].OutgoingEdges...)
		sort.Slice(children, func(i, j int) bool { return children[i].TargetID < children[j].TargetID })
		for _, e := range children {
			walk(e.TargetID, visited)
		}
	}
	walk(root, map[graphmodel.NodeID]bool{})
	return sb.String()
}
