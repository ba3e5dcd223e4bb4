// Package delta derives graphmodel.GraphDelta values from high-level
// intents (create, edit, delete, merge). It is pure: every function takes
// the graph state it needs and returns a delta, never mutating its inputs
// or touching disk.
package delta

import (
	"fmt"
	"sort"
	"strings"

	"github.com/voicetree/core/internal/graphmodel"
	"github.com/voicetree/core/internal/vault"
)

// CreateChild derives the delta for a new node that points at parent via a
// single outgoing edge. Parenthood in this domain is encoded child->parent,
// so the new node's only edge targets parent.ID.
func CreateChild(parent graphmodel.GraphNode, childID graphmodel.NodeID, title string) graphmodel.GraphDelta {
	child := graphmodel.GraphNode{
		ID:            childID,
		OutgoingEdges: []graphmodel.Edge{{TargetID: parent.ID}},
		UIMetadata:    graphmodel.NodeUIMetadata{Title: title},
	}
	parentCopy := parent.Clone()
	return graphmodel.GraphDelta{
		graphmodel.Upsert(child, nil),
		graphmodel.Upsert(parentCopy, &parentCopy),
	}
}

// CreateOrphan derives the delta for a standalone node with no edges.
func CreateOrphan(id graphmodel.NodeID, title string, position graphmodel.Position) graphmodel.GraphDelta {
	node := graphmodel.GraphNode{
		ID: id,
		UIMetadata: graphmodel.NodeUIMetadata{
			Title:    title,
			Position: &position,
		},
	}
	return graphmodel.GraphDelta{graphmodel.Upsert(node, nil)}
}

// ContentChange derives the delta for a body edit on an existing node.
// newEdges are computed by re-extracting wikilinks from newBody and
// resolving them against resolver; unresolved targets remain dangling.
func ContentChange(existing graphmodel.GraphNode, newBody string, resolver *vault.LinkResolver) graphmodel.GraphDelta {
	previous := existing.Clone()
	updated := vault.ReplaceBody(existing, newBody)
	if resolver != nil {
		resolver.ResolveEdges(&updated)
	}
	return graphmodel.GraphDelta{graphmodel.Upsert(updated, &previous)}
}

// DeleteMaintainingTransitiveEdges derives the delta for deleting z: every
// incomer of z has its edge to z rewritten to point at each of z's
// children instead (preserving label, de-duplicated against the incomer's
// existing edges), then z itself is deleted. This preserves p->c
// reachability for every p->z->c path.
func DeleteMaintainingTransitiveEdges(g *graphmodel.Graph, idx graphmodel.IncomingIndex, z graphmodel.NodeID) (graphmodel.GraphDelta, error) {
	zNode, ok := g.Nodes[z]
	if !ok {
		return nil, fmt.Errorf("delete: node %q not found", z)
	}

	children := make([]graphmodel.Edge, 0, len(zNode.OutgoingEdges))
	for _, e := range zNode.OutgoingEdges {
		children = append(children, e)
	}

	incomers := append([]graphmodel.NodeID(nil), idx[z]...)
	sort.Strings(incomers)

	var delta graphmodel.GraphDelta
	for _, pID := range incomers {
		p, ok := g.Nodes[pID]
		if !ok {
			continue
		}
		previous := p.Clone()
		rewritten := make([]graphmodel.Edge, 0, len(p.OutgoingEdges)+len(children))
		seen := make(map[string]bool)
		for _, e := range p.OutgoingEdges {
			if e.TargetID == z {
				for _, c := range children {
					key := c.TargetID + "\x00" + c.Label
					if seen[key] {
						continue
					}
					seen[key] = true
					rewritten = append(rewritten, graphmodel.Edge{TargetID: c.TargetID, Label: c.Label})
				}
				continue
			}
			key := e.TargetID + "\x00" + e.Label
			if seen[key] {
				continue
			}
			seen[key] = true
			rewritten = append(rewritten, e)
		}
		p.OutgoingEdges = rewritten
		delta = append(delta, graphmodel.Upsert(p, &previous))
	}

	delta = append(delta, graphmodel.Delete(z))
	return delta, nil
}

// Merge derives the delta for collapsing S into a single representative
// node: the member with the most ancestors within the subgraph induced by
// S wins (ties broken lexicographically by id). The representative's body
// concatenates every member's body behind an ASCII spanning-tree header;
// its edges are the union of S's outgoing edges to targets outside S;
// external incomers of any S member are redirected to the representative;
// every other S member is deleted.
func Merge(g *graphmodel.Graph, idx graphmodel.IncomingIndex, ids []graphmodel.NodeID) (graphmodel.GraphDelta, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("merge: empty node set")
	}
	members := make(map[graphmodel.NodeID]graphmodel.GraphNode, len(ids))
	for _, id := range ids {
		n, ok := g.Nodes[id]
		if !ok {
			return nil, fmt.Errorf("merge: node %q not found", id)
		}
		members[id] = n
	}

	rep := representative(members, idx)

	ordered := append([]graphmodel.NodeID(nil), ids...)
	sort.Strings(ordered)

	var body strings.Builder
	body.WriteString(asciiSpanningTree(g, rep))
	body.WriteString("\n\n")
	for _, id := range ordered {
		body.WriteString(members[id].ContentWithoutYamlOrLinks)
		body.WriteString("\n\n")
	}

	externalEdges := make([]graphmodel.Edge, 0)
	seenEdge := make(map[string]bool)
	for _, id := range ordered {
		for _, e := range members[id].OutgoingEdges {
			if _, inside := members[e.TargetID]; inside {
				continue
			}
			key := e.TargetID + "\x00" + e.Label
			if seenEdge[key] {
				continue
			}
			seenEdge[key] = true
			externalEdges = append(externalEdges, e)
		}
	}

	repPrevious := members[rep].Clone()
	repNode := members[rep].Clone()
	repNode.ContentWithoutYamlOrLinks = body.String()
	repNode.OutgoingEdges = externalEdges
	repNode.UIMetadata.Position = centroid(members)

	var delta graphmodel.GraphDelta
	delta = append(delta, graphmodel.Upsert(repNode, &repPrevious))

	redirected := make(map[graphmodel.NodeID]bool)
	for _, id := range ordered {
		for _, incomer := range idx[id] {
			if _, inside := members[incomer]; inside {
				continue // internal incomer: dropped, not redirected
			}
			if redirected[incomer] {
				continue
			}
			redirected[incomer] = true
			p, ok := g.Nodes[incomer]
			if !ok {
				continue
			}
			previous := p.Clone()
			rewritten := make([]graphmodel.Edge, 0, len(p.OutgoingEdges))
			seen := make(map[string]bool)
			for _, e := range p.OutgoingEdges {
				target := e
				if _, inside := members[e.TargetID]; inside {
					target = graphmodel.Edge{TargetID: rep, Label: e.Label}
				}
				key := target.TargetID + "\x00" + target.Label
				if seen[key] {
					continue
				}
				seen[key] = true
				rewritten = append(rewritten, target)
			}
			p.OutgoingEdges = rewritten
			delta = append(delta, graphmodel.Upsert(p, &previous))
		}
	}

	for _, id := range ordered {
		if id == rep {
			continue
		}
		delta = append(delta, graphmodel.Delete(id))
	}

	return delta, nil
}

// representative picks the member with the most ancestors within the
// subgraph induced by members, breaking ties lexicographically.
func representative(members map[graphmodel.NodeID]graphmodel.GraphNode, idx graphmodel.IncomingIndex) graphmodel.NodeID {
	ids := make([]graphmodel.NodeID, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	best := ids[0]
	bestCount := -1
	for _, id := range ids {
		count := ancestorCount(id, members, idx)
		if count > bestCount {
			best = id
			bestCount = count
		}
	}
	return best
}

func ancestorCount(id graphmodel.NodeID, members map[graphmodel.NodeID]graphmodel.GraphNode, idx graphmodel.IncomingIndex) int {
	visited := map[graphmodel.NodeID]bool{id: true}
	queue := []graphmodel.NodeID{id}
	count := 0
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, p := range idx[cur] {
			if _, inside := members[p]; !inside {
				continue
			}
			if visited[p] {
				continue
			}
			visited[p] = true
			count++
			queue = append(queue, p)
		}
	}
	return count
}

func centroid(members map[graphmodel.NodeID]graphmodel.GraphNode) *graphmodel.Position {
	var sumX, sumY float64
	var n int
	for _, m := range members {
		if m.UIMetadata.Position == nil {
			continue
		}
		sumX += m.UIMetadata.Position.X
		sumY += m.UIMetadata.Position.Y
		n++
	}
	if n == 0 {
		return nil
	}
	return &graphmodel.Position{X: sumX / float64(n), Y: sumY / float64(n)}
}

// asciiSpanningTree renders g's spanning tree rooted at root as an indented
// ASCII outline, used as the merge body's header.
func asciiSpanningTree(g *graphmodel.Graph, root graphmodel.NodeID) string {
	tree := graphmodel.SpanningTree(g, root)
	var sb strings.Builder
	var walk func(id graphmodel.NodeID, depth int, visited map[graphmodel.NodeID]bool)
	walk = func(id graphmodel.NodeID, depth int, visited map[graphmodel.NodeID]bool) {
		if visited[id] {
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
