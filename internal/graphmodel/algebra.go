package graphmodel

import "sort"

// ReverseEdges returns a graph with the same nodes but every edge (s -> t)
// flipped to (t -> s). Labels are preserved. Edges to targets absent from
// the graph (dangling edges) are dropped, since there is no node to attach
// the reversed edge to. Applying ReverseEdges twice to the same graph
// reproduces the original edge set between nodes that both exist; the
// dangling edges are not restored.
func ReverseEdges(g *Graph) *Graph {
	out := NewGraph()
	for id, n := range g.Nodes {
		cp := n.Clone()
		cp.OutgoingEdges = nil
		out.Nodes[id] = cp
	}
	// Collect reversed edges grouped by new source, then assign in a
	// deterministic order so repeated calls are stable.
	type rev struct {
		from, to NodeID
		label    string
	}
	var reversed []rev
	for id, n := range g.Nodes {
		for _, e := range n.OutgoingEdges {
			if _, ok := g.Nodes[e.TargetID]; !ok {
				continue // dangling edge: no node to attach the reversed edge to
			}
			reversed = append(reversed, rev{from: e.TargetID, to: id, label: e.Label})
		}
	}
	sort.Slice(reversed, func(i, j int) bool {
		if reversed[i].from != reversed[j].from {
			return reversed[i].from < reversed[j].from
		}
		return reversed[i].to < reversed[j].to
	})
	for _, r := range reversed {
		n := out.Nodes[r.from]
		n.OutgoingEdges = append(n.OutgoingEdges, Edge{TargetID: r.to, Label: r.label})
		out.Nodes[r.from] = n
	}
	return out
}

// IncomingIndex maps a node id to the ids of every node whose outgoing
// edges target it, including dangling targets (which then map to incomers
// with no corresponding node in the graph).
type IncomingIndex map[NodeID][]NodeID

// BuildIncomingIndex computes the index from scratch.
func BuildIncomingIndex(g *Graph) IncomingIndex {
	idx := make(IncomingIndex)
	ids := make([]NodeID, 0, len(g.Nodes))
	for id := range g.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		for _, e := range g.Nodes[id].OutgoingEdges {
			idx[e.TargetID] = appendUnique(idx[e.TargetID], id)
		}
	}
	return idx
}

func appendUnique(list []NodeID, id NodeID) []NodeID {
	for _, existing := range list {
		if existing == id {
			return list
		}
	}
	return append(list, id)
}

func removeFrom(list []NodeID, id NodeID) []NodeID {
	out := list[:0]
	for _, existing := range list {
		if existing != id {
			out = append(out, existing)
		}
	}
	return out
}

// UpdateIndexForUpsert incrementally updates idx for an UpsertNode: it
// removes node's contribution recorded against previous's edges (if any)
// and adds node's current edges.
func UpdateIndexForUpsert(idx IncomingIndex, node GraphNode, previous *GraphNode) {
	if previous != nil {
		for _, e := range previous.OutgoingEdges {
			idx[e.TargetID] = removeFrom(idx[e.TargetID], previous.ID)
		}
	}
	for _, e := range node.OutgoingEdges {
		idx[e.TargetID] = appendUnique(idx[e.TargetID], node.ID)
	}
}

// UpdateIndexForDelete removes node's contributions both as a target
// (its incomers list) and as a source (its edges' contributions to others).
func UpdateIndexForDelete(idx IncomingIndex, node GraphNode) {
	delete(idx, node.ID)
	for _, e := range node.OutgoingEdges {
		idx[e.TargetID] = removeFrom(idx[e.TargetID], node.ID)
	}
}

// SpanningTree performs a bidirectional DFS from root, following both
// outgoing and incoming edges, keeping only the first edge discovered to
// each vertex. The result is guaranteed acyclic.
func SpanningTree(g *Graph, root NodeID) *Graph {
	out := NewGraph()
	if _, ok := g.Nodes[root]; !ok {
		return out
	}
	incoming := BuildIncomingIndex(g)
	visited := map[NodeID]bool{root: true}
	rootNode := g.Nodes[root].Clone()
	rootNode.OutgoingEdges = nil
	out.Nodes[root] = rootNode

	type frame struct {
		id NodeID
	}
	stack := []frame{{root}}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		var neighbors []struct {
			id    NodeID
			label string
			fwd   bool
		}
		for _, e := range g.Nodes[cur.id].OutgoingEdges {
			if _, ok := g.Nodes[e.TargetID]; ok {
				neighbors = append(neighbors, struct {
					id    NodeID
					label string
					fwd   bool
				}{e.TargetID, e.Label, true})
			}
		}
		for _, p := range incoming[cur.id] {
			neighbors = append(neighbors, struct {
				id    NodeID
				label string
				fwd   bool
			}{p, "", false})
		}
		sort.Slice(neighbors, func(i, j int) bool { return neighbors[i].id < neighbors[j].id })

		for _, nb := range neighbors {
			if visited[nb.id] {
				continue
			}
			visited[nb.id] = true
			child := g.Nodes[nb.id].Clone()
			child.OutgoingEdges = nil
			out.Nodes[nb.id] = child
			if nb.fwd {
				n := out.Nodes[cur.id]
				n.OutgoingEdges = append(n.OutgoingEdges, Edge{TargetID: nb.id, Label: nb.label})
				out.Nodes[cur.id] = n
			} else {
				n := out.Nodes[nb.id]
				n.OutgoingEdges = append(n.OutgoingEdges, Edge{TargetID: cur.id})
				out.Nodes[nb.id] = n
			}
			stack = append(stack, frame{nb.id})
		}
	}
	return out
}
