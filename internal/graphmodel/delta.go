package graphmodel

// NodeDelta is a discriminated union: exactly one of Upsert or Delete is set.
// Go has no native sum type, so the teacher's codebase (e.g.
// models.ParseStatusResponse's optional fields) uses nil-checked pointers
// for this shape; we follow the same idiom here.
type NodeDelta struct {
	Upsert *UpsertNode
	Delete *DeleteNode
}

// UpsertNode introduces or replaces a node. PreviousNode is the graph's
// state for Node.ID immediately before this delta is applied, or nil for a
// node's first appearance.
type UpsertNode struct {
	Node         GraphNode
	PreviousNode *GraphNode
}

// DeleteNode removes a node from the graph.
type DeleteNode struct {
	NodeID NodeID
}

// Upsert constructs a NodeDelta wrapping an UpsertNode.
func Upsert(node GraphNode, previous *GraphNode) NodeDelta {
	return NodeDelta{Upsert: &UpsertNode{Node: node, PreviousNode: previous}}
}

// Delete constructs a NodeDelta wrapping a DeleteNode.
func Delete(id NodeID) NodeDelta {
	return NodeDelta{Delete: &DeleteNode{NodeID: id}}
}

// IsUpsert reports whether d carries an UpsertNode.
func (d NodeDelta) IsUpsert() bool { return d.Upsert != nil }

// IsDelete reports whether d carries a DeleteNode.
func (d NodeDelta) IsDelete() bool { return d.Delete != nil }

// TargetNodeID returns the id affected by d regardless of variant.
func (d NodeDelta) TargetNodeID() NodeID {
	if d.Upsert != nil {
		return d.Upsert.Node.ID
	}
	if d.Delete != nil {
		return d.Delete.NodeID
	}
	return ""
}

// GraphDelta is an ordered sequence of NodeDelta, applied left to right.
type GraphDelta []NodeDelta

// ApplyDelta folds delta into g in order, returning the resulting graph.
// g is not mutated; ApplyDelta returns a new *Graph.
func ApplyDelta(g *Graph, delta GraphDelta) *Graph {
	out := g.Clone()
	for _, d := range delta {
		switch {
		case d.Upsert != nil:
			out.Nodes[d.Upsert.Node.ID] = d.Upsert.Node.Clone()
		case d.Delete != nil:
			delete(out.Nodes, d.Delete.NodeID)
		}
	}
	return out
}
