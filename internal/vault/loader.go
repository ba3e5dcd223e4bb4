package vault

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"sort"

	"github.com/voicetree/core/internal/apperrors"
	"github.com/voicetree/core/internal/graphmodel"
	"github.com/voicetree/core/internal/store"
)

const (
	rootLayoutRadius    = 400.0
	siblingLayoutRadius = 150.0
)

// LoadResult is the outcome of loading, or additively re-loading, a vault.
type LoadResult struct {
	Graph *graphmodel.Graph
	// Delta carries only the UpsertNode entries for nodes this load
	// introduced or changed, for a single broadcast to the renderer.
	Delta       graphmodel.GraphDelta
	ParseErrors []error
}

// LoadVault scans root, parses every Markdown file into a node, resolves
// edges and assigns positions, and returns the resulting graph. The result
// is independent of filesystem iteration order: every file is registered
// with the link resolver before any edge is resolved. persist may be nil,
// in which case the positioning pass falls back to deterministic seeding
// for every unpositioned node.
func LoadVault(root string, deniedDirNames []string, fileCountCeiling int, classifier *NodeClassifier, persist *store.Store) (*LoadResult, error) {
	return loadInto(graphmodel.NewGraph(), root, deniedDirNames, fileCountCeiling, classifier, persist)
}

// LoadVaultInto additively folds root's files into an existing graph,
// returning the merged graph and a delta containing only the nodes this
// call introduced or changed.
func LoadVaultInto(existing *graphmodel.Graph, root string, deniedDirNames []string, fileCountCeiling int, classifier *NodeClassifier, persist *store.Store) (*LoadResult, error) {
	return loadInto(existing.Clone(), root, deniedDirNames, fileCountCeiling, classifier, persist)
}

func loadInto(g *graphmodel.Graph, root string, deniedDirNames []string, fileCountCeiling int, classifier *NodeClassifier, persist *store.Store) (*LoadResult, error) {
	if len(deniedDirNames) == 0 {
		deniedDirNames = DefaultDeniedDirectoryNames
	}

	paths, err := scanMarkdownFiles(root, deniedDirNames)
	if err != nil {
		return nil, fmt.Errorf("scan vault: %w", err)
	}
	if fileCountCeiling > 0 && len(paths) > fileCountCeiling {
		return nil, apperrors.NewFileLimitExceededError(len(paths), fileCountCeiling)
	}

	// Pass 1: register every file with the resolver before parsing any edge,
	// so resolution never depends on the order files were read in.
	resolver := NewLinkResolver()
	for _, p := range paths {
		resolver.AddFile(root, p)
	}

	var delta graphmodel.GraphDelta
	var parseErrors []error
	touched := make([]graphmodel.NodeID, 0, len(paths))

	for _, p := range paths {
		node, previous, perr := parseOneFile(g, root, p, classifier)
		if perr != nil {
			parseErrors = append(parseErrors, perr)
		}
		g.Nodes[p] = node
		delta = append(delta, graphmodel.Upsert(node, previous))
		touched = append(touched, p)
	}

	// Pass 2: resolve every edge now that the full node set is known.
	for _, id := range touched {
		n := g.Nodes[id]
		resolver.ResolveEdges(&n)
		g.Nodes[id] = n
	}

	var overrides map[string]graphmodel.Position
	if persist != nil {
		overrides, err = persist.AllPositions(context.Background())
		if err != nil {
			return nil, fmt.Errorf("load position overrides: %w", err)
		}
	}
	assignPositions(g, overrides)

	// Reflect the edge-resolution and positioning passes in the broadcast
	// delta so subscribers see the final node state, not the pre-heal one,
	// and leave out re-scanned files whose final state equals the state the
	// graph already held.
	changed := delta[:0]
	for _, d := range delta {
		final := g.Nodes[d.Upsert.Node.ID]
		if d.Upsert.PreviousNode != nil && reflect.DeepEqual(*d.Upsert.PreviousNode, final) {
			continue
		}
		d.Upsert.Node = final
		changed = append(changed, d)
	}

	return &LoadResult{Graph: g, Delta: changed, ParseErrors: parseErrors}, nil
}

// parseOneFile reads and decodes a single file. A parse failure yields a
// sentinel node (raw content, no edges) so the graph stays complete, per
// the error-handling design's ParseError policy.
func parseOneFile(g *graphmodel.Graph, root, absPath string, classifier *NodeClassifier) (graphmodel.GraphNode, *graphmodel.GraphNode, error) {
	var previous *graphmodel.GraphNode
	if existing, ok := g.Nodes[absPath]; ok {
		cp := existing.Clone()
		previous = &cp
	}

	raw, err := os.ReadFile(absPath)
	if err != nil {
		return graphmodel.GraphNode{ID: absPath, UIMetadata: graphmodel.NodeUIMetadata{Title: titleFromFilename(absPath)}},
			previous, apperrors.NewParseError(absPath, err)
	}

	node, tags, err := ParseNode(absPath, string(raw))
	if err != nil {
		sentinel := graphmodel.GraphNode{
			ID:                        absPath,
			ContentWithoutYamlOrLinks: string(raw),
			UIMetadata:                graphmodel.NodeUIMetadata{Title: titleFromFilename(absPath)},
		}
		return sentinel, previous, apperrors.NewParseError(absPath, err)
	}

	if classifier != nil {
		relPath, relErr := filepath.Rel(root, absPath)
		if relErr == nil {
			nodeType := classifier.ClassifyNode(ClassifiableFile{RelPath: relPath, Tags: tags})
			if nodeType != "" {
				if node.UIMetadata.AdditionalYAML == nil {
					node.UIMetadata.AdditionalYAML = map[string]string{}
				}
				node.UIMetadata.AdditionalYAML["node_type"] = nodeType
			}
		}
	}

	return node, previous, nil
}

// assignPositions fills in a position for every node that doesn't have one.
// A node whose id has a persisted override in overrides (recorded by an
// earlier session's drag-to-reposition) uses that position; everything else
// falls back to deterministic seeding: children are placed on a ring around
// their first resolved outgoing edge's target, and nodes with no positioned
// parent are placed on the root ring.
func assignPositions(g *graphmodel.Graph, overrides map[string]graphmodel.Position) {
	childrenOf := make(map[graphmodel.NodeID][]graphmodel.NodeID)
	var roots []graphmodel.NodeID

	ids := make([]graphmodel.NodeID, 0, len(g.Nodes))
	for id := range g.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		n := g.Nodes[id]
		if n.UIMetadata.Position != nil {
			continue
		}
		if pos, ok := overrides[id]; ok {
			p := pos
			n.UIMetadata.Position = &p
			g.Nodes[id] = n
			continue
		}
		if parent, ok := firstExistingTarget(g, n); ok {
			childrenOf[parent] = append(childrenOf[parent], id)
		} else {
			roots = append(roots, id)
		}
	}

	for i, id := range roots {
		seedPosition(g, id, nil, i, len(roots))
	}

	queue := append([]graphmodel.NodeID{}, roots...)
	visited := make(map[graphmodel.NodeID]bool)
	for len(queue) > 0 {
		parent := queue[0]
		queue = queue[1:]
		if visited[parent] {
			continue
		}
		visited[parent] = true

		children := childrenOf[parent]
		parentPos := g.Nodes[parent].UIMetadata.Position
		for i, c := range children {
			if g.Nodes[c].UIMetadata.Position == nil {
				seedPosition(g, c, parentPos, i, len(children))
			}
			queue = append(queue, c)
		}
	}

	// Nodes the walk from the roots does not reach (children of a node that
	// already had a position, or members of a cycle of unpositioned nodes)
	// are seeded in id order: around their parent once it has a position,
	// else on the root ring.
	for i, id := range ids {
		n := g.Nodes[id]
		if n.UIMetadata.Position != nil {
			continue
		}
		parent, _ := firstExistingTarget(g, n)
		seedPosition(g, id, g.Nodes[parent].UIMetadata.Position, i, len(ids))
	}
}

func firstExistingTarget(g *graphmodel.Graph, n graphmodel.GraphNode) (graphmodel.NodeID, bool) {
	for _, e := range n.OutgoingEdges {
		if _, ok := g.Nodes[e.TargetID]; ok {
			return e.TargetID, true
		}
	}
	return "", false
}

func seedPosition(g *graphmodel.Graph, id graphmodel.NodeID, around *graphmodel.Position, index, total int) {
	if total < 1 {
		total = 1
	}
	angle := 2 * math.Pi * float64(index) / float64(total)

	radius := siblingLayoutRadius
	var base graphmodel.Position
	if around == nil {
		radius = rootLayoutRadius
	} else {
		base = *around
	}

	pos := graphmodel.Position{
		X: base.X + radius*math.Cos(angle),
		Y: base.Y + radius*math.Sin(angle),
	}
	n := g.Nodes[id]
	n.UIMetadata.Position = &pos
	g.Nodes[id] = n
}
