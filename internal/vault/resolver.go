package vault

import (
	"path/filepath"
	"strings"

	"github.com/voicetree/core/internal/graphmodel"
)

// LinkResolver resolves a raw wikilink target string to the NodeID
// (absolute path) of the file it refers to, following the fallback chain:
// exact path, relative-to-source path, basename, normalized basename.
type LinkResolver struct {
	pathToID        map[string]graphmodel.NodeID   // vault-relative path (no ext) -> absolute path
	basenameToIDs   map[string][]graphmodel.NodeID // basename (no ext) -> absolute paths
	normalizedToIDs map[string][]graphmodel.NodeID // normalized basename -> absolute paths
}

// NewLinkResolver creates an empty resolver.
func NewLinkResolver() *LinkResolver {
	return &LinkResolver{
		pathToID:        make(map[string]graphmodel.NodeID),
		basenameToIDs:   make(map[string][]graphmodel.NodeID),
		normalizedToIDs: make(map[string][]graphmodel.NodeID),
	}
}

// AddFile registers absPath (a file under vaultRoot) with the resolver.
func (r *LinkResolver) AddFile(vaultRoot, absPath string) {
	rel, err := filepath.Rel(vaultRoot, absPath)
	if err != nil {
		rel = absPath
	}
	relNoExt := strings.TrimSuffix(rel, ".md")

	r.pathToID[relNoExt] = absPath
	base := filepath.Base(relNoExt)
	r.basenameToIDs[base] = appendUniqueID(r.basenameToIDs[base], absPath)
	normalized := normalizeForMatching(base)
	r.normalizedToIDs[normalized] = appendUniqueID(r.normalizedToIDs[normalized], absPath)
}

func appendUniqueID(list []graphmodel.NodeID, id graphmodel.NodeID) []graphmodel.NodeID {
	for _, existing := range list {
		if existing == id {
			return list
		}
	}
	return append(list, id)
}

// ResolveLink resolves target (as written in a wikilink) to a NodeID,
// preferring files in the same directory as sourceAbsPath when multiple
// candidates share a basename.
func (r *LinkResolver) ResolveLink(target, sourceAbsPath string) (graphmodel.NodeID, bool) {
	target = strings.TrimSpace(target)
	if target == "" {
		return "", false
	}
	targetNoExt := strings.TrimSuffix(target, ".md")

	if id, ok := r.pathToID[targetNoExt]; ok {
		return id, true
	}

	if sourceAbsPath != "" {
		candidate := filepath.Clean(filepath.Join(filepath.Dir(sourceAbsPath), targetNoExt)) + ".md"
		for _, id := range r.basenameToIDs[filepath.Base(targetNoExt)] {
			if id == candidate {
				return id, true
			}
		}
	}

	basename := filepath.Base(targetNoExt)
	if id, ok := r.selectBest(r.basenameToIDs[basename], sourceAbsPath); ok {
		return id, true
	}

	normalized := normalizeForMatching(basename)
	if id, ok := r.selectBest(r.normalizedToIDs[normalized], sourceAbsPath); ok {
		return id, true
	}

	return "", false
}

func (r *LinkResolver) selectBest(ids []graphmodel.NodeID, sourceAbsPath string) (graphmodel.NodeID, bool) {
	if len(ids) == 0 {
		return "", false
	}
	if len(ids) == 1 {
		return ids[0], true
	}
	if sourceAbsPath != "" {
		sourceDir := filepath.Dir(sourceAbsPath)
		for _, id := range ids {
			if filepath.Dir(id) == sourceDir {
				return id, true
			}
		}
	}
	return ids[0], true
}

// DuplicateBasenameCount reports, for diagnostics, how many registered files
// repeat a basename already held by another file: a group of n files that
// share one basename counts n-1.
func (r *LinkResolver) DuplicateBasenameCount() int {
	count := 0
	for _, ids := range r.basenameToIDs {
		if len(ids) > 1 {
			count += len(ids) - 1
		}
	}
	return count
}

func normalizeForMatching(s string) string {
	s = strings.ToLower(s)
	s = strings.TrimPrefix(s, "~")
	s = strings.TrimPrefix(s, "+")
	s = strings.ReplaceAll(s, "-", " ")
	s = strings.ReplaceAll(s, "_", " ")
	return strings.Join(strings.Fields(s), " ")
}

// ResolveEdges rewrites a node's outgoing edges in place, replacing raw
// wikilink targets with resolved NodeIDs wherever resolution succeeds.
// Targets that stay unresolved remain dangling edges keyed by their raw
// text, per the graph algebra's handling of dangling targets.
func (r *LinkResolver) ResolveEdges(node *graphmodel.GraphNode) {
	for i, e := range node.OutgoingEdges {
		if filepath.IsAbs(e.TargetID) {
			continue // already resolved by a previous healing pass
		}
		if id, ok := r.ResolveLink(e.TargetID, node.ID); ok {
			node.OutgoingEdges[i].TargetID = id
		}
	}
}
