// Package syncengine implements the single-threaded orchestrator that owns
// the in-memory graph: the only component allowed to mutate it. UI and
// agents submit intents and receive delta broadcasts; they never see or
// hold the mutable graph directly.
package syncengine

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voicetree/core/internal/apperrors"
	"github.com/voicetree/core/internal/contextnode"
	"github.com/voicetree/core/internal/delta"
	"github.com/voicetree/core/internal/echostore"
	"github.com/voicetree/core/internal/graphmodel"
	"github.com/voicetree/core/internal/store"
	"github.com/voicetree/core/internal/vault"
	"github.com/voicetree/core/internal/vaultfs"
)

const maxHistoryEntries = 100

// Engine is the sync engine: exclusive mutable owner of the graph, the
// incoming-edges index, the two echo-suppression stores, undo/redo
// history, and the set of open editors. Every method acquires the same
// lock, so the graph is never observed mid-mutation — the "single
// executor" scheduling model from the design, expressed with a mutex
// instead of a dedicated goroutine loop.
type Engine struct {
	mu sync.Mutex

	graph      *graphmodel.Graph
	index      graphmodel.IncomingIndex
	resolver   *vault.LinkResolver
	classifier *vault.NodeClassifier

	deltaStore  *echostore.Store
	actionStore *echostore.Store

	writePath  string
	vaultPaths []string
	deniedDirs []string

	openEditors map[graphmodel.NodeID]string

	persist *store.Store
	logger  *slog.Logger

	subMu       sync.Mutex
	subscribers map[int]chan graphmodel.GraphDelta
	nextSub     int
}

// Options configures a new Engine.
type Options struct {
	WritePath  string
	VaultPaths []string
	DeniedDirs []string
	Classifier *vault.NodeClassifier
	Persist    *store.Store
	DeltaTTL   time.Duration
	ActionTTL  time.Duration
	Logger     *slog.Logger
}

// New constructs an Engine over an already-loaded graph and resolver.
func New(graph *graphmodel.Graph, resolver *vault.LinkResolver, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		graph:       graph,
		index:       graphmodel.BuildIncomingIndex(graph),
		resolver:    resolver,
		classifier:  opts.Classifier,
		deltaStore:  echostore.NewDeltaStore(opts.DeltaTTL),
		actionStore: echostore.NewActionStore(opts.ActionTTL),
		writePath:   opts.WritePath,
		vaultPaths:  append([]string(nil), opts.VaultPaths...),
		deniedDirs:  append([]string(nil), opts.DeniedDirs...),
		openEditors: make(map[graphmodel.NodeID]string),
		persist:     opts.Persist,
		logger:      logger.With("component", "sync"),
		subscribers: make(map[int]chan graphmodel.GraphDelta),
	}
}

// Snapshot returns a read-only deep-enough copy of the current graph, for
// handlers that need to serve a point-in-time view (HTTP reads, search).
func (e *Engine) Snapshot() *graphmodel.Graph {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.graph.Clone()
}

// Subscribe registers a channel that receives every delta the engine
// applies, in order. The returned func unsubscribes and closes the
// channel.
func (e *Engine) Subscribe(buffer int) (<-chan graphmodel.GraphDelta, func()) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	id := e.nextSub
	e.nextSub++
	ch := make(chan graphmodel.GraphDelta, buffer)
	e.subscribers[id] = ch
	return ch, func() {
		e.subMu.Lock()
		defer e.subMu.Unlock()
		if ch, ok := e.subscribers[id]; ok {
			delete(e.subscribers, id)
			close(ch)
		}
	}
}

func (e *Engine) broadcast(d graphmodel.GraphDelta) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for id, ch := range e.subscribers {
		select {
		case ch <- d:
		default:
			e.logger.Warn("subscriber channel full, dropping broadcast", "subscriber", id)
		}
	}
}

// OpenEditor registers nodeID as having an open editor with initialContent,
// so future reconciliation knows whether to push updates to it.
func (e *Engine) OpenEditor(nodeID graphmodel.NodeID, initialContent string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.openEditors[nodeID] = initialContent
}

// CloseEditor unregisters nodeID's open editor.
func (e *Engine) CloseEditor(nodeID graphmodel.NodeID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.openEditors, nodeID)
}

// EditorPush is a programmatic update the engine wants an open editor to
// apply. The engine records Content in the recent-actions store before it
// returns a push.
type EditorPush struct {
	NodeID  graphmodel.NodeID
	Content string
}

// historyTarget says which persisted stack, if any, should receive the
// inverse of a delta applyWritePath is about to commit.
type historyTarget int

const (
	noHistory historyTarget = iota
	undoHistory
	redoHistory
)

// applyWritePath is the write path's core:
// applyGraphDeltaThroughMemAndUIAndEditors. Must be called with e.mu held.
// The inverse delta (when history != noHistory) is always computed from the
// pre-mutation graph, regardless of which stack it is pushed to. markEcho
// marks the recent-deltas store before applying, so a write the engine
// itself performs doesn't bounce back in through HandleFSEvent; the read
// path passes markEcho=false since an externally observed edit is not the
// engine's own write to suppress.
func (e *Engine) applyWritePath(ctx context.Context, d graphmodel.GraphDelta, history historyTarget, markEcho, writeToDisk bool) ([]EditorPush, graphmodel.GraphDelta, error) {
	expanded, err := e.expandDeletes(d)
	if err != nil {
		return nil, nil, err
	}

	e.clampIntegrityViolations(expanded)

	if history != noHistory && e.persist != nil {
		inverse := e.inverseDelta(expanded)
		switch history {
		case undoHistory:
			if err := e.persist.PushUndo(ctx, inverse, maxHistoryEntries); err != nil {
				e.logger.Warn("failed to persist undo entry", "error", err)
			}
		case redoHistory:
			if err := e.persist.PushRedo(ctx, inverse, maxHistoryEntries); err != nil {
				e.logger.Warn("failed to persist redo entry", "error", err)
			}
		}
	}

	if markEcho {
		for _, nd := range expanded {
			e.deltaStore.Mark(nd.TargetNodeID(), nd)
		}
	}

	deleted := make(map[graphmodel.NodeID]graphmodel.GraphNode)
	for _, nd := range expanded {
		if nd.IsDelete() {
			if prev, ok := e.graph.Nodes[nd.Delete.NodeID]; ok {
				deleted[nd.Delete.NodeID] = prev
			}
		}
	}

	e.graph = graphmodel.ApplyDelta(e.graph, expanded)
	for _, nd := range expanded {
		if nd.IsUpsert() {
			graphmodel.UpdateIndexForUpsert(e.index, nd.Upsert.Node, nd.Upsert.PreviousNode)
		} else if nd.IsDelete() {
			if prev, ok := deleted[nd.Delete.NodeID]; ok {
				graphmodel.UpdateIndexForDelete(e.index, prev)
			}
		}
	}

	e.broadcast(expanded)
	e.persistPositions(ctx, expanded)

	if writeToDisk {
		if err := e.writeDeltaToDisk(expanded); err != nil {
			return nil, expanded, err
		}
	}

	return e.reconcileEditors(expanded), expanded, nil
}

func (e *Engine) writeDeltaToDisk(d graphmodel.GraphDelta) error {
	for _, nd := range d {
		switch {
		case nd.IsUpsert():
			encoded, err := vault.EncodeNode(nd.Upsert.Node)
			if err != nil {
				return apperrors.NewWriteFailureError(nd.Upsert.Node.ID, err)
			}
			if err := vaultfs.WriteAtomic(nd.Upsert.Node.ID, []byte(encoded)); err != nil {
				return apperrors.NewWriteFailureError(nd.Upsert.Node.ID, err)
			}
		case nd.IsDelete():
			if err := vaultfs.Remove(nd.Delete.NodeID); err != nil {
				return apperrors.NewWriteFailureError(nd.Delete.NodeID, err)
			}
		}
	}
	return nil
}

func (e *Engine) reconcileEditors(d graphmodel.GraphDelta) []EditorPush {
	var pushes []EditorPush
	for _, nd := range d {
		if !nd.IsUpsert() {
			continue
		}
		id := nd.Upsert.Node.ID
		current, open := e.openEditors[id]
		if !open {
			continue
		}
		newBody := vault.RenderBody(nd.Upsert.Node)
		if newBody == current {
			continue
		}
		e.actionStore.Mark(id, newBody)
		e.openEditors[id] = newBody
		pushes = append(pushes, EditorPush{NodeID: id, Content: newBody})
	}
	return pushes
}

func (e *Engine) expandDeletes(d graphmodel.GraphDelta) (graphmodel.GraphDelta, error) {
	var expanded graphmodel.GraphDelta
	for _, nd := range d {
		if !nd.IsDelete() {
			expanded = append(expanded, nd)
			continue
		}
		sub, err := delta.DeleteMaintainingTransitiveEdges(e.graph, e.index, nd.Delete.NodeID)
		if err != nil {
			return nil, err
		}
		expanded = append(expanded, sub...)
	}
	return expanded, nil
}

// clampIntegrityViolations enforces the IntegrityError policy: an
// UpsertNode's claimed PreviousNode must equal the graph's actual current
// state for that id. A mismatch is a programmer error in any caller that
// derived the delta from a stale snapshot; rather than aborting the write
// (which would stall the engine), it is logged and PreviousNode is clamped
// to the graph's real prior state so undo history and the incoming index
// stay correct.
func (e *Engine) clampIntegrityViolations(d graphmodel.GraphDelta) {
	for _, nd := range d {
		if !nd.IsUpsert() {
			continue
		}
		actual, exists := e.graph.Nodes[nd.Upsert.Node.ID]
		claimed := nd.Upsert.PreviousNode
		switch {
		case !exists && claimed != nil:
			err := apperrors.NewIntegrityError(nd.Upsert.Node.ID, claimed.ContentWithoutYamlOrLinks, "<absent>")
			e.logger.Warn("integrity violation, clamping to preserve liveness", "error", err)
			nd.Upsert.PreviousNode = nil
		case exists && !nodeStatesEqual(claimed, &actual):
			expected := "<nil>"
			if claimed != nil {
				expected = claimed.ContentWithoutYamlOrLinks
			}
			err := apperrors.NewIntegrityError(nd.Upsert.Node.ID, expected, actual.ContentWithoutYamlOrLinks)
			e.logger.Warn("integrity violation, clamping to preserve liveness", "error", err)
			cp := actual.Clone()
			nd.Upsert.PreviousNode = &cp
		}
	}
}

func nodeStatesEqual(a, b *graphmodel.GraphNode) bool {
	if a == nil || b == nil {
		return a == b
	}
	return reflect.DeepEqual(*a, *b)
}

// inverseDelta computes the delta that undoes d, using each upsert's
// PreviousNode and re-upserting deleted nodes from the graph's state just
// before d was applied (the caller must compute this before e.graph is
// mutated).
func (e *Engine) inverseDelta(d graphmodel.GraphDelta) graphmodel.GraphDelta {
	inverse := make(graphmodel.GraphDelta, 0, len(d))
	for i := len(d) - 1; i >= 0; i-- {
		nd := d[i]
		switch {
		case nd.IsUpsert():
			if nd.Upsert.PreviousNode == nil {
				inverse = append(inverse, graphmodel.Delete(nd.Upsert.Node.ID))
			} else {
				prev := *nd.Upsert.PreviousNode
				inverse = append(inverse, graphmodel.Upsert(prev, &nd.Upsert.Node))
			}
		case nd.IsDelete():
			if prior, ok := e.graph.Nodes[nd.Delete.NodeID]; ok {
				cp := prior.Clone()
				inverse = append(inverse, graphmodel.Upsert(cp, nil))
			}
		}
	}
	return inverse
}

// persistPositions keeps the positions override layer in sync with the
// graph: an upsert that carries a position overwrites the stored override so
// the loader's positioning pass can reuse it on the next restart, and a
// deleted node's override is dropped so it doesn't resurface against an
// unrelated file that later reuses the id. Best-effort, like clearRedo.
func (e *Engine) persistPositions(ctx context.Context, d graphmodel.GraphDelta) {
	if e.persist == nil {
		return
	}
	for _, nd := range d {
		switch {
		case nd.IsUpsert() && nd.Upsert.Node.UIMetadata.Position != nil:
			if err := e.persist.UpsertPosition(ctx, nd.Upsert.Node.ID, *nd.Upsert.Node.UIMetadata.Position); err != nil {
				e.logger.Warn("failed to persist node position", "node", nd.Upsert.Node.ID, "error", err)
			}
		case nd.IsDelete():
			if err := e.persist.DeletePosition(ctx, nd.Delete.NodeID); err != nil {
				e.logger.Warn("failed to delete persisted node position", "node", nd.Delete.NodeID, "error", err)
			}
		}
	}
}

// clearRedo drops the redo history after a fresh user-initiated delta, the
// usual undo/redo invalidation rule. Best-effort: a failure here only means
// a stale redo entry might resurface, not that the delta itself failed.
func (e *Engine) clearRedo(ctx context.Context) {
	if e.persist == nil {
		return
	}
	if err := e.persist.ClearRedo(ctx); err != nil {
		e.logger.Warn("failed to clear redo history", "error", err)
	}
}

// CreateChildNode creates a new node pointing at parentID and writes it to
// disk under the same vault as its parent.
func (e *Engine) CreateChildNode(ctx context.Context, parentID graphmodel.NodeID, title string) (graphmodel.NodeID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	parent, ok := e.graph.Nodes[parentID]
	if !ok {
		return "", apperrors.NewUnknownNodeError(parentID)
	}
	childID := filepath.Join(filepath.Dir(parent.ID), freshFilename())
	d := delta.CreateChild(parent, childID, title)
	if _, _, err := e.applyWritePath(ctx, d, undoHistory, true, true); err != nil {
		return "", err
	}
	e.clearRedo(ctx)
	return childID, nil
}

// CreateOrphanNode creates a standalone node under the engine's current
// write path.
func (e *Engine) CreateOrphanNode(ctx context.Context, title string, position graphmodel.Position) (graphmodel.NodeID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := filepath.Join(e.writePath, freshFilename())
	d := delta.CreateOrphan(id, title, position)
	if _, _, err := e.applyWritePath(ctx, d, undoHistory, true, true); err != nil {
		return "", err
	}
	e.clearRedo(ctx)
	return id, nil
}

// ModifyNodeContent re-derives nodeID's edges from newBody and commits the
// change through the write path.
func (e *Engine) ModifyNodeContent(ctx context.Context, nodeID graphmodel.NodeID, newBody string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	existing, ok := e.graph.Nodes[nodeID]
	if !ok {
		return apperrors.NewUnknownNodeError(nodeID)
	}
	d := delta.ContentChange(existing, newBody, e.resolver)
	_, _, err := e.applyWritePath(ctx, d, undoHistory, true, true)
	if err == nil {
		e.clearRedo(ctx)
	}
	return err
}

// DeleteNode deletes nodeID, rewriting incomers' edges to preserve
// reachability through its former children.
func (e *Engine) DeleteNode(ctx context.Context, nodeID graphmodel.NodeID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.graph.Nodes[nodeID]; !ok {
		return apperrors.NewUnknownNodeError(nodeID)
	}
	_, _, err := e.applyWritePath(ctx, graphmodel.GraphDelta{graphmodel.Delete(nodeID)}, undoHistory, true, true)
	if err == nil {
		e.clearRedo(ctx)
	}
	return err
}

// MergeNodes collapses ids into a single representative node.
func (e *Engine) MergeNodes(ctx context.Context, ids []graphmodel.NodeID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	d, err := delta.Merge(e.graph, e.index, ids)
	if err != nil {
		return err
	}
	_, _, err = e.applyWritePath(ctx, d, undoHistory, true, true)
	if err == nil {
		e.clearRedo(ctx)
	}
	return err
}

// SetDefaultWritePath changes which vault new-node writes target, leaving
// watched vaults untouched.
func (e *Engine) SetDefaultWritePath(path string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.writePath = path
}

// AddReadOnlyVaultPath additively loads root into the graph and broadcasts
// only the newly introduced nodes.
func (e *Engine) AddReadOnlyVaultPath(root string, fileCountCeiling int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	result, err := vault.LoadVaultInto(e.graph, root, e.deniedDirs, fileCountCeiling, e.classifier, e.persist)
	if err != nil {
		return err
	}
	e.graph = result.Graph
	e.index = graphmodel.BuildIncomingIndex(e.graph)
	e.vaultPaths = append(e.vaultPaths, root)
	e.broadcast(result.Delta)
	return nil
}

// CreateContextNode materializes a context node around seedID and commits
// it through the write path so it is persisted like any other node.
func (e *Engine) CreateContextNode(ctx context.Context, seedID graphmodel.NodeID, radius int) (graphmodel.NodeID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	d, usedRadius, err := contextnode.Create(e.graph, seedID, radius, e.writePath)
	if err != nil {
		return "", err
	}
	id := d.Upsert.Node.ID
	if _, _, err := e.applyWritePath(ctx, graphmodel.GraphDelta{d}, undoHistory, true, true); err != nil {
		return "", err
	}
	e.clearRedo(ctx)
	if e.persist != nil {
		if err := e.persist.RecordContextSeed(ctx, id, seedID, usedRadius); err != nil {
			e.logger.Warn("failed to persist context seed", "error", err)
		}
	}
	return id, nil
}

// GetUnseenNodesAroundContextNode diffs ctxID's frozen neighborhood against
// the graph's current state. The anchor is read back from the persisted
// context-seed record when one exists, so the diff survives a hand-edit to
// the context node's own frontmatter, and the record's radius is used when
// radius <= 0; without a record it falls back to the frontmatter-embedded
// anchor.
func (e *Engine) GetUnseenNodesAroundContextNode(ctx context.Context, ctxID graphmodel.NodeID, radius int) ([]contextnode.UnseenNode, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.persist != nil {
		seedID, storedRadius, ok, err := e.persist.ContextSeed(ctx, ctxID)
		if err != nil {
			e.logger.Warn("failed to read persisted context seed", "node", ctxID, "error", err)
		} else if ok {
			if radius <= 0 {
				radius = storedRadius
			}
			return contextnode.UnseenWithSeed(e.graph, ctxID, seedID, radius)
		}
	}
	return contextnode.Unseen(e.graph, ctxID, radius)
}

// Undo pops the most recent undo entry and replays it without recording a
// new undo entry, pushing its inverse onto the redo history instead.
func (e *Engine) Undo(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.persist == nil {
		return fmt.Errorf("undo: no persisted history store configured")
	}
	d, ok, err := e.persist.PopUndo(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("undo: history is empty")
	}
	_, _, err = e.applyWritePath(ctx, d, redoHistory, true, true)
	return err
}

// Redo pops the most recent redo entry and replays it.
func (e *Engine) Redo(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.persist == nil {
		return fmt.Errorf("redo: no persisted history store configured")
	}
	d, ok, err := e.persist.PopRedo(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("redo: history is empty")
	}
	_, _, err = e.applyWritePath(ctx, d, undoHistory, true, true)
	return err
}

// HandleFSEvent is the read path: handleFSEvent(event). It consults the
// recent-deltas store to filter echoes of the engine's own writes.
func (e *Engine) HandleFSEvent(ctx context.Context, ev vaultfs.Event) ([]EditorPush, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.inWatchedVault(ev.AbsolutePath) {
		return nil, nil
	}

	var candidate graphmodel.GraphDelta
	switch ev.Type {
	case vaultfs.Deleted:
		candidate = graphmodel.GraphDelta{graphmodel.Delete(ev.AbsolutePath)}
	case vaultfs.Added, vaultfs.Changed:
		var previous *graphmodel.GraphNode
		if existing, ok := e.graph.Nodes[ev.AbsolutePath]; ok {
			cp := existing.Clone()
			previous = &cp
		}
		node, _, err := vault.ParseNode(ev.AbsolutePath, ev.Content)
		if err != nil {
			node = graphmodel.GraphNode{ID: ev.AbsolutePath, ContentWithoutYamlOrLinks: ev.Content}
		}
		if e.resolver != nil {
			e.resolver.ResolveEdges(&node)
		}
		candidate = graphmodel.GraphDelta{graphmodel.Upsert(node, previous)}
	}

	if e.allRecent(candidate) {
		e.logger.Debug("dropping echoed fs event", "path", ev.AbsolutePath)
		return nil, nil
	}

	pushes, _, err := e.applyWritePath(ctx, candidate, noHistory, false, false)
	return pushes, err
}

func (e *Engine) allRecent(d graphmodel.GraphDelta) bool {
	if len(d) == 0 {
		return false
	}
	for _, nd := range d {
		if !e.deltaStore.IsRecent(nd.TargetNodeID(), nd) {
			return false
		}
	}
	return true
}

func (e *Engine) inWatchedVault(path string) bool {
	if len(e.vaultPaths) == 0 {
		return true
	}
	for _, v := range e.vaultPaths {
		rel, err := filepath.Rel(v, path)
		if err == nil && rel != ".." && !hasDotDotPrefix(rel) {
			return true
		}
	}
	return false
}

func hasDotDotPrefix(rel string) bool {
	return len(rel) >= 2 && rel[0] == '.' && rel[1] == '.'
}

func freshFilename() string {
	return fmt.Sprintf("%s.md", uuid.NewString())
}
