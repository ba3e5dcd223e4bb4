package apiserver

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/voicetree/core/internal/apperrors"
	"github.com/voicetree/core/internal/graphmodel"
)

type nodeResponse struct {
	ID       graphmodel.NodeID   `json:"id"`
	Title    string              `json:"title"`
	Content  string              `json:"content"`
	Edges    []graphmodel.Edge   `json:"edges"`
	Position *graphmodel.Position `json:"position,omitempty"`
}

func toNodeResponse(n graphmodel.GraphNode) nodeResponse {
	return nodeResponse{
		ID:       n.ID,
		Title:    n.UIMetadata.Title,
		Content:  n.ContentWithoutYamlOrLinks,
		Edges:    n.OutgoingEdges,
		Position: n.UIMetadata.Position,
	}
}

// getGraph returns every node currently held by the engine.
func (s *Server) getGraph(c *gin.Context) {
	snap := s.engine.Snapshot()
	nodes := make([]nodeResponse, 0, len(snap.Nodes))
	for _, n := range snap.Nodes {
		nodes = append(nodes, toNodeResponse(n))
	}
	c.JSON(http.StatusOK, gin.H{"nodes": nodes})
}

type createNodeRequest struct {
	ParentID *graphmodel.NodeID  `json:"parent_id,omitempty"`
	Title    string              `json:"title"`
	Position *graphmodel.Position `json:"position,omitempty"`
}

// createNode dispatches to createChildNode or createOrphanNode depending
// on whether a parent id was supplied.
func (s *Server) createNode(c *gin.Context) {
	var req createNodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	ctx := c.Request.Context()

	if req.ParentID != nil {
		id, err := s.engine.CreateChildNode(ctx, *req.ParentID, req.Title)
		if err != nil {
			handleError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"id": id})
		return
	}

	pos := graphmodel.Position{}
	if req.Position != nil {
		pos = *req.Position
	}
	id, err := s.engine.CreateOrphanNode(ctx, req.Title, pos)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

type modifyNodeRequest struct {
	Body string `json:"body"`
}

func (s *Server) modifyNode(c *gin.Context) {
	var req modifyNodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := s.engine.ModifyNodeContent(c.Request.Context(), c.Param("id"), req.Body); err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) deleteNode(c *gin.Context) {
	if err := s.engine.DeleteNode(c.Request.Context(), c.Param("id")); err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type mergeRequest struct {
	IDs []graphmodel.NodeID `json:"ids"`
}

func (s *Server) mergeNodes(c *gin.Context) {
	var req mergeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if len(req.IDs) < 2 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "merge requires at least two node ids"})
		return
	}
	if err := s.engine.MergeNodes(c.Request.Context(), req.IDs); err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type writePathRequest struct {
	Path string `json:"path"`
}

func (s *Server) setWritePath(c *gin.Context) {
	var req writePathRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Path == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "path is required"})
		return
	}
	s.engine.SetDefaultWritePath(req.Path)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type addVaultRequest struct {
	Path             string `json:"path"`
	FileCountCeiling int    `json:"file_count_ceiling,omitempty"`
}

func (s *Server) addVault(c *gin.Context) {
	var req addVaultRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Path == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "path is required"})
		return
	}
	ceiling := req.FileCountCeiling
	if ceiling <= 0 {
		ceiling = s.defaultFileCountCeiling
	}
	if err := s.engine.AddReadOnlyVaultPath(req.Path, ceiling); err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) vaultStatus(c *gin.Context) {
	snap := s.engine.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"status":     "idle",
		"node_count": len(snap.Nodes),
	})
}

type createContextNodeRequest struct {
	SeedID graphmodel.NodeID `json:"seed_id"`
	Radius int               `json:"radius,omitempty"`
}

func (s *Server) createContextNode(c *gin.Context) {
	var req createContextNodeRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.SeedID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "seed_id is required"})
		return
	}
	radius := req.Radius
	if radius <= 0 {
		radius = s.defaultContextRadius
	}
	id, err := s.engine.CreateContextNode(c.Request.Context(), req.SeedID, radius)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (s *Server) unseenContextNode(c *gin.Context) {
	// radius is left unset (0) so the engine prefers the radius the context
	// node was actually created with, persisted alongside its seed; it only
	// falls back to defaultContextRadius-equivalent defaulting when no
	// persisted record exists (e.g. the store wasn't configured).
	nodes, err := s.engine.GetUnseenNodesAroundContextNode(c.Request.Context(), c.Param("id"), 0)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unseen": nodes})
}

func (s *Server) undo(c *gin.Context) {
	if err := s.engine.Undo(c.Request.Context()); err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) redo(c *gin.Context) {
	if err := s.engine.Redo(c.Request.Context()); err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// getStats reports the graph's shape: node/edge counts, orphans (no
// outgoing or incoming edge), and dangling edges (target not in the
// graph) — the generalized form of the teacher's GraphStats.
func (s *Server) getStats(c *gin.Context) {
	snap := s.engine.Snapshot()

	incoming := make(map[graphmodel.NodeID]int, len(snap.Nodes))
	edgeCount := 0
	dangling := 0
	for _, n := range snap.Nodes {
		for _, e := range n.OutgoingEdges {
			edgeCount++
			if _, ok := snap.Nodes[e.TargetID]; ok {
				incoming[e.TargetID]++
			} else {
				dangling++
			}
		}
	}

	orphans := 0
	for id, n := range snap.Nodes {
		if len(n.OutgoingEdges) == 0 && incoming[id] == 0 {
			orphans++
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"node_count":    len(snap.Nodes),
		"edge_count":    edgeCount,
		"orphan_count":  orphans,
		"dangling_edges": dangling,
	})
}

// searchNodes does a case-insensitive substring search over titles and
// bodies, the generalized form of the teacher's SearchNodes.
func (s *Server) searchNodes(c *gin.Context) {
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query parameter 'q' is required"})
		return
	}
	needle := strings.ToLower(query)

	snap := s.engine.Snapshot()
	var results []nodeResponse
	for _, n := range snap.Nodes {
		if strings.Contains(strings.ToLower(n.UIMetadata.Title), needle) ||
			strings.Contains(strings.ToLower(n.ContentWithoutYamlOrLinks), needle) {
			results = append(results, toNodeResponse(n))
		}
	}
	c.JSON(http.StatusOK, gin.H{"query": query, "results": results, "count": len(results)})
}

// events streams every delta the engine broadcasts as Server-Sent Events,
// for as long as the client stays connected.
func (s *Server) events(c *gin.Context) {
	ch, unsubscribe := s.engine.Subscribe(16)
	defer unsubscribe()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	clientGone := c.Request.Context().Done()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-clientGone:
			return false
		case <-time.After(15 * time.Second):
			c.SSEvent("ping", "")
			return true
		case delta, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent("delta", delta)
			return true
		}
	})
}

func handleError(c *gin.Context, err error) {
	switch {
	case apperrors.IsUnknownNode(err):
		c.JSON(http.StatusNotFound, gin.H{"error": sanitizeError(err)})
	case apperrors.IsFileLimitExceeded(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": sanitizeError(err)})
	case apperrors.IsIntegrityError(err), apperrors.IsWriteFailure(err), apperrors.IsParseError(err):
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err)})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err)})
	}
}
