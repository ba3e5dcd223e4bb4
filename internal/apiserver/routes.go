// Package apiserver exposes the sync engine's intent interface over HTTP:
// one gin route per intent, plus a Server-Sent Events stream of every
// delta the engine broadcasts.
package apiserver

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/voicetree/core/internal/syncengine"
)

// Server holds the dependencies every handler needs.
type Server struct {
	engine *syncengine.Engine
	logger *slog.Logger

	defaultFileCountCeiling int
	defaultContextRadius    int
}

// Options configures defaults handlers fall back to when a request omits
// them.
type Options struct {
	Logger                  *slog.Logger
	DefaultFileCountCeiling int
	DefaultContextRadius    int
}

// New constructs a Server over an already-wired sync engine.
func New(engine *syncengine.Engine, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ceiling := opts.DefaultFileCountCeiling
	if ceiling <= 0 {
		ceiling = 20000
	}
	radius := opts.DefaultContextRadius
	if radius <= 0 {
		radius = 2
	}
	return &Server{
		engine:                  engine,
		logger:                  logger.With("component", "apiserver"),
		defaultFileCountCeiling: ceiling,
		defaultContextRadius:    radius,
	}
}

// Routes builds the gin engine with every intent route registered.
func (s *Server) Routes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(CORSMiddleware())

	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", healthCheck)
		v1.GET("/stats", s.getStats)
		v1.GET("/nodes/search", s.searchNodes)

		v1.GET("/graph", s.getGraph)
		v1.POST("/nodes", s.createNode)
		v1.PATCH("/nodes/:id", s.modifyNode)
		v1.DELETE("/nodes/:id", s.deleteNode)

		v1.POST("/merge", s.mergeNodes)
		v1.PUT("/write-path", s.setWritePath)
		v1.POST("/vaults", s.addVault)
		v1.GET("/vault/status", s.vaultStatus)

		v1.POST("/context-nodes", s.createContextNode)
		v1.GET("/context-nodes/:id/unseen", s.unseenContextNode)

		v1.POST("/undo", s.undo)
		v1.POST("/redo", s.redo)

		v1.GET("/events", s.events)
	}
	return router
}

// CORSMiddleware allows any origin, mirroring the teacher's permissive
// development posture.
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, PATCH, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
