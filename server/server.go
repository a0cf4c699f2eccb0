// Package server exposes the read-only query API over the normalized
// store and the run ledger. It has no bearing on ingestion
// correctness; everything it serves is derived state.
package server

import (
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tidemark/conflux/drift"
	"github.com/tidemark/conflux/ledger"
	"github.com/tidemark/conflux/store"
)

// Server serves the read API.
type Server struct {
	store    *store.Store
	ledger   *ledger.Ledger
	driftLog *drift.LogStore
	db       *sql.DB
	logger   *zap.SugaredLogger
}

// New creates a server over an open database.
func New(db *sql.DB, logger *zap.SugaredLogger) *Server {
	return &Server{
		store:    store.NewStore(db),
		ledger:   ledger.NewLedger(db, logger),
		driftLog: drift.NewLogStore(db),
		db:       db,
		logger:   logger,
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	if s.logger != nil {
		router.Use(s.requestLogger())
	}

	router.GET("/healthz", s.health)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/entities/:canonical_id", s.getEntity)
		v1.GET("/records", s.listRecords)
		v1.GET("/runs", s.listRuns)
		v1.GET("/checkpoints", s.listCheckpoints)
		v1.GET("/drift", s.listDrift)
	}
	return router
}

// Run serves the API until the listener fails.
func (s *Server) Run(port int) error {
	addr := fmt.Sprintf(":%d", port)
	if s.logger != nil {
		s.logger.Infow("Read API listening", "addr", addr)
	}
	return s.Router().Run(addr)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Infow("Request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

func (s *Server) health(c *gin.Context) {
	if err := s.db.Ping(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
