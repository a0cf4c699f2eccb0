package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tidemark/conflux/store"
)

// getEntity returns every source's record for one canonical entity.
func (s *Server) getEntity(c *gin.Context) {
	canonicalID := c.Param("canonical_id")

	records, err := s.store.ListByCanonicalID(canonicalID, c.Query("exclude_source"))
	if err != nil {
		s.internalError(c, err)
		return
	}
	if len(records) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "entity not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"canonical_id": canonicalID,
		"sources":      len(records),
		"records":      records,
	})
}

// listRecords returns normalized records with optional filters.
func (s *Server) listRecords(c *gin.Context) {
	filter := store.ListFilter{
		SourceType:  c.Query("source_type"),
		CanonicalID: c.Query("canonical_id"),
		Category:    c.Query("category"),
		Limit:       intQuery(c, "limit", 100),
		Offset:      intQuery(c, "offset", 0),
	}

	var ok bool
	if filter.Since, ok = timeQuery(c, "since"); !ok {
		return
	}
	if filter.Until, ok = timeQuery(c, "until"); !ok {
		return
	}

	records, err := s.store.ListNormalized(filter)
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "count": len(records), "records": records})
}

// listRuns returns recent ingestion runs, newest first.
func (s *Server) listRuns(c *gin.Context) {
	runs, err := s.ledger.ListRuns(c.Query("source_type"), intQuery(c, "limit", 50))
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "count": len(runs), "runs": runs})
}

// listCheckpoints returns every source's checkpoint.
func (s *Server) listCheckpoints(c *gin.Context) {
	checkpoints, err := s.ledger.ListCheckpoints()
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "checkpoints": checkpoints})
}

// listDrift returns recent schema drift detections.
func (s *Server) listDrift(c *gin.Context) {
	entries, err := s.driftLog.List(c.Query("source"), intQuery(c, "limit", 50))
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "count": len(entries), "drift": entries})
}

func (s *Server) internalError(c *gin.Context, err error) {
	if s.logger != nil {
		s.logger.Errorw("Query failed", "path", c.Request.URL.Path, "error", err)
	}
	c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "query failed"})
}

func intQuery(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}

// timeQuery parses an RFC3339 query parameter. A malformed value is a
// client error, reported immediately.
func timeQuery(c *gin.Context, key string) (*time.Time, bool) {
	raw := c.Query(key)
	if raw == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   key + " must be RFC3339, e.g. 2026-01-02T15:04:05Z",
		})
		return nil, false
	}
	utc := t.UTC()
	return &utc, true
}
