package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/lmbridge/lmbridge/internal/obs"
)

// metricsSnapshot is the GET /metrics body: the request and stream
// counters plus the response cache counters.
type metricsSnapshot struct {
	obs.Snapshot
	Cache cacheSnapshot `json:"cache"`
}

type cacheSnapshot struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Stores    int64 `json:"stores"`
	Evictions int64 `json:"evictions"`
	Bytes     int64 `json:"bytes"`
	Entries   int   `json:"entries"`
}

// Metrics handles GET /metrics with a point-in-time JSON snapshot of all
// counters.
func (s *Server) Metrics(c *gin.Context) {
	stats := s.cache.Stats()
	c.JSON(http.StatusOK, metricsSnapshot{
		Snapshot: s.metrics.Snapshot(),
		Cache: cacheSnapshot{
			Hits:      stats.Hits,
			Misses:    stats.Misses,
			Stores:    stats.Stores,
			Evictions: stats.Evictions,
			Bytes:     stats.Bytes,
			Entries:   stats.Entries,
		},
	})
}

// ClearCache handles POST /admin/cache/clear, dropping every cached
// response. Cumulative cache counters survive the clear.
func (s *Server) ClearCache(c *gin.Context) {
	entries := s.cache.Len()
	s.cache.Clear()
	logrus.Infof("Response cache cleared (%d entries dropped)", entries)

	if s.stateLog != nil {
		if err := s.stateLog.LogAction(obs.ActionClearCache, gin.H{"entries": entries}, true, "cache cleared"); err != nil {
			logrus.Debugf("Failed to record cache clear: %v", err)
		}
	}

	c.JSON(http.StatusOK, gin.H{"cleared": entries})
}
