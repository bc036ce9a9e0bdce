package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/lmbridge/lmbridge/internal/llmclient"
)

const (
	probeTTL     = 10 * time.Second
	probeTimeout = 3 * time.Second
)

// backendProbe caches the result of a cheap backend reachability check so
// health polling does not hammer the backend.
type backendProbe struct {
	mu        sync.Mutex
	ttl       time.Duration
	checkedAt time.Time
	ok        bool
}

func newBackendProbe(ttl time.Duration) *backendProbe {
	return &backendProbe{ttl: ttl}
}

// Check returns the cached reachability, refreshing it once the TTL has
// passed. The refresh runs under the lock, so concurrent health requests
// share one probe.
func (p *backendProbe) Check(ctx context.Context, client *llmclient.Client) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.checkedAt.IsZero() && time.Since(p.checkedAt) < p.ttl {
		return p.ok
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	_, err := client.ListModels(ctx)
	if err != nil {
		logrus.Debugf("Backend probe failed: %v", err)
	}
	p.ok = err == nil
	p.checkedAt = time.Now()
	return p.ok
}

// Health handles GET /health. The proxy itself answering makes ok true;
// backend_ok reflects the cached reachability probe.
func (s *Server) Health(c *gin.Context) {
	backendOK := s.probe.Check(c.Request.Context(), s.clients.Get(s.config.DefaultBackend()))
	resp := gin.H{
		"ok":         true,
		"uptime_s":   int64(s.metrics.Uptime().Seconds()),
		"backend_ok": backendOK,
	}
	if s.version != "" {
		resp["version"] = s.version
	}
	c.JSON(http.StatusOK, resp)
}
