package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/lmbridge/lmbridge/internal/protocol"
)

// corsMiddleware adds CORS headers so browser-hosted clients can talk to
// the proxy directly.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, X-Api-Key, Anthropic-Version")
		c.Writer.Header().Set("Access-Control-Max-Age", "43200")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// requestLogMiddleware logs every request at debug level. Body capture is
// handled per-request by the trace writer, not here.
func requestLogMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logrus.Debugf("%s %s -> %d (%s)",
			c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

// adminAuthMiddleware gates the metrics and admin endpoints. With no admin
// secret configured they stay open; otherwise the caller must present the
// secret itself or an API key minted from it.
func (s *Server) adminAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.config.HasAdminSecret() {
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			s.abortUnauthorized(c, "Authorization header required")
			return
		}

		// Support both "Bearer token" and bare token forms.
		tok := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		if tok == s.config.GetAdminSecret() {
			c.Next()
			return
		}
		if s.jwt().IsAPIKeyFormat(tok) {
			if _, err := s.jwt().ValidateAPIKey(tok); err == nil {
				c.Next()
				return
			}
		}

		s.abortUnauthorized(c, "Invalid admin credentials")
	}
}

func (s *Server) abortUnauthorized(c *gin.Context, message string) {
	c.JSON(http.StatusUnauthorized, protocol.ErrorResponse{
		Type: "error",
		Error: protocol.ErrorDetail{
			Type:    protocol.ErrorTypeAuthentication,
			Message: message,
		},
	})
	c.Abort()
}
