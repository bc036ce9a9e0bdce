package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/lmbridge/lmbridge/internal/config"
)

// Model list types in the Anthropic models API shape.
type (
	AnthropicModel struct {
		ID          string `json:"id"`
		CreatedAt   string `json:"created_at"`
		DisplayName string `json:"display_name"`
		Type        string `json:"type"`
	}
	AnthropicModelsResponse struct {
		Data    []AnthropicModel `json:"data"`
		FirstID string           `json:"first_id"`
		HasMore bool             `json:"has_more"`
		LastID  string           `json:"last_id"`
	}
)

// listModelsTimeout bounds the backend catalog query.
const listModelsTimeout = 10 * time.Second

// AnthropicListModels handles GET /v1/models by asking the default backend
// for its catalog and translating it to the Anthropic list shape. When the
// backend is unreachable the configured route patterns stand in, so
// clients that list models before sending can still start.
func (s *Server) AnthropicListModels(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), listModelsTimeout)
	defer cancel()

	backend := s.config.DefaultBackend()
	models, err := s.clients.Get(backend).ListModels(ctx)
	if err != nil {
		logrus.Warnf("Model list from %s failed, serving configured routes instead: %v", backend.BaseURL, err)
		c.JSON(http.StatusOK, modelsFromRoutes(s.config.GetRoutes()))
		return
	}

	resp := AnthropicModelsResponse{Data: make([]AnthropicModel, 0, len(models))}
	for _, m := range models {
		entry := AnthropicModel{
			ID:          m.ID,
			DisplayName: m.ID,
			Type:        "model",
		}
		if m.Created > 0 {
			entry.CreatedAt = time.Unix(m.Created, 0).UTC().Format(time.RFC3339)
		}
		resp.Data = append(resp.Data, entry)
	}
	fillModelListCursor(&resp)
	c.JSON(http.StatusOK, resp)
}

// modelsFromRoutes builds a fallback list from route patterns that name a
// concrete model. Glob patterns are skipped; they match models, they are
// not models.
func modelsFromRoutes(routes []config.Route) AnthropicModelsResponse {
	resp := AnthropicModelsResponse{Data: []AnthropicModel{}}
	seen := make(map[string]bool)
	for _, r := range routes {
		if r.ModelGlob == "" || strings.ContainsAny(r.ModelGlob, "*?[{") || seen[r.ModelGlob] {
			continue
		}
		seen[r.ModelGlob] = true
		resp.Data = append(resp.Data, AnthropicModel{
			ID:          r.ModelGlob,
			DisplayName: r.ModelGlob,
			Type:        "model",
		})
	}
	fillModelListCursor(&resp)
	return resp
}

func fillModelListCursor(resp *AnthropicModelsResponse) {
	if len(resp.Data) == 0 {
		return
	}
	resp.FirstID = resp.Data[0].ID
	resp.LastID = resp.Data[len(resp.Data)-1].ID
}
