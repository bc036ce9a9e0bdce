package server

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/lmbridge/lmbridge/internal/protocol"
	"github.com/lmbridge/lmbridge/internal/protocol/token"
)

// AnthropicCountTokens handles POST /v1/messages/count_tokens with a local
// tokenizer estimate over system prompt, messages and tool definitions.
// Nothing is sent to the backend.
func (s *Server) AnthropicCountTokens(c *gin.Context) {
	bodyBytes, err := c.GetRawData()
	if err != nil {
		status, body := protocol.NewErrorResponse(protocol.NewClientInputError("", "failed to read request body: %v", err))
		c.JSON(status, body)
		return
	}

	var req protocol.AnthropicMessagesRequest
	if err := json.Unmarshal(bodyBytes, &req); err != nil {
		logrus.Debugf("Failed to unmarshal count_tokens request: %v", err)
		status, body := protocol.NewErrorResponse(protocol.NewClientInputError("", "invalid request body: %v", err))
		c.JSON(status, body)
		return
	}
	if req.Model == "" {
		status, body := protocol.NewErrorResponse(protocol.NewClientInputError("", "model is required"))
		c.JSON(status, body)
		return
	}
	if len(req.Messages) == 0 {
		status, body := protocol.NewErrorResponse(protocol.NewClientInputError("", "messages must not be empty"))
		c.JSON(status, body)
		return
	}

	count, err := token.CountRequest(&req.MessageNewParams)
	if err != nil {
		status, body := protocol.NewErrorResponse(protocol.NewInternalError(err))
		c.JSON(status, body)
		return
	}

	c.JSON(http.StatusOK, gin.H{"input_tokens": count})
}
