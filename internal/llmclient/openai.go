// Package llmclient wraps the OpenAI SDK for talking to
// chat-completions backends, one client per configured backend.
package llmclient

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/ssestream"

	"github.com/lmbridge/lmbridge/internal/config"
)

// Client wraps the OpenAI SDK client for one backend
type Client struct {
	client  openai.Client
	backend config.Backend
}

// New creates a client for the given backend. The API key, when set,
// goes out as an authorization bearer header. Requests are bounded by
// the package-wide RequestTimeout; the streaming watchdog cuts silent
// streams long before that.
func New(backend config.Backend) *Client {
	options := []option.RequestOption{
		option.WithBaseURL(backend.BaseURL),
		option.WithRequestTimeout(config.RequestTimeout),
	}
	if backend.APIKey != "" {
		options = append(options, option.WithAPIKey(backend.APIKey))
	}

	return &Client{
		client:  openai.NewClient(options...),
		backend: backend,
	}
}

// Backend returns the backend this client talks to
func (c *Client) Backend() config.Backend {
	return c.backend
}

// ChatCompletionsNew creates a new chat completion request
func (c *Client) ChatCompletionsNew(ctx context.Context, req openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	return c.client.Chat.Completions.New(ctx, req)
}

// ChatCompletionsNewStreaming creates a new streaming chat completion request
func (c *Client) ChatCompletionsNewStreaming(ctx context.Context, req openai.ChatCompletionNewParams) *ssestream.Stream[openai.ChatCompletionChunk] {
	return c.client.Chat.Completions.NewStreaming(ctx, req)
}

// ListModels fetches the backend's model catalog
func (c *Client) ListModels(ctx context.Context) ([]openai.Model, error) {
	page, err := c.client.Models.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list models from %s: %w", c.backend.BaseURL, err)
	}
	return page.Data, nil
}
