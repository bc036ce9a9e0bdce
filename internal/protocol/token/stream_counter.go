package token

import (
	"sync"

	"github.com/openai/openai-go/v3"
	"github.com/tiktoken-go/tokenizer"
)

// StreamTokenCounter accumulates usage for a streaming response. Counts
// reported by the upstream win; otherwise each delta is tokenized
// incrementally as it arrives.
type StreamTokenCounter struct {
	mu           sync.Mutex
	encoder      tokenizer.Codec
	inputTokens  int
	outputTokens int
	reported     bool
}

// NewStreamTokenCounter creates a counter using the o200k_base encoding.
// If the encoding cannot be loaded the counter degrades to a bytes/4
// estimate, the same fallback Estimate uses.
func NewStreamTokenCounter() *StreamTokenCounter {
	enc, _ := tokenizer.Get(tokenizer.O200kBase)
	return &StreamTokenCounter{encoder: enc}
}

func (c *StreamTokenCounter) countTokens(text string) int {
	if text == "" {
		return 0
	}
	if c.encoder == nil {
		return len(text) / 4
	}
	count, err := c.encoder.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return count
}

// ConsumeChunk folds one upstream chunk into the running counts. Usage
// stanzas (typically the final chunk when stream_options.include_usage is
// set) override any estimate accumulated so far.
func (c *StreamTokenCounter) ConsumeChunk(chunk *openai.ChatCompletionChunk) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if chunk.JSON.Usage.Valid() {
		usage := chunk.Usage
		if usage.PromptTokens > 0 {
			c.inputTokens = int(usage.PromptTokens)
		}
		if usage.CompletionTokens > 0 {
			c.outputTokens = int(usage.CompletionTokens)
			c.reported = true
		}
		return
	}
	if c.reported {
		return
	}

	for _, choice := range chunk.Choices {
		if choice.Delta.Content != "" {
			c.outputTokens += c.countTokens(choice.Delta.Content)
		}
		if choice.Delta.Refusal != "" {
			c.outputTokens += c.countTokens(choice.Delta.Refusal)
		}
		for _, toolCall := range choice.Delta.ToolCalls {
			if toolCall.Function.Name != "" {
				c.outputTokens += c.countTokens(toolCall.Function.Name)
			}
			if toolCall.Function.Arguments != "" {
				c.outputTokens += c.countTokens(toolCall.Function.Arguments)
			}
		}
	}
}

// SetInputTokens pre-seeds the input count from a request-side estimate.
func (c *StreamTokenCounter) SetInputTokens(tokens int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inputTokens = tokens
}

// Counts returns the current (input, output) token counts.
func (c *StreamTokenCounter) Counts() (inputTokens, outputTokens int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inputTokens, c.outputTokens
}
