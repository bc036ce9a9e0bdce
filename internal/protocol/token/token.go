package token

import (
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/tiktoken-go/tokenizer"
)

// Estimate returns a best-effort token count for raw text using tiktoken,
// falling back to the ~4 chars/token heuristic when the tokenizer is
// unavailable.
func Estimate(text string) int {
	if text == "" {
		return 0
	}
	enc, err := tokenizer.Get(tokenizer.O200kBase)
	if err != nil {
		return len(text) / 4
	}
	count, err := enc.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return count
}

// CountRequest approximates the input token count of an inbound messages
// request: system blocks, message content, and tool definitions. Image
// blocks are skipped; this is a text-only approximation.
func CountRequest(params *anthropic.MessageNewParams) (int, error) {
	enc, err := tokenizer.Get(tokenizer.O200kBase)
	if err != nil {
		return 0, fmt.Errorf("failed to get tokenizer: %w", err)
	}

	countOrEstimate := func(text string) int {
		c, err := enc.Count(text)
		if err != nil {
			return len(text) / 4
		}
		return c
	}

	totalTokens := 0

	for _, sys := range params.System {
		totalTokens += countOrEstimate(sys.Text)
	}

	for _, msg := range params.Messages {
		totalTokens += countOrEstimate(string(msg.Role))

		for _, block := range msg.Content {
			switch {
			case block.OfText != nil:
				totalTokens += countOrEstimate(block.OfText.Text)
			case block.OfThinking != nil:
				totalTokens += countOrEstimate(block.OfThinking.Thinking)
			case block.OfToolUse != nil:
				totalTokens += countOrEstimate(block.OfToolUse.Name)
				if raw, err := json.Marshal(block.OfToolUse.Input); err == nil {
					totalTokens += countOrEstimate(string(raw))
				}
			case block.OfToolResult != nil:
				for _, part := range block.OfToolResult.Content {
					if part.OfText != nil {
						totalTokens += countOrEstimate(part.OfText.Text)
					}
				}
			}
		}
	}

	for _, tool := range params.Tools {
		if tool.OfTool == nil {
			continue
		}
		totalTokens += countOrEstimate(tool.OfTool.Name)
		if tool.OfTool.Description.Valid() {
			totalTokens += countOrEstimate(tool.OfTool.Description.Value)
		}
		if raw, err := json.Marshal(tool.OfTool.InputSchema.Properties); err == nil {
			totalTokens += countOrEstimate(string(raw))
		}
	}

	// Request framing overhead.
	totalTokens += 3

	return totalTokens, nil
}
