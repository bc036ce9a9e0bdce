package adaptor

import (
	"encoding/json"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go/v3"
)

// ConvertOpenAIToAnthropicRequest reads a Chat Completions request back into
// Messages form. It is the inverse of ConvertAnthropicToOpenAIRequest for
// text conversations and is used for round-trip checks and trace tooling.
func ConvertOpenAIToAnthropicRequest(req *openai.ChatCompletionNewParams, defaultMaxTokens int64) anthropic.MessageNewParams {
	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	var systemParts []string

	for _, msg := range req.Messages {
		// Union types are read through JSON to reach role and content
		// without per-variant plumbing.
		raw, _ := json.Marshal(msg)
		var m map[string]interface{}
		if err := json.Unmarshal(raw, &m); err != nil {
			continue
		}

		role, _ := m["role"].(string)
		switch role {
		case "system":
			if content, ok := m["content"].(string); ok && content != "" {
				systemParts = append(systemParts, content)
			}

		case "user":
			var blocks []anthropic.ContentBlockParamUnion
			if content, ok := m["content"].(string); ok && content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(content))
			} else if contentParts, ok := m["content"].([]interface{}); ok {
				for _, part := range contentParts {
					if partMap, ok := part.(map[string]interface{}); ok {
						if text, ok := partMap["text"].(string); ok {
							blocks = append(blocks, anthropic.NewTextBlock(text))
						}
					}
				}
			}
			if len(blocks) > 0 {
				messages = append(messages, anthropic.NewUserMessage(blocks...))
			}

		case "assistant":
			var blocks []anthropic.ContentBlockParamUnion
			if content, ok := m["content"].(string); ok && content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(content))
			}
			if toolCalls, ok := m["tool_calls"].([]interface{}); ok {
				for _, tc := range toolCalls {
					call, ok := tc.(map[string]interface{})
					if !ok {
						continue
					}
					fn, ok := call["function"].(map[string]interface{})
					if !ok {
						continue
					}
					id, _ := call["id"].(string)
					name, _ := fn["name"].(string)
					var argsInput interface{}
					if argsStr, ok := fn["arguments"].(string); ok {
						_ = json.Unmarshal([]byte(argsStr), &argsInput)
					}
					blocks = append(blocks, anthropic.NewToolUseBlock(id, argsInput, name))
				}
			}
			if len(blocks) > 0 {
				messages = append(messages, anthropic.NewAssistantMessage(blocks...))
			}

		case "tool":
			// Tool results ride in user-role messages on the way back.
			toolCallID, _ := m["tool_call_id"].(string)
			content, _ := m["content"].(string)
			messages = append(messages, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(toolCallID, content, false),
			))
		}
	}

	maxTokens := req.MaxCompletionTokens.Value
	if maxTokens == 0 {
		maxTokens = req.MaxTokens.Value
	}
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		Messages:  messages,
		MaxTokens: maxTokens,
	}

	if len(systemParts) > 0 {
		params.System = make([]anthropic.TextBlockParam, len(systemParts))
		for i, part := range systemParts {
			params.System[i] = anthropic.TextBlockParam{Text: part}
		}
	}

	return params
}
