package adaptor

import (
	"encoding/json"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/shared"

	"github.com/lmbridge/lmbridge/internal/protocol"
)

// imagePlaceholder stands in for image blocks sent to backends that cannot
// accept them, so the surrounding message order is preserved.
const imagePlaceholder = "[image]"

// Options controls backend-specific translation behavior.
type Options struct {
	// SupportsImages forwards image blocks as data-URL content parts.
	// When false, images degrade to a text placeholder.
	SupportsImages bool
}

// Translation bundles everything the front-end needs from one request.
type Translation struct {
	OpenAI      *openai.ChatCompletionNewParams
	Fingerprint string
	CacheInfo   CacheInfo
}

// Translate converts a decoded request and its raw body into the backend
// request, the cache fingerprint and the extracted cache markers.
func Translate(anthropicReq *anthropic.MessageNewParams, rawBody []byte, opts Options) (*Translation, error) {
	converted, err := ConvertAnthropicToOpenAIRequest(anthropicReq, opts)
	if err != nil {
		return nil, err
	}
	fp, err := Fingerprint(anthropicReq)
	if err != nil {
		return nil, protocol.NewInternalError(err)
	}
	return &Translation{
		OpenAI:      converted,
		Fingerprint: fp,
		CacheInfo:   ExtractCacheInfo(rawBody),
	}, nil
}

// ConvertAnthropicToOpenAIRequest converts an Anthropic Messages request to
// the Chat Completions shape. Generation controls without an OpenAI
// equivalent are dropped rather than sent empty.
func ConvertAnthropicToOpenAIRequest(anthropicReq *anthropic.MessageNewParams, opts Options) (*openai.ChatCompletionNewParams, error) {
	openaiReq := &openai.ChatCompletionNewParams{
		Model: openai.ChatModel(anthropicReq.Model),
	}

	if IsThinkingEnabled(anthropicReq) {
		openaiReq.SetExtraFields(
			map[string]interface{}{
				"thinking": map[string]interface{}{
					"type": "enabled",
				},
			},
		)
	}

	openaiReq.MaxCompletionTokens = openai.Opt(anthropicReq.MaxTokens)
	if anthropicReq.Temperature.Valid() {
		openaiReq.Temperature = openai.Opt(anthropicReq.Temperature.Value)
	}
	if anthropicReq.TopP.Valid() {
		openaiReq.TopP = openai.Opt(anthropicReq.TopP.Value)
	}
	if len(anthropicReq.StopSequences) > 0 {
		openaiReq.Stop = openai.ChatCompletionNewParamsStopUnion{
			OfStringArray: anthropicReq.StopSequences,
		}
	}
	if anthropicReq.Metadata.UserID.Valid() {
		openaiReq.User = openai.Opt(anthropicReq.Metadata.UserID.Value)
	}

	// System prompt leads the message list.
	if len(anthropicReq.System) > 0 {
		systemStr := ConvertTextBlocksToString(anthropicReq.System)
		openaiReq.Messages = append(openaiReq.Messages, openai.SystemMessage(systemStr))
	}

	// Track tool_use ids as assistant turns are converted so tool_result
	// blocks can be checked against them.
	seenToolUseIDs := make(map[string]bool)
	for _, msg := range anthropicReq.Messages {
		if string(msg.Role) == "assistant" {
			openaiMsg, err := convertAnthropicAssistantMessageToOpenAI(msg, seenToolUseIDs)
			if err != nil {
				return nil, err
			}
			openaiReq.Messages = append(openaiReq.Messages, openaiMsg)
		} else {
			// User messages may contain tool_result blocks, which
			// expand into separate tool-role messages.
			messages, err := convertAnthropicUserMessageToOpenAI(msg, opts, seenToolUseIDs)
			if err != nil {
				return nil, err
			}
			openaiReq.Messages = append(openaiReq.Messages, messages...)
		}
	}

	if len(anthropicReq.Tools) > 0 {
		tools, err := ConvertAnthropicToolsToOpenAI(anthropicReq.Tools)
		if err != nil {
			return nil, err
		}
		openaiReq.Tools = tools
	}

	if hasToolChoice(&anthropicReq.ToolChoice) {
		openaiReq.ToolChoice = ConvertAnthropicToolChoiceToOpenAI(&anthropicReq.ToolChoice)
	}

	return openaiReq, nil
}

// ConvertAnthropicToolsToOpenAI converts tool definitions to OpenAI function
// tools, passing every input_schema through the schema adapter.
func ConvertAnthropicToolsToOpenAI(tools []anthropic.ToolUnionParam) ([]openai.ChatCompletionToolUnionParam, error) {
	if len(tools) == 0 {
		return nil, nil
	}

	out := make([]openai.ChatCompletionToolUnionParam, 0, len(tools))
	names := make(map[string]bool, len(tools))

	for _, t := range tools {
		tool := t.OfTool
		if tool == nil {
			continue
		}
		if names[tool.Name] {
			return nil, protocol.NewClientInputError(protocol.CodeToolSchema,
				"duplicate tool name %q", tool.Name)
		}
		names[tool.Name] = true

		parameters, err := convertInputSchema(tool.Name, tool.InputSchema)
		if err != nil {
			return nil, err
		}

		fn := shared.FunctionDefinitionParam{
			Name:        tool.Name,
			Description: param.Opt[string]{Value: tool.Description.Value},
			Parameters:  parameters,
		}
		out = append(out, openai.ChatCompletionFunctionTool(fn))
	}

	return out, nil
}

// convertInputSchema serializes an input_schema, validates its structure and
// runs it through the schema adapter.
func convertInputSchema(name string, schema anthropic.ToolInputSchemaParam) (map[string]interface{}, error) {
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, protocol.NewClientInputError(protocol.CodeToolSchema,
			"tool %q: input_schema is not serializable", name)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, protocol.NewClientInputError(protocol.CodeToolSchema,
			"tool %q: input_schema must be an object", name)
	}

	if typ, ok := m["type"]; ok {
		if s, isString := collapseTypeArray(typ).(string); !isString || s != "object" {
			return nil, protocol.NewClientInputError(protocol.CodeToolSchema,
				"tool %q: input_schema type must be object", name)
		}
	}
	if props, ok := m["properties"]; ok && props != nil {
		if _, isMap := props.(map[string]interface{}); !isMap {
			return nil, protocol.NewClientInputError(protocol.CodeToolSchema,
				"tool %q: properties must be an object", name)
		}
	}

	return AdaptToolSchema(m), nil
}

// ConvertAnthropicToolChoiceToOpenAI converts tool_choice: auto stays auto,
// any becomes required, none stays none, and a named tool becomes a function
// choice.
func ConvertAnthropicToolChoiceToOpenAI(tc *anthropic.ToolChoiceUnionParam) openai.ChatCompletionToolChoiceOptionUnionParam {
	switch {
	case tc.OfTool != nil:
		return openai.ToolChoiceOptionFunctionToolChoice(
			openai.ChatCompletionNamedToolChoiceFunctionParam{
				Name: tc.OfTool.Name,
			},
		)
	case tc.OfAny != nil:
		return openai.ChatCompletionToolChoiceOptionUnionParam{
			OfAuto: openai.Opt("required"),
		}
	case tc.OfNone != nil:
		return openai.ChatCompletionToolChoiceOptionUnionParam{
			OfAuto: openai.Opt("none"),
		}
	default:
		return openai.ChatCompletionToolChoiceOptionUnionParam{
			OfAuto: openai.Opt("auto"),
		}
	}
}

func hasToolChoice(tc *anthropic.ToolChoiceUnionParam) bool {
	return tc.OfAuto != nil || tc.OfAny != nil || tc.OfTool != nil || tc.OfNone != nil
}

// ConvertTextBlocksToString joins system text blocks with a single LF.
func ConvertTextBlocksToString(blocks []anthropic.TextBlockParam) string {
	parts := make([]string, 0, len(blocks))
	for _, block := range blocks {
		parts = append(parts, block.Text)
	}
	return strings.Join(parts, "\n")
}

// convertToolResultContent extracts the content from a tool result block.
// The content is a list of content blocks (typically just one text block);
// image results degrade to the placeholder.
func convertToolResultContent(content []anthropic.ToolResultBlockParamContentUnion) string {
	var result strings.Builder
	for _, c := range content {
		if c.OfText != nil {
			result.WriteString(c.OfText.Text)
		} else if c.OfImage != nil {
			result.WriteString(imagePlaceholder)
		}
	}
	return result.String()
}

// convertAnthropicAssistantMessageToOpenAI converts an assistant message,
// mapping tool_use blocks to tool_calls and thinking to reasoning_content.
func convertAnthropicAssistantMessageToOpenAI(msg anthropic.MessageParam, seenToolUseIDs map[string]bool) (openai.ChatCompletionMessageParamUnion, error) {
	var textContent string
	var thinking string
	var toolCalls []map[string]interface{}

	for _, block := range msg.Content {
		switch {
		case block.OfText != nil:
			textContent += block.OfText.Text
		case block.OfToolUse != nil:
			seenToolUseIDs[block.OfToolUse.ID] = true
			toolCalls = append(toolCalls, map[string]interface{}{
				"id":   block.OfToolUse.ID,
				"type": "function",
				"function": map[string]interface{}{
					"name":      block.OfToolUse.Name,
					"arguments": stringifyToolInput(block.OfToolUse.Input),
				},
			})
		case block.OfThinking != nil:
			thinking = block.OfThinking.Thinking
		}
	}

	msgMap := map[string]interface{}{
		"role":    "assistant",
		"content": textContent,
	}
	if thinking != "" {
		msgMap["reasoning_content"] = thinking
	}
	if len(toolCalls) > 0 {
		msgMap["tool_calls"] = toolCalls
	}
	return messageFromMap(msgMap)
}

// convertAnthropicUserMessageToOpenAI converts a user message. tool_result
// blocks become separate role="tool" messages; text and image blocks become
// a user message emitted before them.
func convertAnthropicUserMessageToOpenAI(msg anthropic.MessageParam, opts Options, seenToolUseIDs map[string]bool) ([]openai.ChatCompletionMessageParamUnion, error) {
	var parts []map[string]interface{}
	var toolMessages []openai.ChatCompletionMessageParamUnion
	textOnly := true

	for _, block := range msg.Content {
		switch {
		case block.OfText != nil:
			parts = append(parts, map[string]interface{}{
				"type": "text",
				"text": block.OfText.Text,
			})
		case block.OfImage != nil:
			if opts.SupportsImages {
				parts = append(parts, imageContentPart(block.OfImage))
				textOnly = false
			} else {
				parts = append(parts, map[string]interface{}{
					"type": "text",
					"text": imagePlaceholder,
				})
			}
		case block.OfToolResult != nil:
			id := block.OfToolResult.ToolUseID
			if !seenToolUseIDs[id] {
				return nil, protocol.NewClientInputError(protocol.CodeDanglingToolResult,
					"tool_result %q has no matching tool_use", id)
			}
			toolMsg, err := messageFromMap(map[string]interface{}{
				"role":         "tool",
				"tool_call_id": id,
				"content":      convertToolResultContent(block.OfToolResult.Content),
			})
			if err != nil {
				return nil, err
			}
			toolMessages = append(toolMessages, toolMsg)
		}
	}

	var result []openai.ChatCompletionMessageParamUnion
	switch {
	case len(parts) == 0:
		// Nothing besides tool results.
	case textOnly:
		texts := make([]string, 0, len(parts))
		for _, p := range parts {
			texts = append(texts, p["text"].(string))
		}
		if joined := strings.Join(texts, "\n"); joined != "" {
			result = append(result, openai.UserMessage(joined))
		}
	default:
		userMsg, err := messageFromMap(map[string]interface{}{
			"role":    "user",
			"content": parts,
		})
		if err != nil {
			return nil, err
		}
		result = append(result, userMsg)
	}

	return append(result, toolMessages...), nil
}

// imageContentPart renders an image block as an OpenAI image_url part,
// inlining base64 sources as data URLs.
func imageContentPart(img *anthropic.ImageBlockParam) map[string]interface{} {
	var url string
	if img.Source.OfBase64 != nil {
		url = "data:" + string(img.Source.OfBase64.MediaType) + ";base64," + img.Source.OfBase64.Data
	} else if img.Source.OfURL != nil {
		url = img.Source.OfURL.URL
	}
	return map[string]interface{}{
		"type": "image_url",
		"image_url": map[string]interface{}{
			"url": url,
		},
	}
}

// stringifyToolInput renders a tool_use input as the stringified JSON
// arguments OpenAI expects. Absent input becomes an empty object.
func stringifyToolInput(input interface{}) string {
	if input == nil {
		return "{}"
	}
	raw, err := json.Marshal(input)
	if err != nil || string(raw) == "null" {
		return "{}"
	}
	return string(raw)
}

// messageFromMap builds a message union through JSON, which is how variants
// the SDK constructors do not cover are populated (tool role, assistant
// tool_calls, multimodal user parts).
func messageFromMap(m map[string]interface{}) (openai.ChatCompletionMessageParamUnion, error) {
	var result openai.ChatCompletionMessageParamUnion
	raw, err := json.Marshal(m)
	if err != nil {
		return result, protocol.NewInternalError(err)
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return result, protocol.NewInternalError(err)
	}
	return result, nil
}

// IsThinkingEnabled checks if thinking mode is enabled in the Anthropic
// request, either via the thinking param or thinking blocks in history.
func IsThinkingEnabled(anthropicReq *anthropic.MessageNewParams) bool {
	if anthropicReq.Thinking.OfEnabled != nil {
		return true
	}
	for _, msg := range anthropicReq.Messages {
		for _, block := range msg.Content {
			if block.OfThinking != nil {
				return true
			}
		}
	}
	return false
}
