package stream

import (
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go/v3"
)

const (
	// OpenAI finish reasons not defined in openai package
	openaiFinishReasonToolCalls = "tool_calls"

	// OpenAI delta fields that map to dedicated Anthropic content blocks
	openaiFieldReasoningContent = "reasoning_content"

	// OpenAI caps tool call IDs at 40 characters
	maxToolCallIDLength = 40
)

// Anthropic stop reasons. Exported so the server layer can synthesize
// terminal events with a well-known reason.
const (
	StopReasonEndTurn       = string(anthropic.BetaStopReasonEndTurn)
	StopReasonMaxTokens     = string(anthropic.BetaStopReasonMaxTokens)
	StopReasonToolUse       = string(anthropic.BetaStopReasonToolUse)
	StopReasonStopSequence  = string(anthropic.BetaStopReasonStopSequence)
	StopReasonContentFilter = string(anthropic.BetaStopReasonRefusal) // "content_filter"
)

const (
	// Anthropic event types
	eventTypeMessageStart      = "message_start"
	eventTypeContentBlockStart = "content_block_start"
	eventTypeContentBlockDelta = "content_block_delta"
	eventTypeContentBlockStop  = "content_block_stop"
	eventTypeMessageDelta      = "message_delta"
	eventTypeMessageStop       = "message_stop"
	eventTypeError             = "error"

	// Anthropic block types
	blockTypeText     = "text"
	blockTypeThinking = "thinking"
	blockTypeToolUse  = "tool_use"

	// Anthropic delta types
	deltaTypeTextDelta      = "text_delta"
	deltaTypeThinkingDelta  = "thinking_delta"
	deltaTypeInputJSONDelta = "input_json_delta"
)

// Event is a single Anthropic SSE event: the event name plus the payload
// that becomes the data line. Data always carries a "type" field equal to
// Name.
type Event struct {
	Name string
	Data map[string]interface{}
}

// MarshalData returns the JSON encoding of the event payload.
func (e Event) MarshalData() ([]byte, error) {
	return json.Marshal(e.Data)
}

// ErrorEvent builds the out-of-band error event emitted inside an
// already-started SSE stream.
func ErrorEvent(errType, message string) Event {
	return Event{
		Name: eventTypeError,
		Data: map[string]interface{}{
			"type": eventTypeError,
			"error": map[string]interface{}{
				"type":    errType,
				"message": message,
			},
		},
	}
}

func messageStartEvent(messageID, model string, inputTokens int) Event {
	return Event{
		Name: eventTypeMessageStart,
		Data: map[string]interface{}{
			"type": eventTypeMessageStart,
			"message": map[string]interface{}{
				"id":            messageID,
				"type":          "message",
				"role":          "assistant",
				"content":       []interface{}{},
				"model":         model,
				"stop_reason":   nil,
				"stop_sequence": nil,
				"usage": map[string]interface{}{
					"input_tokens":  inputTokens,
					"output_tokens": 0,
				},
			},
		},
	}
}

func contentBlockStartEvent(index int, blockType string, initialContent map[string]interface{}) Event {
	contentBlock := map[string]interface{}{
		"type": blockType,
	}
	for k, v := range initialContent {
		contentBlock[k] = v
	}
	return Event{
		Name: eventTypeContentBlockStart,
		Data: map[string]interface{}{
			"type":          eventTypeContentBlockStart,
			"index":         index,
			"content_block": contentBlock,
		},
	}
}

func contentBlockDeltaEvent(index int, delta map[string]interface{}) Event {
	return Event{
		Name: eventTypeContentBlockDelta,
		Data: map[string]interface{}{
			"type":  eventTypeContentBlockDelta,
			"index": index,
			"delta": delta,
		},
	}
}

func contentBlockStopEvent(index int) Event {
	return Event{
		Name: eventTypeContentBlockStop,
		Data: map[string]interface{}{
			"type":  eventTypeContentBlockStop,
			"index": index,
		},
	}
}

func messageDeltaEvent(stopReason string, extras map[string]interface{}, inputTokens, outputTokens int) Event {
	deltaMap := map[string]interface{}{
		"stop_reason":   stopReason,
		"stop_sequence": nil,
	}
	for k, v := range extras {
		deltaMap[k] = v
	}
	return Event{
		Name: eventTypeMessageDelta,
		Data: map[string]interface{}{
			"type":  eventTypeMessageDelta,
			"delta": deltaMap,
			"usage": map[string]interface{}{
				"input_tokens":  inputTokens,
				"output_tokens": outputTokens,
			},
		},
	}
}

func messageStopEvent() Event {
	return Event{
		Name: eventTypeMessageStop,
		Data: map[string]interface{}{
			"type": eventTypeMessageStop,
		},
	}
}

// mapOpenAIFinishReasonToAnthropic converts OpenAI finish_reason to Anthropic stop_reason
func mapOpenAIFinishReasonToAnthropic(finishReason string) string {
	switch finishReason {
	case string(openai.CompletionChoiceFinishReasonStop):
		return StopReasonEndTurn
	case string(openai.CompletionChoiceFinishReasonLength):
		return StopReasonMaxTokens
	case openaiFinishReasonToolCalls:
		return StopReasonToolUse
	case string(openai.CompletionChoiceFinishReasonContentFilter):
		return StopReasonContentFilter
	default:
		return StopReasonEndTurn
	}
}

// parseRawJSON parses raw JSON string into map[string]interface{}
func parseRawJSON(rawJSON string) map[string]interface{} {
	if rawJSON == "" {
		return nil
	}
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(rawJSON), &result); err != nil {
		return nil
	}
	return result
}

// extractString extracts string value from interface{}, handling different types
func extractString(v interface{}) string {
	if v == nil {
		return ""
	}
	switch tv := v.(type) {
	case string:
		return tv
	case []byte:
		return string(tv)
	default:
		return fmt.Sprintf("%v", tv)
	}
}

// truncateToolCallID ensures tool call ID doesn't exceed OpenAI's 40 character limit
func truncateToolCallID(id string) string {
	if len(id) <= maxToolCallIDLength {
		return id
	}
	return id[:maxToolCallIDLength-3] + "..."
}

// standardDeltaFields are chunk delta keys with dedicated handling; anything
// else the backend attaches is carried into the final message_delta.
var standardDeltaFields = map[string]bool{
	"content":                   true,
	"role":                      true,
	"refusal":                   true,
	"tool_calls":                true,
	"function_call":             true,
	"audio":                     true,
	openaiFieldReasoningContent: true,
}
