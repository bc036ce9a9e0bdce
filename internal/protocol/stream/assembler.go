package stream

import (
	"encoding/json"

	"github.com/kaptinlin/jsonrepair"
)

// AssembledMessage is a complete Anthropic Messages response body built by
// replaying the event sequence. Field order is fixed so marshaling is
// deterministic and cached responses stay byte-stable.
type AssembledMessage struct {
	ID           string           `json:"id"`
	Type         string           `json:"type"`
	Role         string           `json:"role"`
	Content      []AssembledBlock `json:"content"`
	Model        string           `json:"model"`
	StopReason   string           `json:"stop_reason"`
	StopSequence *string          `json:"stop_sequence"`
	Usage        AssembledUsage   `json:"usage"`
}

// AssembledUsage mirrors the usage object of a Messages response.
type AssembledUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// AssembledBlock is one content block of the final response.
type AssembledBlock struct {
	Type      string
	Text      string
	Thinking  string
	Signature string
	ID        string
	Name      string
	Input     json.RawMessage
}

// MarshalJSON emits only the fields that belong to the block type.
func (b AssembledBlock) MarshalJSON() ([]byte, error) {
	m := map[string]interface{}{
		"type": b.Type,
	}
	switch b.Type {
	case blockTypeText:
		m["text"] = b.Text
	case blockTypeThinking:
		m["thinking"] = b.Thinking
		if b.Signature != "" {
			m["signature"] = b.Signature
		}
	case blockTypeToolUse:
		m["id"] = b.ID
		m["name"] = b.Name
		input := b.Input
		if len(input) == 0 {
			input = json.RawMessage("{}")
		}
		m["input"] = input
	}
	return json.Marshal(m)
}

// Assembler folds a stream of events back into a single Messages response.
// It serves non-streaming clients and the response cache.
type Assembler struct {
	id         string
	model      string
	role       string
	stopReason string
	stopSeq    *string
	usage      AssembledUsage

	blocks  map[int]*assembledBlock
	order   []int
	started bool
}

type assembledBlock struct {
	blockType string
	text      string
	thinking  string
	id        string
	name      string
	partial   string
}

// NewAssembler creates an empty Assembler.
func NewAssembler() *Assembler {
	return &Assembler{blocks: make(map[int]*assembledBlock)}
}

// Record folds one event into the assembled state. Unknown event types are
// ignored.
func (a *Assembler) Record(ev Event) {
	switch ev.Name {
	case eventTypeMessageStart:
		a.started = true
		if msg, ok := ev.Data["message"].(map[string]interface{}); ok {
			a.id = extractString(msg["id"])
			a.model = extractString(msg["model"])
			a.role = extractString(msg["role"])
			if usage, ok := msg["usage"].(map[string]interface{}); ok {
				a.usage.InputTokens = intFromAny(usage["input_tokens"])
				a.usage.OutputTokens = intFromAny(usage["output_tokens"])
			}
		}

	case eventTypeContentBlockStart:
		index := intFromAny(ev.Data["index"])
		contentBlock, _ := ev.Data["content_block"].(map[string]interface{})
		block := &assembledBlock{
			blockType: extractString(contentBlock["type"]),
			id:        extractString(contentBlock["id"]),
			name:      extractString(contentBlock["name"]),
		}
		if _, seen := a.blocks[index]; !seen {
			a.order = append(a.order, index)
		}
		a.blocks[index] = block

	case eventTypeContentBlockDelta:
		index := intFromAny(ev.Data["index"])
		block, ok := a.blocks[index]
		if !ok {
			return
		}
		delta, _ := ev.Data["delta"].(map[string]interface{})
		switch extractString(delta["type"]) {
		case deltaTypeTextDelta:
			block.text += extractString(delta["text"])
		case deltaTypeThinkingDelta:
			block.thinking += extractString(delta["thinking"])
		case deltaTypeInputJSONDelta:
			block.partial += extractString(delta["partial_json"])
		}

	case eventTypeMessageDelta:
		if delta, ok := ev.Data["delta"].(map[string]interface{}); ok {
			a.stopReason = extractString(delta["stop_reason"])
			if s := extractString(delta["stop_sequence"]); s != "" {
				a.stopSeq = &s
			}
		}
		if usage, ok := ev.Data["usage"].(map[string]interface{}); ok {
			a.usage.InputTokens = intFromAny(usage["input_tokens"])
			a.usage.OutputTokens = intFromAny(usage["output_tokens"])
		}
	}
}

// Finish returns the assembled response, or nil when no message_start was
// ever recorded.
func (a *Assembler) Finish() *AssembledMessage {
	if !a.started {
		return nil
	}
	role := a.role
	if role == "" {
		role = "assistant"
	}
	stopReason := a.stopReason
	if stopReason == "" {
		stopReason = StopReasonEndTurn
	}

	content := make([]AssembledBlock, 0, len(a.order))
	for _, index := range a.order {
		b := a.blocks[index]
		out := AssembledBlock{Type: b.blockType}
		switch b.blockType {
		case blockTypeText:
			out.Text = b.text
		case blockTypeThinking:
			out.Thinking = b.thinking
			out.Signature = "sig_" + a.id
		case blockTypeToolUse:
			out.ID = b.id
			out.Name = b.name
			out.Input = toolInputJSON(b.partial)
		default:
			continue
		}
		content = append(content, out)
	}

	return &AssembledMessage{
		ID:           a.id,
		Type:         "message",
		Role:         role,
		Content:      content,
		Model:        a.model,
		StopReason:   stopReason,
		StopSequence: a.stopSeq,
		Usage:        a.usage,
	}
}

// toolInputJSON validates accumulated tool input, repairing near-JSON
// before giving up on it.
func toolInputJSON(partial string) json.RawMessage {
	if partial == "" {
		return json.RawMessage("{}")
	}
	if json.Valid([]byte(partial)) {
		return json.RawMessage(partial)
	}
	if repaired, err := jsonrepair.JSONRepair(partial); err == nil && json.Valid([]byte(repaired)) {
		return json.RawMessage(repaired)
	}
	return json.RawMessage("{}")
}

func intFromAny(v interface{}) int {
	switch tv := v.(type) {
	case int:
		return tv
	case int64:
		return int(tv)
	case float64:
		return int(tv)
	}
	return 0
}
