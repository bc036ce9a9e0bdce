package dialect

import (
	"encoding/json"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

const (
	taggedOpen  = "<tool_call>"
	taggedClose = "</tool_call>"
)

// TaggedParser handles the Hermes-style dialect:
//
//	<tool_call>{"name": "ls", "arguments": {"path": "/"}}</tool_call>
type TaggedParser struct{}

func (p *TaggedParser) Name() string { return "tagged" }

func (p *TaggedParser) Detect(text string) bool {
	open := strings.Index(text, taggedOpen)
	if open < 0 {
		return false
	}
	return strings.Contains(text[open+len(taggedOpen):], taggedClose)
}

func (p *TaggedParser) Parse(text string) (ToolCall, bool) {
	from := 0
	for {
		open := strings.Index(text[from:], taggedOpen)
		if open < 0 {
			return ToolCall{}, false
		}
		open += from
		bodyStart := open + len(taggedOpen)
		rel := strings.Index(text[bodyStart:], taggedClose)
		if rel < 0 {
			return ToolCall{}, false
		}
		end := bodyStart + rel + len(taggedClose)
		if call, ok := parseNameArgs(text[bodyStart : bodyStart+rel]); ok {
			call.Start = open
			call.End = end
			return call, true
		}
		// Complete but invalid: keep it as text, keep looking.
		from = end
	}
}

func (p *TaggedParser) Pending(text string) int {
	from := 0
	for {
		open := strings.Index(text[from:], taggedOpen)
		if open < 0 {
			break
		}
		open += from
		bodyStart := open + len(taggedOpen)
		rel := strings.Index(text[bodyStart:], taggedClose)
		if rel < 0 {
			return open
		}
		end := bodyStart + rel + len(taggedClose)
		if _, ok := parseNameArgs(text[bodyStart : bodyStart+rel]); ok {
			return open
		}
		from = end
	}
	if at := tailPrefix(text[from:], taggedOpen); at >= 0 {
		return from + at
	}
	return -1
}

type nameArgsPayload struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// parseNameArgs decodes a {"name": ..., "arguments": ...} payload shared by
// the tagged and fenced dialects. Start/End are left for the caller.
func parseNameArgs(payload string) (ToolCall, bool) {
	payload = strings.TrimSpace(payload)
	if len(payload) == 0 || payload[0] != '{' {
		return ToolCall{}, false
	}

	var body nameArgsPayload
	if err := json.Unmarshal([]byte(payload), &body); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(payload)
		if repairErr != nil {
			return ToolCall{}, false
		}
		if err := json.Unmarshal([]byte(repaired), &body); err != nil {
			return ToolCall{}, false
		}
	}
	if body.Name == "" {
		return ToolCall{}, false
	}

	args, ok := decodeArgs(string(body.Arguments))
	if !ok {
		return ToolCall{}, false
	}
	return ToolCall{Name: body.Name, ArgumentsJSON: args}, true
}
