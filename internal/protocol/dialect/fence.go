package dialect

import (
	"encoding/json"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

const fenceToken = "```"

// FenceParser handles the loosest dialect: a fenced code block whose JSON
// object has exactly the top-level keys {name, arguments}.
//
//	```json
//	{"name": "get_weather", "arguments": {"city": "Tokyo"}}
//	```
type FenceParser struct{}

func (p *FenceParser) Name() string { return "json_fence" }

func (p *FenceParser) Detect(text string) bool {
	_, ok := p.Parse(text)
	return ok
}

func (p *FenceParser) Parse(text string) (ToolCall, bool) {
	from := 0
	for {
		open := p.nextFence(text, from)
		if open < 0 {
			return ToolCall{}, false
		}
		bodyStart, ok := p.scanOpening(text, open)
		if !ok {
			from = open + len(fenceToken)
			continue
		}
		if bodyStart < 0 {
			return ToolCall{}, false
		}
		bodyEnd, end := p.findClose(text, bodyStart)
		if bodyEnd < 0 {
			return ToolCall{}, false
		}
		if call, valid := parseFencePayload(text[bodyStart:bodyEnd]); valid {
			call.Start = open
			call.End = end
			return call, true
		}
		from = end
	}
}

func (p *FenceParser) Pending(text string) int {
	from := 0
	for {
		open := p.nextFence(text, from)
		if open < 0 {
			break
		}
		bodyStart, ok := p.scanOpening(text, open)
		if !ok {
			from = open + len(fenceToken)
			continue
		}
		if bodyStart < 0 {
			return open
		}
		bodyEnd, end := p.findClose(text, bodyStart)
		if bodyEnd < 0 {
			return open
		}
		if _, valid := parseFencePayload(text[bodyStart:bodyEnd]); valid {
			return open
		}
		from = end
	}
	if at := tailPrefix(text[from:], fenceToken); at >= 0 {
		abs := from + at
		if abs == 0 || text[abs-1] == '\n' {
			return abs
		}
	}
	return -1
}

// nextFence finds the next fence token at a line start.
func (p *FenceParser) nextFence(text string, from int) int {
	for {
		idx := strings.Index(text[from:], fenceToken)
		if idx < 0 {
			return -1
		}
		abs := from + idx
		if abs == 0 || text[abs-1] == '\n' {
			return abs
		}
		from = abs + len(fenceToken)
	}
}

// scanOpening validates the fence's info string. Returns the body offset
// just past the newline; -1 while the opening line is incomplete, ok false
// for things like inline ``` runs that are not fences.
func (p *FenceParser) scanOpening(text string, open int) (bodyStart int, ok bool) {
	i := open + len(fenceToken)
	for ; i < len(text); i++ {
		c := text[i]
		if c == '\n' {
			return i + 1, true
		}
		if c == '\r' {
			continue
		}
		if !isIdentChar(c) {
			return 0, false
		}
	}
	return -1, true
}

// findClose locates the closing fence line. Returns the body end and the
// offset just past the closing fence (plus one trailing newline, if any);
// (-1, -1) while still open.
func (p *FenceParser) findClose(text string, bodyStart int) (bodyEnd, end int) {
	from := bodyStart
	for {
		var abs int
		if strings.HasPrefix(text[from:], fenceToken) && from == bodyStart {
			abs = from
		} else {
			idx := strings.Index(text[from:], "\n"+fenceToken)
			if idx < 0 {
				return -1, -1
			}
			abs = from + idx + 1
		}
		lineEnd := abs + len(fenceToken)
		// The closing line must hold nothing but the fence.
		for lineEnd < len(text) && text[lineEnd] == '\r' {
			lineEnd++
		}
		if lineEnd == len(text) || text[lineEnd] == '\n' {
			bodyEnd = abs
			if bodyEnd > bodyStart && text[bodyEnd-1] == '\n' {
				bodyEnd--
			}
			end = lineEnd
			if end < len(text) && text[end] == '\n' {
				end++
			}
			return bodyEnd, end
		}
		from = abs + len(fenceToken)
	}
}

// parseFencePayload accepts only objects whose key set is exactly
// {name, arguments}; anything else stays text.
func parseFencePayload(payload string) (ToolCall, bool) {
	payload = strings.TrimSpace(payload)
	if len(payload) == 0 || payload[0] != '{' {
		return ToolCall{}, false
	}

	var keys map[string]json.RawMessage
	if err := json.Unmarshal([]byte(payload), &keys); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(payload)
		if repairErr != nil {
			return ToolCall{}, false
		}
		if err := json.Unmarshal([]byte(repaired), &keys); err != nil {
			return ToolCall{}, false
		}
	}
	if len(keys) != 2 {
		return ToolCall{}, false
	}
	nameRaw, hasName := keys["name"]
	argsRaw, hasArgs := keys["arguments"]
	if !hasName || !hasArgs {
		return ToolCall{}, false
	}

	var name string
	if err := json.Unmarshal(nameRaw, &name); err != nil || name == "" {
		return ToolCall{}, false
	}
	args, ok := decodeArgs(string(argsRaw))
	if !ok {
		return ToolCall{}, false
	}
	return ToolCall{Name: name, ArgumentsJSON: args}, true
}
