package dialect

import "strings"

const bracketMarker = "[TOOL_CALLS]"

const (
	bracketComplete = iota
	bracketPending
	bracketMalformed
)

// BracketedParser handles the Mistral-style dialect:
//
//	[TOOL_CALLS] get_weather({"city": "Tokyo"})
type BracketedParser struct{}

func (p *BracketedParser) Name() string { return "bracketed" }

func (p *BracketedParser) Detect(text string) bool {
	open := strings.Index(text, bracketMarker)
	if open < 0 {
		return false
	}
	_, state := p.scanCall(text, open)
	return state == bracketComplete
}

func (p *BracketedParser) Parse(text string) (ToolCall, bool) {
	from := 0
	for {
		open := strings.Index(text[from:], bracketMarker)
		if open < 0 {
			return ToolCall{}, false
		}
		open += from
		call, state := p.scanCall(text, open)
		switch state {
		case bracketComplete:
			return call, true
		case bracketPending:
			return ToolCall{}, false
		default:
			from = open + len(bracketMarker)
		}
	}
}

func (p *BracketedParser) Pending(text string) int {
	from := 0
	for {
		open := strings.Index(text[from:], bracketMarker)
		if open < 0 {
			break
		}
		open += from
		_, state := p.scanCall(text, open)
		if state == bracketComplete || state == bracketPending {
			return open
		}
		from = open + len(bracketMarker)
	}
	if at := tailPrefix(text[from:], bracketMarker); at >= 0 {
		return from + at
	}
	return -1
}

// scanCall walks "name({json})" after the marker at open.
func (p *BracketedParser) scanCall(text string, open int) (ToolCall, int) {
	i := open + len(bracketMarker)
	for i < len(text) && (text[i] == ' ' || text[i] == '\t') {
		i++
	}
	if i == len(text) {
		return ToolCall{}, bracketPending
	}

	nameStart := i
	for i < len(text) && isIdentChar(text[i]) {
		i++
	}
	if i == nameStart {
		return ToolCall{}, bracketMalformed
	}
	if i == len(text) {
		return ToolCall{}, bracketPending
	}
	name := text[nameStart:i]

	if text[i] != '(' {
		return ToolCall{}, bracketMalformed
	}
	i++
	for i < len(text) && (text[i] == ' ' || text[i] == '\t') {
		i++
	}
	if i == len(text) {
		return ToolCall{}, bracketPending
	}
	if text[i] != '{' {
		return ToolCall{}, bracketMalformed
	}

	objStart := i
	objEnd := scanJSONObject(text, objStart)
	if objEnd < 0 {
		return ToolCall{}, bracketPending
	}
	i = objEnd
	for i < len(text) && (text[i] == ' ' || text[i] == '\t') {
		i++
	}
	if i == len(text) {
		return ToolCall{}, bracketPending
	}
	if text[i] != ')' {
		return ToolCall{}, bracketMalformed
	}

	args, ok := decodeArgs(text[objStart:objEnd])
	if !ok {
		return ToolCall{}, bracketMalformed
	}
	return ToolCall{Name: name, ArgumentsJSON: args, Start: open, End: i + 1}, bracketComplete
}
