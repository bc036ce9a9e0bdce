package dialect

import "strings"

const (
	functionOpen  = "<function="
	functionClose = "</function>"
)

// FunctionTagParser handles the named-function dialect:
//
//	<function=get_weather>{"city": "Tokyo"}</function>
type FunctionTagParser struct{}

func (p *FunctionTagParser) Name() string { return "function_tag" }

func (p *FunctionTagParser) Detect(text string) bool {
	open := strings.Index(text, functionOpen)
	if open < 0 {
		return false
	}
	return strings.Contains(text[open:], functionClose)
}

func (p *FunctionTagParser) Parse(text string) (ToolCall, bool) {
	from := 0
	for {
		open := strings.Index(text[from:], functionOpen)
		if open < 0 {
			return ToolCall{}, false
		}
		open += from
		name, bodyStart, ok := p.scanName(text, open)
		if !ok {
			// Malformed tag; it stays text.
			from = open + len(functionOpen)
			continue
		}
		if bodyStart < 0 {
			// Name still streaming in.
			return ToolCall{}, false
		}
		rel := strings.Index(text[bodyStart:], functionClose)
		if rel < 0 {
			return ToolCall{}, false
		}
		end := bodyStart + rel + len(functionClose)
		if args, argsOK := decodeArgs(text[bodyStart : bodyStart+rel]); argsOK {
			return ToolCall{Name: name, ArgumentsJSON: args, Start: open, End: end}, true
		}
		from = end
	}
}

func (p *FunctionTagParser) Pending(text string) int {
	from := 0
	for {
		open := strings.Index(text[from:], functionOpen)
		if open < 0 {
			break
		}
		open += from
		name, bodyStart, ok := p.scanName(text, open)
		if !ok {
			from = open + len(functionOpen)
			continue
		}
		if bodyStart < 0 {
			return open
		}
		rel := strings.Index(text[bodyStart:], functionClose)
		if rel < 0 {
			return open
		}
		end := bodyStart + rel + len(functionClose)
		if _, argsOK := decodeArgs(text[bodyStart : bodyStart+rel]); argsOK {
			return open
		}
		from = end
		_ = name
	}
	if at := tailPrefix(text[from:], functionOpen); at >= 0 {
		return from + at
	}
	return -1
}

// scanName reads the function name after "<function=". Returns the name and
// the body offset just past '>'; bodyStart is -1 while the name is still
// incomplete, ok is false when the tag is malformed.
func (p *FunctionTagParser) scanName(text string, open int) (name string, bodyStart int, ok bool) {
	i := open + len(functionOpen)
	start := i
	for ; i < len(text); i++ {
		c := text[i]
		if c == '>' {
			if i == start {
				return "", 0, false
			}
			return text[start:i], i + 1, true
		}
		if !isIdentChar(c) {
			return "", 0, false
		}
	}
	return "", -1, true
}
