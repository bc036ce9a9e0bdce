// Package dialect recovers tool invocations that models emit as plain text
// instead of structured tool_calls. Each parser recognizes one textual
// dialect; the registry scans the streaming text buffer incrementally and
// applies parsers strictest-first. Structured tool_calls from the backend
// never pass through here.
package dialect

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// ToolCall is a canonical tool invocation recovered from model text.
// ArgumentsJSON is a compact JSON object; Start and End delimit the
// consumed byte range in the scanned buffer.
type ToolCall struct {
	Name          string
	ArgumentsJSON string
	Start         int
	End           int
}

// Parser recognizes one textual tool-call dialect.
type Parser interface {
	// Name identifies the parser in configuration.
	Name() string
	// Detect reports whether text contains a complete candidate (both
	// delimiters present). Cheap; Parse does the full validation.
	Detect(text string) bool
	// Parse extracts the earliest complete, valid match.
	Parse(text string) (ToolCall, bool)
	// Pending returns the byte offset of the earliest candidate whose
	// closing delimiter has not arrived yet, or -1. Text before that
	// offset can never become part of a match for this parser.
	Pending(text string) int
}

// Registry scans accumulated streaming text across a fixed parser order.
type Registry struct {
	parsers []Parser
	cleared int
}

// NewRegistry creates a registry with the given parser order. Earlier
// parsers win ties.
func NewRegistry(parsers ...Parser) *Registry {
	return &Registry{parsers: parsers}
}

// DefaultParsers returns all dialects, strictest first.
func DefaultParsers() []Parser {
	return []Parser{
		&TaggedParser{},
		&FunctionTagParser{},
		&BracketedParser{},
		&FenceParser{},
	}
}

// ParsersFor resolves configured parser names to instances, preserving the
// default strictness order. An empty list selects all dialects.
func ParsersFor(names []string) ([]Parser, error) {
	if len(names) == 0 {
		return DefaultParsers(), nil
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	var out []Parser
	for _, p := range DefaultParsers() {
		if want[p.Name()] {
			out = append(out, p)
			delete(want, p.Name())
		}
	}
	for n := range want {
		return nil, fmt.Errorf("unknown tool-call dialect %q", n)
	}
	return out, nil
}

// Scan examines buf, the full text accumulated so far for one content
// block. It returns a complete match if any parser fires, plus safe: the
// number of leading bytes that are plain text and can never retroactively
// become part of a match. Matched ranges are consumed; the region before a
// consumed match stays cleared on later scans.
func (r *Registry) Scan(buf string) (call ToolCall, ok bool, safe int) {
	if r.cleared > len(buf) {
		r.cleared = len(buf)
	}
	region := buf[r.cleared:]

	for _, p := range r.parsers {
		if !p.Detect(region) {
			continue
		}
		if c, found := p.Parse(region); found {
			c.Start += r.cleared
			c.End += r.cleared
			r.cleared = c.End
			return c, true, c.Start
		}
	}

	// Nothing fired: text up to the earliest still-open candidate is safe.
	hold := len(region)
	for _, p := range r.parsers {
		if at := p.Pending(region); at >= 0 && at < hold {
			hold = at
		}
	}
	return ToolCall{}, false, r.cleared + hold
}

// decodeArgs normalizes a dialect's argument payload into compact JSON.
// Accepts an object, a JSON-stringified object, or an empty payload;
// malformed payloads go through jsonrepair before being rejected.
func decodeArgs(payload string) (string, bool) {
	payload = strings.TrimSpace(payload)
	if payload == "" || payload == "null" {
		return "{}", true
	}

	var v any
	if err := json.Unmarshal([]byte(payload), &v); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(payload)
		if repairErr != nil {
			return "", false
		}
		if err := json.Unmarshal([]byte(repaired), &v); err != nil {
			return "", false
		}
	}

	switch args := v.(type) {
	case map[string]any:
		out, err := json.Marshal(args)
		if err != nil {
			return "", false
		}
		return string(out), true
	case string:
		// Stringified object, one level deep.
		var inner map[string]any
		if err := json.Unmarshal([]byte(args), &inner); err != nil {
			return "", false
		}
		out, err := json.Marshal(inner)
		if err != nil {
			return "", false
		}
		return string(out), true
	default:
		return "", false
	}
}

// tailPrefix reports the offset where a trailing proper prefix of token
// begins, or -1. Catches opening delimiters split across stream deltas.
func tailPrefix(text, token string) int {
	max := len(token) - 1
	if max > len(text) {
		max = len(text)
	}
	for n := max; n > 0; n-- {
		if strings.HasSuffix(text, token[:n]) {
			return len(text) - n
		}
	}
	return -1
}

// scanJSONObject walks one JSON object starting at text[start] (which must
// be '{'), honoring strings and escapes. Returns the index just past the
// closing brace, or -1 when the object is still open.
func scanJSONObject(text string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return -1
}

func isIdentChar(c byte) bool {
	return c == '_' || c == '-' || c == '.' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
