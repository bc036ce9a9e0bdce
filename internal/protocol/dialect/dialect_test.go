package dialect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaggedParser(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		wantOK   bool
		wantName string
		wantArgs string
	}{
		{
			name:     "basic match",
			text:     `Sure. <tool_call>{"name":"ls","arguments":{"path":"/"}}</tool_call>`,
			wantOK:   true,
			wantName: "ls",
			wantArgs: `{"path":"/"}`,
		},
		{
			name:     "arguments as stringified json",
			text:     `<tool_call>{"name":"ls","arguments":"{\"path\":\"/tmp\"}"}</tool_call>`,
			wantOK:   true,
			wantName: "ls",
			wantArgs: `{"path":"/tmp"}`,
		},
		{
			name:     "missing arguments defaults to empty object",
			text:     `<tool_call>{"name":"ping"}</tool_call>`,
			wantOK:   true,
			wantName: "ping",
			wantArgs: `{}`,
		},
		{
			name:     "single quotes repaired",
			text:     `<tool_call>{'name': 'ls', 'arguments': {'path': '/'}}</tool_call>`,
			wantOK:   true,
			wantName: "ls",
			wantArgs: `{"path":"/"}`,
		},
		{
			name:   "unclosed tag does not fire",
			text:   `<tool_call>{"name":"ls","arguments":{"path":"/"}`,
			wantOK: false,
		},
		{
			name:   "missing name stays text",
			text:   `<tool_call>{"arguments":{"path":"/"}}</tool_call>`,
			wantOK: false,
		},
		{
			name:   "no tags",
			text:   `just some prose about <tools>`,
			wantOK: false,
		},
	}

	p := &TaggedParser{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			call, ok := p.Parse(tt.text)
			require.Equal(t, tt.wantOK, ok)
			if ok {
				assert.Equal(t, tt.wantName, call.Name)
				assert.JSONEq(t, tt.wantArgs, call.ArgumentsJSON)
			}
		})
	}
}

func TestTaggedParser_ConsumedRange(t *testing.T) {
	p := &TaggedParser{}
	text := `Sure. <tool_call>{"name":"ls","arguments":{}}</tool_call> done`

	call, ok := p.Parse(text)
	require.True(t, ok)
	assert.Equal(t, len("Sure. "), call.Start)
	assert.Equal(t, `<tool_call>{"name":"ls","arguments":{}}</tool_call>`, text[call.Start:call.End])
}

func TestFunctionTagParser(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		wantOK   bool
		wantName string
		wantArgs string
	}{
		{
			name:     "basic match",
			text:     `<function=get_weather>{"city":"Tokyo"}</function>`,
			wantOK:   true,
			wantName: "get_weather",
			wantArgs: `{"city":"Tokyo"}`,
		},
		{
			name:     "empty body",
			text:     `<function=ping></function>`,
			wantOK:   true,
			wantName: "ping",
			wantArgs: `{}`,
		},
		{
			name:   "name still streaming",
			text:   `<function=get_wea`,
			wantOK: false,
		},
		{
			name:   "whitespace in name stays text",
			text:   `<function=not a name>{}</function>`,
			wantOK: false,
		},
		{
			name:   "unclosed body",
			text:   `<function=ls>{"path":`,
			wantOK: false,
		},
	}

	p := &FunctionTagParser{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			call, ok := p.Parse(tt.text)
			require.Equal(t, tt.wantOK, ok)
			if ok {
				assert.Equal(t, tt.wantName, call.Name)
				assert.JSONEq(t, tt.wantArgs, call.ArgumentsJSON)
			}
		})
	}
}

func TestBracketedParser(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		wantOK   bool
		wantName string
		wantArgs string
	}{
		{
			name:     "basic match",
			text:     `[TOOL_CALLS] get_weather({"city":"Tokyo"})`,
			wantOK:   true,
			wantName: "get_weather",
			wantArgs: `{"city":"Tokyo"}`,
		},
		{
			name:     "no space after marker",
			text:     `[TOOL_CALLS]search({"q":"cats"})`,
			wantOK:   true,
			wantName: "search",
			wantArgs: `{"q":"cats"}`,
		},
		{
			name:     "parens inside string arguments",
			text:     `[TOOL_CALLS] run({"cmd":"echo (hi)"})`,
			wantOK:   true,
			wantName: "run",
			wantArgs: `{"cmd":"echo (hi)"}`,
		},
		{
			name:   "incomplete arguments",
			text:   `[TOOL_CALLS] run({"cmd":"ec`,
			wantOK: false,
		},
		{
			name:   "marker followed by prose stays text",
			text:   `[TOOL_CALLS] and then we called tools`,
			wantOK: false,
		},
	}

	p := &BracketedParser{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			call, ok := p.Parse(tt.text)
			require.Equal(t, tt.wantOK, ok)
			if ok {
				assert.Equal(t, tt.wantName, call.Name)
				assert.JSONEq(t, tt.wantArgs, call.ArgumentsJSON)
			}
		})
	}
}

func TestBracketedParser_ProsePendingResolution(t *testing.T) {
	p := &BracketedParser{}

	// While only the marker has arrived the candidate is pending.
	assert.Equal(t, 0, p.Pending(`[TOOL_CALLS] ru`))

	// Once the text diverges from name( it is disproven.
	assert.Equal(t, -1, p.Pending(`[TOOL_CALLS] ru then prose`))
}

func TestFenceParser(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		wantOK   bool
		wantName string
		wantArgs string
	}{
		{
			name:     "json fence with matching keys",
			text:     "```json\n{\"name\":\"search\",\"arguments\":{\"q\":\"cats\"}}\n```",
			wantOK:   true,
			wantName: "search",
			wantArgs: `{"q":"cats"}`,
		},
		{
			name:     "bare fence",
			text:     "```\n{\"name\":\"ls\",\"arguments\":{}}\n```\n",
			wantOK:   true,
			wantName: "ls",
			wantArgs: `{}`,
		},
		{
			name:   "extra top-level key stays text",
			text:   "```json\n{\"name\":\"ls\",\"arguments\":{},\"id\":1}\n```",
			wantOK: false,
		},
		{
			name:   "ordinary code fence stays text",
			text:   "```go\nfunc main() {}\n```",
			wantOK: false,
		},
		{
			name:   "unclosed fence does not fire",
			text:   "```json\n{\"name\":\"ls\",\"arguments\":{}}",
			wantOK: false,
		},
		{
			name:   "inline backticks are not fences",
			text:   "use ```ls``` to list files",
			wantOK: false,
		},
	}

	p := &FenceParser{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			call, ok := p.Parse(tt.text)
			require.Equal(t, tt.wantOK, ok)
			if ok {
				assert.Equal(t, tt.wantName, call.Name)
				assert.JSONEq(t, tt.wantArgs, call.ArgumentsJSON)
			}
		})
	}
}

func TestRegistry_IncrementalScan(t *testing.T) {
	r := NewRegistry(DefaultParsers()...)

	// Text before any candidate is immediately safe.
	_, ok, safe := r.Scan("Sure. ")
	assert.False(t, ok)
	assert.Equal(t, len("Sure. "), safe)

	// A partial opening tag holds emission at its start.
	buf := "Sure. <tool_"
	_, ok, safe = r.Scan(buf)
	assert.False(t, ok)
	assert.Equal(t, len("Sure. "), safe)

	// Still held while the payload streams.
	buf = `Sure. <tool_call>{"name":"ls","arguments"`
	_, ok, safe = r.Scan(buf)
	assert.False(t, ok)
	assert.Equal(t, len("Sure. "), safe)

	// Fires once the closing delimiter arrives.
	buf = `Sure. <tool_call>{"name":"ls","arguments":{"path":"/"}}</tool_call>`
	call, ok, safe := r.Scan(buf)
	require.True(t, ok)
	assert.Equal(t, "ls", call.Name)
	assert.JSONEq(t, `{"path":"/"}`, call.ArgumentsJSON)
	assert.Equal(t, len("Sure. "), call.Start)
	assert.Equal(t, len(buf), call.End)

	// Consumed ranges are never rescanned.
	buf += " and more text"
	_, ok, safe = r.Scan(buf)
	assert.False(t, ok)
	assert.Equal(t, len(buf), safe)
}

func TestRegistry_DisprovenCandidateReleasesText(t *testing.T) {
	r := NewRegistry(DefaultParsers()...)

	// A complete fence that is not a tool call must stop holding text.
	buf := "see:\n```go\nfunc main() {}\n```\nmore"
	_, ok, safe := r.Scan(buf)
	assert.False(t, ok)
	assert.Equal(t, len(buf), safe)
}

func TestRegistry_ParserOrderWins(t *testing.T) {
	r := NewRegistry(DefaultParsers()...)

	// A fence match sits earlier in the buffer, but the tagged parser is
	// listed first and takes the later match.
	buf := "```json\n{\"name\":\"a\",\"arguments\":{}}\n```\n" +
		`<tool_call>{"name":"b","arguments":{}}</tool_call>`
	call, ok, _ := r.Scan(buf)
	require.True(t, ok)
	assert.Equal(t, "b", call.Name)
}

func TestRegistry_EarlierPositionWinsWithinParser(t *testing.T) {
	r := NewRegistry(DefaultParsers()...)

	buf := `<tool_call>{"name":"first","arguments":{}}</tool_call>` +
		`<tool_call>{"name":"second","arguments":{}}</tool_call>`
	call, ok, _ := r.Scan(buf)
	require.True(t, ok)
	assert.Equal(t, "first", call.Name)

	call, ok, _ = r.Scan(buf)
	require.True(t, ok)
	assert.Equal(t, "second", call.Name)
}

func TestParsersFor(t *testing.T) {
	all, err := ParsersFor(nil)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	subset, err := ParsersFor([]string{"bracketed", "tagged"})
	require.NoError(t, err)
	require.Len(t, subset, 2)
	// Default strictness order is preserved regardless of request order.
	assert.Equal(t, "tagged", subset[0].Name())
	assert.Equal(t, "bracketed", subset[1].Name())

	_, err = ParsersFor([]string{"nope"})
	assert.Error(t, err)
}

func TestDecodeArgs(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
		wantOK  bool
	}{
		{"object", `{"a":1}`, `{"a":1}`, true},
		{"empty", ``, `{}`, true},
		{"null", `null`, `{}`, true},
		{"stringified", `"{\"a\":1}"`, `{"a":1}`, true},
		{"array rejected", `[1,2]`, ``, false},
		{"number rejected", `42`, ``, false},
		{"repairable", `{a: 'b'}`, `{"a":"b"}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := decodeArgs(tt.payload)
			require.Equal(t, tt.wantOK, ok)
			if ok {
				assert.JSONEq(t, tt.want, got)
			}
		})
	}
}
