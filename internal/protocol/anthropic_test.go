package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestAnthropicMessagesRequestUnmarshal(t *testing.T) {
	body := `{
		"model": "qwen3-30b",
		"max_tokens": 1024,
		"stream": true,
		"system": "You are terse.",
		"messages": [
			{"role": "user", "content": "hi"}
		]
	}`

	var req AnthropicMessagesRequest
	require.NoError(t, json.Unmarshal([]byte(body), &req))

	assert.True(t, req.Stream)
	assert.Equal(t, "qwen3-30b", string(req.Model))
	assert.Equal(t, int64(1024), req.MaxTokens)

	require.Len(t, req.System, 1)
	assert.Equal(t, "You are terse.", req.System[0].Text)

	require.Len(t, req.Messages, 1)
	require.Len(t, req.Messages[0].Content, 1)
	require.NotNil(t, req.Messages[0].Content[0].OfText)
	assert.Equal(t, "hi", req.Messages[0].Content[0].OfText.Text)
}

func TestAnthropicMessagesRequestUnmarshalBlockForms(t *testing.T) {
	body := `{
		"model": "m",
		"max_tokens": 64,
		"system": [{"type": "text", "text": "a"}, {"type": "text", "text": "b"}],
		"messages": [
			{"role": "assistant", "content": [{"type": "tool_use", "id": "t1", "name": "ls", "input": {"path": "/"}}]},
			{"role": "user", "content": [{"type": "tool_result", "tool_use_id": "t1", "content": "ok"}]}
		]
	}`

	var req AnthropicMessagesRequest
	require.NoError(t, json.Unmarshal([]byte(body), &req))

	assert.False(t, req.Stream)
	require.Len(t, req.System, 2)

	require.Len(t, req.Messages, 2)
	require.NotNil(t, req.Messages[0].Content[0].OfToolUse)
	assert.Equal(t, "ls", req.Messages[0].Content[0].OfToolUse.Name)

	result := req.Messages[1].Content[0].OfToolResult
	require.NotNil(t, result)
	assert.Equal(t, "t1", result.ToolUseID)
	require.Len(t, result.Content, 1)
	require.NotNil(t, result.Content[0].OfText)
	assert.Equal(t, "ok", result.Content[0].OfText.Text)
}

func TestNormalizeRawMessagesRequest(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		path   string
		expect string
	}{
		{
			name:   "string system becomes text block",
			in:     `{"system":"be brief","messages":[]}`,
			path:   "system.0.text",
			expect: "be brief",
		},
		{
			name:   "string content becomes text block",
			in:     `{"messages":[{"role":"user","content":"hello"}]}`,
			path:   "messages.0.content.0.text",
			expect: "hello",
		},
		{
			name:   "escapes survive rewriting",
			in:     `{"messages":[{"role":"user","content":"line\n\"two\""}]}`,
			path:   "messages.0.content.0.text",
			expect: "line\n\"two\"",
		},
		{
			name:   "tool_result string content becomes text block",
			in:     `{"messages":[{"role":"user","content":[{"type":"tool_result","tool_use_id":"t1","content":"done"}]}]}`,
			path:   "messages.0.content.0.content.0.text",
			expect: "done",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := NormalizeRawMessagesRequest([]byte(tt.in))
			require.True(t, gjson.ValidBytes(out))
			assert.Equal(t, tt.expect, gjson.GetBytes(out, tt.path).String())
		})
	}

	t.Run("block forms pass through untouched", func(t *testing.T) {
		in := `{"system":[{"type":"text","text":"a"}],"messages":[{"role":"user","content":[{"type":"text","text":"b"}]}]}`
		assert.Equal(t, in, string(NormalizeRawMessagesRequest([]byte(in))))
	})
}

func TestAnthropicMessagesRequestValidate(t *testing.T) {
	base := `{"model":"m","max_tokens":16,"messages":[{"role":"user","content":"hi"}]}`

	t.Run("valid", func(t *testing.T) {
		var req AnthropicMessagesRequest
		require.NoError(t, json.Unmarshal([]byte(base), &req))
		assert.NoError(t, req.Validate())
	})

	tests := []struct {
		name string
		body string
		want string
	}{
		{"missing model", `{"max_tokens":16,"messages":[{"role":"user","content":"hi"}]}`, "model"},
		{"empty messages", `{"model":"m","max_tokens":16,"messages":[]}`, "messages"},
		{"missing max_tokens", `{"model":"m","messages":[{"role":"user","content":"hi"}]}`, "max_tokens"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req AnthropicMessagesRequest
			require.NoError(t, json.Unmarshal([]byte(tt.body), &req))

			err := req.Validate()
			require.Error(t, err)
			assert.Equal(t, KindClientInput, Classify(err).Kind)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}
