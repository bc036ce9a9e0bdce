package adaptor

import (
	"encoding/json"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/lmbridge/lmbridge/internal/protocol"
)

func marshalJSON(t *testing.T, v interface{}) string {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return string(raw)
}

func TestConvertAnthropicToOpenAIRequest(t *testing.T) {
	req := &anthropic.MessageNewParams{
		Model:     anthropic.Model("qwen3-30b"),
		MaxTokens: 512,
		System: []anthropic.TextBlockParam{
			{Text: "Be terse."},
			{Text: "Answer in English."},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock("hi")),
		},
	}

	out, err := ConvertAnthropicToOpenAIRequest(req, Options{})
	require.NoError(t, err)

	assert.Equal(t, "qwen3-30b", string(out.Model))
	assert.Equal(t, int64(512), out.MaxCompletionTokens.Value)

	// System blocks join with a single LF and lead the message list.
	require.Len(t, out.Messages, 2)
	assert.JSONEq(t, `{"role":"system","content":"Be terse.\nAnswer in English."}`, marshalJSON(t, out.Messages[0]))
	assert.JSONEq(t, `{"role":"user","content":"hi"}`, marshalJSON(t, out.Messages[1]))

	t.Run("no system prompt means no system message", func(t *testing.T) {
		minimal := &anthropic.MessageNewParams{
			Model:     anthropic.Model("m"),
			MaxTokens: 64,
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock("hi")),
			},
		}
		out, err := ConvertAnthropicToOpenAIRequest(minimal, Options{})
		require.NoError(t, err)
		require.Len(t, out.Messages, 1)
		assert.Equal(t, "user", gjson.Get(marshalJSON(t, out.Messages[0]), "role").String())
	})
}

func TestConvertAnthropicToOpenAIRequestSamplingControls(t *testing.T) {
	req := &anthropic.MessageNewParams{
		Model:         anthropic.Model("m"),
		MaxTokens:     64,
		Temperature:   anthropic.Float(0.2),
		TopP:          anthropic.Float(0.9),
		TopK:          anthropic.Int(40),
		StopSequences: []string{"END", "STOP"},
		Metadata:      anthropic.MetadataParam{UserID: anthropic.String("u1")},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock("hi")),
		},
	}

	out, err := ConvertAnthropicToOpenAIRequest(req, Options{})
	require.NoError(t, err)

	assert.Equal(t, 0.2, out.Temperature.Value)
	assert.Equal(t, 0.9, out.TopP.Value)
	assert.Equal(t, []string{"END", "STOP"}, out.Stop.OfStringArray)
	assert.Equal(t, "u1", out.User.Value)

	// top_k has no Chat Completions equivalent and is dropped.
	assert.False(t, gjson.Get(marshalJSON(t, out), "top_k").Exists())

	t.Run("absent controls are never sent empty", func(t *testing.T) {
		minimal := &anthropic.MessageNewParams{
			Model:     anthropic.Model("m"),
			MaxTokens: 64,
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock("hi")),
			},
		}
		out, err := ConvertAnthropicToOpenAIRequest(minimal, Options{})
		require.NoError(t, err)

		raw := marshalJSON(t, out)
		for _, field := range []string{"temperature", "top_p", "stop", "user"} {
			assert.Falsef(t, gjson.Get(raw, field).Exists(), "field %s should be omitted", field)
		}
	})
}

func TestConvertAnthropicToOpenAIRequestToolFlow(t *testing.T) {
	req := &anthropic.MessageNewParams{
		Model:     anthropic.Model("m"),
		MaxTokens: 64,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock("search cats")),
			anthropic.NewAssistantMessage(
				anthropic.NewTextBlock("Looking. "),
				anthropic.NewToolUseBlock("t1", map[string]interface{}{"q": "cats"}, "search"),
			),
			anthropic.NewUserMessage(
				anthropic.NewToolResultBlock("t1", "42 results", false),
				anthropic.NewTextBlock("summarize them"),
			),
		},
	}

	out, err := ConvertAnthropicToOpenAIRequest(req, Options{})
	require.NoError(t, err)
	require.Len(t, out.Messages, 4)

	assert.JSONEq(t, `{"role":"user","content":"search cats"}`, marshalJSON(t, out.Messages[0]))
	assert.JSONEq(t, `{
		"role": "assistant",
		"content": "Looking. ",
		"tool_calls": [
			{"id": "t1", "type": "function", "function": {"name": "search", "arguments": "{\"q\":\"cats\"}"}}
		]
	}`, marshalJSON(t, out.Messages[1]))

	// Text accompanying tool results precedes the tool messages.
	assert.JSONEq(t, `{"role":"user","content":"summarize them"}`, marshalJSON(t, out.Messages[2]))
	assert.JSONEq(t, `{"role":"tool","tool_call_id":"t1","content":"42 results"}`, marshalJSON(t, out.Messages[3]))
}

func TestConvertAnthropicToOpenAIRequestDanglingToolResult(t *testing.T) {
	tests := []struct {
		name     string
		messages []anthropic.MessageParam
	}{
		{
			name: "no assistant tool_use at all",
			messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewToolResultBlock("t9", "x", false)),
			},
		},
		{
			name: "tool_use only appears later",
			messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewToolResultBlock("t1", "x", false)),
				anthropic.NewAssistantMessage(
					anthropic.NewToolUseBlock("t1", map[string]interface{}{}, "ls"),
				),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := &anthropic.MessageNewParams{
				Model:     anthropic.Model("m"),
				MaxTokens: 64,
				Messages:  tt.messages,
			}
			_, err := ConvertAnthropicToOpenAIRequest(req, Options{})
			require.Error(t, err)

			pe := protocol.Classify(err)
			assert.Equal(t, protocol.KindClientInput, pe.Kind)
			assert.Equal(t, protocol.CodeDanglingToolResult, pe.Code)
		})
	}
}

func TestConvertAnthropicToOpenAIRequestImages(t *testing.T) {
	imageBlock := anthropic.ContentBlockParamUnion{
		OfImage: &anthropic.ImageBlockParam{
			Source: anthropic.ImageBlockParamSourceUnion{
				OfBase64: &anthropic.Base64ImageSourceParam{
					MediaType: "image/png",
					Data:      "aGVsbG8=",
				},
			},
		},
	}
	req := &anthropic.MessageNewParams{
		Model:     anthropic.Model("m"),
		MaxTokens: 64,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock("what is this?"), imageBlock),
		},
	}

	t.Run("placeholder for backends without image support", func(t *testing.T) {
		out, err := ConvertAnthropicToOpenAIRequest(req, Options{})
		require.NoError(t, err)
		require.Len(t, out.Messages, 1)
		assert.JSONEq(t, `{"role":"user","content":"what is this?\n[image]"}`, marshalJSON(t, out.Messages[0]))
	})

	t.Run("data URL parts for supporting backends", func(t *testing.T) {
		out, err := ConvertAnthropicToOpenAIRequest(req, Options{SupportsImages: true})
		require.NoError(t, err)
		require.Len(t, out.Messages, 1)

		raw := marshalJSON(t, out.Messages[0])
		assert.Equal(t, "text", gjson.Get(raw, "content.0.type").String())
		assert.Equal(t, "what is this?", gjson.Get(raw, "content.0.text").String())
		assert.Equal(t, "image_url", gjson.Get(raw, "content.1.type").String())
		assert.Equal(t, "data:image/png;base64,aGVsbG8=", gjson.Get(raw, "content.1.image_url.url").String())
	})
}

func TestConvertAnthropicToOpenAIRequestThinking(t *testing.T) {
	t.Run("thinking param becomes extra field", func(t *testing.T) {
		req := &anthropic.MessageNewParams{
			Model:     anthropic.Model("m"),
			MaxTokens: 64,
			Thinking: anthropic.ThinkingConfigParamUnion{
				OfEnabled: &anthropic.ThinkingConfigEnabledParam{BudgetTokens: 2048},
			},
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock("think hard")),
			},
		}

		out, err := ConvertAnthropicToOpenAIRequest(req, Options{})
		require.NoError(t, err)
		assert.Equal(t, "enabled", gjson.Get(marshalJSON(t, out), "thinking.type").String())
	})

	t.Run("assistant thinking becomes reasoning_content", func(t *testing.T) {
		req := &anthropic.MessageNewParams{
			Model:     anthropic.Model("m"),
			MaxTokens: 64,
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock("solve it")),
				{
					Role: anthropic.MessageParamRoleAssistant,
					Content: []anthropic.ContentBlockParamUnion{
						{OfThinking: &anthropic.ThinkingBlockParam{Thinking: "chain of thought", Signature: "sig"}},
						anthropic.NewTextBlock("answer"),
					},
				},
			},
		}
		require.True(t, IsThinkingEnabled(req))

		out, err := ConvertAnthropicToOpenAIRequest(req, Options{})
		require.NoError(t, err)
		require.Len(t, out.Messages, 2)

		raw := marshalJSON(t, out.Messages[1])
		assert.Equal(t, "assistant", gjson.Get(raw, "role").String())
		assert.Equal(t, "answer", gjson.Get(raw, "content").String())
		assert.Equal(t, "chain of thought", gjson.Get(raw, "reasoning_content").String())
	})

	t.Run("plain request has no thinking field", func(t *testing.T) {
		req := &anthropic.MessageNewParams{
			Model:     anthropic.Model("m"),
			MaxTokens: 64,
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock("hi")),
			},
		}
		require.False(t, IsThinkingEnabled(req))

		out, err := ConvertAnthropicToOpenAIRequest(req, Options{})
		require.NoError(t, err)
		assert.False(t, gjson.Get(marshalJSON(t, out), "thinking").Exists())
	})
}

func TestConvertAnthropicToolsToOpenAI(t *testing.T) {
	tools := []anthropic.ToolUnionParam{{
		OfTool: &anthropic.ToolParam{
			Name:        "get_weather",
			Description: anthropic.Opt("Get the current weather"),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: map[string]interface{}{
					"location": map[string]interface{}{"type": "string"},
					"unit":     map[string]interface{}{"type": []interface{}{"string", "null"}},
				},
				Required: []string{"location"},
			},
		},
	}}

	out, err := ConvertAnthropicToolsToOpenAI(tools)
	require.NoError(t, err)
	require.Len(t, out, 1)

	raw := marshalJSON(t, out[0])
	assert.Equal(t, "function", gjson.Get(raw, "type").String())
	assert.Equal(t, "get_weather", gjson.Get(raw, "function.name").String())
	assert.Equal(t, "Get the current weather", gjson.Get(raw, "function.description").String())
	assert.Equal(t, "object", gjson.Get(raw, "function.parameters.type").String())
	assert.Equal(t, "string", gjson.Get(raw, "function.parameters.properties.location.type").String())
	// The nullable type union collapsed during adaptation.
	assert.Equal(t, "string", gjson.Get(raw, "function.parameters.properties.unit.type").String())
	assert.Equal(t, "location", gjson.Get(raw, "function.parameters.required.0").String())

	t.Run("duplicate names rejected", func(t *testing.T) {
		dup := []anthropic.ToolUnionParam{
			{OfTool: &anthropic.ToolParam{Name: "dup"}},
			{OfTool: &anthropic.ToolParam{Name: "dup"}},
		}
		_, err := ConvertAnthropicToolsToOpenAI(dup)
		require.Error(t, err)
		assert.Equal(t, protocol.CodeToolSchema, protocol.Classify(err).Code)
	})

	t.Run("non-object properties rejected", func(t *testing.T) {
		bad := []anthropic.ToolUnionParam{{
			OfTool: &anthropic.ToolParam{
				Name:        "broken",
				InputSchema: anthropic.ToolInputSchemaParam{Properties: "oops"},
			},
		}}
		_, err := ConvertAnthropicToolsToOpenAI(bad)
		require.Error(t, err)

		pe := protocol.Classify(err)
		assert.Equal(t, protocol.KindClientInput, pe.Kind)
		assert.Equal(t, protocol.CodeToolSchema, pe.Code)
	})
}

func TestConvertAnthropicToolChoiceToOpenAI(t *testing.T) {
	t.Run("auto", func(t *testing.T) {
		tc := anthropic.ToolChoiceUnionParam{OfAuto: &anthropic.ToolChoiceAutoParam{}}
		result := ConvertAnthropicToolChoiceToOpenAI(&tc)
		assert.Equal(t, "auto", result.OfAuto.Value)
	})

	t.Run("any maps to required", func(t *testing.T) {
		tc := anthropic.ToolChoiceUnionParam{OfAny: &anthropic.ToolChoiceAnyParam{}}
		result := ConvertAnthropicToolChoiceToOpenAI(&tc)
		assert.Equal(t, "required", result.OfAuto.Value)
	})

	t.Run("none", func(t *testing.T) {
		tc := anthropic.ToolChoiceUnionParam{OfNone: &anthropic.ToolChoiceNoneParam{}}
		result := ConvertAnthropicToolChoiceToOpenAI(&tc)
		assert.Equal(t, "none", result.OfAuto.Value)
	})

	t.Run("named tool", func(t *testing.T) {
		tc := anthropic.ToolChoiceUnionParam{OfTool: &anthropic.ToolChoiceToolParam{Name: "search"}}
		result := ConvertAnthropicToolChoiceToOpenAI(&tc)
		require.NotNil(t, result.OfFunctionToolChoice)
		assert.Equal(t, "search", result.OfFunctionToolChoice.Function.Name)
	})
}

func TestRoundTripTextConversation(t *testing.T) {
	orig := &anthropic.MessageNewParams{
		Model:     anthropic.Model("m"),
		MaxTokens: 128,
		System:    []anthropic.TextBlockParam{{Text: "sys"}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock("hi")),
			anthropic.NewAssistantMessage(anthropic.NewTextBlock("hello")),
			anthropic.NewUserMessage(anthropic.NewTextBlock("bye")),
		},
	}

	converted, err := ConvertAnthropicToOpenAIRequest(orig, Options{})
	require.NoError(t, err)
	back := ConvertOpenAIToAnthropicRequest(converted, 0)

	assert.Equal(t, "m", string(back.Model))
	assert.Equal(t, int64(128), back.MaxTokens)
	require.Len(t, back.System, 1)
	assert.Equal(t, "sys", back.System[0].Text)

	require.Len(t, back.Messages, len(orig.Messages))
	for i, msg := range orig.Messages {
		assert.Equal(t, msg.Role, back.Messages[i].Role)
		require.NotEmpty(t, back.Messages[i].Content)
		require.NotNil(t, back.Messages[i].Content[0].OfText)
		assert.Equal(t, msg.Content[0].OfText.Text, back.Messages[i].Content[0].OfText.Text)
	}
}

func TestTranslate(t *testing.T) {
	rawBody := []byte(`{
		"model": "m",
		"max_tokens": 64,
		"system": [{"type":"text","text":"cached sys","cache_control":{"type":"ephemeral"}}],
		"messages": [{"role":"user","content":"hi"}]
	}`)

	var req protocol.AnthropicMessagesRequest
	require.NoError(t, json.Unmarshal(rawBody, &req))

	tr, err := Translate(&req.MessageNewParams, rawBody, Options{})
	require.NoError(t, err)

	require.NotNil(t, tr.OpenAI)
	assert.Len(t, tr.Fingerprint, 64)
	assert.True(t, tr.CacheInfo.Eligible())
	require.Len(t, tr.CacheInfo.Segments, 1)
	assert.Equal(t, "system.0", tr.CacheInfo.Segments[0].Path)
}
