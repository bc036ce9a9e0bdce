package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// AnthropicMessagesRequest is the inbound Messages request. The SDK params
// carry everything except the stream flag, which the SDK omits because its
// own client sets it per call.
type AnthropicMessagesRequest struct {
	Stream bool `json:"stream"`
	anthropic.MessageNewParams
}

func (r *AnthropicMessagesRequest) UnmarshalJSON(data []byte) error {
	data = NormalizeRawMessagesRequest(data)
	aux := &struct {
		Stream bool `json:"stream"`
	}{}
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}
	var inner anthropic.MessageNewParams
	if err := json.Unmarshal(data, &inner); err != nil {
		return err
	}
	r.Stream = aux.Stream
	r.MessageNewParams = inner
	return nil
}

// Validate applies the structural checks performed before translation.
func (r *AnthropicMessagesRequest) Validate() error {
	if r.Model == "" {
		return NewClientInputError("", "model is required")
	}
	if len(r.Messages) == 0 {
		return NewClientInputError("", "messages must not be empty")
	}
	if r.MaxTokens <= 0 {
		return NewClientInputError("", "max_tokens must be a positive integer")
	}
	return nil
}

// NormalizeRawMessagesRequest rewrites the shorthand forms the Messages API
// accepts into their canonical block forms so the SDK param types can decode
// them: a string system prompt, string message content and string
// tool_result content each become a single text block.
func NormalizeRawMessagesRequest(data []byte) []byte {
	root := gjson.ParseBytes(data)

	var paths []string
	if sys := root.Get("system"); sys.Type == gjson.String {
		paths = append(paths, "system")
	}

	mi := 0
	root.Get("messages").ForEach(func(_, msg gjson.Result) bool {
		content := msg.Get("content")
		switch {
		case content.Type == gjson.String:
			paths = append(paths, fmt.Sprintf("messages.%d.content", mi))
		case content.IsArray():
			bi := 0
			content.ForEach(func(_, block gjson.Result) bool {
				if block.Get("type").String() == "tool_result" {
					if inner := block.Get("content"); inner.Type == gjson.String {
						paths = append(paths, fmt.Sprintf("messages.%d.content.%d.content", mi, bi))
					}
				}
				bi++
				return true
			})
		}
		mi++
		return true
	})

	// Paths are index-based, so in-place replacements do not invalidate
	// the ones that follow.
	for _, path := range paths {
		v := gjson.GetBytes(data, path)
		if v.Type != gjson.String {
			continue
		}
		if out, err := sjson.SetRawBytes(data, path, []byte(textBlockArray(v.Raw))); err == nil {
			data = out
		}
	}
	return data
}

// textBlockArray wraps an already-encoded JSON string in a single-element
// text block array.
func textBlockArray(rawString string) string {
	return `[{"type":"text","text":` + rawString + `}]`
}
