package stream

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssemblerTextAndToolStream(t *testing.T) {
	tr := New("m", WithMessageID("msg_fixture"))

	var events []Event
	events = append(events, tr.Feed(textChunk(t, "Hi"))...)
	events = append(events, tr.Feed(toolChunk(t, 0, "t1", "search", ""))...)
	events = append(events, tr.Feed(toolChunk(t, 0, "", "", `{"q":`))...)
	events = append(events, tr.Feed(toolChunk(t, 0, "", "", `"cats"}`))...)
	events = append(events, tr.Feed(chunkFromJSON(t, `{"id":"chunk","choices":[],"usage":{"prompt_tokens":10,"completion_tokens":7}}`))...)
	events = append(events, tr.Feed(finishChunk(t, "tool_calls"))...)

	asm := NewAssembler()
	for _, ev := range events {
		asm.Record(ev)
	}
	msg := asm.Finish()
	require.NotNil(t, msg)

	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"id": "msg_fixture",
		"type": "message",
		"role": "assistant",
		"content": [
			{"type": "text", "text": "Hi"},
			{"type": "tool_use", "id": "t1", "name": "search", "input": {"q": "cats"}}
		],
		"model": "m",
		"stop_reason": "tool_use",
		"stop_sequence": null,
		"usage": {"input_tokens": 10, "output_tokens": 7}
	}`, string(raw))
}

func TestAssemblerRepairsToolInput(t *testing.T) {
	asm := NewAssembler()
	asm.Record(messageStartEvent("msg_r", "m", 0))
	asm.Record(contentBlockStartEvent(0, blockTypeToolUse, map[string]interface{}{"id": "t1", "name": "write"}))
	asm.Record(contentBlockDeltaEvent(0, map[string]interface{}{
		"type":         deltaTypeInputJSONDelta,
		"partial_json": `{"path": "/tmp/x",}`,
	}))
	asm.Record(contentBlockStopEvent(0))
	asm.Record(messageDeltaEvent(StopReasonToolUse, nil, 1, 2))
	asm.Record(messageStopEvent())

	msg := asm.Finish()
	require.NotNil(t, msg)
	require.Len(t, msg.Content, 1)
	assert.JSONEq(t, `{"path": "/tmp/x"}`, string(msg.Content[0].Input))
}

func TestAssemblerEmptyToolInput(t *testing.T) {
	asm := NewAssembler()
	asm.Record(messageStartEvent("msg_e", "m", 0))
	asm.Record(contentBlockStartEvent(0, blockTypeToolUse, map[string]interface{}{"id": "t1", "name": "ping"}))
	asm.Record(contentBlockStopEvent(0))
	asm.Record(messageDeltaEvent(StopReasonToolUse, nil, 0, 0))
	asm.Record(messageStopEvent())

	msg := asm.Finish()
	require.NotNil(t, msg)

	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"input":{}`)
}

func TestAssemblerThinkingSignature(t *testing.T) {
	tr := New("m", WithMessageID("msg_t"))

	var events []Event
	events = append(events, tr.Feed(chunkFromJSON(t, `{"id":"chunk","choices":[{"index":0,"delta":{"reasoning_content":"mull"}}]}`))...)
	events = append(events, tr.Feed(textChunk(t, "done"))...)
	events = append(events, tr.Feed(finishChunk(t, "stop"))...)

	asm := NewAssembler()
	for _, ev := range events {
		asm.Record(ev)
	}
	raw, err := json.Marshal(asm.Finish())
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"signature":"sig_msg_t"`)
	assert.Contains(t, string(raw), `"thinking":"mull"`)
}

func TestAssemblerNoMessageStart(t *testing.T) {
	asm := NewAssembler()
	assert.Nil(t, asm.Finish())
}

func TestAssemblerMarshalStable(t *testing.T) {
	tr := New("m", WithMessageID("msg_s"))

	var events []Event
	events = append(events, tr.Feed(textChunk(t, "stable"))...)
	events = append(events, tr.Feed(finishChunk(t, "stop"))...)

	asm := NewAssembler()
	for _, ev := range events {
		asm.Record(ev)
	}
	msg := asm.Finish()

	first, err := json.Marshal(msg)
	require.NoError(t, err)
	second, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
