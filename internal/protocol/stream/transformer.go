package stream

import (
	"strings"

	"github.com/google/uuid"
	"github.com/openai/openai-go/v3"

	"github.com/lmbridge/lmbridge/internal/protocol/dialect"
	"github.com/lmbridge/lmbridge/internal/protocol/token"
)

type phase int

const (
	phaseIdle phase = iota
	phaseStarted
	phaseDone
)

// pendingToolCall tracks a tool call being assembled from stream chunks.
// input holds everything accumulated so far, which is also exactly what has
// been emitted as input_json_delta fragments.
type pendingToolCall struct {
	id    string
	name  string
	input string
}

// appendArgs merges a new argument fragment and returns the portion not yet
// emitted. Some backends re-send the full accumulated argument string
// instead of just the new suffix; a fragment that extends the current buffer
// is treated as such a retransmission.
func (p *pendingToolCall) appendArgs(fragment string) string {
	next := fragment
	if p.input != "" && strings.HasPrefix(fragment, p.input) {
		next = fragment[len(p.input):]
	}
	p.input += next
	return next
}

// Transformer converts an OpenAI Chat Completions chunk stream into the
// Anthropic Messages event sequence. It is a pure state machine: Feed and
// Finish return the events to write and never touch the transport, so the
// same code path serves SSE responses, non-streaming assembly and tests.
//
// Content blocks are emitted strictly contiguously: a block's
// content_block_stop always precedes the next block's content_block_start,
// and message_stop is emitted exactly once.
type Transformer struct {
	messageID string
	model     string

	phase          phase
	openIndex      int    // currently open content block, -1 when none
	openType       string // block type of the open block
	nextBlockIndex int

	pendingToolCalls      map[int]*pendingToolCall
	toolIndexToBlockIndex map[int]int
	stoppedBlocks         map[int]bool
	toolBlocksEmitted     int
	nativeToolCalls       bool

	// textBuf accumulates all visible text; emittedText is the watermark of
	// what has been flushed as text_delta events. Text between the two is
	// held back while the dialect registry has an unresolved candidate.
	registry    *dialect.Registry
	textBuf     string
	emittedText int

	deltaExtras map[string]interface{}
	counter     *token.StreamTokenCounter

	stopReason string
}

// Option configures a Transformer.
type Option func(*Transformer)

// WithMessageID overrides the generated message id.
func WithMessageID(id string) Option {
	return func(t *Transformer) { t.messageID = id }
}

// WithRegistry sets the dialect registry used for the textual tool-call
// fallback. Passing nil disables the fallback entirely.
func WithRegistry(r *dialect.Registry) Option {
	return func(t *Transformer) { t.registry = r }
}

// WithInputTokenEstimate seeds the input token count reported in usage
// records until the backend reports authoritative numbers.
func WithInputTokenEstimate(n int) Option {
	return func(t *Transformer) { t.counter.SetInputTokens(n) }
}

// New creates a Transformer for a single request. model is echoed back in
// message_start the way the Anthropic API echoes the requested model.
func New(model string, opts ...Option) *Transformer {
	t := &Transformer{
		model:                 model,
		openIndex:             -1,
		pendingToolCalls:      make(map[int]*pendingToolCall),
		toolIndexToBlockIndex: make(map[int]int),
		stoppedBlocks:         make(map[int]bool),
		deltaExtras:           make(map[string]interface{}),
		registry:              dialect.NewRegistry(dialect.DefaultParsers()...),
		counter:               token.NewStreamTokenCounter(),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.messageID == "" {
		t.messageID = "msg_" + strings.ReplaceAll(uuid.New().String(), "-", "")
	}
	return t
}

// MessageID returns the id carried in message_start.
func (t *Transformer) MessageID() string { return t.messageID }

// Done reports whether the terminal events have been emitted.
func (t *Transformer) Done() bool { return t.phase == phaseDone }

// StopReason returns the stop reason emitted in message_delta, or "" while
// the stream is still open.
func (t *Transformer) StopReason() string { return t.stopReason }

// Usage returns the current input and output token counts.
func (t *Transformer) Usage() (inputTokens, outputTokens int) {
	return t.counter.Counts()
}

// Start emits message_start before any upstream chunk has arrived. The
// server uses this in streaming mode so the client sees the stream open
// while the backend is still processing the prompt.
func (t *Transformer) Start() []Event {
	if t.phase != phaseIdle {
		return nil
	}
	return []Event{t.start()}
}

func (t *Transformer) start() Event {
	t.phase = phaseStarted
	inputTokens, _ := t.counter.Counts()
	return messageStartEvent(t.messageID, t.model, inputTokens)
}

// Feed consumes one upstream chunk and returns the Anthropic events it
// produces, zero or more. Chunks arriving after the terminal events have
// been emitted produce no events, but a trailing usage stanza still lands
// in the accounting; stream_options.include_usage delivers usage in a
// bare final chunk after the finish_reason chunk.
func (t *Transformer) Feed(chunk openai.ChatCompletionChunk) []Event {
	if t.phase == phaseDone {
		if chunk.JSON.Usage.Valid() {
			t.counter.ConsumeChunk(&chunk)
		}
		return nil
	}
	t.counter.ConsumeChunk(&chunk)

	var events []Event
	if t.phase == phaseIdle {
		events = append(events, t.start())
	}
	if len(chunk.Choices) == 0 {
		return events
	}
	choice := chunk.Choices[0]
	delta := choice.Delta

	if extras := parseRawJSON(delta.RawJSON()); extras != nil {
		for k, v := range extras {
			// reasoning_content rides along in the delta and becomes a
			// dedicated thinking block.
			if k == openaiFieldReasoningContent {
				if text := extractString(v); text != "" {
					events = append(events, t.thinkingDelta(text)...)
				}
				continue
			}
			if !standardDeltaFields[k] {
				t.deltaExtras[k] = v
			}
		}
	}

	// Refusal text is surfaced as ordinary content.
	if delta.Refusal != "" {
		events = append(events, t.textDelta(delta.Refusal)...)
	}
	if delta.Content != "" {
		events = append(events, t.textDelta(delta.Content)...)
	}
	for _, toolCall := range delta.ToolCalls {
		events = append(events, t.toolCallDelta(toolCall)...)
	}
	if choice.FinishReason != "" {
		events = append(events, t.finish(mapOpenAIFinishReasonToAnthropic(choice.FinishReason), true)...)
	}
	return events
}

// Finish emits whatever is needed to terminate the event sequence: held
// text, the open block's stop, message_delta and message_stop. It is
// idempotent. An empty stopReason picks end_turn, or tool_use when any
// tool_use block was emitted; a non-empty stopReason is used verbatim,
// which is how the watchdog path forces end_turn.
func (t *Transformer) Finish(stopReason string) []Event {
	return t.finish(stopReason, stopReason == "")
}

func (t *Transformer) finish(stopReason string, allowToolOverride bool) []Event {
	if t.phase == phaseDone {
		return nil
	}
	var events []Event
	if t.phase == phaseIdle {
		events = append(events, t.start())
	}
	// An unresolved dialect candidate at end of stream is plain text.
	events = append(events, t.flushTextTo(len(t.textBuf))...)
	events = append(events, t.closeOpenBlock()...)

	if stopReason == "" {
		stopReason = StopReasonEndTurn
	}
	if allowToolOverride && stopReason == StopReasonEndTurn && t.toolBlocksEmitted > 0 {
		stopReason = StopReasonToolUse
	}
	t.stopReason = stopReason
	t.phase = phaseDone

	inputTokens, outputTokens := t.counter.Counts()
	events = append(events, messageDeltaEvent(stopReason, t.deltaExtras, inputTokens, outputTokens))
	events = append(events, messageStopEvent())
	return events
}

// textDelta appends visible text and flushes whatever the dialect registry
// allows. Once native tool_calls have been seen the registry is bypassed:
// the backend speaks the structured protocol, so tool syntax inside text is
// just text.
func (t *Transformer) textDelta(text string) []Event {
	t.textBuf += text
	if t.registry == nil || t.nativeToolCalls {
		return t.flushTextTo(len(t.textBuf))
	}

	var events []Event
	for {
		call, ok, safe := t.registry.Scan(t.textBuf)
		if !ok {
			events = append(events, t.flushTextTo(safe)...)
			return events
		}
		events = append(events, t.flushTextTo(call.Start)...)
		events = append(events, t.closeOpenBlock()...)
		events = append(events, t.syntheticToolUse(call)...)
		t.emittedText = call.End
	}
}

// flushTextTo emits text up to offset n of textBuf, opening a text block
// first when necessary.
func (t *Transformer) flushTextTo(n int) []Event {
	if n > len(t.textBuf) {
		n = len(t.textBuf)
	}
	if n <= t.emittedText {
		return nil
	}
	var events []Event
	if t.openType != blockTypeText {
		events = append(events, t.closeOpenBlock()...)
		index := t.nextBlockIndex
		t.nextBlockIndex++
		t.openIndex, t.openType = index, blockTypeText
		events = append(events, contentBlockStartEvent(index, blockTypeText, map[string]interface{}{
			"text": "",
		}))
	}
	events = append(events, contentBlockDeltaEvent(t.openIndex, map[string]interface{}{
		"type": deltaTypeTextDelta,
		"text": t.textBuf[t.emittedText:n],
	}))
	t.emittedText = n
	return events
}

func (t *Transformer) thinkingDelta(text string) []Event {
	var events []Event
	if t.openType != blockTypeThinking {
		events = append(events, t.closeOpenBlock()...)
		index := t.nextBlockIndex
		t.nextBlockIndex++
		t.openIndex, t.openType = index, blockTypeThinking
		events = append(events, contentBlockStartEvent(index, blockTypeThinking, map[string]interface{}{
			"thinking": "",
		}))
	}
	events = append(events, contentBlockDeltaEvent(t.openIndex, map[string]interface{}{
		"type":     deltaTypeThinkingDelta,
		"thinking": text,
	}))
	return events
}

func (t *Transformer) toolCallDelta(toolCall openai.ChatCompletionChunkChoiceDeltaToolCall) []Event {
	var events []Event
	if !t.nativeToolCalls {
		t.nativeToolCalls = true
		// Any text held back for a dialect candidate is plain text now.
		events = append(events, t.flushTextTo(len(t.textBuf))...)
	}

	openaiIndex := int(toolCall.Index)
	blockIndex, exists := t.toolIndexToBlockIndex[openaiIndex]
	if !exists {
		events = append(events, t.closeOpenBlock()...)
		blockIndex = t.nextBlockIndex
		t.nextBlockIndex++
		t.toolIndexToBlockIndex[openaiIndex] = blockIndex

		id := truncateToolCallID(toolCall.ID)
		if id == "" {
			id = newToolUseID()
		}
		t.pendingToolCalls[blockIndex] = &pendingToolCall{id: id, name: toolCall.Function.Name}
		t.openIndex, t.openType = blockIndex, blockTypeToolUse
		t.toolBlocksEmitted++
		events = append(events, contentBlockStartEvent(blockIndex, blockTypeToolUse, map[string]interface{}{
			"id":    id,
			"name":  toolCall.Function.Name,
			"input": map[string]interface{}{},
		}))
	}

	if toolCall.Function.Arguments != "" {
		fragment := t.pendingToolCalls[blockIndex].appendArgs(toolCall.Function.Arguments)
		// A late fragment for an already-closed block is folded into the
		// buffer but kept out of the stream.
		if fragment != "" && blockIndex == t.openIndex {
			events = append(events, contentBlockDeltaEvent(blockIndex, map[string]interface{}{
				"type":         deltaTypeInputJSONDelta,
				"partial_json": fragment,
			}))
		}
	}
	return events
}

// syntheticToolUse emits a complete tool_use block for a dialect match: the
// arguments are already fully parsed, so the block opens, carries one
// consolidated input_json_delta and closes immediately.
func (t *Transformer) syntheticToolUse(call dialect.ToolCall) []Event {
	index := t.nextBlockIndex
	t.nextBlockIndex++
	id := newToolUseID()
	t.pendingToolCalls[index] = &pendingToolCall{id: id, name: call.Name, input: call.ArgumentsJSON}
	t.stoppedBlocks[index] = true
	t.toolBlocksEmitted++
	return []Event{
		contentBlockStartEvent(index, blockTypeToolUse, map[string]interface{}{
			"id":    id,
			"name":  call.Name,
			"input": map[string]interface{}{},
		}),
		contentBlockDeltaEvent(index, map[string]interface{}{
			"type":         deltaTypeInputJSONDelta,
			"partial_json": call.ArgumentsJSON,
		}),
		contentBlockStopEvent(index),
	}
}

func (t *Transformer) closeOpenBlock() []Event {
	if t.openIndex == -1 {
		return nil
	}
	index := t.openIndex
	t.openIndex, t.openType = -1, ""
	t.stoppedBlocks[index] = true
	return []Event{contentBlockStopEvent(index)}
}

func newToolUseID() string {
	return "toolu_" + strings.ReplaceAll(uuid.New().String(), "-", "")
}
