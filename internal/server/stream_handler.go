package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/openai/openai-go/v3"
	"github.com/sirupsen/logrus"

	"github.com/lmbridge/lmbridge/internal/protocol"
	"github.com/lmbridge/lmbridge/internal/protocol/stream"
)

// upstreamChunk carries one backend chunk or the stream's terminal error.
type upstreamChunk struct {
	chunk openai.ChatCompletionChunk
	err   error
}

// startUpstream issues the backend call and pumps its stream into a
// channel so the caller can select over chunks, timers and cancellation.
// The call itself runs on the pump goroutine: some backends hold the
// response headers until the first token is ready, and that silence must
// be covered by keepalives and the watchdog like any other. The channel
// closes when the upstream finishes; a terminal error is delivered as the
// last element.
func (s *Server) startUpstream(ctx context.Context, rs *requestState) <-chan upstreamChunk {
	out := make(chan upstreamChunk)
	go func() {
		defer close(out)
		st := s.clients.Get(rs.backend).ChatCompletionsNewStreaming(ctx, *rs.translation.OpenAI)
		defer st.Close()
		for st.Next() {
			select {
			case out <- upstreamChunk{chunk: st.Current()}:
			case <-ctx.Done():
				return
			}
		}
		if err := st.Err(); err != nil {
			select {
			case out <- upstreamChunk{err: err}:
			case <-ctx.Done():
			}
		}
	}()
	return out
}

// handleStreamingMessages owns the SSE lifecycle for one request:
// message_start goes out before the backend has produced anything,
// keepalive comments cover the prompt-processing gap, the inactivity
// watchdog guarantees a terminal event, and the close path drains queued
// frames before handing the transport back.
func (s *Server) handleStreamingMessages(c *gin.Context, rs *requestState) {
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	clientGone := c.Request.Context().Done()

	writeSSEHeaders(c)
	rs.statusCode = http.StatusOK

	fw := newFrameWriter(c.Writer)
	defer fw.CloseAndDrain(s.config.DrainTimeout())

	tr := stream.New(rs.clientModel,
		stream.WithRegistry(s.registryFor(rs.backend)),
		stream.WithInputTokenEstimate(rs.inputEstimate),
	)
	writeEvents := func(events []stream.Event) bool {
		for _, ev := range events {
			data, err := ev.MarshalData()
			if err != nil {
				logrus.Errorf("Failed to marshal %s event: %v", ev.Name, err)
				continue
			}
			frame := fmt.Sprintf("event: %s\ndata: %s\n\n", ev.Name, data)
			if rs.streamCapture != nil {
				rs.streamCapture.WriteString(frame)
			}
			if err := fw.enqueue(clientGone, []byte(frame)); err != nil {
				return false
			}
		}
		return true
	}

	if !writeEvents(tr.Start()) {
		rs.finishStream(tr, protocol.OutcomeCancelled, "")
		return
	}

	chunks := s.startUpstream(ctx, rs)

	keepalive := time.NewTicker(s.config.KeepaliveInterval())
	defer keepalive.Stop()
	keepaliveCount := 0

	watchdogDelay := s.config.TerminalWatchdog()
	watchdog := time.NewTimer(watchdogDelay)
	defer watchdog.Stop()

	firstChunk := false
	outcome := protocol.OutcomeOK
	errorCode := ""

	for !tr.Done() {
		select {
		case res, ok := <-chunks:
			if !ok {
				// Upstream closed without a finish_reason; terminate as a
				// natural end of turn.
				writeEvents(tr.Finish(""))
				continue
			}
			if res.err != nil {
				pe := protocol.ClassifyUpstream(res.err)
				logrus.Warnf("Upstream stream error for %s: %v", rs.clientModel, res.err)
				outcome, errorCode = pe.Outcome(), pe.Code
				writeEvents([]stream.Event{stream.ErrorEvent(pe.AnthropicType(), pe.Error())})
				writeEvents(tr.Finish(""))
				continue
			}
			if !firstChunk {
				firstChunk = true
				keepalive.Stop()
				rs.firstEvent = time.Since(rs.start)
			}
			resetTimer(watchdog, watchdogDelay)
			if !writeEvents(tr.Feed(res.chunk)) {
				rs.finishStream(tr, protocol.OutcomeCancelled, "")
				return
			}

		case <-keepalive.C:
			if firstChunk {
				continue
			}
			keepaliveCount++
			s.metrics.AddKeepalive()
			if rs.streamCapture != nil {
				fmt.Fprintf(rs.streamCapture, ": keepalive %d\n\n", keepaliveCount)
			}
			if err := fw.WriteComment(clientGone, fmt.Sprintf("keepalive %d", keepaliveCount)); err != nil {
				rs.finishStream(tr, protocol.OutcomeCancelled, "")
				return
			}

		case <-watchdog.C:
			logrus.Warnf("Terminal watchdog fired for %s after %s of upstream silence", rs.clientModel, watchdogDelay)
			s.metrics.AddWatchdogFire()
			cancel()
			outcome, errorCode = protocol.OutcomeTimeout, ""
			writeEvents(tr.Finish(stream.StopReasonEndTurn))

		case <-clientGone:
			rs.finishStream(tr, protocol.OutcomeCancelled, "")
			return
		}
	}

	absorbUsageTail(chunks, tr)

	waited, drained := fw.CloseAndDrain(s.config.DrainTimeout())
	if waited {
		s.metrics.AddDrainWait()
	}
	if !drained {
		logrus.Warnf("SSE drain ceiling expired for %s, closing with frames unflushed", rs.clientModel)
	}
	rs.finishStream(tr, outcome, errorCode)
}

// finishStream copies the transformer's final accounting into the request
// state.
func (rs *requestState) finishStream(tr *stream.Transformer, outcome, errorCode string) {
	rs.outcome = outcome
	rs.errorCode = errorCode
	rs.inputTokens, rs.outputTokens = tr.Usage()
}

// usageTailWindow bounds the wait for a usage-only chunk trailing the
// finish_reason chunk, the ordering stream_options.include_usage produces.
const usageTailWindow = 100 * time.Millisecond

// absorbUsageTail reads what the upstream has left after the terminal
// events went out, folding trailing usage stanzas into the accounting. The
// window keeps a backend that never closes its stream from holding the
// handler.
func absorbUsageTail(chunks <-chan upstreamChunk, tr *stream.Transformer) {
	deadline := time.NewTimer(usageTailWindow)
	defer deadline.Stop()
	for {
		select {
		case res, ok := <-chunks:
			if !ok || res.err != nil {
				return
			}
			tr.Feed(res.chunk)
		case <-deadline.C:
			return
		}
	}
}

// resetTimer reissues a timer without racing a concurrent fire. Only valid
// when the timer's channel has not been received from since the last reset.
func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
