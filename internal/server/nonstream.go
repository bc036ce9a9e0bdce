package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/lmbridge/lmbridge/internal/cache"
	"github.com/lmbridge/lmbridge/internal/protocol"
	"github.com/lmbridge/lmbridge/internal/protocol/stream"
	"github.com/lmbridge/lmbridge/internal/routing"
)

// handleNonStreamingMessages serves a buffered Messages response. Cacheable
// requests go through the response cache, which collapses identical
// concurrent misses into one upstream call and replays stored responses
// byte for byte.
func (s *Server) handleNonStreamingMessages(c *gin.Context, rs *requestState) {
	traits := routing.RequestTraits{
		Model:        rs.clientModel,
		ToolCount:    len(rs.req.Tools),
		MessageCount: len(rs.req.Messages),
		Streaming:    false,
	}
	eligible := s.cache.Enabled() &&
		(rs.translation.CacheInfo.Eligible() || s.cacheRules.Match(traits))

	var (
		body []byte
		err  error
	)
	if eligible {
		key := cache.Key(rs.backend.Name, rs.clientModel, rs.translation.Fingerprint)
		var served bool
		body, served, err = s.cache.Fetch(key, rs.translation.Fingerprint, func() ([]byte, error) {
			return s.collectMessage(c.Request.Context(), rs)
		})
		rs.cacheHit = served
		if served {
			rs.inputTokens = int(gjson.GetBytes(body, "usage.input_tokens").Int())
			rs.outputTokens = int(gjson.GetBytes(body, "usage.output_tokens").Int())
		}
	} else {
		body, err = s.collectMessage(c.Request.Context(), rs)
	}

	if err != nil {
		s.respondError(c, rs, err)
		return
	}

	rs.outcome = protocol.OutcomeOK
	rs.statusCode = http.StatusOK
	rs.responseBody = body
	c.Data(http.StatusOK, "application/json", body)
}

// collectMessage drives the backend stream through the transformer and
// folds the events into a single response body. The same inactivity
// watchdog as the SSE path applies, but with nothing on the wire yet a
// fire surfaces as a timeout status instead of a synthesized terminal
// event.
func (s *Server) collectMessage(ctx context.Context, rs *requestState) ([]byte, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tr := stream.New(rs.clientModel,
		stream.WithRegistry(s.registryFor(rs.backend)),
		stream.WithInputTokenEstimate(rs.inputEstimate),
	)
	asm := stream.NewAssembler()
	record := func(events []stream.Event) {
		for _, ev := range events {
			asm.Record(ev)
		}
	}
	record(tr.Start())

	chunks := s.startUpstream(ctx, rs)

	watchdogDelay := s.config.TerminalWatchdog()
	watchdog := time.NewTimer(watchdogDelay)
	defer watchdog.Stop()

	firstChunk := false
	for !tr.Done() {
		select {
		case res, ok := <-chunks:
			if !ok {
				record(tr.Finish(""))
				continue
			}
			if res.err != nil {
				cancel()
				return nil, protocol.ClassifyUpstream(res.err)
			}
			if !firstChunk {
				firstChunk = true
				rs.firstEvent = time.Since(rs.start)
			}
			resetTimer(watchdog, watchdogDelay)
			record(tr.Feed(res.chunk))

		case <-watchdog.C:
			logrus.Warnf("Terminal watchdog fired for %s after %s of upstream silence", rs.clientModel, watchdogDelay)
			s.metrics.AddWatchdogFire()
			cancel()
			return nil, protocol.NewTimeoutError("no upstream activity within the terminal watchdog")

		case <-ctx.Done():
			return nil, protocol.NewCancelledError()
		}
	}

	absorbUsageTail(chunks, tr)
	rs.inputTokens, rs.outputTokens = tr.Usage()

	msg := asm.Finish()
	if msg == nil {
		return nil, protocol.NewInternalError(errors.New("no message assembled"))
	}
	// The assembler saw the usage carried in message_delta, which a
	// trailing usage stanza arrives too late to update. The counter is
	// authoritative.
	msg.Usage = stream.AssembledUsage{InputTokens: rs.inputTokens, OutputTokens: rs.outputTokens}
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, protocol.NewInternalError(err)
	}
	return body, nil
}
