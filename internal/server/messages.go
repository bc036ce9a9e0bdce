package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/openai/openai-go/v3"
	"github.com/sirupsen/logrus"

	"github.com/lmbridge/lmbridge/internal/config"
	"github.com/lmbridge/lmbridge/internal/obs/otel"
	"github.com/lmbridge/lmbridge/internal/protocol"
	"github.com/lmbridge/lmbridge/internal/protocol/dialect"
	"github.com/lmbridge/lmbridge/internal/protocol/token"
	"github.com/lmbridge/lmbridge/internal/record"
	"github.com/lmbridge/lmbridge/internal/routing"
	"github.com/lmbridge/lmbridge/pkg/adaptor"
)

// requestState carries one Messages request through translation, the
// backend exchange and the completion records written afterwards.
type requestState struct {
	start       time.Time
	requestID   string
	clientModel string
	streaming   bool
	backend     config.Backend

	req           *protocol.AnthropicMessagesRequest
	rawBody       []byte
	translation   *adaptor.Translation
	inputEstimate int

	outcome      string
	errorCode    string
	errMsg       string
	statusCode   int
	cacheHit     bool
	inputTokens  int
	outputTokens int
	firstEvent   time.Duration

	responseBody  []byte
	streamCapture *bytes.Buffer
}

// requestShape returns the request dimensions recorded in the log entry.
func (rs *requestState) requestShape() (systemBytes, toolCount, messageCount int) {
	if rs.req == nil {
		return 0, 0, 0
	}
	return len(adaptor.ConvertTextBlocksToString(rs.req.System)),
		len(rs.req.Tools),
		len(rs.req.Messages)
}

// AnthropicMessages handles POST /v1/messages: decode and validate the
// inbound request, translate it for the routed backend and dispatch to the
// streaming or buffered response path.
func (s *Server) AnthropicMessages(c *gin.Context) {
	rs := &requestState{start: time.Now(), requestID: uuid.New().String()}
	defer s.finalize(c, rs)

	bodyBytes, err := c.GetRawData()
	if err != nil {
		s.respondError(c, rs, protocol.NewClientInputError("", "failed to read request body: %v", err))
		return
	}
	rs.rawBody = bodyBytes

	var req protocol.AnthropicMessagesRequest
	if err := json.Unmarshal(bodyBytes, &req); err != nil {
		logrus.Debugf("Failed to unmarshal messages request: %v", err)
		s.respondError(c, rs, protocol.NewClientInputError("", "invalid request body: %v", err))
		return
	}
	if err := req.Validate(); err != nil {
		s.respondError(c, rs, err)
		return
	}
	rs.req = &req
	rs.clientModel = string(req.Model)
	rs.streaming = req.Stream

	rs.backend = s.router.Resolve(rs.clientModel)
	translation, err := adaptor.Translate(&req.MessageNewParams, bodyBytes, adaptor.Options{
		SupportsImages: routing.SupportsImages(rs.backend, rs.clientModel),
	})
	if err != nil {
		s.respondError(c, rs, err)
		return
	}
	rs.translation = translation

	// Ask the backend for its own usage numbers; backends that ignore
	// stream_options fall back to the request-side estimate.
	translation.OpenAI.StreamOptions = openai.ChatCompletionStreamOptionsParam{
		IncludeUsage: openai.Bool(true),
	}
	if estimate, err := token.CountRequest(&req.MessageNewParams); err == nil {
		rs.inputEstimate = estimate
	}

	logrus.Debugf("Messages request %s: model=%s backend=%s streaming=%v tools=%d",
		rs.requestID, rs.clientModel, rs.backend.Name, rs.streaming, len(req.Tools))

	if req.Stream {
		if s.traceWriter.Enabled() {
			rs.streamCapture = new(bytes.Buffer)
		}
		s.handleStreamingMessages(c, rs)
	} else {
		s.handleNonStreamingMessages(c, rs)
	}
}

// respondError classifies err, records it on the request state and writes
// the Anthropic error envelope. Only valid before response headers have
// been sent.
func (s *Server) respondError(c *gin.Context, rs *requestState, err error) {
	pe := protocol.Classify(err)
	rs.outcome = pe.Outcome()
	rs.errorCode = pe.Code
	rs.errMsg = pe.Error()

	status, body := protocol.NewErrorResponse(pe)
	rs.statusCode = status
	c.JSON(status, body)
}

// finalize writes the completion records for one request: counters, the
// request log line, the OTel instruments and the optional trace file.
func (s *Server) finalize(c *gin.Context, rs *requestState) {
	if rs.outcome == "" {
		rs.outcome = protocol.OutcomeInternalError
	}
	duration := time.Since(rs.start)

	s.metrics.RecordRequest(rs.outcome)
	s.metrics.RecordLatency(duration)
	if rs.firstEvent > 0 {
		s.metrics.RecordFirstEvent(rs.firstEvent)
	}

	systemBytes, toolCount, messageCount := rs.requestShape()
	s.requestLog.Write(record.LogEntry{
		RequestID:    rs.requestID,
		SystemBytes:  systemBytes,
		ToolCount:    toolCount,
		MessageCount: messageCount,
		Streaming:    rs.streaming,
		BackendID:    rs.backend.Name,
		Model:        rs.clientModel,
		DurationMs:   duration.Milliseconds(),
		Outcome:      rs.outcome,
		CacheHit:     rs.cacheHit,
		Error:        rs.errMsg,
	})

	s.tracker.RecordRequest(c.Request.Context(), otel.RequestMetrics{
		Backend:          rs.backend.Name,
		Model:            rs.clientModel,
		Streaming:        rs.streaming,
		Outcome:          rs.outcome,
		ErrorCode:        rs.errorCode,
		CacheHit:         rs.cacheHit,
		InputTokens:      rs.inputTokens,
		OutputTokens:     rs.outputTokens,
		Latency:          duration,
		TimeToFirstEvent: rs.firstEvent,
	})

	if s.traceWriter.Enabled() {
		entry := record.TraceEntry{
			RequestID:      rs.requestID,
			Method:         c.Request.Method,
			Path:           c.Request.URL.Path,
			StatusCode:     rs.statusCode,
			Outcome:        rs.outcome,
			BackendID:      rs.backend.Name,
			Model:          rs.clientModel,
			Streaming:      rs.streaming,
			DurationMs:     duration.Milliseconds(),
			RequestHeaders: record.RedactHeaders(c.Request.Header),
			RequestBody:    rs.rawBody,
			ResponseBody:   rs.responseBody,
		}
		if rs.streamCapture != nil {
			entry.ResponseStream = rs.streamCapture.String()
		}
		s.traceWriter.Write(entry)
	}

	if rs.statusCode != http.StatusOK {
		logrus.Debugf("Messages request %s finished: status=%d outcome=%s duration=%s",
			rs.requestID, rs.statusCode, rs.outcome, duration)
	}
}

// registryFor builds the dialect registry for a backend's configured
// parser order. The list is validated at config load, so a failure here
// means the config changed underneath us; fall back to the default order.
func (s *Server) registryFor(b config.Backend) *dialect.Registry {
	parsers, err := dialect.ParsersFor(b.Parsers)
	if err != nil {
		logrus.Warnf("Invalid parsers for backend %s: %v", b.Name, err)
		parsers = dialect.DefaultParsers()
	}
	return dialect.NewRegistry(parsers...)
}
