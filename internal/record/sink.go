// Package record owns the filesystem sinks: the append-only request log
// and the redacted per-request trace files. Sink failures are logged and
// never fail a request.
package record

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/lmbridge/lmbridge/pkg/daemon"
)

// LogEntry is one line of the request log, appended at response
// completion.
type LogEntry struct {
	Timestamp    string `json:"timestamp"`
	RequestID    string `json:"request_id"`
	SystemBytes  int    `json:"system_bytes"`
	ToolCount    int    `json:"tool_count"`
	MessageCount int    `json:"message_count"`
	Streaming    bool   `json:"streaming"`
	BackendID    string `json:"backend_id"`
	Model        string `json:"model"`
	DurationMs   int64  `json:"duration_ms"`
	Outcome      string `json:"outcome"`
	CacheHit     bool   `json:"cache_hit,omitempty"`
	Error        string `json:"error,omitempty"`
}

// RequestLog appends entries as JSONL through a rotating writer. An empty
// path disables it; all methods are safe on a disabled or nil log.
type RequestLog struct {
	mu     sync.Mutex
	writer *lumberjack.Logger
	enc    *json.Encoder
}

// NewRequestLog creates a request log writing to path.
func NewRequestLog(path string) *RequestLog {
	if path == "" {
		return &RequestLog{}
	}
	writer := daemon.NewLogger(daemon.DefaultLogRotationConfig(path))
	return &RequestLog{
		writer: writer,
		enc:    json.NewEncoder(writer),
	}
}

// Enabled reports whether entries are being written.
func (l *RequestLog) Enabled() bool {
	return l != nil && l.writer != nil
}

// Write appends one entry, filling in the timestamp and request id when
// absent.
func (l *RequestLog) Write(entry LogEntry) {
	if !l.Enabled() {
		return
	}

	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	if entry.RequestID == "" {
		entry.RequestID = uuid.New().String()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.enc.Encode(entry); err != nil {
		logrus.Errorf("Failed to write request log entry: %v", err)
	}
}

// Close flushes and closes the underlying file.
func (l *RequestLog) Close() {
	if !l.Enabled() {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.writer.Close(); err != nil {
		logrus.Errorf("Failed to close request log: %v", err)
	}
}
