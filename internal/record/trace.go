package record

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/sirupsen/logrus"
)

// TraceEntry is one captured request/response pair. Bodies are stored as
// received except that credential material is redacted before writing.
type TraceEntry struct {
	Timestamp      time.Time         `json:"timestamp"`
	RequestID      string            `json:"request_id"`
	Method         string            `json:"method"`
	Path           string            `json:"path"`
	StatusCode     int               `json:"status_code"`
	Outcome        string            `json:"outcome"`
	BackendID      string            `json:"backend_id,omitempty"`
	Model          string            `json:"model,omitempty"`
	Streaming      bool              `json:"streaming,omitempty"`
	DurationMs     int64             `json:"duration_ms"`
	RequestHeaders map[string]string `json:"request_headers,omitempty"`
	RequestBody    json.RawMessage   `json:"request_body,omitempty"`
	ResponseBody   json.RawMessage   `json:"response_body,omitempty"`
	// ResponseStream holds the raw SSE text for streaming responses,
	// which is not a single JSON document.
	ResponseStream string `json:"response_stream,omitempty"`
}

// TraceFilterContext is the environment for trace filter expressions.
type TraceFilterContext struct {
	StatusCode int    `expr:"StatusCode"`
	Outcome    string `expr:"Outcome"`
	Method     string `expr:"Method"`
	Path       string `expr:"Path"`
	Model      string `expr:"Model"`
	Backend    string `expr:"Backend"`
	Streaming  bool   `expr:"Streaming"`
	DurationMs int64  `expr:"DurationMs"`
}

// TraceWriter writes one redacted JSON file per captured request under a
// configured directory. An empty directory disables it entirely.
type TraceWriter struct {
	mu      sync.RWMutex
	dir     string
	enabled bool

	filterProgram *vm.Program
}

// NewTraceWriter creates a trace writer rooted at dir. filterExpr, when
// non-empty, is an expr predicate over TraceFilterContext selecting which
// requests to capture; empty captures everything.
func NewTraceWriter(dir, filterExpr string) (*TraceWriter, error) {
	tw := &TraceWriter{dir: dir}
	if dir == "" {
		return tw, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create trace directory: %w", err)
	}
	tw.enabled = true

	if err := tw.SetFilter(filterExpr); err != nil {
		return nil, err
	}
	return tw, nil
}

// Enabled reports whether traces are being written.
func (tw *TraceWriter) Enabled() bool {
	if tw == nil {
		return false
	}
	tw.mu.RLock()
	defer tw.mu.RUnlock()
	return tw.enabled
}

// SetFilter recompiles the capture predicate. An empty expression removes
// the filter so every request is captured.
func (tw *TraceWriter) SetFilter(expression string) error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if expression == "" {
		tw.filterProgram = nil
		return nil
	}

	program, err := expr.Compile(expression, expr.Env(TraceFilterContext{}))
	if err != nil {
		return fmt.Errorf("failed to compile trace filter expression: %w", err)
	}
	tw.filterProgram = program
	return nil
}

// Write captures one entry. Redaction happens here so no call site can
// leak a credential by forgetting it. Failures are logged and never
// propagate to the request path.
func (tw *TraceWriter) Write(entry TraceEntry) {
	if !tw.Enabled() {
		return
	}

	tw.mu.RLock()
	program := tw.filterProgram
	dir := tw.dir
	tw.mu.RUnlock()

	if program != nil {
		env := TraceFilterContext{
			StatusCode: entry.StatusCode,
			Outcome:    entry.Outcome,
			Method:     entry.Method,
			Path:       entry.Path,
			Model:      entry.Model,
			Backend:    entry.BackendID,
			Streaming:  entry.Streaming,
			DurationMs: entry.DurationMs,
		}
		keep, err := expr.Run(program, env)
		if err != nil {
			logrus.Errorf("Failed to evaluate trace filter expression: %v", err)
			return
		}
		if result, ok := keep.(bool); ok && !result {
			return
		}
	}

	redactHeaderMap(entry.RequestHeaders)
	entry.RequestBody = RedactBody(entry.RequestBody)
	entry.ResponseBody = RedactBody(entry.ResponseBody)

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		logrus.Errorf("Failed to marshal trace entry: %v", err)
		return
	}

	name := fmt.Sprintf("%s-%s.json", entry.Timestamp.UTC().Format("20060102-150405"), entry.RequestID)
	if err := os.WriteFile(filepath.Join(dir, name), data, 0644); err != nil {
		logrus.Errorf("Failed to write trace file: %v", err)
	}
}
