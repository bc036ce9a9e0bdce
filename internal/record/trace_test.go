package record

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func traceFiles(t *testing.T, dir string) []string {
	t.Helper()
	files, err := filepath.Glob(filepath.Join(dir, "*.json"))
	require.NoError(t, err)
	return files
}

func TestTraceWriterDisabled(t *testing.T) {
	tw, err := NewTraceWriter("", "")
	require.NoError(t, err)
	assert.False(t, tw.Enabled())

	// Must be a no-op, not a panic.
	tw.Write(TraceEntry{RequestID: "req1"})

	var nilWriter *TraceWriter
	assert.False(t, nilWriter.Enabled())
	nilWriter.Write(TraceEntry{})
}

func TestTraceWriterWritesRedactedEntry(t *testing.T) {
	dir := t.TempDir()

	tw, err := NewTraceWriter(dir, "")
	require.NoError(t, err)
	require.True(t, tw.Enabled())

	tw.Write(TraceEntry{
		RequestID:  "req-abc",
		Method:     "POST",
		Path:       "/v1/messages",
		StatusCode: 200,
		Outcome:    "ok",
		Model:      "llama-3.1-8b",
		DurationMs: 1200,
		RequestHeaders: map[string]string{
			"authorization": "Bearer sk-inbound",
			"content-type":  "application/json",
		},
		RequestBody:  []byte(`{"model":"llama-3.1-8b","max_tokens":64}`),
		ResponseBody: []byte(`{"id":"msg_1","type":"message"}`),
	})

	files := traceFiles(t, dir)
	require.Len(t, files, 1)
	assert.Contains(t, filepath.Base(files[0]), "req-abc")

	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	content := string(data)

	assert.NotContains(t, content, "sk-inbound")
	assert.Contains(t, content, Redacted)
	assert.Contains(t, content, `"model": "llama-3.1-8b"`)
	assert.Contains(t, content, `"outcome": "ok"`)
}

func TestTraceWriterFilter(t *testing.T) {
	dir := t.TempDir()

	tw, err := NewTraceWriter(dir, `Outcome == "upstream_error"`)
	require.NoError(t, err)

	tw.Write(TraceEntry{RequestID: "ok-req", Outcome: "ok", StatusCode: 200})
	assert.Empty(t, traceFiles(t, dir))

	tw.Write(TraceEntry{RequestID: "bad-req", Outcome: "upstream_error", StatusCode: 502})
	files := traceFiles(t, dir)
	require.Len(t, files, 1)
	assert.Contains(t, filepath.Base(files[0]), "bad-req")
}

func TestTraceWriterFilterOnDuration(t *testing.T) {
	dir := t.TempDir()

	tw, err := NewTraceWriter(dir, "DurationMs > 1000")
	require.NoError(t, err)

	tw.Write(TraceEntry{RequestID: "fast", DurationMs: 100})
	tw.Write(TraceEntry{RequestID: "slow", DurationMs: 5000})

	files := traceFiles(t, dir)
	require.Len(t, files, 1)
	assert.Contains(t, filepath.Base(files[0]), "slow")
}

func TestTraceWriterSetFilter(t *testing.T) {
	dir := t.TempDir()

	tw, err := NewTraceWriter(dir, `StatusCode >= 400`)
	require.NoError(t, err)

	tw.Write(TraceEntry{RequestID: "r1", StatusCode: 200})
	assert.Empty(t, traceFiles(t, dir))

	// Clearing the filter captures everything again.
	require.NoError(t, tw.SetFilter(""))
	tw.Write(TraceEntry{RequestID: "r2", StatusCode: 200})
	assert.Len(t, traceFiles(t, dir), 1)

	assert.Error(t, tw.SetFilter("StatusCode >>>> 2"))
}

func TestTraceWriterInvalidFilter(t *testing.T) {
	_, err := NewTraceWriter(t.TempDir(), "this is not an expression ((")
	assert.Error(t, err)
}
