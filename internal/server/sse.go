package server

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/lmbridge/lmbridge/internal/protocol/stream"
)

// sseFrameQueueSize bounds the per-stream frame queue. A full queue blocks
// the producing side, which propagates backpressure to the upstream read
// loop instead of buffering without limit.
const sseFrameQueueSize = 64

// frameWriter owns the write side of one SSE response. Frames are enqueued
// by the producing goroutine and written by a dedicated writer goroutine;
// CloseAndDrain hands the transport back only after the queue has drained
// or the drain ceiling expired, so the final frames are not cut off by the
// handler returning.
type frameWriter struct {
	w       gin.ResponseWriter
	flusher http.Flusher
	frames  chan []byte
	done    chan struct{}
	closed  bool
}

// newFrameWriter starts the writer goroutine. The caller must have sent
// the response headers already.
func newFrameWriter(w gin.ResponseWriter) *frameWriter {
	fw := &frameWriter{
		w:       w,
		flusher: w,
		frames:  make(chan []byte, sseFrameQueueSize),
		done:    make(chan struct{}),
	}
	go fw.writeLoop()
	return fw
}

func (fw *frameWriter) writeLoop() {
	defer close(fw.done)
	failed := false
	for frame := range fw.frames {
		if failed {
			continue
		}
		if _, err := fw.w.Write(frame); err != nil {
			// Keep consuming so the producer never blocks on a dead
			// connection.
			logrus.Debugf("SSE write failed, discarding remaining frames: %v", err)
			failed = true
			continue
		}
		fw.flusher.Flush()
	}
}

// WriteEvent enqueues one Anthropic SSE event. It blocks while the queue
// is full and gives up when the client context is done.
func (fw *frameWriter) WriteEvent(clientGone <-chan struct{}, ev stream.Event) error {
	data, err := ev.MarshalData()
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "event: %s\n", ev.Name)
	fmt.Fprintf(&buf, "data: %s\n\n", data)
	return fw.enqueue(clientGone, buf.Bytes())
}

// WriteComment enqueues an SSE comment record, which conforming parsers
// ignore but which keeps the transport warm.
func (fw *frameWriter) WriteComment(clientGone <-chan struct{}, text string) error {
	return fw.enqueue(clientGone, []byte(": "+text+"\n\n"))
}

func (fw *frameWriter) enqueue(clientGone <-chan struct{}, frame []byte) error {
	select {
	case fw.frames <- frame:
		return nil
	case <-fw.done:
		return fmt.Errorf("sse writer closed")
	case <-clientGone:
		return fmt.Errorf("client disconnected")
	}
}

// CloseAndDrain closes the queue and waits for the writer to flush what is
// buffered, up to the ceiling. It reports whether the close had to wait on
// buffered frames and whether the drain completed. Safe to call more than
// once.
func (fw *frameWriter) CloseAndDrain(ceiling time.Duration) (waited, drained bool) {
	if fw.closed {
		<-fw.done
		return false, true
	}
	fw.closed = true
	waited = len(fw.frames) > 0
	close(fw.frames)

	select {
	case <-fw.done:
		return waited, true
	case <-time.After(ceiling):
	}

	// Ceiling expired with a write still in flight. Force the pending
	// write to fail so the writer goroutine exits before the handler
	// returns. Not every ResponseWriter supports deadlines; when it does
	// not, all that is left is to wait out the write.
	rc := http.NewResponseController(fw.w)
	if err := rc.SetWriteDeadline(time.Now()); err != nil {
		logrus.Debugf("SSE drain ceiling expired and write deadline unsupported: %v", err)
	}
	<-fw.done
	return waited, false
}

// writeSSEHeaders commits the response to the SSE content type and flushes
// so the client sees the stream open immediately.
func writeSSEHeaders(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()
}
