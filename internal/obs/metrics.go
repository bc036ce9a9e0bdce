package obs

import (
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultLatencyBucketsMs are the histogram bucket upper bounds, in
// milliseconds. The top bounds cover local backends that spend minutes in
// prompt processing before the first token.
var DefaultLatencyBucketsMs = []float64{
	10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000, 120000, 300000,
}

// Metrics holds the process-wide request counters. All methods are safe for
// concurrent use; reads never block writers for long.
type Metrics struct {
	start time.Time

	mu       sync.Mutex
	requests map[string]int64

	keepalivesSent atomic.Int64
	drainWaits     atomic.Int64
	watchdogFires  atomic.Int64

	latency    *Histogram
	firstEvent *Histogram
}

// StreamStats are the streaming-lifecycle counters.
type StreamStats struct {
	KeepalivesSent int64 `json:"keepalives_sent"`
	DrainWaits     int64 `json:"drain_waits"`
	WatchdogFires  int64 `json:"watchdog_fires"`
}

// Snapshot is a point-in-time copy of the counters, shaped for the metrics
// endpoint.
type Snapshot struct {
	UptimeS            float64           `json:"uptime_s"`
	RequestsTotal      map[string]int64  `json:"requests_total"`
	Stream             StreamStats       `json:"stream"`
	LatencyMs          HistogramSnapshot `json:"latency_ms"`
	TimeToFirstEventMs HistogramSnapshot `json:"time_to_first_event_ms"`
}

// NewMetrics creates an empty counter set with uptime starting now.
func NewMetrics() *Metrics {
	return &Metrics{
		start:      time.Now(),
		requests:   make(map[string]int64),
		latency:    NewHistogram(DefaultLatencyBucketsMs),
		firstEvent: NewHistogram(DefaultLatencyBucketsMs),
	}
}

// RecordRequest counts one completed request under its outcome label.
func (m *Metrics) RecordRequest(outcome string) {
	m.mu.Lock()
	m.requests[outcome]++
	m.mu.Unlock()
}

// RecordLatency records total request wall time.
func (m *Metrics) RecordLatency(d time.Duration) {
	m.latency.Observe(d)
}

// RecordFirstEvent records the delay from request arrival to the first
// event written to the client.
func (m *Metrics) RecordFirstEvent(d time.Duration) {
	m.firstEvent.Observe(d)
}

// AddKeepalive counts one keepalive comment written while waiting for the
// backend.
func (m *Metrics) AddKeepalive() {
	m.keepalivesSent.Add(1)
}

// AddDrainWait counts one close that had to wait for buffered bytes to
// flush.
func (m *Metrics) AddDrainWait() {
	m.drainWaits.Add(1)
}

// AddWatchdogFire counts one terminal watchdog expiry.
func (m *Metrics) AddWatchdogFire() {
	m.watchdogFires.Add(1)
}

// Uptime returns the time since the counter set was created.
func (m *Metrics) Uptime() time.Duration {
	return time.Since(m.start)
}

// RequestTotals returns a copy of the per-outcome request counts.
func (m *Metrics) RequestTotals() map[string]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	totals := make(map[string]int64, len(m.requests))
	for outcome, n := range m.requests {
		totals[outcome] = n
	}
	return totals
}

// StreamStats returns the current streaming-lifecycle counters.
func (m *Metrics) StreamStats() StreamStats {
	return StreamStats{
		KeepalivesSent: m.keepalivesSent.Load(),
		DrainWaits:     m.drainWaits.Load(),
		WatchdogFires:  m.watchdogFires.Load(),
	}
}

// Snapshot returns a consistent copy of all counters.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		UptimeS:            m.Uptime().Seconds(),
		RequestsTotal:      m.RequestTotals(),
		Stream:             m.StreamStats(),
		LatencyMs:          m.latency.Snapshot(),
		TimeToFirstEventMs: m.firstEvent.Snapshot(),
	}
}

// Histogram is a fixed-bucket duration histogram with lock-free recording.
type Histogram struct {
	boundsMs []float64
	counts   []atomic.Int64 // len(boundsMs)+1, last is overflow
	count    atomic.Int64
	sumUs    atomic.Int64
	maxUs    atomic.Int64
}

// HistogramBucket is one cumulative bucket: Count observations were <= LE
// milliseconds. LE is "+Inf" for the overflow bucket.
type HistogramBucket struct {
	LE    string `json:"le"`
	Count int64  `json:"count"`
}

// HistogramSnapshot summarizes a histogram for the metrics endpoint.
type HistogramSnapshot struct {
	Count   int64             `json:"count"`
	SumMs   float64           `json:"sum_ms"`
	AvgMs   float64           `json:"avg_ms"`
	MaxMs   float64           `json:"max_ms"`
	Buckets []HistogramBucket `json:"buckets"`
}

// NewHistogram creates a histogram with the given bucket upper bounds in
// milliseconds. Bounds are sorted; an overflow bucket is added implicitly.
func NewHistogram(boundsMs []float64) *Histogram {
	bounds := make([]float64, len(boundsMs))
	copy(bounds, boundsMs)
	sort.Float64s(bounds)
	return &Histogram{
		boundsMs: bounds,
		counts:   make([]atomic.Int64, len(bounds)+1),
	}
}

// Observe records one duration.
func (h *Histogram) Observe(d time.Duration) {
	if d < 0 {
		d = 0
	}
	ms := float64(d) / float64(time.Millisecond)
	idx := sort.SearchFloat64s(h.boundsMs, ms)
	h.counts[idx].Add(1)
	h.count.Add(1)

	us := d.Microseconds()
	h.sumUs.Add(us)
	for {
		cur := h.maxUs.Load()
		if us <= cur || h.maxUs.CompareAndSwap(cur, us) {
			break
		}
	}
}

// Snapshot returns the cumulative bucket counts.
func (h *Histogram) Snapshot() HistogramSnapshot {
	snap := HistogramSnapshot{
		Count:   h.count.Load(),
		SumMs:   float64(h.sumUs.Load()) / 1000,
		MaxMs:   float64(h.maxUs.Load()) / 1000,
		Buckets: make([]HistogramBucket, 0, len(h.counts)),
	}
	if snap.Count > 0 {
		snap.AvgMs = snap.SumMs / float64(snap.Count)
	}

	var cumulative int64
	for i := range h.counts {
		cumulative += h.counts[i].Load()
		le := "+Inf"
		if i < len(h.boundsMs) {
			le = strconv.FormatFloat(h.boundsMs[i], 'f', -1, 64)
		}
		snap.Buckets = append(snap.Buckets, HistogramBucket{LE: le, Count: cumulative})
	}
	return snap
}
