package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/lmbridge/lmbridge/internal/cache"
	"github.com/lmbridge/lmbridge/internal/obs"
)

// RequestMetrics describes one completed proxy request for export.
type RequestMetrics struct {
	// Backend is the configured backend id that served the request.
	Backend string

	// Model is the model sent upstream.
	Model string

	// RequestModel is the model the client asked for, when a routing rule
	// rewrote it. Empty when identical to Model.
	RequestModel string

	// Streaming indicates whether the client requested a stream.
	Streaming bool

	// Outcome is the request outcome label.
	Outcome string

	// ErrorCode is the error code for non-ok outcomes.
	ErrorCode string

	// CacheHit marks a response served from the cache.
	CacheHit bool

	// InputTokens and OutputTokens are best-effort token counts.
	InputTokens  int
	OutputTokens int

	// Latency is the total request wall time.
	Latency time.Duration

	// TimeToFirstEvent is the delay to the first event written.
	TimeToFirstEvent time.Duration
}

// RequestTracker records per-request metrics on OTel instruments.
type RequestTracker struct {
	requests    metric.Int64Counter
	latency     metric.Float64Histogram
	firstEvent  metric.Float64Histogram
	tokens      metric.Int64Counter
	totalTokens metric.Int64Counter
}

// NewRequestTracker creates the synchronous instruments on meter.
func NewRequestTracker(meter metric.Meter) (*RequestTracker, error) {
	rt := &RequestTracker{}

	var err error

	rt.requests, err = meter.Int64Counter(
		"proxy.request.count",
		metric.WithDescription("Completed proxy requests by outcome"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	rt.latency, err = meter.Float64Histogram(
		"proxy.request.duration",
		metric.WithDescription("Total request wall time in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	rt.firstEvent, err = meter.Float64Histogram(
		"proxy.request.time_to_first_event",
		metric.WithDescription("Delay from request arrival to the first event written"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	rt.tokens, err = meter.Int64Counter(
		"llm.token.usage",
		metric.WithDescription("LLM token usage by type (input/output)"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, err
	}

	rt.totalTokens, err = meter.Int64Counter(
		"llm.token.total",
		metric.WithDescription("Total LLM tokens consumed (input + output)"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, err
	}

	return rt, nil
}

// RecordRequest records one completed request. Safe to call on a nil
// tracker, which makes a disabled pipeline free at call sites.
func (rt *RequestTracker) RecordRequest(ctx context.Context, m RequestMetrics) {
	if rt == nil {
		return
	}

	commonAttrs := []attribute.KeyValue{
		AttrBackend.String(m.Backend),
		AttrModel.String(m.Model),
		AttrStreaming.Bool(m.Streaming),
		AttrOutcome.String(m.Outcome),
	}
	if m.RequestModel != "" && m.RequestModel != m.Model {
		commonAttrs = append(commonAttrs, AttrRequestModel.String(m.RequestModel))
	}
	if m.ErrorCode != "" {
		commonAttrs = append(commonAttrs, AttrErrorCode.String(m.ErrorCode))
	}
	if m.CacheHit {
		commonAttrs = append(commonAttrs, AttrCacheHit.Bool(true))
	}

	rt.requests.Add(ctx, 1, metric.WithAttributes(commonAttrs...))

	if m.Latency > 0 {
		rt.latency.Record(ctx, float64(m.Latency)/float64(time.Millisecond), metric.WithAttributes(commonAttrs...))
	}
	if m.TimeToFirstEvent > 0 {
		rt.firstEvent.Record(ctx, float64(m.TimeToFirstEvent)/float64(time.Millisecond), metric.WithAttributes(commonAttrs...))
	}

	if m.InputTokens > 0 {
		inputAttrs := append(commonAttrs, AttrTokenType.String("input"))
		rt.tokens.Add(ctx, int64(m.InputTokens), metric.WithAttributes(inputAttrs...))
	}
	if m.OutputTokens > 0 {
		outputAttrs := append(commonAttrs, AttrTokenType.String("output"))
		rt.tokens.Add(ctx, int64(m.OutputTokens), metric.WithAttributes(outputAttrs...))
	}
	if total := m.InputTokens + m.OutputTokens; total > 0 {
		rt.totalTokens.Add(ctx, int64(total), metric.WithAttributes(commonAttrs...))
	}
}

// RegisterStateObservers mirrors the cache and stream counters as
// observable instruments so the export pipeline carries them without a
// second set of books.
func RegisterStateObservers(meter metric.Meter, cacheStats func() cache.Stats, streamStats func() obs.StreamStats) error {
	cacheHits, err := meter.Int64ObservableCounter(
		"proxy.cache.hits",
		metric.WithDescription("Response cache hits"),
	)
	if err != nil {
		return err
	}
	cacheMisses, err := meter.Int64ObservableCounter(
		"proxy.cache.misses",
		metric.WithDescription("Response cache misses"),
	)
	if err != nil {
		return err
	}
	cacheStores, err := meter.Int64ObservableCounter(
		"proxy.cache.stores",
		metric.WithDescription("Response cache stores"),
	)
	if err != nil {
		return err
	}
	cacheEvictions, err := meter.Int64ObservableCounter(
		"proxy.cache.evictions",
		metric.WithDescription("Response cache evictions"),
	)
	if err != nil {
		return err
	}
	cacheBytes, err := meter.Int64ObservableGauge(
		"proxy.cache.bytes",
		metric.WithDescription("Bytes currently held by the response cache"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return err
	}
	keepalives, err := meter.Int64ObservableCounter(
		"proxy.stream.keepalives_sent",
		metric.WithDescription("SSE keepalive comments written"),
	)
	if err != nil {
		return err
	}
	drainWaits, err := meter.Int64ObservableCounter(
		"proxy.stream.drain_waits",
		metric.WithDescription("Stream closes that waited for buffered bytes to flush"),
	)
	if err != nil {
		return err
	}
	watchdogFires, err := meter.Int64ObservableCounter(
		"proxy.stream.watchdog_fires",
		metric.WithDescription("Terminal watchdog expiries"),
	)
	if err != nil {
		return err
	}

	_, err = meter.RegisterCallback(
		func(_ context.Context, o metric.Observer) error {
			cs := cacheStats()
			o.ObserveInt64(cacheHits, cs.Hits)
			o.ObserveInt64(cacheMisses, cs.Misses)
			o.ObserveInt64(cacheStores, cs.Stores)
			o.ObserveInt64(cacheEvictions, cs.Evictions)
			o.ObserveInt64(cacheBytes, cs.Bytes)

			ss := streamStats()
			o.ObserveInt64(keepalives, ss.KeepalivesSent)
			o.ObserveInt64(drainWaits, ss.DrainWaits)
			o.ObserveInt64(watchdogFires, ss.WatchdogFires)
			return nil
		},
		cacheHits, cacheMisses, cacheStores, cacheEvictions, cacheBytes,
		keepalives, drainWaits, watchdogFires,
	)
	return err
}
