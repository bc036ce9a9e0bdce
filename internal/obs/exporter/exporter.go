// Package exporter builds the metric export destinations for the OTel
// pipeline and fans a single reader out to all of them.
package exporter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"

	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// NewStdout returns an exporter writing metrics as JSON to w.
func NewStdout(w io.Writer) (metric.Exporter, error) {
	enc := json.NewEncoder(w)
	return stdoutmetric.New(stdoutmetric.WithEncoder(enc))
}

// NewOTLPHTTP returns an exporter pushing metrics to an OTLP collector
// over HTTP at endpoint (host:port).
func NewOTLPHTTP(ctx context.Context, endpoint string, insecure bool) (metric.Exporter, error) {
	opts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpoint(endpoint),
	}
	if insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	return otlpmetrichttp.New(ctx, opts...)
}

// NewOTLPGRPC returns an exporter pushing metrics to an OTLP collector
// over gRPC at endpoint (host:port).
func NewOTLPGRPC(ctx context.Context, endpoint string, insecure bool) (metric.Exporter, error) {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(endpoint),
	}
	if insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	return otlpmetricgrpc.New(ctx, opts...)
}

// MultiExporter exports each collection to every registered exporter. One
// failing destination does not block the others.
type MultiExporter struct {
	exporters []metric.Exporter
	mu        sync.Mutex
}

// NewMultiExporter creates a MultiExporter over the given exporters.
func NewMultiExporter(exporters ...metric.Exporter) *MultiExporter {
	return &MultiExporter{exporters: exporters}
}

// Temporality returns the Temporality to use for an instrument kind.
func (m *MultiExporter) Temporality(metric.InstrumentKind) metricdata.Temporality {
	return metricdata.CumulativeTemporality
}

// Aggregation returns the Aggregation to use for an instrument kind.
func (m *MultiExporter) Aggregation(kind metric.InstrumentKind) metric.Aggregation {
	return metric.DefaultAggregationSelector(kind)
}

// Export sends the resource metrics to all registered exporters.
func (m *MultiExporter) Export(ctx context.Context, res *metricdata.ResourceMetrics) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for _, e := range m.exporters {
		if err := e.Export(ctx, res); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ForceFlush flushes all exporters.
func (m *MultiExporter) ForceFlush(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for _, e := range m.exporters {
		if err := e.ForceFlush(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Shutdown shuts down all exporters.
func (m *MultiExporter) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for _, e := range m.exporters {
		if err := e.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
