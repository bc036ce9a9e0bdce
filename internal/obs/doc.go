// Package obs provides the observability layer for the proxy: structured
// logging via logrus, process-wide request counters and latency histograms
// served by the metrics endpoint, and an optional OpenTelemetry export
// pipeline under obs/otel.
package obs
