package otel

import "time"

// OTLP transport protocols.
const (
	OTLPProtocolHTTP = "http"
	OTLPProtocolGRPC = "grpc"
)

// Config holds the configuration for the OTel metric export pipeline.
type Config struct {
	// Enabled turns the pipeline on. When false no meter provider is
	// installed and recording becomes a no-op.
	Enabled bool

	// ExportInterval is the time between exports. Default: 10s
	ExportInterval time.Duration

	// ExportTimeout is the timeout for each export. Default: 30s
	ExportTimeout time.Duration

	// StdoutEnabled dumps metrics as JSON to stdout on each export.
	StdoutEnabled bool

	// OTLPEndpoint is a host:port for an OTLP collector. Empty disables
	// OTLP export.
	OTLPEndpoint string

	// OTLPProtocol selects the OTLP transport: "http" (default) or "grpc".
	OTLPProtocol string

	// OTLPInsecure disables TLS on the OTLP connection. Typical for a
	// collector on localhost.
	OTLPInsecure bool
}

// DefaultConfig returns a config with sensible defaults. The pipeline is
// off until an exporter is selected.
func DefaultConfig() *Config {
	return &Config{
		Enabled:        true,
		ExportInterval: 10 * time.Second,
		ExportTimeout:  30 * time.Second,
		OTLPProtocol:   OTLPProtocolHTTP,
	}
}
