package otel

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"

	"github.com/lmbridge/lmbridge/internal/obs/exporter"
)

// MeterSetup holds the installed meter provider and the request tracker.
type MeterSetup struct {
	meterProvider *sdkmetric.MeterProvider
	meter         metric.Meter
	tracker       *RequestTracker
}

// NewMeterSetup builds the export pipeline described by cfg and installs
// it as the global meter provider. Returns nil when the pipeline is
// disabled or no exporter is selected; a nil MeterSetup is safe to use.
func NewMeterSetup(ctx context.Context, cfg *Config) (*MeterSetup, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}

	var exporters []sdkmetric.Exporter

	if cfg.StdoutEnabled {
		exp, err := exporter.NewStdout(os.Stdout)
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
		exporters = append(exporters, exp)
	}

	if cfg.OTLPEndpoint != "" {
		var (
			exp sdkmetric.Exporter
			err error
		)
		switch cfg.OTLPProtocol {
		case OTLPProtocolGRPC:
			exp, err = exporter.NewOTLPGRPC(ctx, cfg.OTLPEndpoint, cfg.OTLPInsecure)
		case "", OTLPProtocolHTTP:
			exp, err = exporter.NewOTLPHTTP(ctx, cfg.OTLPEndpoint, cfg.OTLPInsecure)
		default:
			err = fmt.Errorf("unknown otlp protocol %q", cfg.OTLPProtocol)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create otlp exporter: %w", err)
		}
		exporters = append(exporters, exp)
	}

	if len(exporters) == 0 {
		return nil, nil
	}

	reader := sdkmetric.NewPeriodicReader(
		exporter.NewMultiExporter(exporters...),
		sdkmetric.WithInterval(cfg.ExportInterval),
		sdkmetric.WithTimeout(cfg.ExportTimeout),
	)

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(resource.NewSchemaless(
			attribute.String("service.name", "lmbridge"),
		)),
	)

	otel.SetMeterProvider(meterProvider)
	meter := meterProvider.Meter("lmbridge")

	tracker, err := NewRequestTracker(meter)
	if err != nil {
		_ = meterProvider.Shutdown(ctx)
		return nil, fmt.Errorf("failed to create request tracker: %w", err)
	}

	return &MeterSetup{
		meterProvider: meterProvider,
		meter:         meter,
		tracker:       tracker,
	}, nil
}

// Tracker returns the request tracker, nil when the pipeline is off.
func (ms *MeterSetup) Tracker() *RequestTracker {
	if ms == nil {
		return nil
	}
	return ms.tracker
}

// Meter returns the pipeline meter for registering additional
// instruments, nil when the pipeline is off.
func (ms *MeterSetup) Meter() metric.Meter {
	if ms == nil {
		return nil
	}
	return ms.meter
}

// Shutdown flushes and stops the meter provider.
func (ms *MeterSetup) Shutdown(ctx context.Context) error {
	if ms == nil || ms.meterProvider == nil {
		return nil
	}
	return ms.meterProvider.Shutdown(ctx)
}
