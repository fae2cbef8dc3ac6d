// Package otel wires OpenTelemetry metrics and traces for the sourcing
// workers.
package otel

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ShutdownFunc flushes and shuts down a provider.
type ShutdownFunc func(ctx context.Context) error

// InitMeter installs a global meter provider exporting over OTLP/gRPC to
// the collector named by the standard OTEL_EXPORTER_OTLP_* environment.
func InitMeter(ctx context.Context, serviceName string) (ShutdownFunc, error) {
	exporter, err := otlpmetricgrpc.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("create otlp metric exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL,
			semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, fmt.Errorf("build otel resource: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(provider)
	return provider.Shutdown, nil
}

// InitTracer returns a no-op shutdown function until an OTLP trace
// exporter is configured for the deployment.
func InitTracer(serviceName string) ShutdownFunc {
	slog.Info("otel: tracer initialized", "service", serviceName)
	return func(_ context.Context) error {
		return nil
	}
}
