package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "signal-sourcing"

// StartJobSpan starts a span for one sourcing job.
func StartJobSpan(ctx context.Context, requestID, tenantID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "sourcing.job",
		trace.WithAttributes(
			attribute.String("request.id", requestID),
			attribute.String("tenant.id", tenantID),
		),
	)
}

// StartDiscoverySpan starts a span for the discovery phase of a job.
func StartDiscoverySpan(ctx context.Context, requestID string, maxQueries int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "sourcing.discovery",
		trace.WithAttributes(
			attribute.String("request.id", requestID),
			attribute.Int("discovery.max_queries", maxQueries),
		),
	)
}

// StartCallbackSpan starts a span for callback delivery.
func StartCallbackSpan(ctx context.Context, requestID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "sourcing.callback",
		trace.WithAttributes(
			attribute.String("request.id", requestID),
		),
	)
}
