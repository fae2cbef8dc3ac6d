package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "signal-sourcing"

// Metrics holds all sourcing metric instruments.
type Metrics struct {
	JobsStarted        metric.Int64Counter
	JobsCompleted      metric.Int64Counter
	JobsFailed         metric.Int64Counter
	SerpQueries        metric.Int64Counter
	CandidatesReturned metric.Int64Counter
	CallbacksDelivered metric.Int64Counter
	CallbacksFailed    metric.Int64Counter
	Reranks            metric.Int64Counter
	JobDuration        metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.JobsStarted, err = meter.Int64Counter("sourcing.jobs.started",
		metric.WithDescription("Number of sourcing jobs started"))
	if err != nil {
		return nil, err
	}

	m.JobsCompleted, err = meter.Int64Counter("sourcing.jobs.completed",
		metric.WithDescription("Number of sourcing jobs completed"))
	if err != nil {
		return nil, err
	}

	m.JobsFailed, err = meter.Int64Counter("sourcing.jobs.failed",
		metric.WithDescription("Number of sourcing jobs failed"))
	if err != nil {
		return nil, err
	}

	m.SerpQueries, err = meter.Int64Counter("sourcing.serp.queries",
		metric.WithDescription("Number of SERP queries executed"))
	if err != nil {
		return nil, err
	}

	m.CandidatesReturned, err = meter.Int64Counter("sourcing.candidates.returned",
		metric.WithDescription("Number of candidates returned across requests"))
	if err != nil {
		return nil, err
	}

	m.CallbacksDelivered, err = meter.Int64Counter("sourcing.callbacks.delivered",
		metric.WithDescription("Number of callbacks delivered"))
	if err != nil {
		return nil, err
	}

	m.CallbacksFailed, err = meter.Int64Counter("sourcing.callbacks.failed",
		metric.WithDescription("Number of callbacks that exhausted retries"))
	if err != nil {
		return nil, err
	}

	m.Reranks, err = meter.Int64Counter("sourcing.reranks",
		metric.WithDescription("Number of rerank jobs applied"))
	if err != nil {
		return nil, err
	}

	m.JobDuration, err = meter.Float64Histogram("sourcing.job.duration_seconds",
		metric.WithDescription("Sourcing job duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
