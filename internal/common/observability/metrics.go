package observability

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
)

type Observability struct {
	meterProvider *metric.MeterProvider
	meter         otelmetric.Meter
	entryCounter  otelmetric.Int64Counter
	entryDuration otelmetric.Float64Histogram
}

func New(serviceName string) *Observability {
	exporter, err := prometheus.New()
	if err != nil {
		log.Printf("Failed to create Prometheus exporter: %v", err)
		return &Observability{}
	}

	provider := metric.NewMeterProvider(metric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter(serviceName)

	entryCounter, _ := meter.Int64Counter(
		"outbox.entries.processed",
		otelmetric.WithDescription("Number of outbox entries processed"),
	)

	entryDuration, _ := meter.Float64Histogram(
		"outbox.entries.duration",
		otelmetric.WithDescription("Per-entry processing duration"),
		otelmetric.WithUnit("ms"),
	)

	return &Observability{
		meterProvider: provider,
		meter:         meter,
		entryCounter:  entryCounter,
		entryDuration: entryDuration,
	}
}

func (o *Observability) RecordEntryProcessed(ctx context.Context, status string) {
	if o.entryCounter != nil {
		o.entryCounter.Add(ctx, 1, otelmetric.WithAttributes(
			attribute.String("status", status),
		))
	}
}

func (o *Observability) RecordEntryDuration(ctx context.Context, duration time.Duration, status string) {
	if o.entryDuration != nil {
		o.entryDuration.Record(ctx, float64(duration.Milliseconds()), otelmetric.WithAttributes(
			attribute.String("status", status),
		))
	}
}

func (o *Observability) Shutdown() {
	if o.meterProvider != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		o.meterProvider.Shutdown(ctx)
	}
}
