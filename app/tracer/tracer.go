package tracer

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Providers bundles the SDK providers so main can shut them down.
type Providers struct {
	tracerProvider *trace.TracerProvider
	meterProvider  *metric.MeterProvider
}

// InitTracingAndMetrics installs the global tracer and meter providers and
// returns the prometheus scrape handler for the metrics server to mount.
func InitTracingAndMetrics(serviceName string) (*Providers, http.Handler, error) {
	tp := trace.NewTracerProvider(
		trace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(serviceName),
		)),
	)
	otel.SetTracerProvider(tp)

	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	mp := metric.NewMeterProvider(metric.WithReader(exporter))
	otel.SetMeterProvider(mp)

	return &Providers{tracerProvider: tp, meterProvider: mp}, promhttp.Handler(), nil
}

// Shutdown flushes both providers.
func (p *Providers) Shutdown(ctx context.Context) error {
	if err := p.tracerProvider.Shutdown(ctx); err != nil {
		return err
	}
	return p.meterProvider.Shutdown(ctx)
}
