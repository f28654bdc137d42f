package telemetry

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// InitMetrics installs a global meter provider backed by a fresh Prometheus
// registry and returns the handler that serves it.
func InitMetrics(serviceName string) (http.Handler, ShutdownFunc, error) {
	res, err := newResource(serviceName)
	if err != nil {
		return nil, nil, err
	}

	registry := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, nil, errors.Wrap(err, "creating prometheus exporter")
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(provider)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return handler, provider.Shutdown, nil
}

// Metrics holds the instruments recorded by the invoker and dispatchers.
// A nil *Metrics records nothing.
type Metrics struct {
	invocations metric.Int64Counter
	duration    metric.Float64Histogram
	batches     metric.Int64Counter
	skipped     metric.Int64Counter
}

// NewMetrics creates the instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	invocations, err := meter.Int64Counter(
		"agentorch.invocations",
		metric.WithDescription("Agent executable invocations by backend and outcome"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "creating invocation counter")
	}

	duration, err := meter.Float64Histogram(
		"agentorch.invocation.duration",
		metric.WithDescription("Wall time of one agent invocation"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "creating duration histogram")
	}

	batches, err := meter.Int64Counter(
		"agentorch.batches",
		metric.WithDescription("Dispatched batches by mode and outcome"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "creating batch counter")
	}

	skipped, err := meter.Int64Counter(
		"agentorch.units.skipped",
		metric.WithDescription("Units not started because the batch was interrupted"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "creating skipped counter")
	}

	return &Metrics{
		invocations: invocations,
		duration:    duration,
		batches:     batches,
		skipped:     skipped,
	}, nil
}

// DefaultMetrics creates instruments on the global meter provider.
func DefaultMetrics() *Metrics {
	m, err := NewMetrics(otel.Meter(instrumentationName))
	if err != nil {
		slog.Warn("metrics disabled", "error", err)
		return nil
	}
	return m
}

// RecordInvocation counts one invocation and its latency.
func (m *Metrics) RecordInvocation(ctx context.Context, backend, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("outcome", outcome),
	)
	m.invocations.Add(ctx, 1, attrs)
	m.duration.Record(ctx, float64(elapsed.Microseconds())/1000, attrs)
}

// RecordBatch counts one finished batch.
func (m *Metrics) RecordBatch(ctx context.Context, mode, outcome string, skipped int) {
	if m == nil {
		return
	}
	m.batches.Add(ctx, 1, metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.String("outcome", outcome),
	))
	if skipped > 0 {
		m.skipped.Add(ctx, int64(skipped), metric.WithAttributes(attribute.String("mode", mode)))
	}
}
