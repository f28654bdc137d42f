// Package telemetry wires OpenTelemetry tracing and metrics for agent
// invocations and batches.
package telemetry

import (
	"context"
	"io"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/TheLazyLemur/agentorch"

// ShutdownFunc flushes and stops a provider.
type ShutdownFunc func(context.Context) error

func noopShutdown(context.Context) error { return nil }

// InitTracing installs a global tracer provider. Spans are pretty-printed to
// console when it is non-nil. With no endpoint and no console it leaves the
// default no-op provider in place.
func InitTracing(serviceName, otlpEndpoint string, console io.Writer) (ShutdownFunc, error) {
	if otlpEndpoint == "" && console == nil {
		return noopShutdown, nil
	}

	res, err := newResource(serviceName)
	if err != nil {
		return nil, err
	}

	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}

	if otlpEndpoint != "" {
		exporter, err := otlptracegrpc.New(
			context.Background(),
			otlptracegrpc.WithEndpoint(otlpEndpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return nil, errors.Wrap(err, "creating OTLP exporter")
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	if console != nil {
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(console), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, errors.Wrap(err, "creating console exporter")
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp.Shutdown, nil
}

// Tracer returns the package tracer from the current global provider, so
// tests can swap the provider at any time.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

func newResource(serviceName string) (*resource.Resource, error) {
	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, errors.Wrap(err, "creating resource")
	}
	return res, nil
}
