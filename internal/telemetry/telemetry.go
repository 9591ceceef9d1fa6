// Package telemetry wires OpenTelemetry tracing for the queue services. Spans
// are exported over OTLP/gRPC only when OTEL_EXPORTER_OTLP_ENDPOINT is set;
// trace context is propagated either way so upstream traces stay linked.
package telemetry

import (
	"context"
	"log"
	"os"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const serviceNamespace = "qms"

type Shutdown func(context.Context) error

func noop(context.Context) error { return nil }

func Setup(serviceName string) Shutdown {
	return setup(serviceName, os.Getenv)
}

func setup(serviceName string, getenv func(string) string) Shutdown {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	endpoint := getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		return noop
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
	if getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true" {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(context.Background(), opts...)
	if err != nil {
		log.Printf("otel exporter error service=%s: %v", serviceName, err)
		return noop
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(serviceAttributes(serviceName, getenv)...),
	)
	if err != nil {
		log.Printf("otel resource error service=%s: %v", serviceName, err)
	}

	ratio := sampleRatio(getenv("OTEL_TRACES_SAMPLER_ARG"))
	provider := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
		trace.WithSampler(trace.ParentBased(trace.TraceIDRatioBased(ratio))),
	)
	otel.SetTracerProvider(provider)
	log.Printf("tracing enabled service=%s endpoint=%s ratio=%.2f", serviceName, endpoint, ratio)

	return provider.Shutdown
}

func serviceAttributes(serviceName string, getenv func(string) string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(serviceName),
		semconv.ServiceNamespace(serviceNamespace),
	}
	if version := strings.TrimSpace(getenv("QMS_VERSION")); version != "" {
		attrs = append(attrs, semconv.ServiceVersion(version))
	}
	if env := strings.TrimSpace(getenv("QMS_ENV")); env != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(env))
	}
	return attrs
}

// sampleRatio parses a ratio in [0, 1]; anything else samples every trace.
func sampleRatio(raw string) float64 {
	if raw == "" {
		return 1
	}
	ratio, err := strconv.ParseFloat(raw, 64)
	if err != nil || ratio < 0 || ratio > 1 {
		return 1
	}
	return ratio
}
