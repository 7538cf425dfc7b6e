package tracing

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/rnrlcrm/tradecore/pkg/config"
)

// NewProvider builds an OpenTelemetry SDK tracer provider resourced with
// cfg.ServiceName/ResourceAttributes. It registers no exporter by default
// (every suspension point in §5 still gets a span with a trace ID usable
// for correlation in logs); callers that need spans shipped somewhere
// attach a batcher via WithSpanProcessor before installing the provider
// globally.
func NewProvider(ctx context.Context, cfg config.TracingConfig) (*sdktrace.TracerProvider, error) {
	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "tradecore"
	}
	attrs := []attribute.KeyValue{attribute.String("service.name", serviceName)}
	for k, v := range cfg.ResourceAttributes {
		if key := strings.TrimSpace(k); key != "" {
			attrs = append(attrs, attribute.String(key, v))
		}
	}
	res, err := resource.New(ctx, resource.WithAttributes(attrs...))
	if err != nil {
		return nil, err
	}
	return sdktrace.NewTracerProvider(sdktrace.WithResource(res)), nil
}

// InstallGlobal registers provider as the process-wide tracer provider,
// the way cmd/tradecored wires tracing. It returns nothing and does not
// use instrumentation; NewGlobalTracer builds a core.Tracer on the
// installed provider.
func InstallGlobal(provider oteltrace.TracerProvider, instrumentation string) {
	otel.SetTracerProvider(provider)
}
