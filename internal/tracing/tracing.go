// Package tracing configures OpenTelemetry tracing for the proxy: one span
// per proxied request, created by the otelgin middleware. No child spans
// are started for the guard, classify, or forward stages. Grounded on the teacher's common/telemetry.InitOpenTelemetry,
// narrowed to traces only since internal/metrics already covers metrics via
// Prometheus.
package tracing

import (
	"context"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/llmrouter/llmrouter/internal/logger"
)

const serviceName = "llmrouter"

// Provider wraps the SDK tracer provider so main can shut it down gracefully.
type Provider struct {
	tracerProvider *sdktrace.TracerProvider
}

// Init configures the global OpenTelemetry tracer provider when enabled. It
// returns (nil, nil) when tracing is disabled, matching the router config
// loader's "absent is not an error" contract.
func Init(ctx context.Context, enabled bool, endpoint string) (*Provider, error) {
	if !enabled {
		return nil, nil
	}
	if endpoint == "" {
		return nil, errors.Errorf("OTEL_EXPORTER_OTLP_ENDPOINT is required when OTEL_ENABLED is true")
	}

	res, err := sdkresource.New(ctx,
		sdkresource.WithFromEnv(),
		sdkresource.WithHost(),
		sdkresource.WithTelemetrySDK(),
		sdkresource.WithProcess(),
		sdkresource.WithAttributes(attribute.String("service.name", serviceName)),
	)
	if err != nil {
		return nil, errors.Wrap(err, "build OpenTelemetry resource")
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(endpoint), otlptracehttp.WithCompression(otlptracehttp.GzipCompression))
	if err != nil {
		return nil, errors.Wrap(err, "create OTLP trace exporter")
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.Logger.Info("tracing initialized", zap.String("endpoint", endpoint))
	return &Provider{tracerProvider: tp}, nil
}

// Shutdown drains the exporter. Safe to call on a nil Provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	if err := p.tracerProvider.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "shutdown tracer provider")
	}
	return nil
}

// Tracer returns the global tracer for starting request/stage spans.
func Tracer() oteltrace.Tracer {
	return otel.Tracer(serviceName)
}

// TraceID extracts the OpenTelemetry trace id from ctx, or "" if no
// sampled span is active (e.g. tracing disabled).
func TraceID(ctx context.Context) string {
	spanCtx := oteltrace.SpanContextFromContext(ctx)
	if spanCtx.IsValid() {
		return spanCtx.TraceID().String()
	}
	return ""
}
