package observability

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// TracingConfig holds configuration for tracing.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
	Environment string `mapstructure:"environment"`
	// Exporter is "stdout" or empty; empty keeps spans in-process only.
	Exporter string `mapstructure:"exporter" validate:"omitempty,oneof=stdout"`
}

// Tracing provides OpenTelemetry tracing functionality.
type Tracing struct {
	config   TracingConfig
	logger   *zap.Logger
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
}

// NewTracing creates a new tracing instance. When tracing is enabled a
// tracer provider is installed globally; otherwise the global no-op tracer
// is used.
func NewTracing(config TracingConfig, logger *zap.Logger) (*Tracing, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.ServiceName == "" {
		config.ServiceName = "semaroute"
	}

	t := &Tracing{config: config, logger: logger}
	if config.Enabled {
		provider, err := newTracerProvider(config)
		if err != nil {
			return nil, err
		}
		otel.SetTracerProvider(provider)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
		t.provider = provider
		logger.Info("Tracing enabled", zap.String("exporter", config.Exporter))
	}

	t.tracer = otel.Tracer(config.ServiceName)
	return t, nil
}

func newTracerProvider(config TracingConfig) (*sdktrace.TracerProvider, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			"",
			semconv.ServiceName(config.ServiceName),
			semconv.DeploymentEnvironment(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if config.Exporter == "stdout" {
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(os.Stderr))
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout trace exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}
	return sdktrace.NewTracerProvider(opts...), nil
}

// StartSpan starts a new span for the given operation.
func (t *Tracing) StartSpan(ctx context.Context, operationName string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, operationName, opts...)
}

// SetAttributes sets attributes on the current span.
func (t *Tracing) SetAttributes(ctx context.Context, attributes map[string]string) {
	span := trace.SpanFromContext(ctx)

	otelAttrs := make([]attribute.KeyValue, 0, len(attributes))
	for k, v := range attributes {
		otelAttrs = append(otelAttrs, attribute.String(k, v))
	}
	span.SetAttributes(otelAttrs...)
}

// EndSpan records err, if any, and ends the span.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// IsEnabled returns true if tracing is enabled.
func (t *Tracing) IsEnabled() bool {
	return t.config.Enabled
}

// GetTracer returns the underlying tracer.
func (t *Tracing) GetTracer() trace.Tracer {
	return t.tracer
}

// Shutdown flushes and stops the tracer provider.
func (t *Tracing) Shutdown(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return t.provider.Shutdown(ctx)
}
