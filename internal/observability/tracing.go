// Package observability wires OpenTelemetry tracing. Spans are exported
// over OTLP HTTP to a local collector agent, which buffers, retries and
// forwards to whatever backend is configured there.
package observability

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config for tracing setup.
type Config struct {
	// AgentHost is the collector's OTLP HTTP endpoint. Empty disables tracing.
	AgentHost string
	// Environment is the deployment environment (dev, staging, prod).
	Environment string
	// ServiceName is the service name shown in the tracing backend.
	ServiceName string
}

// noopShutdown is returned when tracing is disabled or setup fails.
func noopShutdown(context.Context) error { return nil }

// Setup installs a global TracerProvider exporting to the configured agent.
// Returns a shutdown function that flushes pending spans.
//
// Setup never fails the caller: with no agent host tracing is simply off,
// and an exporter construction error downgrades to a warning.
func Setup(ctx context.Context, cfg Config, logger *slog.Logger) (shutdown func(context.Context) error, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.AgentHost == "" {
		logger.Debug("tracing disabled, no agent host configured")
		return noopShutdown, nil
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.AgentHost),
		otlptracehttp.WithInsecure(), // localhost agent, no TLS
	)
	if err != nil {
		logger.Warn("failed to create OTLP exporter, tracing disabled", "error", err)
		return noopShutdown, nil
	}

	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.ServiceName),
	}
	if cfg.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(cfg.Environment))
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(semconv.SchemaURL, attrs...)),
	)
	otel.SetTracerProvider(tp)

	logger.Debug("tracing enabled",
		"agent", cfg.AgentHost,
		"service", cfg.ServiceName,
		"environment", cfg.Environment,
	)

	return tp.Shutdown, nil
}
