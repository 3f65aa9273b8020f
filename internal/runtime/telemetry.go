package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/loqalabs/loqa-interpret/internal/config"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.30.0"
)

type telemetry struct {
	shutdown func(context.Context) error
	metrics  http.Handler
}

func setupTelemetry(ctx context.Context, cfg config.Config, logger *slog.Logger) (telemetry, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.RuntimeName),
			attribute.String("deployment.environment", cfg.Environment),
			attribute.String("loqa.interpret.source_lang", cfg.Translation.SourceLang),
			attribute.String("loqa.interpret.dest_lang", cfg.Translation.DestLang),
		),
	)
	if err != nil {
		return telemetry{}, err
	}

	tp, err := newTracerProvider(ctx, cfg.Telemetry, res, logger)
	if err != nil {
		return telemetry{}, err
	}
	otel.SetTracerProvider(tp)

	mp, handler := newMeterProvider(res, logger)
	otel.SetMeterProvider(mp)

	return telemetry{
		shutdown: func(ctx context.Context) error {
			return errors.Join(mp.Shutdown(ctx), tp.Shutdown(ctx))
		},
		metrics: handler,
	}, nil
}

// traceExporter resolves the configured exporter; an empty value picks otlp
// when an endpoint is set and stdout otherwise.
func traceExporter(cfg config.TelemetryConfig) string {
	if cfg.Traces != "" {
		return cfg.Traces
	}
	if strings.TrimSpace(cfg.OTLPEndpoint) != "" {
		return "otlp"
	}
	return "stdout"
}

func newTracerProvider(ctx context.Context, cfg config.TelemetryConfig, res *resource.Resource, logger *slog.Logger) (*sdktrace.TracerProvider, error) {
	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	exporter := traceExporter(cfg)
	switch exporter {
	case "otlp":
		endpoint := strings.TrimSpace(cfg.OTLPEndpoint)
		grpcOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
		if cfg.OTLPInsecure {
			grpcOpts = append(grpcOpts, otlptracegrpc.WithInsecure())
		}
		exp, err := otlptracegrpc.New(ctx, grpcOpts...)
		if err != nil {
			return nil, fmt.Errorf("otlp exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exp))
		logger.Info("telemetry initialized", slog.String("exporter", exporter), slog.String("endpoint", endpoint))
	case "stdout":
		// Spans go to stderr so they never interleave with anything piped from stdout.
		exp, err := stdouttrace.New(stdouttrace.WithWriter(os.Stderr))
		if err != nil {
			return nil, fmt.Errorf("stdout exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exp))
		logger.Info("telemetry initialized", slog.String("exporter", exporter))
	case "none":
		logger.Info("tracing disabled")
	default:
		return nil, fmt.Errorf("unknown trace exporter %q", exporter)
	}
	return sdktrace.NewTracerProvider(opts...), nil
}

// newMeterProvider always returns a provider; the handler is nil when the
// Prometheus exporter could not be registered.
func newMeterProvider(res *resource.Resource, logger *slog.Logger) (*sdkmetric.MeterProvider, http.Handler) {
	exp, err := prometheus.New()
	if err != nil {
		logger.Warn("failed to initialize prometheus exporter", slog.String("error", err.Error()))
		return sdkmetric.NewMeterProvider(sdkmetric.WithResource(res)), nil
	}
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exp),
		sdkmetric.WithResource(res),
	), promhttp.Handler()
}
