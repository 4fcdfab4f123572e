// Package telemetry configures OpenTelemetry tracing for fieldsync.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"fieldsync/internal/config"
)

// TracerName is the instrumentation scope used by fieldsync spans.
const TracerName = "fieldsync"

// Config controls tracer provider initialization.
type Config struct {
	ServiceName    string
	ServiceVersion string
	// UseStdout exports spans as pretty-printed JSON on stdout.
	UseStdout bool
}

// ConfigFrom derives telemetry settings from application config.
func ConfigFrom(cfg *config.Config, version string) Config {
	return Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		UseStdout:      cfg.Telemetry.TracingStdout,
	}
}

// Init installs a global tracer provider and returns its shutdown func.
func Init(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "fieldsync"
	}

	res, err := sdkresource.New(ctx,
		sdkresource.WithFromEnv(),
		sdkresource.WithProcess(),
		sdkresource.WithHost(),
		sdkresource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			attribute.String("library.language", "go"),
		),
	)
	if err != nil {
		return nil, err
	}

	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.UseStdout {
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, err
		}
		opts = append(opts, sdktrace.WithBatcher(exp,
			sdktrace.WithMaxExportBatchSize(512),
			sdktrace.WithBatchTimeout(200*time.Millisecond),
		))
	}
	tp := sdktrace.NewTracerProvider(opts...)

	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// Tracer returns the fieldsync tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}
