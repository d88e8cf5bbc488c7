// Package telemetry wires OpenTelemetry tracing (Google Cloud Trace) and bridges
// OpenTelemetry metrics onto the Prometheus registry served at /metrics.
package telemetry

import (
	"context"
	"fmt"
	"sync"

	texporter "github.com/GoogleCloudPlatform/opentelemetry-operations-go/exporter/trace"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/JakeFAU/remotehive-autoscraper/internal/config"
)

const instrumentationName = "github.com/JakeFAU/remotehive-autoscraper"

var (
	initOnce  sync.Once
	traceProv *sdktrace.TracerProvider
	meterProv *metric.MeterProvider
	initErr   error
)

// Init sets up tracing and metrics once per process. Subsequent calls return
// the providers built by the first call.
func Init(ctx context.Context, app config.ApplicationConfig, role string) (
	*sdktrace.TracerProvider,
	*metric.MeterProvider,
	error,
) {
	initOnce.Do(func() {
		res, err := resource.New(ctx,
			resource.WithAttributes(
				semconv.ServiceName(app.ServiceName),
				semconv.ServiceVersion(app.Version),
				semconv.ServiceInstanceID(role),
				semconv.DeploymentEnvironment(app.Environment),
			),
		)
		if err != nil {
			initErr = fmt.Errorf("failed to create resource: %w", err)
			return
		}

		opts := []sdktrace.TracerProviderOption{
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(0.2))),
		}
		if app.ProjectID != "" {
			exporter, err := texporter.New(texporter.WithProjectID(app.ProjectID))
			if err != nil {
				initErr = fmt.Errorf("failed to create google trace exporter: %w", err)
				return
			}
			opts = append(opts, sdktrace.WithBatcher(exporter))
		}

		tp := sdktrace.NewTracerProvider(opts...)
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(
			propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}),
		)

		// Share the promauto registry so OTel instruments appear on the same endpoint.
		promExporter, err := otelprom.New(otelprom.WithRegisterer(prometheus.DefaultRegisterer))
		if err != nil {
			initErr = fmt.Errorf("failed to create prometheus exporter: %w", err)
			return
		}

		mp := metric.NewMeterProvider(
			metric.WithResource(res),
			metric.WithReader(promExporter),
		)
		otel.SetMeterProvider(mp)
		traceProv = tp
		meterProv = mp
	})
	return traceProv, meterProv, initErr
}

// Tracer returns the package tracer; it is a no-op until Init runs.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}
