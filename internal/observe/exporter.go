package observe

import (
	"context"

	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// MetricsConfig names the service in exported telemetry.
type MetricsConfig struct {
	// ServiceName defaults to "havenline".
	ServiceName    string
	ServiceVersion string
}

// InitMetrics wires the OTel metrics SDK to the default Prometheus
// registry and installs it as the global meter provider, so everything
// recorded through [Metrics] shows up on the /metrics scrape endpoint.
//
// Call it once, from main: the Prometheus exporter registers collectors
// with the process-global registry and a second call would collide. The
// returned shutdown flushes the SDK; run it on the way out.
func InitMetrics(cfg MetricsConfig) (shutdown func(context.Context) error, err error) {
	name := cfg.ServiceName
	if name == "" {
		name = "havenline"
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(name),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, err
	}

	exporter, err := promexporter.New()
	if err != nil {
		return nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(mp)
	return mp.Shutdown, nil
}
