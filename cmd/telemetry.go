package cmd

import (
	"context"

	"github.com/khanhnv2901/secscan/internal/metrics"
	"github.com/khanhnv2901/secscan/internal/telemetry"
)

// observability bundles the metrics recorder and tracer provider of one
// process.
type observability struct {
	Metrics *metrics.Recorder
	Tracing *telemetry.Provider
}

// setupObservability creates the Prometheus recorder (when enabled and
// wanted) and the OTLP tracer provider (when an endpoint is configured).
func setupObservability(ctx context.Context, cfg *CLIConfig, withMetrics bool) (*observability, error) {
	obs := &observability{}
	if withMetrics && cfg.Metrics.Enabled {
		obs.Metrics = metrics.NewRecorder(true)
	}

	provider, err := telemetry.Setup(ctx, telemetry.Config{
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		ServiceName: cfg.Tracing.ServiceName,
		Version:     Version,
	})
	if err != nil {
		return nil, err
	}
	obs.Tracing = provider
	return obs, nil
}

// Shutdown flushes pending spans.
func (o *observability) Shutdown(ctx context.Context) error {
	if o == nil || o.Tracing == nil {
		return nil
	}
	return o.Tracing.Shutdown(ctx)
}
