// Package observability provides OpenTelemetry instrumentation for tracing and metrics.
package observability

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// InitMetrics initializes the OpenTelemetry metrics provider with a Prometheus exporter.
// It returns the HTTP handler for the /metrics endpoint and a shutdown function.
// The shutdown function should be called on application exit for graceful cleanup.
func InitMetrics() (http.Handler, func(context.Context) error, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)

	otel.SetMeterProvider(provider)

	return promhttp.Handler(), provider.Shutdown, nil
}

// RunningCounter reports how many scenarios are running right now.
type RunningCounter func(ctx context.Context) (int64, error)

// EngineMetrics holds the loadplane instruments. It satisfies the metrics
// interfaces of the engine, rule manager and capacity reporter.
type EngineMetrics struct {
	launched       metric.Int64Counter
	cancelled      metric.Int64Counter
	rulesReplaced  metric.Int64Counter
	capacityFailed metric.Int64Counter
	batchRetries   metric.Int64Counter
}

// NewEngineMetrics registers the instruments on the global meter provider.
// running feeds the loadplane.scenarios.running gauge and may be nil.
func NewEngineMetrics(running RunningCounter) (*EngineMetrics, error) {
	meter := otel.Meter("loadplane")
	m := &EngineMetrics{}
	var err error

	if m.launched, err = meter.Int64Counter("loadplane.tests.launched",
		metric.WithDescription("Test runs started")); err != nil {
		return nil, err
	}
	if m.cancelled, err = meter.Int64Counter("loadplane.tests.cancelled",
		metric.WithDescription("Cancellation requests accepted")); err != nil {
		return nil, err
	}
	if m.rulesReplaced, err = meter.Int64Counter("loadplane.rules.replaced",
		metric.WithDescription("Schedule rules installed")); err != nil {
		return nil, err
	}
	if m.capacityFailed, err = meter.Int64Counter("loadplane.capacity.field_failures",
		metric.WithDescription("Capacity fields that could not be determined")); err != nil {
		return nil, err
	}
	if m.batchRetries, err = meter.Int64Counter("loadplane.history.batch_retries",
		metric.WithDescription("Retries of unprocessed history deletes")); err != nil {
		return nil, err
	}

	if running != nil {
		_, err = meter.Int64ObservableGauge("loadplane.scenarios.running",
			metric.WithDescription("Scenarios in the running state"),
			metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
				n, err := running(ctx)
				if err != nil {
					return err
				}
				o.Observe(n)
				return nil
			}))
		if err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *EngineMetrics) TestLaunched(ctx context.Context, testType string) {
	m.launched.Add(ctx, 1, metric.WithAttributes(attribute.String("test_type", testType)))
}

func (m *EngineMetrics) TestCancelled(ctx context.Context) {
	m.cancelled.Add(ctx, 1)
}

func (m *EngineMetrics) RuleReplaced(ctx context.Context, suffix string) {
	m.rulesReplaced.Add(ctx, 1, metric.WithAttributes(attribute.String("rule", suffix)))
}

func (m *EngineMetrics) CapacityFieldFailed(ctx context.Context, field string) {
	m.capacityFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("field", field)))
}

func (m *EngineMetrics) HistoryBatchRetried(ctx context.Context) {
	m.batchRetries.Add(ctx, 1)
}
