package emitter

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/yairfalse/ownerscan/pkg/resource"
)

// MetricsEmitter writes report metrics in Prometheus text format to a file,
// for the node_exporter textfile collector. Its reader is attached to the
// run's meter provider, so the file also carries the per-region scan
// metrics recorded during collection.
type MetricsEmitter struct {
	path     string
	registry *prometheus.Registry
	reader   *otelprom.Exporter

	// Metrics
	instances    metric.Int64ObservableGauge
	regionUp     metric.Int64ObservableGauge
	runDuration  metric.Float64ObservableGauge
	lastRunStart metric.Float64ObservableGauge

	mu     sync.RWMutex
	report *resource.Report
}

// NewMetricsEmitter creates a metrics emitter with its own registry. Pass
// Reader to the meter provider, then call Register with a meter from it.
func NewMetricsEmitter(path string) (*MetricsEmitter, error) {
	registry := prometheus.NewRegistry()

	exporter, err := otelprom.New(
		otelprom.WithRegisterer(registry),
		otelprom.WithoutTargetInfo(),
	)
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	return &MetricsEmitter{
		path:     path,
		registry: registry,
		reader:   exporter,
	}, nil
}

// Reader returns the reader feeding the textfile registry.
func (e *MetricsEmitter) Reader() sdkmetric.Reader {
	return e.reader
}

// Register creates the report gauges on meter.
func (e *MetricsEmitter) Register(meter metric.Meter) error {
	var err error

	e.instances, err = meter.Int64ObservableGauge(
		"ownerscan_instances",
		metric.WithDescription("Reported instances by region and ownership annotation"),
	)
	if err != nil {
		return fmt.Errorf("create instances gauge: %w", err)
	}

	e.regionUp, err = meter.Int64ObservableGauge(
		"ownerscan_region_up",
		metric.WithDescription("Whether the last scan of the region succeeded"),
	)
	if err != nil {
		return fmt.Errorf("create region_up gauge: %w", err)
	}

	e.runDuration, err = meter.Float64ObservableGauge(
		"ownerscan_run_duration_seconds",
		metric.WithDescription("Duration of the last inventory run"),
	)
	if err != nil {
		return fmt.Errorf("create run_duration gauge: %w", err)
	}

	e.lastRunStart, err = meter.Float64ObservableGauge(
		"ownerscan_last_run_timestamp_seconds",
		metric.WithDescription("Start time of the last inventory run"),
	)
	if err != nil {
		return fmt.Errorf("create last_run gauge: %w", err)
	}

	_, err = meter.RegisterCallback(e.observe, e.instances, e.regionUp, e.runDuration, e.lastRunStart)
	if err != nil {
		return fmt.Errorf("register callback: %w", err)
	}
	return nil
}

// Emit records the report and rewrites the textfile.
func (e *MetricsEmitter) Emit(_ context.Context, report *resource.Report) error {
	e.mu.Lock()
	e.report = report
	e.mu.Unlock()

	if err := prometheus.WriteToTextfile(e.path, e.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}

	log.Debug().Str("path", e.path).Msg("metrics textfile written")
	return nil
}

type instanceKey struct {
	region string
	kind   string
}

// observe is the callback for all report gauges.
func (e *MetricsEmitter) observe(_ context.Context, o metric.Observer) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.report == nil {
		return nil
	}

	counts := make(map[instanceKey]int64)
	for _, row := range e.report.Rows {
		counts[instanceKey{region: row.Region, kind: row.Annotation.Kind.String()}]++
	}
	for k, n := range counts {
		o.ObserveInt64(e.instances, n, metric.WithAttributes(
			attribute.String("region", k.region),
			attribute.String("kind", k.kind),
			attribute.String("mode", string(e.report.Mode)),
		))
	}

	for _, s := range e.report.Regions {
		var up int64 = 1
		if s.Error != "" {
			up = 0
		}
		o.ObserveInt64(e.regionUp, up, metric.WithAttributes(attribute.String("region", s.Region)))
	}

	o.ObserveFloat64(e.runDuration, e.report.Duration.Seconds())
	if !e.report.StartedAt.IsZero() {
		o.ObserveFloat64(e.lastRunStart, float64(e.report.StartedAt.UnixNano())/1e9)
	}
	return nil
}

// Close is a no-op; the meter provider owning the reader shuts it down.
func (e *MetricsEmitter) Close() error {
	return nil
}
