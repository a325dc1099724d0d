package metrics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OpenTelemetryExporter implements the Exporter interface for OpenTelemetry metrics
type OpenTelemetryExporter struct {
	config *Config
	meter  metric.Meter
	ctx    context.Context

	// Cumulative stats are reported through observable counters and gauges
	registration metric.Registration
	latest       map[string]Stats

	loadDuration  metric.Float64Histogram
	loadBatchSize metric.Int64Histogram

	// Custom metrics (for IncrementCounter, etc.)
	customCounters   map[string]metric.Int64Counter
	customHistograms map[string]metric.Float64Histogram
	customGauges     map[string]metric.Float64Gauge
	mu               sync.Mutex
}

// OpenTelemetryConfig holds OpenTelemetry-specific configuration
type OpenTelemetryConfig struct {
	// Meter is the OpenTelemetry meter to use
	Meter metric.Meter

	// Context is the context to use for metric operations
	Context context.Context
}

// NewOpenTelemetryExporter creates a new OpenTelemetry metrics exporter
func NewOpenTelemetryExporter(config *Config, otelConfig *OpenTelemetryConfig) (*OpenTelemetryExporter, error) {
	if config == nil {
		config = NewDefaultConfig()
	}

	if otelConfig == nil {
		return nil, fmt.Errorf("OpenTelemetry configuration is required")
	}

	if otelConfig.Meter == nil {
		return nil, fmt.Errorf("OpenTelemetry meter is required")
	}

	ctx := otelConfig.Context
	if ctx == nil {
		ctx = context.Background()
	}

	exporter := &OpenTelemetryExporter{
		config:           config,
		meter:            otelConfig.Meter,
		ctx:              ctx,
		latest:           make(map[string]Stats),
		customCounters:   make(map[string]metric.Int64Counter),
		customHistograms: make(map[string]metric.Float64Histogram),
		customGauges:     make(map[string]metric.Float64Gauge),
	}

	if err := exporter.createStandardMetrics(); err != nil {
		return nil, fmt.Errorf("failed to create standard metrics: %w", err)
	}

	return exporter, nil
}

type observedStat struct {
	name  string
	desc  string
	value func(Stats) int64
}

// createStandardMetrics creates all the standard value cache instruments
func (o *OpenTelemetryExporter) createStandardMetrics() error {
	names := o.config.MetricNames

	counters := []observedStat{
		{names.LoadsTotal, "Total number of attribute loads", Stats.Loads},
		{names.LoadedItemsTotal, "Total number of items requested from loaders", Stats.LoadedItems},
		{names.BorrowsTotal, "Total number of values copied from sibling caches", Stats.Borrows},
		{names.OutdatedMarksTotal, "Total number of item values marked outdated", Stats.OutdatedMarks},
		{names.CatchUpsTotal, "Total number of change watermark advances", Stats.CatchUps},
		{names.AbortsTotal, "Total number of jobs stopped early", Stats.Aborts},
		{names.LoadErrorsTotal, "Total number of failed attribute loads", Stats.LoadErrors},
	}
	gauges := []observedStat{
		{names.CachesCount, "Current number of live caches", Stats.Caches},
		{names.Backlog, "Outdated item values awaiting a load", Stats.Backlog},
	}

	observables := make([]metric.Observable, 0, len(counters)+len(gauges))
	type binding struct {
		instrument metric.Int64Observable
		value      func(Stats) int64
	}
	bindings := make([]binding, 0, cap(observables))

	for _, c := range counters {
		counter, err := o.meter.Int64ObservableCounter(c.name,
			metric.WithDescription(c.desc),
			metric.WithUnit("1"),
		)
		if err != nil {
			return fmt.Errorf("failed to create counter %s: %w", c.name, err)
		}
		observables = append(observables, counter)
		bindings = append(bindings, binding{counter, c.value})
	}

	for _, g := range gauges {
		gauge, err := o.meter.Int64ObservableGauge(g.name,
			metric.WithDescription(g.desc),
			metric.WithUnit("1"),
		)
		if err != nil {
			return fmt.Errorf("failed to create gauge %s: %w", g.name, err)
		}
		observables = append(observables, gauge)
		bindings = append(bindings, binding{gauge, g.value})
	}

	registration, err := o.meter.RegisterCallback(func(_ context.Context, observer metric.Observer) error {
		o.mu.Lock()
		defer o.mu.Unlock()
		for manager, stats := range o.latest {
			attrs := metric.WithAttributes(o.attributes(Labels{"manager": manager})...)
			for _, b := range bindings {
				observer.ObserveInt64(b.instrument, b.value(stats), attrs)
			}
		}
		return nil
	}, observables...)
	if err != nil {
		return fmt.Errorf("failed to register stats callback: %w", err)
	}
	o.registration = registration

	if o.config.IncludeLoadTimings {
		o.loadDuration, err = o.meter.Float64Histogram(
			names.LoadDuration,
			metric.WithDescription("Attribute load duration"),
			metric.WithUnit("s"),
		)
		if err != nil {
			return fmt.Errorf("failed to create load duration histogram: %w", err)
		}

		o.loadBatchSize, err = o.meter.Int64Histogram(
			names.LoadBatchSize,
			metric.WithDescription("Number of items requested per attribute load"),
			metric.WithUnit("1"),
		)
		if err != nil {
			return fmt.Errorf("failed to create load batch histogram: %w", err)
		}
	}

	return nil
}

// ExportStats makes stats visible to the next collection
func (o *OpenTelemetryExporter) ExportStats(stats Stats, labels Labels) error {
	o.mu.Lock()
	o.latest[labels["manager"]] = stats
	o.mu.Unlock()
	return nil
}

// RecordLoad records an attribute load with timing
func (o *OpenTelemetryExporter) RecordLoad(attribute string, items int, duration time.Duration, labels Labels) error {
	if o.loadDuration == nil {
		return nil
	}

	attrs := metric.WithAttributes(o.attributes(labels, attributeKV(attribute))...)
	o.loadDuration.Record(o.ctx, duration.Seconds(), attrs)
	o.loadBatchSize.Record(o.ctx, int64(items), attrs)
	return nil
}

// IncrementCounter increments a custom counter
func (o *OpenTelemetryExporter) IncrementCounter(name string, labels Labels) error {
	o.mu.Lock()
	counter, exists := o.customCounters[name]
	if !exists {
		var err error
		counter, err = o.meter.Int64Counter(
			name,
			metric.WithDescription(fmt.Sprintf("Custom counter: %s", name)),
			metric.WithUnit("1"),
		)
		if err != nil {
			o.mu.Unlock()
			return fmt.Errorf("failed to create counter %s: %w", name, err)
		}
		o.customCounters[name] = counter
	}
	o.mu.Unlock()

	counter.Add(o.ctx, 1, metric.WithAttributes(o.attributes(labels)...))
	return nil
}

// RecordHistogram records a value in a custom histogram
func (o *OpenTelemetryExporter) RecordHistogram(name string, value float64, labels Labels) error {
	o.mu.Lock()
	histogram, exists := o.customHistograms[name]
	if !exists {
		var err error
		histogram, err = o.meter.Float64Histogram(
			name,
			metric.WithDescription(fmt.Sprintf("Custom histogram: %s", name)),
			metric.WithUnit("1"),
		)
		if err != nil {
			o.mu.Unlock()
			return fmt.Errorf("failed to create histogram %s: %w", name, err)
		}
		o.customHistograms[name] = histogram
	}
	o.mu.Unlock()

	histogram.Record(o.ctx, value, metric.WithAttributes(o.attributes(labels)...))
	return nil
}

// SetGauge sets a custom gauge value
func (o *OpenTelemetryExporter) SetGauge(name string, value float64, labels Labels) error {
	o.mu.Lock()
	gauge, exists := o.customGauges[name]
	if !exists {
		var err error
		gauge, err = o.meter.Float64Gauge(
			name,
			metric.WithDescription(fmt.Sprintf("Custom gauge: %s", name)),
			metric.WithUnit("1"),
		)
		if err != nil {
			o.mu.Unlock()
			return fmt.Errorf("failed to create gauge %s: %w", name, err)
		}
		o.customGauges[name] = gauge
	}
	o.mu.Unlock()

	gauge.Record(o.ctx, value, metric.WithAttributes(o.attributes(labels)...))
	return nil
}

// Close unregisters the stats callback
func (o *OpenTelemetryExporter) Close() error {
	if o.registration == nil {
		return nil
	}
	return o.registration.Unregister()
}

// Helper methods

func attributeKV(name string) attribute.KeyValue {
	return attribute.String("attribute", name)
}

func (o *OpenTelemetryExporter) attributes(labels Labels, extra ...attribute.KeyValue) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(labels)+len(o.config.Labels)+len(extra))

	for k, v := range o.config.Labels {
		attrs = append(attrs, attribute.String(k, v))
	}
	for k, v := range labels {
		attrs = append(attrs, attribute.String(k, v))
	}

	return append(attrs, extra...)
}

// Ensure interface is implemented
var _ Exporter = (*OpenTelemetryExporter)(nil)
