package metrics

import (
	"time"
)

// Exporter defines the interface for value cache metrics exporters
// This abstraction allows supporting multiple observability systems
type Exporter interface {
	// ExportStats exports the current manager statistics
	ExportStats(stats Stats, labels Labels) error

	// RecordLoad records one attribute load with its size and timing
	RecordLoad(attribute string, items int, duration time.Duration, labels Labels) error

	// IncrementCounter increments a named counter with labels
	IncrementCounter(name string, labels Labels) error

	// RecordHistogram records a value in a named histogram
	RecordHistogram(name string, value float64, labels Labels) error

	// SetGauge sets a gauge value
	SetGauge(name string, value float64, labels Labels) error

	// Close shuts down the exporter and flushes any pending metrics
	Close() error
}

// Labels represents key-value pairs for metric labels/tags
type Labels map[string]string

// Stats defines the manager statistics that can be exported.
// Counters are cumulative; Caches and Backlog are point-in-time values.
type Stats interface {
	Loads() int64
	LoadedItems() int64
	Borrows() int64
	OutdatedMarks() int64
	CatchUps() int64
	Aborts() int64
	LoadErrors() int64
	Caches() int64
	Backlog() int64
}

// MetricNames defines standard metric names used across exporters
type MetricNames struct {
	// Counters
	LoadsTotal         string
	LoadedItemsTotal   string
	BorrowsTotal       string
	OutdatedMarksTotal string
	CatchUpsTotal      string
	AbortsTotal        string
	LoadErrorsTotal    string

	// Histograms
	LoadDuration  string
	LoadBatchSize string

	// Gauges
	CachesCount string
	Backlog     string
}

// DefaultMetricNames returns the default metric names with proper namespacing
func DefaultMetricNames() MetricNames {
	return MetricNames{
		LoadsTotal:         "valuecache_loads_total",
		LoadedItemsTotal:   "valuecache_loaded_items_total",
		BorrowsTotal:       "valuecache_borrows_total",
		OutdatedMarksTotal: "valuecache_outdated_marks_total",
		CatchUpsTotal:      "valuecache_catch_ups_total",
		AbortsTotal:        "valuecache_aborts_total",
		LoadErrorsTotal:    "valuecache_load_errors_total",
		LoadDuration:       "valuecache_load_duration_seconds",
		LoadBatchSize:      "valuecache_load_batch_items",
		CachesCount:        "valuecache_caches",
		Backlog:            "valuecache_backlog_items",
	}
}

// Config holds configuration for metrics exporters
type Config struct {
	// Namespace is prepended to custom metric names
	Namespace string

	// Labels are default labels applied to all metrics
	Labels Labels

	// MetricNames allows customizing metric names
	MetricNames MetricNames

	// IncludeLoadTimings enables load duration and batch size histograms
	IncludeLoadTimings bool
}

// NewDefaultConfig creates a default metrics configuration
func NewDefaultConfig() *Config {
	return &Config{
		Namespace:          "valuecache",
		Labels:             make(Labels),
		MetricNames:        DefaultMetricNames(),
		IncludeLoadTimings: true,
	}
}

// WithNamespace sets the metrics namespace
func (c *Config) WithNamespace(namespace string) *Config {
	c.Namespace = namespace
	return c
}

// WithLabels adds default labels to all metrics
func (c *Config) WithLabels(labels Labels) *Config {
	for k, v := range labels {
		c.Labels[k] = v
	}
	return c
}

// WithLoadTimings enables or disables load histograms
func (c *Config) WithLoadTimings(enabled bool) *Config {
	c.IncludeLoadTimings = enabled
	return c
}

// MultiExporter allows using multiple exporters simultaneously
type MultiExporter struct {
	exporters []Exporter
}

// NewMultiExporter creates an exporter that writes to multiple backends
func NewMultiExporter(exporters ...Exporter) *MultiExporter {
	return &MultiExporter{
		exporters: exporters,
	}
}

// ExportStats exports to all configured exporters
func (m *MultiExporter) ExportStats(stats Stats, labels Labels) error {
	return m.each(func(e Exporter) error { return e.ExportStats(stats, labels) })
}

// RecordLoad records to all configured exporters
func (m *MultiExporter) RecordLoad(attribute string, items int, duration time.Duration, labels Labels) error {
	return m.each(func(e Exporter) error { return e.RecordLoad(attribute, items, duration, labels) })
}

// IncrementCounter increments on all configured exporters
func (m *MultiExporter) IncrementCounter(name string, labels Labels) error {
	return m.each(func(e Exporter) error { return e.IncrementCounter(name, labels) })
}

// RecordHistogram records to all configured exporters
func (m *MultiExporter) RecordHistogram(name string, value float64, labels Labels) error {
	return m.each(func(e Exporter) error { return e.RecordHistogram(name, value, labels) })
}

// SetGauge sets on all configured exporters
func (m *MultiExporter) SetGauge(name string, value float64, labels Labels) error {
	return m.each(func(e Exporter) error { return e.SetGauge(name, value, labels) })
}

// Close closes all configured exporters
func (m *MultiExporter) Close() error {
	return m.each(Exporter.Close)
}

func (m *MultiExporter) each(fn func(Exporter) error) error {
	for _, exporter := range m.exporters {
		if err := fn(exporter); err != nil {
			return err
		}
	}
	return nil
}

// NoOpExporter provides a no-op implementation for when metrics are disabled
type NoOpExporter struct{}

// NewNoOpExporter creates a no-op exporter
func NewNoOpExporter() *NoOpExporter {
	return &NoOpExporter{}
}

// ExportStats does nothing
func (n *NoOpExporter) ExportStats(Stats, Labels) error { return nil }

// RecordLoad does nothing
func (n *NoOpExporter) RecordLoad(string, int, time.Duration, Labels) error { return nil }

// IncrementCounter does nothing
func (n *NoOpExporter) IncrementCounter(string, Labels) error { return nil }

// RecordHistogram does nothing
func (n *NoOpExporter) RecordHistogram(string, float64, Labels) error { return nil }

// SetGauge does nothing
func (n *NoOpExporter) SetGauge(string, float64, Labels) error { return nil }

// Close does nothing
func (n *NoOpExporter) Close() error { return nil }

// Ensure interfaces are implemented
var (
	_ Exporter = (*MultiExporter)(nil)
	_ Exporter = (*NoOpExporter)(nil)
)
