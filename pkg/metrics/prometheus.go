package metrics

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusExporter implements the Exporter interface for Prometheus metrics
type PrometheusExporter struct {
	config   *Config
	registry prometheus.Registerer

	// Counters
	loadsTotal         *prometheus.CounterVec
	loadedItemsTotal   *prometheus.CounterVec
	borrowsTotal       *prometheus.CounterVec
	outdatedMarksTotal *prometheus.CounterVec
	catchUpsTotal      *prometheus.CounterVec
	abortsTotal        *prometheus.CounterVec
	loadErrorsTotal    *prometheus.CounterVec

	// Histograms
	loadDuration  *prometheus.HistogramVec
	loadBatchSize *prometheus.HistogramVec

	// Gauges
	cachesCount *prometheus.GaugeVec
	backlog     *prometheus.GaugeVec

	// Stats are cumulative; only the increase since the last export is added
	lastExported map[string]statsSnapshot

	// Custom metrics (for IncrementCounter, etc.)
	customCounters   map[string]*prometheus.CounterVec
	customHistograms map[string]*prometheus.HistogramVec
	customGauges     map[string]*prometheus.GaugeVec
	mu               sync.Mutex
}

type statsSnapshot struct {
	loads, loadedItems, borrows, outdatedMarks, catchUps, aborts, loadErrors int64
}

func snapshotOf(stats Stats) statsSnapshot {
	return statsSnapshot{
		loads:         stats.Loads(),
		loadedItems:   stats.LoadedItems(),
		borrows:       stats.Borrows(),
		outdatedMarks: stats.OutdatedMarks(),
		catchUps:      stats.CatchUps(),
		aborts:        stats.Aborts(),
		loadErrors:    stats.LoadErrors(),
	}
}

// PrometheusConfig holds Prometheus-specific configuration
type PrometheusConfig struct {
	// Registry is the Prometheus registry to use (optional, uses default if nil)
	Registry prometheus.Registerer

	// DefaultLabels are applied to all metrics
	DefaultLabels prometheus.Labels

	// Buckets for histogram metrics
	DurationBuckets []float64
	SizeBuckets     []float64
}

// NewPrometheusExporter creates a new Prometheus metrics exporter
func NewPrometheusExporter(config *Config, promConfig *PrometheusConfig) (*PrometheusExporter, error) {
	if config == nil {
		config = NewDefaultConfig()
	}

	if promConfig == nil {
		promConfig = &PrometheusConfig{}
	}

	registry := promConfig.Registry
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	durationBuckets := promConfig.DurationBuckets
	if durationBuckets == nil {
		durationBuckets = []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}
	}

	sizeBuckets := promConfig.SizeBuckets
	if sizeBuckets == nil {
		sizeBuckets = prometheus.ExponentialBuckets(1, 4, 10)
	}

	constLabels := make(prometheus.Labels)
	for k, v := range promConfig.DefaultLabels {
		constLabels[k] = v
	}
	for k, v := range config.Labels {
		constLabels[k] = v
	}

	exporter := &PrometheusExporter{
		config:           config,
		registry:         registry,
		lastExported:     make(map[string]statsSnapshot),
		customCounters:   make(map[string]*prometheus.CounterVec),
		customHistograms: make(map[string]*prometheus.HistogramVec),
		customGauges:     make(map[string]*prometheus.GaugeVec),
	}

	if err := exporter.createStandardMetrics(constLabels, durationBuckets, sizeBuckets); err != nil {
		return nil, fmt.Errorf("failed to create standard metrics: %w", err)
	}

	return exporter, nil
}

// createStandardMetrics creates all the standard value cache metrics
func (p *PrometheusExporter) createStandardMetrics(constLabels prometheus.Labels, durationBuckets, sizeBuckets []float64) error {
	names := p.config.MetricNames
	base := []string{"manager"}

	counters := []struct {
		target **prometheus.CounterVec
		name   string
		help   string
	}{
		{&p.loadsTotal, names.LoadsTotal, "Total number of attribute loads"},
		{&p.loadedItemsTotal, names.LoadedItemsTotal, "Total number of items requested from loaders"},
		{&p.borrowsTotal, names.BorrowsTotal, "Total number of values copied from sibling caches"},
		{&p.outdatedMarksTotal, names.OutdatedMarksTotal, "Total number of item values marked outdated"},
		{&p.catchUpsTotal, names.CatchUpsTotal, "Total number of change watermark advances"},
		{&p.abortsTotal, names.AbortsTotal, "Total number of jobs stopped early"},
		{&p.loadErrorsTotal, names.LoadErrorsTotal, "Total number of failed attribute loads"},
	}
	for _, c := range counters {
		vec, err := p.createCounterVec(c.name, c.help, base, constLabels)
		if err != nil {
			return err
		}
		*c.target = vec
	}

	if p.config.IncludeLoadTimings {
		var err error
		p.loadDuration, err = p.createHistogramVec(names.LoadDuration, "Attribute load duration in seconds", append(base, "attribute"), constLabels, durationBuckets)
		if err != nil {
			return err
		}

		p.loadBatchSize, err = p.createHistogramVec(names.LoadBatchSize, "Number of items requested per attribute load", append(base, "attribute"), constLabels, sizeBuckets)
		if err != nil {
			return err
		}
	}

	var err error
	p.cachesCount, err = p.createGaugeVec(names.CachesCount, "Current number of live caches", base, constLabels)
	if err != nil {
		return err
	}

	p.backlog, err = p.createGaugeVec(names.Backlog, "Outdated item values awaiting a load", base, constLabels)
	if err != nil {
		return err
	}

	return nil
}

// ExportStats exports the current manager statistics to Prometheus
func (p *PrometheusExporter) ExportStats(stats Stats, labels Labels) error {
	name := labels["manager"]
	baseLabels := prometheus.Labels{"manager": name}

	current := snapshotOf(stats)

	p.mu.Lock()
	prev := p.lastExported[name]
	p.lastExported[name] = current
	p.mu.Unlock()

	addDelta(p.loadsTotal, baseLabels, current.loads, prev.loads)
	addDelta(p.loadedItemsTotal, baseLabels, current.loadedItems, prev.loadedItems)
	addDelta(p.borrowsTotal, baseLabels, current.borrows, prev.borrows)
	addDelta(p.outdatedMarksTotal, baseLabels, current.outdatedMarks, prev.outdatedMarks)
	addDelta(p.catchUpsTotal, baseLabels, current.catchUps, prev.catchUps)
	addDelta(p.abortsTotal, baseLabels, current.aborts, prev.aborts)
	addDelta(p.loadErrorsTotal, baseLabels, current.loadErrors, prev.loadErrors)

	p.cachesCount.With(baseLabels).Set(float64(stats.Caches()))
	p.backlog.With(baseLabels).Set(float64(stats.Backlog()))

	return nil
}

// addDelta adds the increase of a cumulative value. A decrease means the
// stats were reset, in which case the whole current value is new.
func addDelta(counter *prometheus.CounterVec, labels prometheus.Labels, current, prev int64) {
	delta := current - prev
	if delta < 0 {
		delta = current
	}
	if delta > 0 {
		counter.With(labels).Add(float64(delta))
	}
}

// RecordLoad records an attribute load with timing
func (p *PrometheusExporter) RecordLoad(attribute string, items int, duration time.Duration, labels Labels) error {
	if p.loadDuration == nil {
		return nil
	}

	loadLabels := prometheus.Labels{
		"manager":   labels["manager"],
		"attribute": attribute,
	}
	p.loadDuration.With(loadLabels).Observe(duration.Seconds())
	p.loadBatchSize.With(loadLabels).Observe(float64(items))

	return nil
}

// IncrementCounter increments a custom counter
func (p *PrometheusExporter) IncrementCounter(name string, labels Labels) error {
	p.mu.Lock()
	counter, exists := p.customCounters[name]
	if !exists {
		var err error
		counter, err = p.createCounterVec(p.customName(name), fmt.Sprintf("Custom counter: %s", name), labelNames(labels), nil)
		if err != nil {
			p.mu.Unlock()
			return fmt.Errorf("failed to create counter %s: %w", name, err)
		}
		p.customCounters[name] = counter
	}
	p.mu.Unlock()

	counter.With(prometheus.Labels(labels)).Inc()
	return nil
}

// RecordHistogram records a value in a custom histogram
func (p *PrometheusExporter) RecordHistogram(name string, value float64, labels Labels) error {
	p.mu.Lock()
	histogram, exists := p.customHistograms[name]
	if !exists {
		var err error
		histogram, err = p.createHistogramVec(p.customName(name), fmt.Sprintf("Custom histogram: %s", name), labelNames(labels), nil, prometheus.DefBuckets)
		if err != nil {
			p.mu.Unlock()
			return fmt.Errorf("failed to create histogram %s: %w", name, err)
		}
		p.customHistograms[name] = histogram
	}
	p.mu.Unlock()

	histogram.With(prometheus.Labels(labels)).Observe(value)
	return nil
}

// SetGauge sets a custom gauge value
func (p *PrometheusExporter) SetGauge(name string, value float64, labels Labels) error {
	p.mu.Lock()
	gauge, exists := p.customGauges[name]
	if !exists {
		var err error
		gauge, err = p.createGaugeVec(p.customName(name), fmt.Sprintf("Custom gauge: %s", name), labelNames(labels), nil)
		if err != nil {
			p.mu.Unlock()
			return fmt.Errorf("failed to create gauge %s: %w", name, err)
		}
		p.customGauges[name] = gauge
	}
	p.mu.Unlock()

	gauge.With(prometheus.Labels(labels)).Set(value)
	return nil
}

// Close shuts down the exporter
func (p *PrometheusExporter) Close() error {
	// Prometheus metrics don't need explicit cleanup
	return nil
}

// Helper methods

func (p *PrometheusExporter) customName(name string) string {
	if p.config.Namespace == "" {
		return name
	}
	return p.config.Namespace + "_" + name
}

func (p *PrometheusExporter) createCounterVec(name, help string, labelNames []string, constLabels prometheus.Labels) (*prometheus.CounterVec, error) {
	counter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        name,
			Help:        help,
			ConstLabels: constLabels,
		},
		labelNames,
	)

	if err := p.registry.Register(counter); err != nil {
		return nil, err
	}

	return counter, nil
}

func (p *PrometheusExporter) createHistogramVec(name, help string, labelNames []string, constLabels prometheus.Labels, buckets []float64) (*prometheus.HistogramVec, error) {
	histogram := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:        name,
			Help:        help,
			ConstLabels: constLabels,
			Buckets:     buckets,
		},
		labelNames,
	)

	if err := p.registry.Register(histogram); err != nil {
		return nil, err
	}

	return histogram, nil
}

func (p *PrometheusExporter) createGaugeVec(name, help string, labelNames []string, constLabels prometheus.Labels) (*prometheus.GaugeVec, error) {
	gauge := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name:        name,
			Help:        help,
			ConstLabels: constLabels,
		},
		labelNames,
	)

	if err := p.registry.Register(gauge); err != nil {
		return nil, err
	}

	return gauge, nil
}

func labelNames(labels Labels) []string {
	names := make([]string, 0, len(labels))
	for name := range labels {
		names = append(names, name)
	}
	return names
}

// Ensure interface is implemented
var _ Exporter = (*PrometheusExporter)(nil)
