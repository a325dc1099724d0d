package valuecache

import (
	"time"

	"github.com/vnykmshr/valuecache-go/pkg/metrics"
)

// DefaultHurryGrace is how long a hurried job may keep loading before it stops.
const DefaultHurryGrace = 30 * time.Millisecond

// MetricsConfig holds metrics exporter configuration
type MetricsConfig struct {
	// Exporter is the metrics exporter to use
	Exporter metrics.Exporter

	// Enabled determines whether metrics collection is enabled
	Enabled bool

	// ManagerName is the manager label applied to all metrics for this manager
	ManagerName string

	// ReportingInterval determines how often to export stats automatically
	// Set to 0 to disable automatic reporting
	ReportingInterval time.Duration

	// Labels are additional labels applied to all metrics
	Labels metrics.Labels
}

// Config defines the configuration options for a Manager
type Config struct {
	// Logger receives job and bookkeeping diagnostics
	// Default: NoOpLogger
	Logger Logger

	// Hooks defines event callbacks for the background load job
	Hooks *Hooks

	// Metrics holds metrics exporter configuration
	// If nil, no metrics will be exported
	Metrics *MetricsConfig

	// HurryGrace is how long a hurried job may continue before aborting
	// Default: 30 milliseconds
	HurryGrace time.Duration

	// InitialIcn is the change watermark the first job catches up from
	// Default: 0
	InitialIcn int64
}

// NewDefaultConfig returns a Config with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Logger:     NewNoOpLogger(),
		Hooks:      &Hooks{},
		HurryGrace: DefaultHurryGrace,
	}
}

// WithLogger sets the logger
func (c *Config) WithLogger(logger Logger) *Config {
	c.Logger = logger
	return c
}

// WithHooks sets the job event hooks
func (c *Config) WithHooks(hooks *Hooks) *Config {
	c.Hooks = hooks
	return c
}

// WithHurryGrace sets how long a hurried job may keep loading
func (c *Config) WithHurryGrace(grace time.Duration) *Config {
	c.HurryGrace = grace
	return c
}

// WithInitialIcn sets the change watermark of the first catch-up
func (c *Config) WithInitialIcn(icn int64) *Config {
	c.InitialIcn = icn
	return c
}

// WithMetrics configures metrics export
func (c *Config) WithMetrics(metricsConfig *MetricsConfig) *Config {
	c.Metrics = metricsConfig
	return c
}

// WithMetricsExporter configures metrics with the given exporter
func (c *Config) WithMetricsExporter(exporter metrics.Exporter, managerName string) *Config {
	c.Metrics = &MetricsConfig{
		Exporter:          exporter,
		Enabled:           true,
		ManagerName:       managerName,
		ReportingInterval: 30 * time.Second,
		Labels:            make(metrics.Labels),
	}
	return c
}

// WithMetricsReportingInterval sets the metrics reporting interval
func (c *Config) WithMetricsReportingInterval(interval time.Duration) *Config {
	if c.Metrics == nil {
		c.Metrics = &MetricsConfig{Labels: make(metrics.Labels)}
	}
	c.Metrics.ReportingInterval = interval
	return c
}

func (c *Config) normalize() {
	if c.Logger == nil {
		c.Logger = NewNoOpLogger()
	}
	if c.Hooks == nil {
		c.Hooks = &Hooks{}
	}
	if c.HurryGrace <= 0 {
		c.HurryGrace = DefaultHurryGrace
	}
}
