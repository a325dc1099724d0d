package valuecache

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/vnykmshr/valuecache-go/internal/itemset"
	"github.com/vnykmshr/valuecache-go/pkg/metrics"
)

// Manager coordinates the caches of one database.
//
// A single mutex guards the bookkeeping of every cache, the attribute to
// holder index and the change watermark. Database reads performed by the
// background job run outside of it: the job snapshots what to load under
// the lock, loads without it and takes it again to apply the results.
type Manager struct {
	mu sync.Mutex

	scheduler Scheduler
	config    *Config
	logger    Logger
	hooks     *Hooks
	stats     *Stats
	now       func() time.Time

	caches         []*ValueCache
	holders        map[Attribute][]*ValueCache
	lastIcn        int64
	catchUpPending bool
	attached       bool

	// Metrics
	metricsExporter metrics.Exporter
	metricsLabels   metrics.Labels
	metricsStop     chan struct{}
	metricsWg       sync.WaitGroup
	closeOnce       sync.Once
}

// NewManager creates a manager whose load jobs run on scheduler.
func NewManager(scheduler Scheduler, config *Config) (*Manager, error) {
	if scheduler == nil {
		return nil, errors.New("valuecache: scheduler is required")
	}
	if config == nil {
		config = NewDefaultConfig()
	}
	config.normalize()

	m := &Manager{
		scheduler: scheduler,
		config:    config,
		logger:    config.Logger,
		hooks:     config.Hooks,
		stats:     &Stats{},
		now:       time.Now,
		holders:   make(map[Attribute][]*ValueCache),
		lastIcn:   config.InitialIcn,
	}

	if err := m.initializeMetrics(); err != nil {
		return nil, errors.Wrap(err, "failed to initialize metrics")
	}

	return m, nil
}

// Attach registers the manager with its scheduler. It may only be called once.
func (m *Manager) Attach() error {
	m.mu.Lock()
	if m.attached {
		m.mu.Unlock()
		return ErrAlreadyAttached
	}
	m.attached = true
	m.mu.Unlock()

	if err := m.scheduler.Attach(m); err != nil {
		m.mu.Lock()
		m.attached = false
		m.mu.Unlock()
		return errors.Wrap(err, "attach to scheduler")
	}
	return nil
}

// CreateJob returns a read-only job that brings every cache up to date.
func (m *Manager) CreateJob() Job {
	return &loadJob{m: m}
}

// NewCache creates a cache coordinated by the manager. callback may be nil.
func (m *Manager) NewCache(callback UpdateFunc) *ValueCache {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.newCache(callback)
}

// DatabaseChanged tells the manager that items may have changed. The next
// scheduling step re-reads the change log before loading.
func (m *Manager) DatabaseChanged() {
	m.mu.Lock()
	m.catchUpPending = true
	m.mu.Unlock()
	m.requestLoad()
}

// LastIcn returns the change watermark processed so far.
func (m *Manager) LastIcn() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastIcn
}

// Stats returns the manager statistics.
func (m *Manager) Stats() *Stats {
	return m.stats
}

// Close stops metrics reporting. Caches stay usable.
func (m *Manager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		if m.metricsStop != nil {
			close(m.metricsStop)
			m.metricsWg.Wait()
		}
		err = m.metricsExporter.Close()
	})
	return err
}

func (m *Manager) requestLoad() {
	m.scheduler.Process(m)
}

func (m *Manager) newCache(callback UpdateFunc) *ValueCache {
	c := &ValueCache{m: m, callback: callback}
	m.caches = append(m.caches, c)
	m.stats.setCaches(len(m.caches))
	return c
}

func (m *Manager) removeCache(c *ValueCache) {
	m.caches = slices.DeleteFunc(m.caches, func(other *ValueCache) bool { return other == c })
	for _, attr := range c.attrs {
		m.attributeRemoved(c, attr)
	}
	m.stats.setCaches(len(m.caches))
}

func (m *Manager) isHolder(attr Attribute, c *ValueCache) bool {
	return slices.Contains(m.holders[attr], c)
}

func (m *Manager) attributesAdded(c *ValueCache, attrs []Attribute) {
	for _, attr := range attrs {
		m.holders[attr] = append(m.holders[attr], c)
	}
}

func (m *Manager) attributeRemoved(c *ValueCache, attr Attribute) {
	holders := slices.DeleteFunc(m.holders[attr], func(other *ValueCache) bool { return other == c })
	if len(holders) == 0 {
		delete(m.holders, attr)
		return
	}
	m.holders[attr] = holders
}

// updateCache is the body of the load job: catch up with the change log,
// then load the attribute with the largest backlog until nothing is
// outdated or the job is preempted.
func (m *Manager) updateCache(ctx context.Context, tx Transaction, state JobState) error {
	preempt := &preemption{state: state, grace: m.config.HurryGrace, now: m.now}
	first := true
	for {
		m.mu.Lock()
		catchUp := first || m.catchUpPending
		m.catchUpPending = false
		m.mu.Unlock()

		if catchUp {
			first = false
			m.logger.Debug("Load job phase", F("phase", phaseCatchingUp))
			if err := m.catchUp(ctx, tx); err != nil {
				return err
			}
			continue
		}

		if reason, stop := preempt.check(); stop {
			m.aborted(ctx, reason)
			return nil
		}

		m.logger.Debug("Load job phase", F("phase", phaseScheduling))
		attr, items := m.chooseJob()
		if attr == nil {
			m.logger.Debug("Load job phase", F("phase", phaseIdle))
			return nil
		}

		m.logger.Debug("Load job phase", F("phase", phaseLoading), F("attribute", attr.Name()), F("items", len(items)))
		job := &attributeJob{m: m, attr: attr, items: items, preempt: preempt}
		stopped, err := job.run(ctx, tx)
		if err != nil {
			return err
		}
		if stopped {
			m.aborted(ctx, job.reason)
			if job.reason != AbortReasonStopped {
				return nil
			}
		}
	}
}

// catchUp marks items changed since the watermark outdated in every cache
// and advances the watermark to the transaction's change counter.
func (m *Manager) catchUp(ctx context.Context, tx Transaction) error {
	icn := tx.Icn()
	m.mu.Lock()
	from := m.lastIcn
	m.mu.Unlock()
	if icn <= from {
		return nil
	}

	changed, err := tx.ChangedItemsSorted(ctx, from)
	all := errors.Is(err, ErrChangesUnavailable)
	if err != nil && !all {
		return errors.Wrapf(err, "read items changed since %d", from)
	}
	if !all && !slices.IsSorted(changed) {
		changed = slices.Clone(changed)
		slices.Sort(changed)
	}

	m.mu.Lock()
	if m.lastIcn >= icn {
		m.mu.Unlock()
		return nil
	}
	marks := 0
	for _, c := range m.caches {
		if all {
			marks += c.markAllOutofdate()
		} else {
			marks += c.markOutofdate(changed)
		}
	}
	m.lastIcn = icn
	m.mu.Unlock()

	if all {
		m.logger.Warn("Change log unavailable, all values outdated", F("from", from), F("to", icn))
	}
	m.stats.incCatchUps()
	m.stats.addOutdatedMarks(marks)
	if !all {
		m.recordMetric(m.metricsExporter.RecordHistogram(metricCatchUpChanged, float64(len(changed)), m.metricsLabels))
	}
	m.hooks.invokeOnCatchUp(ctx, from, icn, len(changed))
	return nil
}

// chooseJob collects one vote per cache and picks the voted attribute with
// the most outdated items across all of its holders. Ties go to the first
// vote. It returns nil when nothing is outdated.
func (m *Manager) chooseJob() (Attribute, []int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var chosen Attribute
	var chosenItems *itemset.Set
	backlog := 0
	considered := make(map[Attribute]bool)
	for _, c := range m.caches {
		backlog += c.outdatedTotal()
		attr := c.chooseAttribute()
		if attr == nil || considered[attr] {
			continue
		}
		considered[attr] = true

		items := itemset.New()
		for _, holder := range m.holders[attr] {
			items.Union(holder.outdatedOf(attr))
		}
		if chosenItems == nil || items.Len() > chosenItems.Len() {
			chosen, chosenItems = attr, items
		}
	}
	m.stats.setBacklog(backlog)

	if chosen == nil {
		return nil, nil
	}
	return chosen, chosenItems.Slice()
}

type pendingUpdate struct {
	callback UpdateFunc
	items    []int64
}

// onValuesLoaded stores a loaded batch in every holder of attr, then calls
// the callbacks of the caches that changed with the lock released.
func (m *Manager) onValuesLoaded(attr Attribute, requested, loaded []int64, storage Storage) error {
	if !isSortedUnique(requested) || !isSortedUnique(loaded) {
		return errors.AssertionFailedf("valuecache: loader of %q delivered unsorted items", attr.Name())
	}
	if item, ok := firstUnrequested(requested, loaded); ok {
		return errors.AssertionFailedf("valuecache: loader of %q delivered item %d it was not asked for", attr.Name(), item)
	}

	m.mu.Lock()
	var updates []pendingUpdate
	for _, c := range slices.Clone(m.holders[attr]) {
		touched := c.updateValueTable(requested, loaded, attr, storage)
		if len(touched) > 0 && c.callback != nil {
			updates = append(updates, pendingUpdate{callback: c.callback, items: touched})
		}
	}
	m.mu.Unlock()

	for _, u := range updates {
		u.callback(u.items)
	}
	return nil
}

func (m *Manager) loadFinished(ctx context.Context, event LoadEvent) {
	m.stats.incLoads(event.Requested)
	m.recordLoad(event)
	m.hooks.invokeOnLoad(ctx, event)
}

func (m *Manager) loadFailed(ctx context.Context, attr Attribute, err error) {
	m.stats.incLoadErrors()
	m.hooks.invokeOnLoadError(ctx, attr.Name(), err)
}

func (m *Manager) aborted(ctx context.Context, reason AbortReason) {
	m.logger.Debug("Load job phase", F("phase", phaseAborted), F("reason", reason.String()))
	m.stats.incAborts()
	m.recordMetric(m.metricsExporter.IncrementCounter(metricJobAborts, m.labelsWith("reason", reason.String())))
	m.hooks.invokeOnAbort(ctx, reason)
}

// hasHolders reports whether any cache still tracks attr.
func (m *Manager) hasHolders(attr Attribute) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.holders[attr]) > 0
}

// firstUnrequested returns the first loaded item missing from requested.
// Both slices are sorted.
func firstUnrequested(requested, loaded []int64) (int64, bool) {
	i := 0
	for _, item := range loaded {
		for i < len(requested) && requested[i] < item {
			i++
		}
		if i == len(requested) || requested[i] != item {
			return item, true
		}
	}
	return 0, false
}

func isSortedUnique(items []int64) bool {
	for i := 1; i < len(items); i++ {
		if items[i-1] >= items[i] {
			return false
		}
	}
	return true
}

// Custom metrics recorded next to the exported statistics.
const (
	metricJobAborts      = "job_aborts"
	metricCatchUpChanged = "catch_up_changed_items"
	metricWatermark      = "watermark"
)

// initializeMetrics sets up metrics collection if enabled
func (m *Manager) initializeMetrics() error {
	cfg := m.config.Metrics
	if cfg == nil || !cfg.Enabled || cfg.Exporter == nil {
		m.metricsExporter = metrics.NewNoOpExporter()
		return nil
	}

	m.metricsExporter = cfg.Exporter

	m.metricsLabels = make(metrics.Labels)
	m.metricsLabels["manager"] = "default"
	if cfg.ManagerName != "" {
		m.metricsLabels["manager"] = cfg.ManagerName
	}
	for k, v := range cfg.Labels {
		m.metricsLabels[k] = v
	}

	if cfg.ReportingInterval > 0 {
		m.metricsStop = make(chan struct{})
		m.metricsWg.Add(1)
		go m.metricsReporter(cfg.ReportingInterval)
	}

	return nil
}

// metricsReporter periodically exports manager statistics
func (m *Manager) metricsReporter(interval time.Duration) {
	defer m.metricsWg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.exportCurrentStats()
		case <-m.metricsStop:
			// Final stats export before shutting down
			m.exportCurrentStats()
			return
		}
	}
}

func (m *Manager) exportCurrentStats() {
	if err := m.metricsExporter.ExportStats(m.stats, m.metricsLabels); err != nil {
		m.logger.Warn("Failed to export stats", F("error", err))
	}
	m.recordMetric(m.metricsExporter.SetGauge(metricWatermark, float64(m.LastIcn()), m.metricsLabels))
}

func (m *Manager) recordMetric(err error) {
	if err != nil {
		m.logger.Warn("Failed to record metric", F("error", err))
	}
}

// labelsWith returns the manager labels plus key.
func (m *Manager) labelsWith(key, value string) metrics.Labels {
	labels := make(metrics.Labels, len(m.metricsLabels)+1)
	for k, v := range m.metricsLabels {
		labels[k] = v
	}
	labels[key] = value
	return labels
}

func (m *Manager) recordLoad(event LoadEvent) {
	if err := m.metricsExporter.RecordLoad(event.Attribute, event.Requested, event.Duration, m.metricsLabels); err != nil {
		m.logger.Warn("Failed to record load", F("error", err))
	}
}
