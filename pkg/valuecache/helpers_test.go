package valuecache

import (
	"context"
	"slices"
	"sync"
	"testing"
)

// testAttribute loads values from an in-memory table.
type testAttribute struct {
	name     string
	accessor Accessor

	mu     sync.Mutex
	values map[int64]any
	batch  int
	err    error
	skip   bool
	calls  [][]int64

	// onBatch runs before every delivered batch.
	onBatch func()
}

func newObjectAttribute(name string, values map[int64]any) *testAttribute {
	return &testAttribute{name: name, accessor: ObjectAccessor{}, values: values}
}

func newIntAttribute(name string, values map[int64]any) *testAttribute {
	return &testAttribute{name: name, accessor: IntAccessor{}, values: values}
}

func (a *testAttribute) Name() string       { return a.name }
func (a *testAttribute) Accessor() Accessor { return a.accessor }

func (a *testAttribute) set(item int64, value any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.values[item] = value
}

func (a *testAttribute) loadCalls() [][]int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.calls)
}

func (a *testAttribute) Load(_ context.Context, _ Transaction, items []int64, sink Sink) error {
	a.mu.Lock()
	a.calls = append(a.calls, slices.Clone(items))
	err, batch, skip := a.err, a.batch, a.skip
	a.mu.Unlock()
	if err != nil {
		return err
	}
	if skip && len(items) > 0 {
		items = items[1:]
	}
	if batch <= 0 {
		batch = max(len(items), 1)
	}

	for start := 0; start < len(items); start += batch {
		requested := items[start:min(start+batch, len(items))]
		if a.onBatch != nil {
			a.onBatch()
		}
		loaded, storage := a.read(requested)
		if sink.OnLoaded(requested, loaded, storage) == Stop {
			return nil
		}
	}
	return nil
}

func (a *testAttribute) read(requested []int64) ([]int64, Storage) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var loaded []int64
	var storage Storage
	for _, item := range requested {
		value, ok := a.values[item]
		if !ok {
			continue
		}
		switch a.accessor.(type) {
		case IntAccessor:
			storage = a.accessor.CopyValue([]int32{value.(int32)}, 0, storage, len(loaded))
		default:
			storage = a.accessor.CopyValue([]any{value}, 0, storage, len(loaded))
		}
		loaded = append(loaded, item)
	}
	return loaded, storage
}

// testTx is a transaction over a change log of (icn, item) pairs.
type testTx struct {
	icn     int64
	changes map[int64][]int64
	err     error
}

func (tx *testTx) Icn() int64 { return tx.icn }

func (tx *testTx) ChangedItemsSorted(_ context.Context, since int64) ([]int64, error) {
	if tx.err != nil {
		return nil, tx.err
	}
	var changed []int64
	for icn, items := range tx.changes {
		if icn > since && icn <= tx.icn {
			changed = append(changed, items...)
		}
	}
	slices.Sort(changed)
	return slices.Compact(changed), nil
}

type testState struct {
	cancelled bool
	hurried   bool
}

func (s *testState) IsCancelled() bool { return s.cancelled }
func (s *testState) IsHurried() bool   { return s.hurried }

// testScheduler records requests; tests run jobs explicitly.
type testScheduler struct {
	mu        sync.Mutex
	clients   []JobClient
	processed int
}

func (s *testScheduler) Attach(client JobClient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slices.Contains(s.clients, client) {
		return ErrAlreadyAttached
	}
	s.clients = append(s.clients, client)
	return nil
}

func (s *testScheduler) Process(JobClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed++
}

func (s *testScheduler) requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processed
}

func newTestManager(t testing.TB, config *Config) (*Manager, *testScheduler) {
	t.Helper()
	scheduler := &testScheduler{}
	m, err := NewManager(scheduler, config)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	if err := m.Attach(); err != nil {
		t.Fatalf("Failed to attach manager: %v", err)
	}
	return m, scheduler
}

// runJob runs one load job of m in tx.
func runJob(m *Manager, tx Transaction, state JobState) error {
	if state == nil {
		state = &testState{}
	}
	job := m.CreateJob()
	return job.Run(context.Background(), tx, state)
}

// recorder collects update callback invocations.
type recorder struct {
	mu    sync.Mutex
	calls [][]int64
}

func (r *recorder) update(items []int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, slices.Clone(items))
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *recorder) all() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var items []int64
	for _, call := range r.calls {
		items = append(items, call...)
	}
	return items
}
