package valuecache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
)

type testDB struct {
	mu      sync.Mutex
	icn     int64
	changes map[int64][]int64
	reads   atomic.Int64
}

// change records a write of items at a new change counter.
func (db *testDB) change(items ...int64) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.changes == nil {
		db.changes = make(map[int64][]int64)
	}
	db.icn++
	db.changes[db.icn] = items
}

func (db *testDB) Read(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error {
	db.reads.Add(1)
	db.mu.Lock()
	tx := &testTx{icn: db.icn, changes: make(map[int64][]int64, len(db.changes))}
	for icn, items := range db.changes {
		tx.changes[icn] = items
	}
	db.mu.Unlock()
	return fn(ctx, tx)
}

type writeClient struct{}

type writeJob struct{ ran *atomic.Bool }

func (c *writeClient) CreateJob() Job { return &writeJob{ran: &atomic.Bool{}} }

func (j *writeJob) TransactionType() TransactionType { return TxWrite }

func (j *writeJob) Run(context.Context, Transaction, JobState) error {
	j.ran.Store(true)
	return nil
}

func flush(t *testing.T, w *Worker) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.Flush(ctx); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
}

func TestWorkerLoadsInBackground(t *testing.T) {
	db := &testDB{}
	w := NewWorker(db, nil)
	defer func() { _ = w.Close() }()

	m, err := NewManager(w, nil)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	if err := m.Attach(); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	if err := w.Attach(m); !errors.Is(err, ErrAlreadyAttached) {
		t.Fatalf("Expected ErrAlreadyAttached, got %v", err)
	}

	attr := newObjectAttribute("name", map[int64]any{1: "a", 2: "b"})
	rec := &recorder{}
	c := m.NewCache(rec.update)
	_ = c.AddAttributes(attr)
	_ = c.AddItems([]int64{1, 2})

	flush(t, w)

	if v, state := c.ObjectValue(2, attr); v != "b" || state != Fresh {
		t.Fatalf("Expected fresh 'b', got %v (%s)", v, state)
	}
	if rec.count() == 0 {
		t.Fatal("Expected update callback")
	}

	attr.set(1, "A")
	db.change(1)
	m.DatabaseChanged()
	flush(t, w)

	if m.LastIcn() != 1 {
		t.Fatalf("Expected watermark 1, got %d", m.LastIcn())
	}
	if v, _ := c.ObjectValue(1, attr); v != "A" {
		t.Fatalf("Expected reloaded 'A', got %v", v)
	}
}

func TestWorkerConcurrentFlush(t *testing.T) {
	db := &testDB{}
	w := NewWorker(db, nil)
	defer func() { _ = w.Close() }()

	m, _ := NewManager(w, nil)
	_ = m.Attach()
	attr := newObjectAttribute("name", map[int64]any{1: "a"})
	c := m.NewCache(nil)
	_ = c.AddAttributes(attr)
	_ = c.AddItems([]int64{1})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := w.Flush(ctx); err != nil {
				t.Errorf("Flush failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if c.OutdatedCount(attr) != 0 {
		t.Fatalf("Expected nothing outdated, got %d", c.OutdatedCount(attr))
	}
}

func TestWorkerIgnoresUnknownClients(t *testing.T) {
	db := &testDB{}
	w := NewWorker(db, nil)
	defer func() { _ = w.Close() }()

	w.Process(&writeClient{})
	flush(t, w)
	if db.reads.Load() != 0 {
		t.Fatalf("Expected no reads, got %d", db.reads.Load())
	}
}

func TestWorkerRejectsWriteJobs(t *testing.T) {
	db := &testDB{}
	w := NewWorker(db, nil)
	defer func() { _ = w.Close() }()

	client := &writeClient{}
	if err := w.Attach(client); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	w.Process(client)
	flush(t, w)
	if db.reads.Load() != 0 {
		t.Fatalf("Expected write job not to run, got %d reads", db.reads.Load())
	}
}

func TestWorkerHurry(t *testing.T) {
	w := NewWorker(&testDB{}, nil)
	defer func() { _ = w.Close() }()

	state := &workerState{ctx: context.Background(), hurried: &w.hurried}
	if state.IsHurried() {
		t.Fatal("Expected fresh worker not to be hurried")
	}
	w.Hurry()
	if !state.IsHurried() {
		t.Fatal("Expected hurried state")
	}
	if state.IsCancelled() {
		t.Fatal("Expected state not cancelled")
	}
}

func TestWorkerClose(t *testing.T) {
	w := NewWorker(&testDB{}, nil)
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Second Close failed: %v", err)
	}
	if err := w.Attach(&writeClient{}); !errors.Is(err, ErrWorkerClosed) {
		t.Fatalf("Expected ErrWorkerClosed, got %v", err)
	}
	if err := w.Flush(context.Background()); !errors.Is(err, ErrWorkerClosed) {
		t.Fatalf("Expected ErrWorkerClosed, got %v", err)
	}
}
