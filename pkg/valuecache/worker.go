package valuecache

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/singleflight"
)

// Database supplies the transactions jobs run in.
type Database interface {
	// Read runs fn in a read-only transaction that is rolled back afterwards.
	Read(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Worker is an in-process Scheduler running one job at a time on a
// background goroutine. Requests for a client that already has a job
// pending are merged. Job errors are logged; the next request retries.
type Worker struct {
	db     Database
	logger Logger

	mu       sync.Mutex
	idle     *sync.Cond
	clients  []JobClient
	pending  []JobClient
	running  int
	closed   bool
	wake     chan struct{}
	flushing singleflight.Group

	runMu   sync.Mutex
	hurried atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWorker starts a worker reading from db. A nil logger discards output.
func NewWorker(db Database, logger Logger) *Worker {
	if logger == nil {
		logger = NewNoOpLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		db:     db,
		logger: logger,
		wake:   make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	w.idle = sync.NewCond(&w.mu)
	go w.loop()
	return w
}

// Attach registers client.
func (w *Worker) Attach(client JobClient) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWorkerClosed
	}
	if slices.Contains(w.clients, client) {
		return ErrAlreadyAttached
	}
	w.clients = append(w.clients, client)
	return nil
}

// Process queues a job for client unless one is already queued.
func (w *Worker) Process(client JobClient) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	if !slices.Contains(w.clients, client) {
		w.mu.Unlock()
		w.logger.Warn("Job requested for unknown client", F("error", ErrNotAttached))
		return
	}
	if slices.Contains(w.pending, client) {
		w.mu.Unlock()
		return
	}
	w.pending = append(w.pending, client)
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Hurry asks the running job to finish soon.
func (w *Worker) Hurry() {
	w.hurried.Store(true)
}

// Flush runs queued jobs until none is queued or running. Concurrent
// callers share one flush.
func (w *Worker) Flush(ctx context.Context) error {
	ch := w.flushing.DoChan("flush", func() (any, error) {
		return nil, w.flush()
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels the running job and stops the worker.
func (w *Worker) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.pending = nil
	w.mu.Unlock()

	w.cancel()
	<-w.done

	w.mu.Lock()
	w.idle.Broadcast()
	w.mu.Unlock()
	return nil
}

func (w *Worker) loop() {
	defer close(w.done)
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.wake:
			w.drain()
		}
	}
}

func (w *Worker) flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for !w.closed {
		if len(w.pending) > 0 {
			w.mu.Unlock()
			w.drain()
			w.mu.Lock()
			continue
		}
		if w.running == 0 {
			return nil
		}
		w.idle.Wait()
	}
	return ErrWorkerClosed
}

func (w *Worker) drain() {
	for {
		client := w.next()
		if client == nil {
			return
		}
		w.run(client)

		w.mu.Lock()
		w.running--
		w.idle.Broadcast()
		w.mu.Unlock()
	}
}

// next pops the oldest pending client and counts it as running.
func (w *Worker) next() JobClient {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || len(w.pending) == 0 {
		return nil
	}
	client := w.pending[0]
	w.pending = w.pending[1:]
	w.running++
	return client
}

func (w *Worker) run(client JobClient) {
	w.runMu.Lock()
	defer w.runMu.Unlock()
	w.hurried.Store(false)

	job := client.CreateJob()
	if typ := job.TransactionType(); typ != TxReadRollback {
		w.logger.Error("Job not run", F("error", errors.Wrapf(ErrUnsupportedTransaction, "type %d", typ)))
		return
	}

	state := &workerState{ctx: w.ctx, hurried: &w.hurried}
	err := w.db.Read(w.ctx, func(ctx context.Context, tx Transaction) error {
		return job.Run(ctx, tx, state)
	})
	if err != nil && w.ctx.Err() == nil {
		w.logger.Error("Job failed", F("error", err))
	}
}

type workerState struct {
	ctx     context.Context
	hurried *atomic.Bool
}

func (s *workerState) IsCancelled() bool {
	return s.ctx.Err() != nil
}

func (s *workerState) IsHurried() bool {
	return s.hurried.Load()
}
