package valuecache

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/vnykmshr/valuecache-go/internal/itemset"
)

// TransactionType is the kind of transaction a job runs in.
type TransactionType int

const (
	// TxReadRollback is a read-only transaction that is rolled back at the end.
	TxReadRollback TransactionType = iota
	// TxWrite is a transaction that may modify the database.
	TxWrite
)

// JobState lets a running job poll for preemption.
type JobState interface {
	IsCancelled() bool
	IsHurried() bool
}

// Job is a unit of work run by a Scheduler inside a transaction.
type Job interface {
	TransactionType() TransactionType
	Run(ctx context.Context, tx Transaction, state JobState) error
}

// JobClient creates jobs on behalf of a scheduler. The client value is the
// identity the scheduler deduplicates requests on.
type JobClient interface {
	CreateJob() Job
}

// Scheduler runs client jobs against the database.
type Scheduler interface {
	// Attach registers client; attaching twice fails with ErrAlreadyAttached.
	Attach(client JobClient) error

	// Process asks for a job of client to run. Requests made while one is
	// pending are merged.
	Process(client JobClient)
}

// jobPhase names the states a load job passes through.
type jobPhase string

const (
	phaseCatchingUp jobPhase = "catching_up"
	phaseScheduling jobPhase = "scheduling"
	phaseLoading    jobPhase = "loading"
	phaseIdle       jobPhase = "idle"
	phaseAborted    jobPhase = "aborted"
)

// loadJob brings every cache of a manager up to date.
type loadJob struct {
	m *Manager
}

func (j *loadJob) TransactionType() TransactionType {
	return TxReadRollback
}

func (j *loadJob) Run(ctx context.Context, tx Transaction, state JobState) error {
	return j.m.updateCache(ctx, tx, state)
}

// preemption tracks when a job was first seen hurried.
type preemption struct {
	state       JobState
	grace       time.Duration
	now         func() time.Time
	hurriedFrom time.Time
}

// check reports whether the job must stop now.
func (p *preemption) check() (AbortReason, bool) {
	if p.state.IsCancelled() {
		return AbortReasonCancelled, true
	}
	if !p.state.IsHurried() {
		return 0, false
	}
	now := p.now()
	if p.hurriedFrom.IsZero() {
		p.hurriedFrom = now
	}
	if now.Sub(p.hurriedFrom) >= p.grace {
		return AbortReasonHurried, true
	}
	return 0, false
}

// attributeJob loads one attribute for a set of items and fans the results
// out to every cache holding the attribute.
type attributeJob struct {
	m       *Manager
	attr    Attribute
	items   []int64
	preempt *preemption

	reported *itemset.Set
	loaded   int
	stopped  bool
	reason   AbortReason
	err      error
}

func (j *attributeJob) OnLoaded(requested, loaded []int64, storage Storage) SinkResult {
	if j.err != nil {
		return Stop
	}
	if !j.m.hasHolders(j.attr) {
		j.stopped = true
		j.reason = AbortReasonStopped
		return Stop
	}
	if err := j.m.onValuesLoaded(j.attr, requested, loaded, storage); err != nil {
		j.err = err
		return Stop
	}
	j.reported.AddMany(requested)
	j.loaded += len(loaded)

	if reason, stop := j.preempt.check(); stop {
		j.stopped = true
		j.reason = reason
		return Stop
	}
	return Continue
}

// run performs the load. It reports whether the job was preempted.
func (j *attributeJob) run(ctx context.Context, tx Transaction) (bool, error) {
	j.reported = itemset.New()
	start := j.preempt.now()
	err := j.attr.Load(ctx, tx, j.items, j)
	duration := j.preempt.now().Sub(start)
	j.m.loadFinished(ctx, LoadEvent{
		Attribute: j.attr.Name(),
		Requested: len(j.items),
		Loaded:    j.loaded,
		Duration:  duration,
	})

	if err == nil {
		err = j.err
	}
	if err == nil && !j.stopped && j.reported.Len() < len(j.items) {
		err = errors.AssertionFailedf("valuecache: loader of %q reported %d of %d items",
			j.attr.Name(), j.reported.Len(), len(j.items))
	}
	if err != nil {
		j.m.loadFailed(ctx, j.attr, err)
		return false, errors.Wrapf(err, "load attribute %q", j.attr.Name())
	}
	return j.stopped, nil
}
