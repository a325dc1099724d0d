package valuecache

import (
	"sync/atomic"

	"github.com/vnykmshr/valuecache-go/pkg/metrics"
)

// Stats holds manager statistics
type Stats struct {
	// Loads is the number of attribute loads started
	loads int64

	// LoadedItems is the number of items requested from loaders
	loadedItems int64

	// Borrows is the number of values copied from sibling caches
	borrows int64

	// OutdatedMarks is the number of item values marked outdated by catch-ups
	outdatedMarks int64

	// CatchUps is the number of change watermark advances
	catchUps int64

	// Aborts is the number of jobs that stopped early
	aborts int64

	// LoadErrors is the number of failed loads
	loadErrors int64

	// Caches is the current number of live caches
	caches int64

	// Backlog is the number of outdated item values seen by the last scheduling step
	backlog int64
}

// Loads returns the number of attribute loads
func (s *Stats) Loads() int64 {
	return atomic.LoadInt64(&s.loads)
}

// LoadedItems returns the number of items requested from loaders
func (s *Stats) LoadedItems() int64 {
	return atomic.LoadInt64(&s.loadedItems)
}

// Borrows returns the number of values copied from sibling caches
func (s *Stats) Borrows() int64 {
	return atomic.LoadInt64(&s.borrows)
}

// OutdatedMarks returns the number of item values marked outdated by catch-ups
func (s *Stats) OutdatedMarks() int64 {
	return atomic.LoadInt64(&s.outdatedMarks)
}

// CatchUps returns the number of change watermark advances
func (s *Stats) CatchUps() int64 {
	return atomic.LoadInt64(&s.catchUps)
}

// Aborts returns the number of jobs that stopped early
func (s *Stats) Aborts() int64 {
	return atomic.LoadInt64(&s.aborts)
}

// LoadErrors returns the number of failed loads
func (s *Stats) LoadErrors() int64 {
	return atomic.LoadInt64(&s.loadErrors)
}

// Caches returns the current number of live caches
func (s *Stats) Caches() int64 {
	return atomic.LoadInt64(&s.caches)
}

// Backlog returns the outdated values seen by the last scheduling step
func (s *Stats) Backlog() int64 {
	return atomic.LoadInt64(&s.backlog)
}

// Reset resets the cumulative counters to zero
func (s *Stats) Reset() {
	atomic.StoreInt64(&s.loads, 0)
	atomic.StoreInt64(&s.loadedItems, 0)
	atomic.StoreInt64(&s.borrows, 0)
	atomic.StoreInt64(&s.outdatedMarks, 0)
	atomic.StoreInt64(&s.catchUps, 0)
	atomic.StoreInt64(&s.aborts, 0)
	atomic.StoreInt64(&s.loadErrors, 0)
}

// Internal methods for updating stats (not exported)

func (s *Stats) incLoads(items int) {
	atomic.AddInt64(&s.loads, 1)
	atomic.AddInt64(&s.loadedItems, int64(items))
}

func (s *Stats) addBorrows(n int) {
	atomic.AddInt64(&s.borrows, int64(n))
}

func (s *Stats) addOutdatedMarks(n int) {
	atomic.AddInt64(&s.outdatedMarks, int64(n))
}

func (s *Stats) incCatchUps() {
	atomic.AddInt64(&s.catchUps, 1)
}

func (s *Stats) incAborts() {
	atomic.AddInt64(&s.aborts, 1)
}

func (s *Stats) incLoadErrors() {
	atomic.AddInt64(&s.loadErrors, 1)
}

func (s *Stats) setCaches(n int) {
	atomic.StoreInt64(&s.caches, int64(n))
}

func (s *Stats) setBacklog(n int) {
	atomic.StoreInt64(&s.backlog, int64(n))
}

var _ metrics.Stats = (*Stats)(nil)
