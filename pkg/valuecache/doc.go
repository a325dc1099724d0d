// Package valuecache keeps attribute values of database items in memory for
// views that display many items at once, and refreshes them in the background.
//
// # Overview
//
// A Manager coordinates every cache of one database. Each ValueCache tracks a
// sorted set of item ids and a list of attributes (columns). Values that are
// missing or known to be stale are marked outdated; a background job run by a
// Scheduler catches up with the database change log and then loads, one
// attribute at a time, the attribute with the largest outdated backlog across
// all caches. Loaded values are written to every cache holding the attribute
// and the caches' update callbacks are notified.
//
// Values are never loaded on read. Adding items first copies values already
// held by other caches of the manager and only marks the rest outdated.
//
// # Basic Usage
//
//	worker := valuecache.NewWorker(db, nil)
//	defer worker.Close()
//
//	manager, err := valuecache.NewManager(worker, valuecache.NewDefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := manager.Attach(); err != nil {
//	    log.Fatal(err)
//	}
//
//	cache := manager.NewCache(func(items []int64) {
//	    view.Refresh(items)
//	})
//	_ = cache.AddAttributes(nameAttr, sizeAttr)
//	_ = cache.SetItems([]int64{10, 20, 30})
//
//	if v, state := cache.ObjectValue(20, nameAttr); state == valuecache.Fresh {
//	    fmt.Println(v)
//	}
//
// # Compound Caches
//
// A CompoundCache partitions items by key, for example by the group a row is
// shown in. Items moving from one key to another within one CompoundUpdate
// carry their values along instead of being reloaded:
//
//	groups, _ := valuecache.NewCompoundCache[string](manager, onUpdate, 0)
//	_ = groups.CreateUpdate().
//	    SetItems("open", []int64{1, 2}).
//	    SetItems("closed", []int64{3}).
//	    Apply()
//
// # Concurrency
//
// One mutex owned by the Manager guards the bookkeeping of all its caches.
// Loads run outside of it, and update callbacks are invoked with it released
// so they may call back into the caches.
//
// # Preemption
//
// The running job polls its JobState between batches. A cancelled job stops at
// once; a hurried job stops after Config.HurryGrace. Either way the remaining
// items stay outdated and are loaded by the next job.
package valuecache
