package valuecache

import (
	"math"
	"slices"

	"github.com/cockroachdb/errors"
	lru "github.com/hashicorp/golang-lru/v2"
)

// CompoundCache partitions items over caches selected by key. All caches
// share one update callback and the manager of the compound cache.
type CompoundCache[K comparable] struct {
	m        *Manager
	callback UpdateFunc
	maxKeys  int

	// caches and evicted are guarded by m.mu.
	caches   *lru.Cache[K, *ValueCache]
	evicted  []*ValueCache
	disposed bool
}

// NewCompoundCache creates a compound cache. With maxKeys > 0 the cache of
// the least recently used key is disposed once more keys are in use.
func NewCompoundCache[K comparable](m *Manager, callback UpdateFunc, maxKeys int) (*CompoundCache[K], error) {
	cc := &CompoundCache[K]{m: m, callback: callback, maxKeys: maxKeys}
	size := maxKeys
	if size <= 0 {
		size = math.MaxInt32
	}
	caches, err := lru.NewWithEvict(size, func(_ K, c *ValueCache) {
		cc.evicted = append(cc.evicted, c)
	})
	if err != nil {
		return nil, errors.Wrap(err, "create key cache")
	}
	cc.caches = caches
	return cc, nil
}

// Cache returns the cache of key, creating it on first use.
func (cc *CompoundCache[K]) Cache(key K) (*ValueCache, error) {
	cc.m.mu.Lock()
	if cc.disposed {
		cc.m.mu.Unlock()
		return nil, ErrDisposed
	}
	c := cc.cache(key)
	evicted := cc.takeEvicted()
	cc.m.mu.Unlock()

	disposeAll(evicted)
	return c, nil
}

// Keys returns the keys that currently have a cache, least recently used first.
func (cc *CompoundCache[K]) Keys() []K {
	cc.m.mu.Lock()
	defer cc.m.mu.Unlock()
	return cc.caches.Keys()
}

// Dispose disposes the cache of every key.
func (cc *CompoundCache[K]) Dispose() {
	cc.m.mu.Lock()
	defer cc.m.mu.Unlock()
	if cc.disposed {
		return
	}
	cc.disposed = true
	cc.caches.Purge()
	for _, c := range cc.takeEvicted() {
		c.dispose()
	}
}

// CreateUpdate starts a batch of item assignments applied together.
func (cc *CompoundCache[K]) CreateUpdate() *CompoundUpdate[K] {
	return &CompoundUpdate[K]{cc: cc, items: make(map[K][]int64)}
}

func (cc *CompoundCache[K]) cache(key K) *ValueCache {
	if c, ok := cc.caches.Get(key); ok {
		return c
	}
	c := cc.m.newCache(cc.callback)
	cc.caches.Add(key, c)
	return c
}

func (cc *CompoundCache[K]) takeEvicted() []*ValueCache {
	evicted := cc.evicted
	cc.evicted = nil
	return evicted
}

func disposeAll(caches []*ValueCache) {
	for _, c := range caches {
		c.Dispose()
	}
}

// CompoundUpdate collects the item sets of several keys. Items leaving one
// key for another in the same update keep their cached values.
type CompoundUpdate[K comparable] struct {
	cc    *CompoundCache[K]
	keys  []K
	items map[K][]int64
}

// SetItems sets the items of key. A later call for the same key replaces the
// earlier one.
func (u *CompoundUpdate[K]) SetItems(key K, items []int64) *CompoundUpdate[K] {
	if _, ok := u.items[key]; !ok {
		u.keys = append(u.keys, key)
	}
	u.items[key] = slices.Clone(items)
	return u
}

type compoundPlan struct {
	cache    *ValueCache
	toAdd    []int64
	toRemove []int64
}

// Apply reconciles every key of the update with its cache. An update naming
// more keys than the key limit fails with ErrTooManyKeys and changes nothing.
func (u *CompoundUpdate[K]) Apply() error {
	cc := u.cc
	m := cc.m

	m.mu.Lock()
	if cc.disposed {
		m.mu.Unlock()
		return ErrDisposed
	}
	if cc.maxKeys > 0 && len(u.keys) > cc.maxKeys {
		m.mu.Unlock()
		return errors.Wrapf(ErrTooManyKeys, "%d keys, limit %d", len(u.keys), cc.maxKeys)
	}

	// Touch the known keys before creating new ones so that evictions only
	// hit keys outside the update.
	for _, key := range u.keys {
		cc.caches.Get(key)
	}
	plans := make([]compoundPlan, 0, len(u.keys))
	for _, key := range u.keys {
		c := cc.cache(key)
		toAdd, toRemove := c.selectAddRemove(u.items[key])
		plans = append(plans, compoundPlan{cache: c, toAdd: toAdd, toRemove: toRemove})
	}

	search := newValueSearch(m)
	migrate(plans, search)

	for _, plan := range plans {
		plan.cache.removeItems(plan.toRemove)
	}

	needLoad := false
	var err error
	for _, plan := range plans {
		for _, item := range plan.toAdd {
			plan.cache.addItem(item, search)
		}
		needLoad = needLoad || (len(plan.toAdd) > 0 && plan.cache.hasOutdated())
		err = errors.CombineErrors(err, plan.cache.checkItems())
	}
	err = errors.CombineErrors(search.err, err)
	evicted := cc.takeEvicted()
	m.mu.Unlock()

	disposeAll(evicted)
	if needLoad {
		m.requestLoad()
	}
	return err
}

// migrate adds items that leave one cache to the cache that gains them,
// copying values from the cache they leave. Migrated items are dropped from
// the target's toAdd list. Removal from the source is left to the caller.
func migrate(plans []compoundPlan, search *valueSearch) {
	for i := range plans {
		source := &plans[i]
		for _, item := range source.toRemove {
			for j := range plans {
				if j == i {
					continue
				}
				target := &plans[j]
				index, found := slices.BinarySearch(target.toAdd, item)
				if !found {
					continue
				}
				search.resetPreferring(item, target.cache, source.cache)
				target.cache.addItem(item, search)
				target.toAdd = slices.Delete(target.toAdd, index, index+1)
				break
			}
		}
	}
}
