package valuecache

import (
	"slices"
	"testing"

	"github.com/cockroachdb/errors"
)

func newTestCompound(t *testing.T, m *Manager, callback UpdateFunc, maxKeys int) *CompoundCache[string] {
	t.Helper()
	cc, err := NewCompoundCache[string](m, callback, maxKeys)
	if err != nil {
		t.Fatalf("Failed to create compound cache: %v", err)
	}
	return cc
}

func mustCache(t *testing.T, cc *CompoundCache[string], key string) *ValueCache {
	t.Helper()
	c, err := cc.Cache(key)
	if err != nil {
		t.Fatalf("Cache(%q) failed: %v", key, err)
	}
	return c
}

func TestCompoundMigrationAvoidsReload(t *testing.T) {
	m, scheduler := newTestManager(t, nil)
	attr := newObjectAttribute("name", map[int64]any{1: "a", 2: "b", 3: "c"})
	cc := newTestCompound(t, m, nil, 0)

	k1 := mustCache(t, cc, "k1")
	k2 := mustCache(t, cc, "k2")
	_ = k1.AddAttributes(attr)
	_ = k2.AddAttributes(attr)

	if err := cc.CreateUpdate().SetItems("k1", []int64{1, 2, 3}).Apply(); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if err := runJob(m, &testTx{}, nil); err != nil {
		t.Fatalf("Job failed: %v", err)
	}

	requests := scheduler.requests()
	err := cc.CreateUpdate().
		SetItems("k1", []int64{1, 2}).
		SetItems("k2", []int64{3}).
		Apply()
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	if scheduler.requests() != requests {
		t.Fatal("Expected no load request for a migrated item")
	}
	if got := k1.Items(); !slices.Equal(got, []int64{1, 2}) {
		t.Fatalf("Expected k1 = [1 2], got %v", got)
	}
	if v, state := k2.ObjectValue(3, attr); v != "c" || state != Fresh {
		t.Fatalf("Expected migrated fresh 'c', got %v (%s)", v, state)
	}
	if calls := attr.loadCalls(); len(calls) != 1 {
		t.Fatalf("Expected a single load, got %v", calls)
	}
}

func TestCompoundMigrationKeepsStaleness(t *testing.T) {
	m, _ := newTestManager(t, nil)
	attr := newObjectAttribute("name", map[int64]any{1: "a"})
	cc := newTestCompound(t, m, nil, 0)
	_ = mustCache(t, cc, "from").AddAttributes(attr)
	_ = mustCache(t, cc, "to").AddAttributes(attr)

	_ = cc.CreateUpdate().SetItems("from", []int64{1}).Apply()

	err := cc.CreateUpdate().SetItems("from", nil).SetItems("to", []int64{1}).Apply()
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	to := mustCache(t, cc, "to")
	if _, state := to.ObjectValue(1, attr); state != Stale {
		t.Fatalf("Expected migrated value to stay stale, got %s", state)
	}
	if mustCache(t, cc, "from").ItemCount() != 0 {
		t.Fatal("Expected item to leave its old key")
	}
}

func TestCompoundNewItemsRequestLoad(t *testing.T) {
	m, scheduler := newTestManager(t, nil)
	attr := newObjectAttribute("name", map[int64]any{4: "d"})
	rec := &recorder{}
	cc := newTestCompound(t, m, rec.update, 0)
	_ = mustCache(t, cc, "k").AddAttributes(attr)

	requests := scheduler.requests()
	if err := cc.CreateUpdate().SetItems("k", []int64{4}).Apply(); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if scheduler.requests() != requests+1 {
		t.Fatal("Expected a load request for a new item")
	}
	if err := runJob(m, &testTx{}, nil); err != nil {
		t.Fatalf("Job failed: %v", err)
	}
	if got := rec.all(); !slices.Equal(got, []int64{4}) {
		t.Fatalf("Expected shared callback for [4], got %v", got)
	}
}

func TestCompoundSetItemsReplacesPerKey(t *testing.T) {
	m, _ := newTestManager(t, nil)
	cc := newTestCompound(t, m, nil, 0)

	err := cc.CreateUpdate().
		SetItems("k", []int64{1, 2}).
		SetItems("k", []int64{3}).
		Apply()
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if got := mustCache(t, cc, "k").Items(); !slices.Equal(got, []int64{3}) {
		t.Fatalf("Expected [3], got %v", got)
	}
}

func TestCompoundEvictsLeastRecentlyUsedKey(t *testing.T) {
	m, _ := newTestManager(t, nil)
	cc := newTestCompound(t, m, nil, 2)

	a := mustCache(t, cc, "a")
	_ = mustCache(t, cc, "b")
	_ = mustCache(t, cc, "a")
	_ = mustCache(t, cc, "c")

	if got := cc.Keys(); !slices.Equal(got, []string{"a", "c"}) {
		t.Fatalf("Expected keys [a c], got %v", got)
	}
	if m.Stats().Caches() != 2 {
		t.Fatalf("Expected 2 live caches, got %d", m.Stats().Caches())
	}
	if err := a.AddItems([]int64{1}); err != nil {
		t.Fatalf("Expected cache of a to survive, got %v", err)
	}
}

func TestCompoundUpdateOverKeyLimitFails(t *testing.T) {
	m, _ := newTestManager(t, nil)
	cc := newTestCompound(t, m, nil, 2)

	err := cc.CreateUpdate().
		SetItems("a", []int64{1}).
		SetItems("b", []int64{2}).
		SetItems("c", []int64{3}).
		Apply()
	if !errors.Is(err, ErrTooManyKeys) {
		t.Fatalf("Expected ErrTooManyKeys, got %v", err)
	}
	if keys := cc.Keys(); len(keys) != 0 {
		t.Fatalf("Expected no keys after a rejected update, got %v", keys)
	}
}

func TestCompoundUpdateKeepsItsKeys(t *testing.T) {
	m, _ := newTestManager(t, nil)
	cc := newTestCompound(t, m, nil, 2)
	a := mustCache(t, cc, "a")
	_ = mustCache(t, cc, "b")

	// a is the least recently used key; the update must evict b instead
	err := cc.CreateUpdate().
		SetItems("c", []int64{3}).
		SetItems("a", []int64{1}).
		Apply()
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	if got := cc.Keys(); !slices.Equal(got, []string{"c", "a"}) {
		t.Fatalf("Expected keys [c a], got %v", got)
	}
	if mustCache(t, cc, "a") != a {
		t.Fatal("Expected the cache of a to survive the update")
	}
	for key, want := range map[string][]int64{"a": {1}, "c": {3}} {
		if got := mustCache(t, cc, key).Items(); !slices.Equal(got, want) {
			t.Fatalf("Expected %s = %v, got %v", key, want, got)
		}
	}
	if m.Stats().Caches() != 2 {
		t.Fatalf("Expected 2 live caches, got %d", m.Stats().Caches())
	}
}

func TestCompoundRemovalDoesNotRequestLoad(t *testing.T) {
	m, scheduler := newTestManager(t, nil)
	attr := newObjectAttribute("name", map[int64]any{1: "a", 2: "b"})
	cc := newTestCompound(t, m, nil, 0)
	_ = mustCache(t, cc, "k").AddAttributes(attr)

	if err := cc.CreateUpdate().SetItems("k", []int64{1, 2}).Apply(); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	requests := scheduler.requests()

	if err := cc.CreateUpdate().SetItems("k", []int64{1}).Apply(); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if scheduler.requests() != requests {
		t.Fatal("Expected no load request when no item was added")
	}
	if mustCache(t, cc, "k").OutdatedCount(attr) != 1 {
		t.Fatal("Expected the remaining item to stay outdated")
	}
}

func TestCompoundDispose(t *testing.T) {
	m, _ := newTestManager(t, nil)
	cc := newTestCompound(t, m, nil, 0)
	c := mustCache(t, cc, "a")
	_ = mustCache(t, cc, "b")

	cc.Dispose()

	if m.Stats().Caches() != 0 {
		t.Fatalf("Expected 0 caches, got %d", m.Stats().Caches())
	}
	if err := c.AddItems([]int64{1}); err != ErrDisposed {
		t.Fatalf("Expected ErrDisposed, got %v", err)
	}
	if _, err := cc.Cache("a"); err != ErrDisposed {
		t.Fatalf("Expected ErrDisposed, got %v", err)
	}
	if err := cc.CreateUpdate().SetItems("a", []int64{1}).Apply(); err != ErrDisposed {
		t.Fatalf("Expected ErrDisposed, got %v", err)
	}
}
