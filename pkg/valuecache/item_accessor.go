package valuecache

import (
	"iter"
	"slices"
)

// ItemAccessor reads the cached values of one item. It stays usable while
// the cache changes: its position is looked up again when the item moved,
// and reads return missing values once the item is gone.
type ItemAccessor struct {
	c     *ValueCache
	item  int64
	index int
	row   int
}

// ItemAccessor returns an accessor for item, or nil when item is not tracked.
func (c *ValueCache) ItemAccessor(item int64) *ItemAccessor {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	return c.itemAccessor(item)
}

func (c *ValueCache) itemAccessor(item int64) *ItemAccessor {
	index, found := slices.BinarySearch(c.items, item)
	if !found {
		return nil
	}
	return &ItemAccessor{c: c, item: item, index: index, row: c.rows[index]}
}

// Item returns the accessed item id.
func (a *ItemAccessor) Item() int64 {
	return a.item
}

// HasValues reports whether the item was tracked when last looked up.
func (a *ItemAccessor) HasValues() bool {
	return a.index >= 0
}

// Value returns the cached value of attr, or nil.
func (a *ItemAccessor) Value(attr Attribute) any {
	column, ok := a.locate(attr)
	if !ok {
		return nil
	}
	defer a.c.m.mu.Unlock()
	return attr.Accessor().ObjectValue(a.c.values[column], a.row)
}

// Int returns the cached int32 value of attr, or missing.
func (a *ItemAccessor) Int(attr Attribute, missing int32) int32 {
	column, ok := a.locate(attr)
	if !ok {
		return missing
	}
	defer a.c.m.mu.Unlock()
	accessor, ok := attr.Accessor().(IntValueAccessor)
	if !ok {
		a.c.m.logger.Error("Attribute is not int valued", F("attribute", attr.Name()))
		return missing
	}
	return accessor.IntValue(a.c.values[column], a.row)
}

// Long returns the cached int64 value of attr, or missing.
func (a *ItemAccessor) Long(attr Attribute, missing int64) int64 {
	column, ok := a.locate(attr)
	if !ok {
		return missing
	}
	defer a.c.m.mu.Unlock()
	accessor, ok := attr.Accessor().(LongValueAccessor)
	if !ok {
		a.c.m.logger.Error("Attribute is not long valued", F("attribute", attr.Name()))
		return missing
	}
	return accessor.LongValue(a.c.values[column], a.row)
}

// HasUpToDateValue reports whether the value of attr is fresh.
func (a *ItemAccessor) HasUpToDateValue(attr Attribute) bool {
	column, ok := a.locate(attr)
	if !ok {
		return false
	}
	defer a.c.m.mu.Unlock()
	return !a.c.outdated[column].Contains(a.item)
}

// locate takes the manager lock and finds attr's column for the item. On
// success the lock is left held for the caller to release.
func (a *ItemAccessor) locate(attr Attribute) (int, bool) {
	if a.index < 0 {
		return -1, false
	}
	a.c.m.mu.Lock()
	if a.findRow() {
		if column := a.c.columnOf(attr); column >= 0 {
			return column, true
		}
	}
	a.c.m.mu.Unlock()
	return -1, false
}

func (a *ItemAccessor) findRow() bool {
	c := a.c
	if a.index < 0 {
		return false
	}
	if a.index < len(c.items) && c.items[a.index] == a.item && c.rows[a.index] == a.row {
		return true
	}
	index, found := slices.BinarySearch(c.items, a.item)
	if !found {
		a.index = -1
		return false
	}
	a.index = index
	a.row = c.rows[index]
	return true
}

// ItemSetAccessor reads the cached values of a list of items.
type ItemSetAccessor struct {
	c     *ValueCache
	items []int64
}

// ItemSetAccessor returns an accessor over items, in the given order.
func (c *ValueCache) ItemSetAccessor(items []int64) *ItemSetAccessor {
	return &ItemSetAccessor{c: c, items: slices.Clone(items)}
}

// Count returns the number of items in the set.
func (s *ItemSetAccessor) Count() int {
	return len(s.items)
}

// IsEmpty reports whether the set has no items.
func (s *ItemSetAccessor) IsEmpty() bool {
	return len(s.items) == 0
}

// Items returns the items of the set.
func (s *ItemSetAccessor) Items() []int64 {
	return slices.Clone(s.items)
}

// First returns the accessor of the first item, or nil.
func (s *ItemSetAccessor) First() *ItemAccessor {
	if len(s.items) == 0 {
		return nil
	}
	return s.c.ItemAccessor(s.items[0])
}

// Visit calls fn with the accessor of each item until fn returns false.
// The accessor is nil for items the cache does not track.
func (s *ItemSetAccessor) Visit(fn func(*ItemAccessor) bool) {
	for _, item := range s.items {
		if !fn(s.c.ItemAccessor(item)) {
			return
		}
	}
}

// All iterates over the item ids and their accessors.
func (s *ItemSetAccessor) All() iter.Seq2[int64, *ItemAccessor] {
	return func(yield func(int64, *ItemAccessor) bool) {
		for _, item := range s.items {
			if !yield(item, s.c.ItemAccessor(item)) {
				return
			}
		}
	}
}
