package valuecache

import (
	"slices"

	"github.com/bits-and-blooms/bitset"
	"github.com/cockroachdb/errors"

	"github.com/vnykmshr/valuecache-go/internal/itemset"
)

// ValueCache holds attribute values for a sorted set of items.
//
// Each tracked item owns a data row in every column's storage. Rows of
// removed items go to a free list and are reused by later additions, so row
// numbers are stable but not dense.
//
// All state is guarded by the owning Manager's lock. Exported methods take
// the lock themselves; unexported methods expect it to be held.
type ValueCache struct {
	m        *Manager
	callback UpdateFunc

	// Columns: attrs, values and outdated are parallel.
	attrs    []Attribute
	values   []Storage
	outdated []*itemset.Set

	// Items: items is strictly ascending, rows[i] is the data row of items[i].
	items    []int64
	rows     []int
	freeRows []int

	disposed bool
}

// AddItems starts tracking items. Values are copied from other caches of the
// manager where possible; everything else is marked outdated and a load is
// requested.
func (c *ValueCache) AddItems(items []int64) error {
	if len(items) == 0 {
		return nil
	}

	c.m.mu.Lock()
	if c.disposed {
		c.m.mu.Unlock()
		return ErrDisposed
	}
	search := newValueSearch(c.m)
	for _, item := range items {
		c.addItem(item, search)
	}
	err := errors.CombineErrors(search.err, c.checkItems())
	needLoad := c.hasOutdated()
	c.m.mu.Unlock()

	if needLoad {
		c.m.requestLoad()
	}
	return err
}

// RemoveItems stops tracking items. Unknown items are ignored.
func (c *ValueCache) RemoveItems(items []int64) error {
	if len(items) == 0 {
		return nil
	}

	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	if c.disposed {
		return ErrDisposed
	}
	c.removeItems(items)
	return c.checkItems()
}

// SetItems makes items the exact set of tracked items.
func (c *ValueCache) SetItems(items []int64) error {
	c.m.mu.Lock()
	if c.disposed {
		c.m.mu.Unlock()
		return ErrDisposed
	}
	toAdd, toRemove := c.selectAddRemove(items)
	c.removeItems(toRemove)
	search := newValueSearch(c.m)
	for _, item := range toAdd {
		c.addItem(item, search)
	}
	err := errors.CombineErrors(search.err, c.checkItems())
	needLoad := len(toAdd) > 0 && c.hasOutdated()
	c.m.mu.Unlock()

	if needLoad {
		c.m.requestLoad()
	}
	return err
}

// AddAttributes starts tracking attributes not tracked yet.
func (c *ValueCache) AddAttributes(attrs ...Attribute) error {
	c.m.mu.Lock()
	if c.disposed {
		c.m.mu.Unlock()
		return ErrDisposed
	}
	first := len(c.attrs)
	added, err := c.allocColumns(attrs)
	if err != nil || len(added) == 0 {
		c.m.mu.Unlock()
		return err
	}

	search := newValueSearch(c.m)
	for i, item := range c.items {
		search.reset(item, c)
		c.fillRow(item, c.rows[i], first, search)
	}
	c.m.attributesAdded(c, added)
	needLoad := c.hasOutdated()
	err = search.err
	c.m.mu.Unlock()

	if needLoad {
		c.m.requestLoad()
	}
	return err
}

// RemoveAttribute drops the attribute's column.
func (c *ValueCache) RemoveAttribute(attr Attribute) error {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	if c.disposed {
		return ErrDisposed
	}

	column := c.columnOf(attr)
	if column < 0 {
		return nil
	}
	c.attrs = slices.Delete(c.attrs, column, column+1)
	c.values = slices.Delete(c.values, column, column+1)
	c.outdated = slices.Delete(c.outdated, column, column+1)
	c.m.attributeRemoved(c, attr)
	return nil
}

// ObjectValue returns the cached value of attr for item and its freshness.
// Reads never trigger loads.
func (c *ValueCache) ObjectValue(item int64, attr Attribute) (any, Freshness) {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()

	column := c.columnOf(attr)
	index, found := slices.BinarySearch(c.items, item)
	if column < 0 || !found {
		return nil, NoValue
	}
	state := Fresh
	if c.outdated[column].Contains(item) {
		state = Stale
	}
	return attr.Accessor().ObjectValue(c.values[column], c.rows[index]), state
}

// ItemCount returns the number of tracked items.
func (c *ValueCache) ItemCount() int {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	return len(c.items)
}

// ItemAt returns the item at position index of the sorted item list.
func (c *ValueCache) ItemAt(index int) (int64, error) {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	if index < 0 || index >= len(c.items) {
		return 0, errors.Newf("valuecache: item index %d out of range [0, %d)", index, len(c.items))
	}
	return c.items[index], nil
}

// Items returns a copy of the sorted item list.
func (c *ValueCache) Items() []int64 {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	return slices.Clone(c.items)
}

// Attributes returns the tracked attributes in column order.
func (c *ValueCache) Attributes() []Attribute {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	return slices.Clone(c.attrs)
}

// OutdatedCount returns how many items have a missing or stale value for attr.
func (c *ValueCache) OutdatedCount(attr Attribute) int {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	if column := c.columnOf(attr); column >= 0 {
		return c.outdated[column].Len()
	}
	return 0
}

// Dispose unregisters the cache from its manager and releases its storage.
// Further mutations return ErrDisposed.
func (c *ValueCache) Dispose() {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	c.dispose()
}

func (c *ValueCache) dispose() {
	if c.disposed {
		return
	}
	c.m.removeCache(c)
	c.disposed = true
	c.attrs, c.values, c.outdated = nil, nil, nil
	c.items, c.rows, c.freeRows = nil, nil, nil
}

func (c *ValueCache) addItem(item int64, search *valueSearch) {
	index, found := slices.BinarySearch(c.items, item)
	if found {
		return
	}
	row := c.allocRow()
	c.items = slices.Insert(c.items, index, item)
	c.rows = slices.Insert(c.rows, index, row)
	search.reset(item, c)
	c.fillRow(item, row, 0, search)
}

// allocRow must be called before the new item is inserted: with an empty
// free list the rows in use are exactly 0..len(items)-1.
func (c *ValueCache) allocRow() int {
	if n := len(c.freeRows); n > 0 {
		row := c.freeRows[n-1]
		c.freeRows = c.freeRows[:n-1]
		return row
	}
	return len(c.items)
}

// fillRow borrows the item's values for columns from first on, or marks
// them outdated.
func (c *ValueCache) fillRow(item int64, row, first int, search *valueSearch) {
	borrowed := 0
	for column := first; column < len(c.attrs); column++ {
		attr := c.attrs[column]
		search.setAttribute(attr)
		if !search.isValueFound() {
			c.values[column] = attr.Accessor().SetNull(c.values[column], row)
			c.outdated[column].Add(item)
			continue
		}
		c.values[column] = search.copyValue(c.values[column], row)
		borrowed++
		if search.isOutOfDate() {
			c.outdated[column].Add(item)
		}
	}
	c.m.stats.addBorrows(borrowed)
}

func (c *ValueCache) removeItems(items []int64) {
	for _, item := range items {
		index, found := slices.BinarySearch(c.items, item)
		if !found {
			continue
		}
		row := c.rows[index]
		for column, attr := range c.attrs {
			c.outdated[column].Remove(item)
			c.values[column] = attr.Accessor().SetNull(c.values[column], row)
		}
		c.freeRows = append(c.freeRows, row)
		c.items = slices.Delete(c.items, index, index+1)
		c.rows = slices.Delete(c.rows, index, index+1)
	}
}

// selectAddRemove diffs items against the tracked items. toAdd is sorted and
// unique, toRemove is ascending.
func (c *ValueCache) selectAddRemove(items []int64) (toAdd, toRemove []int64) {
	n := uint(len(c.items))
	held := bitset.New(n)
	for _, item := range items {
		if index, found := slices.BinarySearch(c.items, item); found {
			held.Set(uint(index))
		} else {
			toAdd = append(toAdd, item)
		}
	}
	slices.Sort(toAdd)
	toAdd = slices.Compact(toAdd)

	toRemove = make([]int64, 0, n-held.Count())
	for i, ok := held.NextClear(0); ok && i < n; i, ok = held.NextClear(i + 1) {
		toRemove = append(toRemove, c.items[i])
	}
	return toAdd, toRemove
}

// allocColumns appends columns for attributes not tracked yet and returns them.
func (c *ValueCache) allocColumns(attrs []Attribute) ([]Attribute, error) {
	var added []Attribute
	for _, attr := range attrs {
		if attr == nil || slices.Contains(added, attr) {
			continue
		}
		tracked := c.columnOf(attr) >= 0
		if held := c.m.isHolder(attr, c); held != tracked {
			return nil, errors.AssertionFailedf("valuecache: attribute %q column=%t holder=%t", attr.Name(), tracked, held)
		}
		if !tracked {
			added = append(added, attr)
		}
	}
	for range added {
		c.values = append(c.values, nil)
		c.outdated = append(c.outdated, itemset.New())
	}
	c.attrs = append(c.attrs, added...)
	return added, nil
}

func (c *ValueCache) columnOf(attr Attribute) int {
	return slices.Index(c.attrs, attr)
}

func (c *ValueCache) rowOf(item int64) (int, bool) {
	index, found := slices.BinarySearch(c.items, item)
	if !found {
		return -1, false
	}
	return c.rows[index], true
}

func (c *ValueCache) hasOutdated() bool {
	for _, outdated := range c.outdated {
		if !outdated.IsEmpty() {
			return true
		}
	}
	return false
}

func (c *ValueCache) outdatedOf(attr Attribute) *itemset.Set {
	if column := c.columnOf(attr); column >= 0 {
		return c.outdated[column]
	}
	return nil
}

func (c *ValueCache) outdatedTotal() int {
	total := 0
	for _, outdated := range c.outdated {
		total += outdated.Len()
	}
	return total
}

// chooseAttribute returns the attribute with the most outdated items, the
// first one in column order on ties, or nil when nothing is outdated.
func (c *ValueCache) chooseAttribute() Attribute {
	var chosen Attribute
	most := 0
	for column, outdated := range c.outdated {
		if n := outdated.Len(); n > most {
			most = n
			chosen = c.attrs[column]
		}
	}
	return chosen
}

// markOutofdate marks every column of the tracked items among changed
// (sorted) as outdated and returns the number of new marks.
func (c *ValueCache) markOutofdate(changed []int64) int {
	// TODO: mark only the columns a change can affect once changes carry attribute information.
	marks := 0
	lo := 0
	for _, item := range changed {
		offset, found := slices.BinarySearch(c.items[lo:], item)
		lo += offset
		if lo >= len(c.items) {
			break
		}
		if !found {
			continue
		}
		for _, outdated := range c.outdated {
			if outdated.Add(item) {
				marks++
			}
		}
		lo++
	}
	return marks
}

// markAllOutofdate marks every value outdated and returns the number of new marks.
func (c *ValueCache) markAllOutofdate() int {
	if len(c.items) == 0 {
		return 0
	}
	marks := 0
	for _, outdated := range c.outdated {
		marks += len(c.items) - outdated.Len()
		outdated.Clear()
		outdated.AddMany(c.items)
	}
	return marks
}

// updateValueTable stores a loaded batch into attr's column. Requested items
// that are tracked get the loaded value, or null when absent from loaded, and
// stop being outdated. It returns the touched items in ascending order.
func (c *ValueCache) updateValueTable(requested, loaded []int64, attr Attribute, storage Storage) []int64 {
	column := c.columnOf(attr)
	if column < 0 || len(c.items) == 0 {
		return nil
	}
	accessor := attr.Accessor()

	var touched []int64
	loadedIndex := 0
	lo := 0
	for _, item := range requested {
		for loadedIndex < len(loaded) && loaded[loadedIndex] < item {
			loadedIndex++
		}
		offset, found := slices.BinarySearch(c.items[lo:], item)
		lo += offset
		if lo >= len(c.items) {
			break
		}
		if !found {
			continue
		}
		row := c.rows[lo]
		if loadedIndex < len(loaded) && loaded[loadedIndex] == item {
			c.values[column] = accessor.CopyValue(storage, loadedIndex, c.values[column], row)
		} else {
			c.values[column] = accessor.SetNull(c.values[column], row)
		}
		c.outdated[column].Remove(item)
		touched = append(touched, item)
		lo++
	}
	return touched
}

// checkItems verifies the item and row bookkeeping.
func (c *ValueCache) checkItems() error {
	if len(c.items) != len(c.rows) {
		return errors.AssertionFailedf("valuecache: %d items but %d rows", len(c.items), len(c.rows))
	}
	if len(c.attrs) != len(c.values) || len(c.attrs) != len(c.outdated) {
		return errors.AssertionFailedf("valuecache: %d attributes, %d value columns, %d outdated sets",
			len(c.attrs), len(c.values), len(c.outdated))
	}
	capacity := uint(len(c.items) + len(c.freeRows))
	used := bitset.New(capacity)
	for i, row := range c.rows {
		if i > 0 && c.items[i-1] >= c.items[i] {
			return errors.AssertionFailedf("valuecache: items not ascending at %d", i)
		}
		if row < 0 || uint(row) >= capacity || used.Test(uint(row)) {
			return errors.AssertionFailedf("valuecache: bad data row %d for item %d", row, c.items[i])
		}
		used.Set(uint(row))
	}
	for _, row := range c.freeRows {
		if row < 0 || uint(row) >= capacity || used.Test(uint(row)) {
			return errors.AssertionFailedf("valuecache: bad free row %d", row)
		}
		used.Set(uint(row))
	}
	return nil
}
