package valuecache

import (
	"slices"

	"github.com/cockroachdb/errors"
)

// valueSearch finds a value of (item, attribute) already held by another
// cache of the same manager. It lives for one batch operation, runs under
// the manager lock and never loads anything.
//
// Caches found for earlier attributes of the same item are checked first,
// so that consecutive columns tend to come from the same source.
type valueSearch struct {
	m      *Manager
	item   int64
	ignore *ValueCache
	valid  bool

	found     []*ValueCache
	foundRows []int

	attr   Attribute
	holder int
	column int

	// err records the first bookkeeping inconsistency met by the search.
	err error
}

func newValueSearch(m *Manager) *valueSearch {
	return &valueSearch{m: m, holder: -1, column: -1}
}

// reset prepares the search for item, never returning ignore as a source.
// Resetting to the same item and ignored cache keeps the found caches.
func (s *valueSearch) reset(item int64, ignore *ValueCache) {
	if s.valid && s.item == item && s.ignore == ignore {
		return
	}
	s.restart(item, ignore)
}

// resetPreferring is reset that makes source the first cache considered.
func (s *valueSearch) resetPreferring(item int64, ignore, source *ValueCache) {
	s.restart(item, ignore)
	if source == nil || source == ignore {
		return
	}
	if row, ok := source.rowOf(item); ok {
		s.found = append(s.found, source)
		s.foundRows = append(s.foundRows, row)
	}
}

func (s *valueSearch) restart(item int64, ignore *ValueCache) {
	s.item = item
	s.ignore = ignore
	s.valid = true
	s.found = s.found[:0]
	s.foundRows = s.foundRows[:0]
	s.attr = nil
	s.holder = -1
	s.column = -1
}

func (s *valueSearch) setAttribute(attr Attribute) {
	if s.attr != nil && s.attr == attr {
		return
	}
	s.attr = attr
	s.holder = -1
	s.column = -1

	holders := s.m.holders[attr]
	if len(holders) == 0 {
		return
	}
	for i, cache := range s.found {
		if slices.Contains(holders, cache) {
			s.cacheFound(i)
			return
		}
	}
	for _, cache := range holders {
		if cache == s.ignore || slices.Contains(s.found, cache) {
			continue
		}
		if row, ok := cache.rowOf(s.item); ok {
			s.found = append(s.found, cache)
			s.foundRows = append(s.foundRows, row)
			s.cacheFound(len(s.found) - 1)
			return
		}
	}
}

func (s *valueSearch) cacheFound(index int) {
	column := s.found[index].columnOf(s.attr)
	if column < 0 {
		if s.err == nil {
			s.err = errors.AssertionFailedf("valuecache: holder of %q has no column for it", s.attr.Name())
		}
		return
	}
	s.holder = index
	s.column = column
}

func (s *valueSearch) isValueFound() bool {
	return s.holder >= 0
}

// copyValue copies the found value into dst at index.
func (s *valueSearch) copyValue(dst Storage, index int) Storage {
	source := s.found[s.holder]
	return s.attr.Accessor().CopyValue(source.values[s.column], s.foundRows[s.holder], dst, index)
}

// isOutOfDate reports whether the found value is itself outdated.
func (s *valueSearch) isOutOfDate() bool {
	return s.found[s.holder].outdated[s.column].Contains(s.item)
}
