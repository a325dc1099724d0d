// Package itemset provides an ordered set of int64 item ids backed by a
// 64-bit Roaring bitmap.
package itemset

import (
	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

// signBit flips negative ids above positive ones so that the unsigned
// ordering of the bitmap matches the signed ordering of item ids.
const signBit = uint64(1) << 63

func toKey(item int64) uint64 { return uint64(item) ^ signBit }

func fromKey(key uint64) int64 { return int64(key ^ signBit) }

// Set is a sorted, duplicate-free set of item ids.
// It is not safe for concurrent use.
type Set struct {
	rb *roaring64.Bitmap
}

// New creates an empty set.
func New() *Set {
	return &Set{rb: roaring64.New()}
}

// Of creates a set holding the given items.
func Of(items ...int64) *Set {
	s := New()
	s.AddMany(items)
	return s
}

// Add inserts item and reports whether it was not present before.
func (s *Set) Add(item int64) bool {
	return s.rb.CheckedAdd(toKey(item))
}

// AddMany inserts every item in items.
func (s *Set) AddMany(items []int64) {
	for _, item := range items {
		s.rb.Add(toKey(item))
	}
}

// Remove deletes item and reports whether it was present.
func (s *Set) Remove(item int64) bool {
	return s.rb.CheckedRemove(toKey(item))
}

// Contains reports whether item is in the set.
func (s *Set) Contains(item int64) bool {
	return s.rb.Contains(toKey(item))
}

// Len returns the number of items in the set.
func (s *Set) Len() int {
	return int(s.rb.GetCardinality())
}

// IsEmpty reports whether the set has no items.
func (s *Set) IsEmpty() bool {
	return s.rb.IsEmpty()
}

// Clear removes all items.
func (s *Set) Clear() {
	s.rb.Clear()
}

// Union adds every item of other to s.
func (s *Set) Union(other *Set) {
	if other == nil {
		return
	}
	s.rb.Or(other.rb)
}

// Clone returns an independent copy of s.
func (s *Set) Clone() *Set {
	return &Set{rb: s.rb.Clone()}
}

// Slice returns the items in ascending order.
func (s *Set) Slice() []int64 {
	keys := s.rb.ToArray()
	items := make([]int64, len(keys))
	for i, key := range keys {
		items[i] = fromKey(key)
	}
	return items
}

// ForEach calls fn for every item in ascending order until fn returns false.
func (s *Set) ForEach(fn func(item int64) bool) {
	it := s.rb.Iterator()
	for it.HasNext() {
		if !fn(fromKey(it.Next())) {
			return
		}
	}
}
