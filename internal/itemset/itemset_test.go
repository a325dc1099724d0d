package itemset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetOrdering(t *testing.T) {
	s := Of(30, -5, 10, 0, -100, 10)

	require.Equal(t, 5, s.Len())
	assert.Equal(t, []int64{-100, -5, 0, 10, 30}, s.Slice())

	var visited []int64
	s.ForEach(func(item int64) bool {
		visited = append(visited, item)
		return item < 0
	})
	assert.Equal(t, []int64{-100, -5, 0}, visited)
}

func TestSetAddRemove(t *testing.T) {
	s := New()
	assert.True(t, s.IsEmpty())

	assert.True(t, s.Add(7))
	assert.False(t, s.Add(7))
	assert.True(t, s.Contains(7))

	assert.True(t, s.Remove(7))
	assert.False(t, s.Remove(7))
	assert.False(t, s.Contains(7))
	assert.True(t, s.IsEmpty())
}

func TestSetUnionAndClone(t *testing.T) {
	a := Of(1, 2, 3)
	b := Of(3, 4)

	c := a.Clone()
	c.Union(b)
	c.Union(nil)

	assert.Equal(t, []int64{1, 2, 3}, a.Slice(), "clone must not share storage")
	assert.Equal(t, []int64{1, 2, 3, 4}, c.Slice())

	c.Clear()
	assert.Equal(t, 0, c.Len())
	assert.Empty(t, c.Slice())
}
