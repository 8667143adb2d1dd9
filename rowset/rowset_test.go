package rowset

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSet_AddRemoveContains(t *testing.T) {
	s := New()
	assert.False(t, s.Contains(3))

	s.Add(3)
	s.Add(7)
	assert.True(t, s.Contains(3))
	assert.True(t, s.Contains(7))
	assert.Equal(t, uint64(2), s.Cardinality())

	s.Remove(3)
	assert.False(t, s.Contains(3))
	assert.Equal(t, uint64(1), s.Cardinality())
}

func TestSet_Filter(t *testing.T) {
	s := FromRows([]uint32{0, 2, 4})

	assert.Equal(t, []uint32{4, 0}, s.Filter([]uint32{4, 1, 0, 3}))
	assert.Empty(t, s.Filter([]uint32{1, 3}))
	assert.Empty(t, s.Filter(nil))
}

func TestSet_RemoveMany(t *testing.T) {
	s := FromRows([]uint32{1, 2, 3, 4})
	s.RemoveMany([]uint32{2, 4, 9})
	assert.Equal(t, []uint32{1, 3}, s.Filter([]uint32{1, 2, 3, 4}))
}
