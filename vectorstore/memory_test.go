package vectorstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_Contract(t *testing.T) {
	s := NewMemoryStore(2)

	rowID, err := s.Append([]float32{1, 0})
	require.NoError(t, err)
	assert.Equal(t, uint32(0), rowID)

	rowID, err = s.Append([]float32{0, 1})
	require.NoError(t, err)
	assert.Equal(t, uint32(1), rowID)

	count, err := s.RowCount()
	require.NoError(t, err)
	assert.Equal(t, uint32(2), count)

	rows, err := s.ReadRows([]uint32{1, 0})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0, 1}, {1, 0}}, rows)

	_, err = s.ReadRows([]uint32{2})
	var oor *ErrRowOutOfRange
	require.ErrorAs(t, err, &oor)

	_, err = s.Append([]float32{1})
	var dm *ErrDimensionMismatch
	require.ErrorAs(t, err, &dm)
}

func TestMemoryStore_CopiesOnReadAndWrite(t *testing.T) {
	s := NewMemoryStore(2)

	src := []float32{1, 2}
	_, err := s.Append(src)
	require.NoError(t, err)
	src[0] = 99

	rows, err := s.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2}, rows[0])

	rows[0][0] = 42
	again, err := s.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2}, again[0])
}
