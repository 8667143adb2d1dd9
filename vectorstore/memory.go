package vectorstore

import (
	"slices"
	"sync"
)

// MemoryStore is an in-memory Store implementation for tests and ephemeral
// indexes. It honors the same contract as FileStore minus durability.
type MemoryStore struct {
	dim    int
	mu     sync.RWMutex
	rows   [][]float32
	closed bool
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory vector store.
func NewMemoryStore(dim int) *MemoryStore {
	return &MemoryStore{dim: dim}
}

// Dimension returns the fixed vector dimension.
func (s *MemoryStore) Dimension() int { return s.dim }

// RowCount returns the current number of rows.
func (s *MemoryStore) RowCount() (uint32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint32(len(s.rows)), nil
}

// Append stores a copy of vec and returns its row id.
func (s *MemoryStore) Append(vec []float32) (uint32, error) {
	if len(vec) != s.dim {
		return 0, &ErrDimensionMismatch{Expected: s.dim, Actual: len(vec)}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}

	rowID := uint32(len(s.rows))
	s.rows = append(s.rows, slices.Clone(vec))
	return rowID, nil
}

// ReadRows returns copies of the vectors for the requested row ids.
func (s *MemoryStore) ReadRows(rowIDs []uint32) ([][]float32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := uint32(len(s.rows))
	if count == 0 || len(rowIDs) == 0 {
		return [][]float32{}, nil
	}

	out := make([][]float32, 0, len(rowIDs))
	for _, id := range rowIDs {
		if id >= count {
			return nil, &ErrRowOutOfRange{RowID: id, Count: count}
		}
		out = append(out, slices.Clone(s.rows[id]))
	}
	return out, nil
}

// ReadAll returns copies of every vector in row order.
func (s *MemoryStore) ReadAll() ([][]float32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([][]float32, len(s.rows))
	for i, row := range s.rows {
		out[i] = slices.Clone(row)
	}
	return out, nil
}

// Close marks the store closed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
