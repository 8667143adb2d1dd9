package idmap

import (
	"context"
	"sync"

	"github.com/bitharbor/annex/canonical"
	"github.com/bitharbor/annex/rowset"
)

// Compile-time check that MemoryMap satisfies the Map interface.
var _ Map = (*MemoryMap)(nil)

type pairKey struct {
	hash    canonical.Hash
	mediaID string
}

// MemoryMap is an in-memory Map for tests and ephemeral catalogs.
type MemoryMap struct {
	mu     sync.RWMutex
	byRow  map[uint32]Entry
	byPair map[pairKey]uint32
	closed bool
}

// NewMemoryMap creates an empty in-memory map.
func NewMemoryMap() *MemoryMap {
	return &MemoryMap{
		byRow:  make(map[uint32]Entry),
		byPair: make(map[pairKey]uint32),
	}
}

// Insert records a new mapping.
func (m *MemoryMap) Insert(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.byRow[e.RowID]; ok {
		return &ErrDuplicateRow{RowID: e.RowID}
	}
	key := pairKey{hash: e.VectorHash, mediaID: e.MediaID}
	if _, ok := m.byPair[key]; ok {
		return &ErrDuplicateMapping{MediaID: e.MediaID, VectorHash: e.VectorHash}
	}
	m.byRow[e.RowID] = e
	m.byPair[key] = e.RowID
	return nil
}

// Resolve returns the entries for the given row ids, omitting unmapped ones.
func (m *MemoryMap) Resolve(_ context.Context, rowIDs []uint32) (map[uint32]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make(map[uint32]Entry, len(rowIDs))
	for _, id := range rowIDs {
		if e, ok := m.byRow[id]; ok {
			out[id] = e
		}
	}
	return out, nil
}

// Lookup returns the row id for the (media, vector hash) pair.
func (m *MemoryMap) Lookup(_ context.Context, mediaID string, h canonical.Hash) (uint32, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, false, ErrClosed
	}
	rowID, ok := m.byPair[pairKey{hash: h, mediaID: mediaID}]
	return rowID, ok, nil
}

// DeleteMedia removes every mapping for the media item.
func (m *MemoryMap) DeleteMedia(_ context.Context, mediaID string) ([]uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	var freed []uint32
	for rowID, e := range m.byRow {
		if e.MediaID != mediaID {
			continue
		}
		freed = append(freed, rowID)
		delete(m.byRow, rowID)
		delete(m.byPair, pairKey{hash: e.VectorHash, mediaID: e.MediaID})
	}
	return freed, nil
}

// LiveRows returns the set of all mapped row ids.
func (m *MemoryMap) LiveRows(_ context.Context) (*rowset.Set, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	set := rowset.New()
	for rowID := range m.byRow {
		set.Add(rowID)
	}
	return set, nil
}

// Close marks the map closed.
func (m *MemoryMap) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
