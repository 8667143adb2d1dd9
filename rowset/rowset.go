// Package rowset tracks which vector rows are currently resolvable to a
// media record. Vector rows are append-only and never deleted, so when a
// media record goes away its rows linger in the log and the index; the set
// lets the search path skip those candidates before touching the id map.
package rowset

import (
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
)

// Set is a concurrency-safe set of live row ids backed by a roaring bitmap.
type Set struct {
	mu sync.RWMutex
	bm *roaring.Bitmap
}

// New creates an empty Set.
func New() *Set {
	return &Set{bm: roaring.New()}
}

// FromRows creates a Set pre-populated with the given row ids.
func FromRows(rowIDs []uint32) *Set {
	s := New()
	s.bm.AddMany(rowIDs)
	return s
}

// Add marks a row id as live.
func (s *Set) Add(rowID uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bm.Add(rowID)
}

// Remove marks a row id as no longer resolvable.
func (s *Set) Remove(rowID uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bm.Remove(rowID)
}

// RemoveMany removes several row ids at once.
func (s *Set) RemoveMany(rowIDs []uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range rowIDs {
		s.bm.Remove(id)
	}
}

// Contains reports whether rowID is live.
func (s *Set) Contains(rowID uint32) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bm.Contains(rowID)
}

// Cardinality returns the number of live rows.
func (s *Set) Cardinality() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bm.GetCardinality()
}

// Filter returns the subset of rowIDs that are live, preserving order.
func (s *Set) Filter(rowIDs []uint32) []uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]uint32, 0, len(rowIDs))
	for _, id := range rowIDs {
		if s.bm.Contains(id) {
			out = append(out, id)
		}
	}
	return out
}
