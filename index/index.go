// Package index defines the contract for approximate nearest-neighbor
// index backends.
//
// An index searches over whatever it currently holds, independent of
// whether that matches the vector log's row count; keeping the two in sync
// is the orchestrating service's job. Every backend is fully
// reconstructible from the vector log via Build.
package index

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidK is returned when k is negative.
	ErrInvalidK = errors.New("index: k must not be negative")

	// ErrAddNotSupported is returned by backends that cannot insert
	// incrementally and must be rebuilt instead.
	ErrAddNotSupported = errors.New("index: incremental add not supported")

	// ErrNoSnapshot is returned by Load when the directory holds no
	// persisted index.
	ErrNoSnapshot = errors.New("index: no snapshot found")
)

// ErrDimensionMismatch indicates a vector or query whose dimensionality
// does not match the index's.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("index: dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// SearchResult represents a single approximate search hit.
type SearchResult struct {
	// RowID is the vector log row id of the hit.
	RowID uint32

	// Distance is the squared L2 distance between the query and the hit.
	// Smaller is closer; over normalized vectors the ordering is equivalent
	// to descending cosine similarity.
	Distance float32
}

// Index is a pluggable ANN structure.
//
// Build, Add, Load and Clear mutate the index and must be serialized by the
// caller. Search is safe to call concurrently with other searches.
type Index interface {
	// Name identifies the backend ("hnsw", "diskgraph").
	Name() string

	// Dimension returns the fixed vector dimension.
	Dimension() int

	// Build replaces all content with a fresh index over exactly this set.
	// Afterward Size() equals len(vectors). Row ids are assigned by slice
	// position, matching the vector log's append order.
	Build(vectors [][]float32) error

	// Add inserts one vector and returns its row id. Backends without
	// incremental insert return ErrAddNotSupported.
	Add(vec []float32) (uint32, error)

	// Search returns up to k results, best-first. Fewer than k are returned
	// when fewer vectors are indexed; an empty index yields an empty result,
	// never an error. k < 0 is rejected with ErrInvalidK.
	Search(query []float32, k int) ([]SearchResult, error)

	// Size returns the number of vectors currently indexed.
	Size() int

	// Persist writes a durable snapshot of the index into dir.
	Persist(dir string) error

	// Load restores the index from a snapshot directory previously written
	// by Persist. ErrNoSnapshot means the directory holds none.
	Load(dir string) error

	// Clear resets the index to empty.
	Clear() error
}
