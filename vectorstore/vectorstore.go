// Package vectorstore provides durable append-only storage for
// fixed-dimension float32 vectors with random access by row id.
//
// The on-disk layout is a single file of concatenated fixed-width
// little-endian float32 records (record size = 4*dimension bytes);
// row_id = byte_offset / record_size. Rows are created once, never mutated
// and never deleted; row ids are assigned by append order and never reused.
package vectorstore

import (
	"errors"
	"fmt"
)

// ErrClosed is returned when operating on a closed store.
var ErrClosed = errors.New("vectorstore: store is closed")

// ErrDimensionMismatch indicates an appended vector whose dimensionality
// does not match the store's.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("vectorstore: dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// ErrCorruptLog indicates a vector log whose size is not a multiple of the
// record size. This signals a torn write and is fatal: the log is never
// silently truncated.
type ErrCorruptLog struct {
	Path       string
	Size       int64
	RecordSize int
}

func (e *ErrCorruptLog) Error() string {
	return fmt.Sprintf("vectorstore: corrupt log %s: size %d is not a multiple of record size %d",
		e.Path, e.Size, e.RecordSize)
}

// ErrRowOutOfRange indicates a read of a row id at or beyond the current
// row count.
type ErrRowOutOfRange struct {
	RowID uint32
	Count uint32
}

func (e *ErrRowOutOfRange) Error() string {
	return fmt.Sprintf("vectorstore: row %d out of range (store has %d rows)", e.RowID, e.Count)
}

// Store is the storage abstraction over the vector log. The backing medium
// (mmap'd file, in-memory buffer for tests) is swappable without touching
// callers.
//
// Stores are single-writer-many-reader: Append must be serialized by the
// caller while reads may run concurrently with each other and with the sole
// writer.
type Store interface {
	// Dimension returns the fixed vector dimension.
	Dimension() int

	// RowCount returns the current number of rows. Implementations must
	// re-derive it from the backing medium rather than cache it, so readers
	// observe appends made by the writer.
	RowCount() (uint32, error)

	// Append durably writes vec and returns its new row id (the previous
	// row count). The write is flushed before returning; on error nothing
	// is reported as written.
	Append(vec []float32) (uint32, error)

	// ReadRows returns the vectors for the requested row ids in the order
	// requested. An empty store yields an empty result for any input.
	ReadRows(rowIDs []uint32) ([][]float32, error)

	// ReadAll returns the full ordered vector set, used for index rebuilds.
	ReadAll() ([][]float32, error)

	// Close releases resources held by the store.
	Close() error
}
