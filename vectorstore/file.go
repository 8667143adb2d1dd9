package vectorstore

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/bitharbor/annex/internal/fs"
	"github.com/bitharbor/annex/internal/mmap"
)

// FileStoreOptions contains configuration options for a FileStore.
type FileStoreOptions struct {
	// FS is the file system used for writes. Defaults to the local one.
	FS fs.FileSystem
}

// FileStore is a file-backed Store. Appends go through an O_APPEND handle
// and are fsynced before returning; reads memory-map the log so concurrent
// searchers share the page cache.
type FileStore struct {
	path       string
	dim        int
	recordSize int
	fsys       fs.FileSystem

	writeMu sync.Mutex
	w       fs.File
	closed  bool
}

var _ Store = (*FileStore)(nil)

// NewFileStore opens (creating if necessary) the vector log at path.
func NewFileStore(path string, dim int, optFns ...func(o *FileStoreOptions)) (*FileStore, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("vectorstore: invalid dimension %d", dim)
	}

	opts := FileStoreOptions{FS: fs.Default}
	for _, fn := range optFns {
		fn(&opts)
	}

	if err := opts.FS.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("vectorstore: create log directory: %w", err)
	}

	w, err := opts.FS.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: open log: %w", err)
	}

	s := &FileStore{
		path:       path,
		dim:        dim,
		recordSize: 4 * dim,
		fsys:       opts.FS,
		w:          w,
	}

	// Fail fast on a torn log instead of at the first append.
	if _, err := s.RowCount(); err != nil {
		w.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the log file path.
func (s *FileStore) Path() string { return s.path }

// Dimension returns the fixed vector dimension.
func (s *FileStore) Dimension() int { return s.dim }

// RowCount derives the row count from the current file size. A size that is
// not evenly divisible by the record size is reported as corruption.
func (s *FileStore) RowCount() (uint32, error) {
	fi, err := s.fsys.Stat(s.path)
	if err != nil {
		return 0, fmt.Errorf("vectorstore: stat log: %w", err)
	}
	size := fi.Size()
	if size%int64(s.recordSize) != 0 {
		return 0, &ErrCorruptLog{Path: s.path, Size: size, RecordSize: s.recordSize}
	}
	return uint32(size / int64(s.recordSize)), nil
}

// Append durably writes vec and returns its row id.
func (s *FileStore) Append(vec []float32) (uint32, error) {
	if len(vec) != s.dim {
		return 0, &ErrDimensionMismatch{Expected: s.dim, Actual: len(vec)}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}

	rowID, err := s.RowCount()
	if err != nil {
		return 0, err
	}

	record := make([]byte, s.recordSize)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(record[i*4:], math.Float32bits(v))
	}

	if _, err := s.w.Write(record); err != nil {
		return 0, fmt.Errorf("vectorstore: append row %d: %w", rowID, err)
	}
	if err := s.w.Sync(); err != nil {
		return 0, fmt.Errorf("vectorstore: sync row %d: %w", rowID, err)
	}
	return rowID, nil
}

// ReadRows returns the vectors for the requested row ids in request order.
func (s *FileStore) ReadRows(rowIDs []uint32) ([][]float32, error) {
	count, err := s.RowCount()
	if err != nil {
		return nil, err
	}
	if count == 0 || len(rowIDs) == 0 {
		return [][]float32{}, nil
	}

	m, err := mmap.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: map log: %w", err)
	}
	defer m.Close()

	data := m.Bytes()
	// The mapping is a point-in-time view; bound reads by the smaller of the
	// stat-derived count and the mapped size.
	mapped := uint32(len(data) / s.recordSize)
	if mapped < count {
		count = mapped
	}

	out := make([][]float32, 0, len(rowIDs))
	for _, id := range rowIDs {
		if id >= count {
			return nil, &ErrRowOutOfRange{RowID: id, Count: count}
		}
		out = append(out, s.decodeRow(data, id))
	}
	return out, nil
}

// ReadAll returns every vector in row order.
func (s *FileStore) ReadAll() ([][]float32, error) {
	count, err := s.RowCount()
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return [][]float32{}, nil
	}

	m, err := mmap.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: map log: %w", err)
	}
	defer m.Close()

	data := m.Bytes()
	mapped := uint32(len(data) / s.recordSize)
	if mapped < count {
		count = mapped
	}

	out := make([][]float32, count)
	for id := uint32(0); id < count; id++ {
		out[id] = s.decodeRow(data, id)
	}
	return out, nil
}

func (s *FileStore) decodeRow(data []byte, id uint32) []float32 {
	off := int(id) * s.recordSize
	vec := make([]float32, s.dim)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[off+i*4:]))
	}
	return vec
}

// Close closes the write handle. Further appends fail with ErrClosed.
func (s *FileStore) Close() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.w.Close()
}
