// Package idmap maintains the bidirectional mapping between dense row ids
// and media identities.
//
// Each entry binds a row id to the canonical hash of the stored vector and
// the media item the vector describes. Row ids are unique; the same vector
// hash may serve several media items, but at most one entry exists per
// (vector hash, media item) pair, which makes re-ingest idempotent.
package idmap

import (
	"context"
	"errors"
	"fmt"

	"github.com/bitharbor/annex/canonical"
	"github.com/bitharbor/annex/rowset"
)

// ErrClosed is returned for operations on a closed map.
var ErrClosed = errors.New("idmap: closed")

// ErrDuplicateRow indicates an insert reusing an already mapped row id.
type ErrDuplicateRow struct {
	RowID uint32
}

func (e *ErrDuplicateRow) Error() string {
	return fmt.Sprintf("idmap: row %d already mapped", e.RowID)
}

// ErrDuplicateMapping indicates an insert for a (vector hash, media) pair
// that is already mapped to some row.
type ErrDuplicateMapping struct {
	MediaID    string
	VectorHash canonical.Hash
}

func (e *ErrDuplicateMapping) Error() string {
	return fmt.Sprintf("idmap: media %q already mapped for vector %s", e.MediaID, e.VectorHash.Hex())
}

// Entry is a single row mapping.
type Entry struct {
	RowID      uint32
	VectorHash canonical.Hash
	MediaID    string
}

// Map resolves row ids to media identities and back.
type Map interface {
	// Insert records a new mapping. A reused row id or a duplicate
	// (vector hash, media) pair is rejected with a typed error.
	Insert(ctx context.Context, e Entry) error

	// Resolve returns the entries for the given row ids, keyed by row id.
	// Row ids with no mapping are silently omitted from the result.
	Resolve(ctx context.Context, rowIDs []uint32) (map[uint32]Entry, error)

	// Lookup returns the row id mapped to the (media, vector hash) pair,
	// with ok reporting whether such a mapping exists.
	Lookup(ctx context.Context, mediaID string, h canonical.Hash) (rowID uint32, ok bool, err error)

	// DeleteMedia removes every mapping for the media item and returns the
	// row ids that were freed.
	DeleteMedia(ctx context.Context, mediaID string) ([]uint32, error)

	// LiveRows returns the set of all mapped row ids.
	LiveRows(ctx context.Context) (*rowset.Set, error)

	// Close releases the underlying resources.
	Close() error
}
