package annex

import (
	"errors"
	"fmt"

	"github.com/bitharbor/annex/canonical"
	"github.com/bitharbor/annex/index"
	"github.com/bitharbor/annex/vectorstore"
)

var (
	// ErrClosed is returned when operating on a closed service.
	ErrClosed = errors.New("annex: service is closed")

	// ErrCorrupt indicates unrecoverable damage to the vector log. The
	// service refuses to guess at missing data; restore from a snapshot or
	// re-ingest.
	ErrCorrupt = errors.New("annex: storage corrupt")
)

// ErrDimensionMismatch indicates an embedding or query whose dimensionality
// does not match the catalog's.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
	cause    error
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *ErrDimensionMismatch) Unwrap() error { return e.cause }

// translateError maps subsystem errors onto the root taxonomy so callers
// match one error surface regardless of which layer failed.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	var corrupt *vectorstore.ErrCorruptLog
	if errors.As(err, &corrupt) {
		return fmt.Errorf("%w: %w", ErrCorrupt, err)
	}

	var sdm *vectorstore.ErrDimensionMismatch
	if errors.As(err, &sdm) {
		return &ErrDimensionMismatch{Expected: sdm.Expected, Actual: sdm.Actual, cause: err}
	}
	var cdm *canonical.ErrDimensionMismatch
	if errors.As(err, &cdm) {
		return &ErrDimensionMismatch{Expected: cdm.Expected, Actual: cdm.Actual, cause: err}
	}
	var idm *index.ErrDimensionMismatch
	if errors.As(err, &idm) {
		return &ErrDimensionMismatch{Expected: idm.Expected, Actual: idm.Actual, cause: err}
	}

	if errors.Is(err, vectorstore.ErrClosed) {
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}

	return err
}
