// Package annex implements embedding storage and approximate nearest
// neighbor search for the media catalog.
//
// The service owns four collaborators: a canonicalizer that normalizes and
// hashes raw embeddings, an append-only vector log keyed by dense row id,
// an ANN index over those rows, and an id map binding rows to media items.
// The index is always reconstructible from the log; a search never observes
// an index that lags the log, because staleness is detected by comparing
// index size against the log's row count and repaired by a rebuild before
// the query runs.
package annex

import (
	"context"
	"errors"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/bitharbor/annex/canonical"
	"github.com/bitharbor/annex/distance"
	"github.com/bitharbor/annex/idmap"
	"github.com/bitharbor/annex/index"
	"github.com/bitharbor/annex/rowset"
	"github.com/bitharbor/annex/vectorstore"
)

// Match is a single search result, best-first by Score.
type Match struct {
	// MediaID identifies the matched media item.
	MediaID string

	// RowID is the matched vector row.
	RowID uint32

	// Score is the exact dot product between the normalized query and the
	// stored vector. Stored vectors are unit length, so this is cosine
	// similarity; higher is closer.
	Score float32

	// VectorHash is the canonical content hash of the matched vector.
	VectorHash canonical.Hash

	// Media is the hydrated catalog record, or nil when no MediaStore is
	// configured or the record is gone.
	Media *MediaRecord
}

// MediaRecord is a catalog record attached to a match.
type MediaRecord struct {
	ID         string
	Title      string
	Kind       string
	Attributes map[string]string
}

// MediaStore resolves media ids to catalog records for match hydration.
// Missing ids are omitted from the result.
type MediaStore interface {
	FetchMedia(ctx context.Context, mediaIDs []string) (map[string]MediaRecord, error)
}

// Service orchestrates embedding ingest and similarity search.
//
// Writes (AddEmbedding, DeleteMedia) are serialized internally; reads may
// run concurrently with each other and with the writer.
type Service struct {
	store vectorstore.Store
	idx   index.Index
	ids   idmap.Map
	canon *canonical.Canonicalizer
	opts  options

	// live tracks row ids that still resolve to a media record. Rows are
	// never deleted from the log, so deletes only shrink this set.
	live *rowset.Set

	writeMu sync.Mutex
	pending atomic.Int64 // ingests since the last successful rebuild

	rebuilds singleflight.Group

	// restoreDir is the directory the last restored snapshot was unpacked
	// into. A disk-resident index keeps serving from it, so it is removed
	// only when superseded by a newer restore or at Close.
	restoreMu  sync.Mutex
	restoreDir string

	closed atomic.Bool
}

// New creates a Service over the given collaborators. The index dimension
// must match the store's.
func New(store vectorstore.Store, idx index.Index, ids idmap.Map, optFns ...Option) (*Service, error) {
	opts := applyOptions(optFns)

	if store.Dimension() != idx.Dimension() {
		return nil, &ErrDimensionMismatch{Expected: store.Dimension(), Actual: idx.Dimension()}
	}

	canon, err := canonical.New(store.Dimension(), opts.epsilon)
	if err != nil {
		return nil, err
	}

	live, err := ids.LiveRows(context.Background())
	if err != nil {
		return nil, err
	}

	s := &Service{
		store: store,
		idx:   idx,
		ids:   ids,
		canon: canon,
		opts:  opts,
		live:  live,
	}

	// Startup self-heal: a crash mid-batch or a lost index snapshot leaves
	// the index behind the log; repair before serving.
	if err := s.EnsureConsistent(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

// Dimension returns the fixed embedding dimension.
func (s *Service) Dimension() int {
	return s.canon.Dimension()
}

// AddEmbedding canonicalizes raw and ingests it for mediaID, returning the
// vector's row id and canonical hash. Re-ingesting an embedding that
// canonicalizes to a hash already mapped for the same media item is a
// no-op returning the existing row id.
func (s *Service) AddEmbedding(ctx context.Context, mediaID string, raw []float32) (uint32, canonical.Hash, error) {
	start := time.Now()
	var (
		rowID        uint32
		hash         canonical.Hash
		deduplicated bool
		needRebuild  bool
	)

	err := func() error {
		if s.closed.Load() {
			return ErrClosed
		}

		vec, h, err := s.canon.Canonicalize(raw)
		if err != nil {
			return translateError(err)
		}
		hash = h

		s.writeMu.Lock()
		defer s.writeMu.Unlock()

		existing, ok, err := s.ids.Lookup(ctx, mediaID, h)
		if err != nil {
			return err
		}
		if ok {
			rowID = existing
			deduplicated = true
			return nil
		}

		rowID, err = s.store.Append(vec)
		if err != nil {
			return translateError(err)
		}
		if err := s.ids.Insert(ctx, idmap.Entry{RowID: rowID, VectorHash: h, MediaID: mediaID}); err != nil {
			return err
		}
		s.live.Add(rowID)

		var err2 error
		needRebuild, err2 = s.syncIndex(vec)
		return err2
	}()

	// The rebuild runs outside writeMu; its singleflight closure reacquires
	// the lock so the log read and index swap cannot interleave with a
	// concurrent append.
	if err == nil && needRebuild {
		err = s.rebuild(ctx)
	}

	s.opts.metricsCollector.RecordIngest(time.Since(start), deduplicated, err)
	s.opts.logger.LogIngest(ctx, mediaID, rowID, deduplicated, err)
	return rowID, hash, err
}

// syncIndex applies the append to the index per the rebuild batch policy
// and reports whether a full rebuild is due. Callers hold writeMu.
func (s *Service) syncIndex(vec []float32) (bool, error) {
	if s.opts.rebuildBatchSize <= 1 {
		if _, err := s.idx.Add(vec); err != nil {
			if errors.Is(err, index.ErrAddNotSupported) {
				return true, nil
			}
			return false, translateError(err)
		}
		return false, nil
	}

	return int(s.pending.Add(1)) >= s.opts.rebuildBatchSize, nil
}

// Search returns up to k matches for the raw query, best-first. k <= 0
// yields an empty result. A zero query is searched as-is.
func (s *Service) Search(ctx context.Context, rawQuery []float32, k int) ([]Match, error) {
	start := time.Now()
	matches, err := s.search(ctx, rawQuery, k)
	s.opts.metricsCollector.RecordSearch(k, time.Since(start), err)
	s.opts.logger.LogSearch(ctx, k, len(matches), err)
	return matches, err
}

func (s *Service) search(ctx context.Context, rawQuery []float32, k int) ([]Match, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if k <= 0 {
		return []Match{}, nil
	}

	query, err := s.canon.NormalizeQuery(rawQuery)
	if err != nil {
		return nil, translateError(err)
	}

	if err := s.EnsureConsistent(ctx); err != nil {
		return nil, err
	}

	fetch := s.opts.refineCandidates
	if k > fetch {
		fetch = k
	}
	candidates, err := s.idx.Search(query, fetch)
	if err != nil {
		return nil, translateError(err)
	}

	rowIDs := make([]uint32, len(candidates))
	for i, c := range candidates {
		rowIDs[i] = c.RowID
	}
	rowIDs = s.live.Filter(rowIDs)
	if len(rowIDs) == 0 {
		return []Match{}, nil
	}

	scored, err := s.refine(query, rowIDs, k)
	if err != nil {
		return nil, err
	}

	return s.resolve(ctx, scored)
}

type scoredRow struct {
	rowID uint32
	score float32
}

// refine re-scores candidates by exact dot product against the stored
// vectors and keeps the k best.
func (s *Service) refine(query []float32, rowIDs []uint32, k int) ([]scoredRow, error) {
	vectors, err := s.store.ReadRows(rowIDs)
	if err != nil {
		return nil, translateError(err)
	}

	scored := make([]scoredRow, len(rowIDs))
	for i, rowID := range rowIDs {
		scored[i] = scoredRow{rowID: rowID, score: distance.Dot(query, vectors[i])}
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })

	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// resolve maps scored rows to matches. Rows whose mapping has vanished are
// dropped without error.
func (s *Service) resolve(ctx context.Context, scored []scoredRow) ([]Match, error) {
	rowIDs := make([]uint32, len(scored))
	for i, sr := range scored {
		rowIDs[i] = sr.rowID
	}
	entries, err := s.ids.Resolve(ctx, rowIDs)
	if err != nil {
		return nil, err
	}

	matches := make([]Match, 0, len(scored))
	for _, sr := range scored {
		entry, ok := entries[sr.rowID]
		if !ok {
			continue
		}
		matches = append(matches, Match{
			MediaID:    entry.MediaID,
			RowID:      sr.rowID,
			Score:      sr.score,
			VectorHash: entry.VectorHash,
		})
	}

	if s.opts.mediaStore != nil && len(matches) > 0 {
		if err := s.hydrate(ctx, matches); err != nil {
			return nil, err
		}
	}
	return matches, nil
}

// hydrate attaches catalog records to matches in place.
func (s *Service) hydrate(ctx context.Context, matches []Match) error {
	mediaIDs := make([]string, 0, len(matches))
	seen := make(map[string]bool, len(matches))
	for _, m := range matches {
		if !seen[m.MediaID] {
			seen[m.MediaID] = true
			mediaIDs = append(mediaIDs, m.MediaID)
		}
	}

	records, err := s.opts.mediaStore.FetchMedia(ctx, mediaIDs)
	if err != nil {
		return err
	}
	for i := range matches {
		if rec, ok := records[matches[i].MediaID]; ok {
			recCopy := rec
			matches[i].Media = &recCopy
		}
	}
	return nil
}

// EnsureConsistent verifies that the index covers every stored row and
// rebuilds it when it does not. Concurrent callers share one rebuild.
func (s *Service) EnsureConsistent(ctx context.Context) error {
	count, err := s.store.RowCount()
	if err != nil {
		return translateError(err)
	}
	if int(count) == s.idx.Size() {
		return nil
	}
	return s.rebuild(ctx)
}

// Rebuild reconstructs the index from the vector log. When a snapshot
// publisher is configured, the rebuilt index is published afterward.
func (s *Service) Rebuild(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if err := s.rebuild(ctx); err != nil {
		return err
	}
	if s.opts.publisher != nil {
		if _, err := s.PublishSnapshot(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) rebuild(ctx context.Context) error {
	_, err, _ := s.rebuilds.Do("rebuild", func() (any, error) {
		start := time.Now()

		if err := s.opts.resources.AcquireRebuild(ctx); err != nil {
			return nil, err
		}
		defer s.opts.resources.ReleaseRebuild()

		// Block writers for the read-and-swap so the rebuilt index covers
		// exactly the rows read and no eager add lands on top of them.
		s.writeMu.Lock()
		defer s.writeMu.Unlock()

		vectors, err := s.store.ReadAll()
		if err != nil {
			return nil, translateError(err)
		}

		mem := int64(len(vectors)) * int64(s.store.Dimension()) * 4
		if err := s.opts.resources.AcquireMemory(ctx, mem); err != nil {
			return nil, err
		}
		defer s.opts.resources.ReleaseMemory(mem)

		rows := uint32(len(vectors))
		err = translateError(s.idx.Build(vectors))
		if err == nil {
			s.pending.Store(0)
		}

		s.opts.metricsCollector.RecordRebuild(rows, time.Since(start), err)
		s.opts.logger.LogRebuild(ctx, rows, time.Since(start), err)
		return nil, err
	})
	return err
}

// DeleteMedia removes every mapping for the media item and returns the
// number of rows freed. The rows stay in the log and the index; searches
// skip them via the live set until the next rebuild ingest cycle.
func (s *Service) DeleteMedia(ctx context.Context, mediaID string) (int, error) {
	start := time.Now()
	var freed []uint32

	err := func() error {
		if s.closed.Load() {
			return ErrClosed
		}

		s.writeMu.Lock()
		defer s.writeMu.Unlock()

		var err error
		freed, err = s.ids.DeleteMedia(ctx, mediaID)
		if err != nil {
			return err
		}
		s.live.RemoveMany(freed)
		return nil
	}()

	s.opts.metricsCollector.RecordDelete(time.Since(start), err)
	s.opts.logger.LogDelete(ctx, mediaID, len(freed), err)
	return len(freed), err
}

// PublishSnapshot persists the index and publishes it to the configured
// blob store, returning the archive name.
func (s *Service) PublishSnapshot(ctx context.Context) (string, error) {
	start := time.Now()
	name, err := s.publishSnapshot(ctx)
	s.opts.metricsCollector.RecordSnapshot("publish", time.Since(start), err)
	s.opts.logger.LogSnapshot(ctx, "publish", name, err)
	return name, err
}

func (s *Service) publishSnapshot(ctx context.Context) (string, error) {
	if s.closed.Load() {
		return "", ErrClosed
	}
	if s.opts.publisher == nil {
		return "", errors.New("annex: no snapshot publisher configured")
	}

	dir, err := os.MkdirTemp("", "annex-snapshot-*")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(dir)

	if err := s.idx.Persist(dir); err != nil {
		return "", translateError(err)
	}
	return s.opts.publisher.Publish(ctx, dir)
}

// RestoreSnapshot loads the latest published snapshot into the index.
// The restored index must still match the vector log; EnsureConsistent
// reconciles any drift on the next search.
func (s *Service) RestoreSnapshot(ctx context.Context) error {
	start := time.Now()
	err := s.restoreSnapshot(ctx)
	s.opts.metricsCollector.RecordSnapshot("restore", time.Since(start), err)
	s.opts.logger.LogSnapshot(ctx, "restore", "", err)
	return err
}

func (s *Service) restoreSnapshot(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if s.opts.publisher == nil {
		return errors.New("annex: no snapshot publisher configured")
	}

	dir, err := os.MkdirTemp("", "annex-restore-*")
	if err != nil {
		return err
	}

	if err := s.opts.publisher.Restore(ctx, dir); err != nil {
		os.RemoveAll(dir)
		return err
	}
	if err := s.idx.Load(dir); err != nil {
		os.RemoveAll(dir)
		return translateError(err)
	}

	s.restoreMu.Lock()
	if s.restoreDir != "" {
		os.RemoveAll(s.restoreDir)
	}
	s.restoreDir = dir
	s.restoreMu.Unlock()
	return nil
}

// Close releases the service's resources. In-flight operations racing
// Close may still observe the underlying stores.
func (s *Service) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	var firstErr error
	if err := s.store.Close(); err != nil {
		firstErr = err
	}
	if err := s.ids.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	s.restoreMu.Lock()
	if s.restoreDir != "" {
		os.RemoveAll(s.restoreDir)
		s.restoreDir = ""
	}
	s.restoreMu.Unlock()
	return firstErr
}
