// Package diskgraph implements a disk-resident ANN graph in the Vamana
// style: a flat single-level graph with bounded out-degree, built in memory
// and searched through a read-only memory mapping.
//
// The backend is rebuild-only: it has no incremental insert and relies on
// the orchestrating service's batched rebuild policy. The whole structure
// is reconstructible from the vector log at any time.
package diskgraph

import (
	"encoding/binary"
	"math"
	"sync"

	"github.com/bitharbor/annex/index"
	"github.com/bitharbor/annex/internal/mmap"
	"github.com/bitharbor/annex/internal/queue"
)

// Compile-time check that DiskGraph satisfies the index contract.
var _ index.Index = (*DiskGraph)(nil)

const (
	// DefaultGraphDegree is the default maximum out-degree per node.
	DefaultGraphDegree = 32

	// DefaultBuildBeamWidth is the default beam width during construction.
	DefaultBuildBeamWidth = 64

	// DefaultSearchBeamWidth is the default beam width during search.
	// Search always explores at least max(SearchBeamWidth, k) candidates.
	DefaultSearchBeamWidth = 64

	// DefaultAlpha is the default pruning slack factor.
	DefaultAlpha = 1.2
)

// Options represents the options for configuring a DiskGraph.
type Options struct {
	// Dimension is the fixed vector dimensionality. Required.
	Dimension int

	// Dir is the directory holding the graph file and its manifest. Required.
	Dir string

	// GraphDegree is the maximum out-degree per node.
	GraphDegree int

	// BuildBeamWidth is the beam width used during construction.
	BuildBeamWidth int

	// SearchBeamWidth is the beam width used during search.
	SearchBeamWidth int

	// Alpha is the pruning slack factor (>= 1). Larger values keep longer
	// edges and improve connectivity at the cost of degree budget.
	Alpha float32

	// RandomSeed pins the initial random graph for reproducible builds.
	// Nil seeds from the default source.
	RandomSeed *int64
}

// DefaultOptions contains the default configuration options for DiskGraph.
var DefaultOptions = Options{
	GraphDegree:     DefaultGraphDegree,
	BuildBeamWidth:  DefaultBuildBeamWidth,
	SearchBeamWidth: DefaultSearchBeamWidth,
	Alpha:           DefaultAlpha,
}

// graphState is the immutable mapped view of a built graph. It is swapped
// wholesale on rebuild so readers never observe a partial graph.
type graphState struct {
	m      *mmap.Mapping
	data   []byte
	count  uint32
	medoid uint32
}

// DiskGraph is a disk-resident ANN graph.
type DiskGraph struct {
	mu    sync.RWMutex
	state *graphState // nil when empty
	opts  Options
}

// New creates a DiskGraph rooted at o.Dir. The directory is not touched
// until Build or Load.
func New(optFns ...func(o *Options)) (*DiskGraph, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Dimension <= 0 {
		return nil, &index.ErrDimensionMismatch{Expected: 1, Actual: opts.Dimension}
	}
	if opts.GraphDegree < 2 {
		opts.GraphDegree = DefaultGraphDegree
	}
	if opts.BuildBeamWidth <= 0 {
		opts.BuildBeamWidth = DefaultBuildBeamWidth
	}
	if opts.SearchBeamWidth <= 0 {
		opts.SearchBeamWidth = DefaultSearchBeamWidth
	}
	if opts.Alpha < 1 {
		opts.Alpha = DefaultAlpha
	}

	return &DiskGraph{opts: opts}, nil
}

// Name identifies the backend.
func (g *DiskGraph) Name() string { return "diskgraph" }

// Dimension returns the fixed vector dimension.
func (g *DiskGraph) Dimension() int { return g.opts.Dimension }

// Size returns the number of indexed vectors.
func (g *DiskGraph) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.state == nil {
		return 0
	}
	return int(g.state.count)
}

// Add is not supported; the backend is rebuild-only.
func (g *DiskGraph) Add([]float32) (uint32, error) {
	return 0, index.ErrAddNotSupported
}

// Search returns up to k results, best-first by squared L2 distance.
func (g *DiskGraph) Search(query []float32, k int) ([]index.SearchResult, error) {
	if k < 0 {
		return nil, index.ErrInvalidK
	}
	if len(query) != g.opts.Dimension {
		return nil, &index.ErrDimensionMismatch{Expected: g.opts.Dimension, Actual: len(query)}
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	st := g.state
	if st == nil || st.count == 0 || k == 0 {
		return []index.SearchResult{}, nil
	}

	beam := g.opts.SearchBeamWidth
	if k > beam {
		beam = k
	}

	items := g.beamSearch(st, query, beam)
	if len(items) > k {
		items = items[:k]
	}

	results := make([]index.SearchResult, len(items))
	for i, item := range items {
		results[i] = index.SearchResult{RowID: item.ID, Distance: item.Dist}
	}
	return results, nil
}

// beamSearch walks the mapped graph from the medoid with the given beam
// width and returns visited candidates best-first.
func (g *DiskGraph) beamSearch(st *graphState, query []float32, beam int) []queue.Item {
	visited := map[uint32]bool{st.medoid: true}

	entryDist := g.distanceAt(st, query, st.medoid)
	var candidates queue.Min
	candidates.Push(queue.Item{ID: st.medoid, Dist: entryDist})
	var results queue.Max
	results.Push(queue.Item{ID: st.medoid, Dist: entryDist})

	for candidates.Len() > 0 {
		curr := candidates.Pop()
		if results.Len() >= beam && curr.Dist > results.Peek().Dist {
			break
		}

		for _, nb := range g.neighborsAt(st, curr.ID) {
			if visited[nb] {
				continue
			}
			visited[nb] = true

			d := g.distanceAt(st, query, nb)
			if results.Len() < beam || d < results.Peek().Dist {
				candidates.Push(queue.Item{ID: nb, Dist: d})
				results.Push(queue.Item{ID: nb, Dist: d})
				if results.Len() > beam {
					results.Pop()
				}
			}
		}
	}

	return results.Drain()
}

// distanceAt computes the squared L2 distance between query and the stored
// vector of node id, reading straight from the mapping.
func (g *DiskGraph) distanceAt(st *graphState, query []float32, id uint32) float32 {
	off := g.vectorOffset(id)
	var sum float32
	for i, q := range query {
		v := math.Float32frombits(binary.LittleEndian.Uint32(st.data[off+i*4:]))
		d := q - v
		sum += d * d
	}
	return sum
}

// neighborsAt returns the out-edges of node id from the mapping.
func (g *DiskGraph) neighborsAt(st *graphState, id uint32) []uint32 {
	off := g.neighborOffset(id)
	out := make([]uint32, 0, g.opts.GraphDegree)
	for i := 0; i < g.opts.GraphDegree; i++ {
		nb := binary.LittleEndian.Uint32(st.data[off+i*4:])
		if nb == invalidNeighbor {
			break
		}
		out = append(out, nb)
	}
	return out
}

// Clear resets the index to empty and removes the on-disk graph.
func (g *DiskGraph) Clear() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.clearLocked()
}
