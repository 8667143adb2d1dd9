// Package hnsw implements an in-memory Hierarchical Navigable Small World
// graph for approximate nearest neighbor search.
package hnsw

import (
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/bitharbor/annex/distance"
	"github.com/bitharbor/annex/index"
	"github.com/bitharbor/annex/internal/queue"
)

// Compile-time check that HNSW satisfies the index contract.
var _ index.Index = (*HNSW)(nil)

const (
	// DefaultM is the default number of bidirectional links per node.
	DefaultM = 16

	// DefaultEFConstruction is the default construction search depth.
	DefaultEFConstruction = 200

	// DefaultEFSearch is the default query search depth.
	DefaultEFSearch = 50
)

// Options represents the options for configuring HNSW.
type Options struct {
	// Dimension is the fixed vector dimensionality. Required.
	Dimension int

	// M is the maximum number of connections per node per layer.
	M int

	// EFConstruction is the size of the dynamic candidate list during insert.
	EFConstruction int

	// EFSearch is the size of the dynamic candidate list during search.
	// Search always explores at least max(EFSearch, k) candidates.
	EFSearch int

	// Metric selects the distance function used to order the graph. The
	// zero value is squared L2, which matches cosine ordering on unit
	// length vectors.
	Metric distance.Metric

	// RandomSeed pins the level generator for reproducible graphs.
	// Nil seeds from the default source.
	RandomSeed *int64
}

// DefaultOptions contains the default configuration options for HNSW.
var DefaultOptions = Options{
	M:              DefaultM,
	EFConstruction: DefaultEFConstruction,
	EFSearch:       DefaultEFSearch,
}

// node is an HNSW graph node. Fields are exported for gob serialization.
// The node's row id is its position in the nodes slice, which matches the
// vector log's append order.
type node struct {
	Vector    []float32
	Level     int
	Neighbors [][]uint32 // Neighbors[level] = neighbor row ids
}

// HNSW represents the Hierarchical Navigable Small World graph.
type HNSW struct {
	mu         sync.RWMutex
	nodes      []node
	entryPoint int32 // -1 if empty
	maxLevel   int
	levelMult  float64
	rng        *rand.Rand
	dist       distance.Func
	opts       Options
}

// New creates a new empty HNSW index.
func New(optFns ...func(o *Options)) (*HNSW, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Dimension <= 0 {
		return nil, &index.ErrDimensionMismatch{Expected: 1, Actual: opts.Dimension}
	}
	if opts.M < 2 {
		opts.M = DefaultM
	}
	if opts.EFConstruction <= 0 {
		opts.EFConstruction = DefaultEFConstruction
	}
	if opts.EFSearch <= 0 {
		opts.EFSearch = DefaultEFSearch
	}

	dist, err := distance.Provider(opts.Metric)
	if err != nil {
		return nil, err
	}

	src := rand.NewSource(rand.Int63())
	if opts.RandomSeed != nil {
		src = rand.NewSource(*opts.RandomSeed)
	}

	return &HNSW{
		entryPoint: -1,
		levelMult:  1.0 / math.Log(float64(opts.M)),
		rng:        rand.New(src),
		dist:       dist,
		opts:       opts,
	}, nil
}

// Name identifies the backend.
func (h *HNSW) Name() string { return "hnsw" }

// Dimension returns the fixed vector dimension.
func (h *HNSW) Dimension() int { return h.opts.Dimension }

// Size returns the number of indexed vectors.
func (h *HNSW) Size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.nodes)
}

// Clear resets the index to empty.
func (h *HNSW) Clear() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nodes = nil
	h.entryPoint = -1
	h.maxLevel = 0
	return nil
}

// Build replaces all content with a fresh graph over exactly this set.
func (h *HNSW) Build(vectors [][]float32) error {
	fresh, err := New(func(o *Options) { *o = h.opts })
	if err != nil {
		return err
	}
	for _, v := range vectors {
		if _, err := fresh.Add(v); err != nil {
			return err
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.nodes = fresh.nodes
	h.entryPoint = fresh.entryPoint
	h.maxLevel = fresh.maxLevel
	return nil
}

// Add inserts one vector and returns its row id.
func (h *HNSW) Add(vec []float32) (uint32, error) {
	if len(vec) != h.opts.Dimension {
		return 0, &index.ErrDimensionMismatch{Expected: h.opts.Dimension, Actual: len(vec)}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	level := h.randomLevel()
	id := uint32(len(h.nodes))

	n := node{
		Vector:    append([]float32(nil), vec...),
		Level:     level,
		Neighbors: make([][]uint32, level+1),
	}
	for i := range n.Neighbors {
		n.Neighbors[i] = make([]uint32, 0, h.opts.M)
	}
	h.nodes = append(h.nodes, n)

	if h.entryPoint < 0 {
		h.entryPoint = int32(id)
		h.maxLevel = level
		return id, nil
	}

	// Greedy descent from the top layer to just above the node's level.
	curr := uint32(h.entryPoint)
	for l := h.maxLevel; l > level; l-- {
		curr = h.greedyStep(vec, curr, l)
	}

	// Connect on each layer from min(level, maxLevel) down to 0.
	for l := min(level, h.maxLevel); l >= 0; l-- {
		neighbors := h.searchLayer(vec, curr, h.opts.EFConstruction, l)
		h.connect(id, neighbors, l)
		if len(neighbors) > 0 {
			curr = neighbors[0]
		}
	}

	if level > h.maxLevel {
		h.maxLevel = level
		h.entryPoint = int32(id)
	}
	return id, nil
}

// Search returns up to k results, best-first by the configured metric.
func (h *HNSW) Search(query []float32, k int) ([]index.SearchResult, error) {
	if k < 0 {
		return nil, index.ErrInvalidK
	}
	if len(query) != h.opts.Dimension {
		return nil, &index.ErrDimensionMismatch{Expected: h.opts.Dimension, Actual: len(query)}
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.entryPoint < 0 || k == 0 {
		return []index.SearchResult{}, nil
	}

	curr := uint32(h.entryPoint)
	for l := h.maxLevel; l > 0; l-- {
		curr = h.greedyStep(query, curr, l)
	}

	ef := h.opts.EFSearch
	if k > ef {
		ef = k
	}
	candidates := h.searchLayer(query, curr, ef, 0)

	results := make([]index.SearchResult, 0, min(k, len(candidates)))
	for _, id := range candidates {
		results = append(results, index.SearchResult{
			RowID:    id,
			Distance: h.dist(query, h.nodes[id].Vector),
		})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Distance < results[j].Distance })
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (h *HNSW) randomLevel() int {
	r := h.rng.Float64()
	for r == 0 {
		r = h.rng.Float64()
	}
	return int(-math.Log(r) * h.levelMult)
}

// greedyStep walks to the closest neighbor of curr on the given layer until
// no neighbor improves on the current distance.
func (h *HNSW) greedyStep(query []float32, curr uint32, level int) uint32 {
	currDist := h.dist(query, h.nodes[curr].Vector)
	for {
		changed := false
		if level < len(h.nodes[curr].Neighbors) {
			for _, nb := range h.nodes[curr].Neighbors[level] {
				d := h.dist(query, h.nodes[nb].Vector)
				if d < currDist {
					curr, currDist = nb, d
					changed = true
				}
			}
		}
		if !changed {
			return curr
		}
	}
}

// searchLayer performs a beam search of width ef on one layer and returns
// the visited candidates ordered best-first.
func (h *HNSW) searchLayer(query []float32, entry uint32, ef, level int) []uint32 {
	visited := map[uint32]bool{entry: true}

	entryDist := h.dist(query, h.nodes[entry].Vector)
	var candidates queue.Min
	candidates.Push(queue.Item{ID: entry, Dist: entryDist})
	var results queue.Max
	results.Push(queue.Item{ID: entry, Dist: entryDist})

	for candidates.Len() > 0 {
		curr := candidates.Pop()
		if results.Len() >= ef && curr.Dist > results.Peek().Dist {
			break
		}

		if level >= len(h.nodes[curr.ID].Neighbors) {
			continue
		}
		for _, nb := range h.nodes[curr.ID].Neighbors[level] {
			if visited[nb] {
				continue
			}
			visited[nb] = true

			d := h.dist(query, h.nodes[nb].Vector)
			if results.Len() < ef || d < results.Peek().Dist {
				candidates.Push(queue.Item{ID: nb, Dist: d})
				results.Push(queue.Item{ID: nb, Dist: d})
				if results.Len() > ef {
					results.Pop()
				}
			}
		}
	}

	drained := results.Drain()
	out := make([]uint32, len(drained))
	for i, item := range drained {
		out[i] = item.ID
	}
	return out
}

// connect links id bidirectionally to the closest neighbors on one layer,
// pruning link lists that exceed the layer's connection budget.
func (h *HNSW) connect(id uint32, neighbors []uint32, level int) {
	m := h.opts.M
	if level == 0 {
		m = h.opts.M * 2
	}

	selected := neighbors
	if len(selected) > m {
		selected = selected[:m]
	}

	h.nodes[id].Neighbors[level] = append(h.nodes[id].Neighbors[level], selected...)
	for _, nb := range selected {
		if level >= len(h.nodes[nb].Neighbors) {
			continue
		}
		h.nodes[nb].Neighbors[level] = append(h.nodes[nb].Neighbors[level], id)
		if len(h.nodes[nb].Neighbors[level]) > m {
			h.prune(nb, level, m)
		}
	}
}

// prune keeps only the m closest links of a node on one layer.
func (h *HNSW) prune(id uint32, level, m int) {
	neighbors := h.nodes[id].Neighbors[level]
	sort.Slice(neighbors, func(i, j int) bool {
		return h.dist(h.nodes[id].Vector, h.nodes[neighbors[i]].Vector) <
			h.dist(h.nodes[id].Vector, h.nodes[neighbors[j]].Vector)
	})
	h.nodes[id].Neighbors[level] = neighbors[:m]
}
