package diskgraph

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"

	"github.com/bitharbor/annex/distance"
	"github.com/bitharbor/annex/index"
	"github.com/bitharbor/annex/internal/hash"
	"github.com/bitharbor/annex/internal/mmap"
	"github.com/bitharbor/annex/internal/queue"
	"github.com/bitharbor/annex/manifest"
)

// payloadFileName is the graph payload inside the graph directory.
const payloadFileName = "graph.bin"

const (
	fileMagic   = uint32(0x414E5847) // "ANXG"
	fileVersion = uint32(1)

	// headerSize covers magic, version, dimension, count, degree, medoid.
	headerSize = 24

	// invalidNeighbor terminates a node's neighbor list.
	invalidNeighbor = ^uint32(0)
)

// recordSize is the per-node byte width: the vector followed by a
// fixed-capacity neighbor list.
func (g *DiskGraph) recordSize() int {
	return g.opts.Dimension*4 + g.opts.GraphDegree*4
}

func (g *DiskGraph) vectorOffset(id uint32) int {
	return headerSize + int(id)*g.recordSize()
}

func (g *DiskGraph) neighborOffset(id uint32) int {
	return g.vectorOffset(id) + g.opts.Dimension*4
}

// Build replaces the index contents with the given vectors, where slice
// position equals row id. The graph is constructed in memory, written out
// with an atomic rename and then mapped back in. Readers keep the previous
// mapping until the swap.
func (g *DiskGraph) Build(vectors [][]float32) error {
	for _, v := range vectors {
		if len(v) != g.opts.Dimension {
			return &index.ErrDimensionMismatch{Expected: g.opts.Dimension, Actual: len(v)}
		}
	}

	var payload []byte
	if len(vectors) == 0 {
		payload = g.encodeGraph(nil, nil, 0)
	} else {
		adjacency, medoid := g.buildGraph(vectors)
		payload = g.encodeGraph(vectors, adjacency, medoid)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.writePayloadLocked(g.opts.Dir, payload, uint32(len(vectors))); err != nil {
		return err
	}
	return g.swapStateLocked(g.opts.Dir)
}

// buildGraph runs the construction passes over in-memory vectors and
// returns the adjacency lists plus the medoid entry point.
func (g *DiskGraph) buildGraph(vectors [][]float32) ([][]uint32, uint32) {
	n := len(vectors)
	degree := g.opts.GraphDegree

	var rng *rand.Rand
	if g.opts.RandomSeed != nil {
		rng = rand.New(rand.NewSource(*g.opts.RandomSeed))
	} else {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}

	// Start from a random regular graph so every node is reachable before
	// the refinement passes.
	adjacency := make([][]uint32, n)
	for i := range adjacency {
		adjacency[i] = randomNeighbors(rng, uint32(i), n, degree)
	}

	medoid := findMedoid(vectors)

	// Two refinement passes in the usual fashion: a first pass without
	// pruning slack to establish short edges, a second with slack to keep
	// the long-range edges that carry the greedy walk.
	for _, alpha := range []float32{1.0, g.opts.Alpha} {
		order := rng.Perm(n)
		for _, i := range order {
			id := uint32(i)
			visited := g.buildSearch(vectors, adjacency, medoid, vectors[i], g.opts.BuildBeamWidth)
			adjacency[id] = g.robustPrune(vectors, id, visited, alpha)
			for _, nb := range adjacency[id] {
				back := appendUnique(adjacency[nb], id)
				if len(back) > degree {
					cands := make([]queue.Item, len(back))
					for j, b := range back {
						cands[j] = queue.Item{ID: b, Dist: distance.SquaredL2(vectors[nb], vectors[b])}
					}
					adjacency[nb] = g.robustPrune(vectors, nb, cands, alpha)
				} else {
					adjacency[nb] = back
				}
			}
		}
	}

	return adjacency, medoid
}

// buildSearch is the in-memory analogue of the mapped beam search, used
// during construction. It returns all visited candidates sorted by distance
// to the query.
func (g *DiskGraph) buildSearch(vectors [][]float32, adjacency [][]uint32, entry uint32, query []float32, beam int) []queue.Item {
	visited := map[uint32]bool{entry: true}
	all := []queue.Item{{ID: entry, Dist: distance.SquaredL2(query, vectors[entry])}}

	var candidates queue.Min
	candidates.Push(all[0])
	var results queue.Max
	results.Push(all[0])

	for candidates.Len() > 0 {
		curr := candidates.Pop()
		if results.Len() >= beam && curr.Dist > results.Peek().Dist {
			break
		}
		for _, nb := range adjacency[curr.ID] {
			if visited[nb] {
				continue
			}
			visited[nb] = true

			item := queue.Item{ID: nb, Dist: distance.SquaredL2(query, vectors[nb])}
			all = append(all, item)
			if results.Len() < beam || item.Dist < results.Peek().Dist {
				candidates.Push(item)
				results.Push(item)
				if results.Len() > beam {
					results.Pop()
				}
			}
		}
	}

	sort.Slice(all, func(i, j int) bool { return all[i].Dist < all[j].Dist })
	return all
}

// robustPrune selects up to GraphDegree neighbors for node p from the
// candidate set, dropping candidates dominated by an already selected
// neighbor within the alpha slack.
func (g *DiskGraph) robustPrune(vectors [][]float32, p uint32, candidates []queue.Item, alpha float32) []uint32 {
	pruned := make([]queue.Item, 0, len(candidates))
	for _, c := range candidates {
		if c.ID != p {
			pruned = append(pruned, c)
		}
	}
	sort.Slice(pruned, func(i, j int) bool { return pruned[i].Dist < pruned[j].Dist })

	result := make([]uint32, 0, g.opts.GraphDegree)
	for len(pruned) > 0 && len(result) < g.opts.GraphDegree {
		best := pruned[0]
		result = append(result, best.ID)

		kept := pruned[:0]
		for _, c := range pruned[1:] {
			if alpha*distance.SquaredL2(vectors[best.ID], vectors[c.ID]) <= c.Dist {
				continue
			}
			kept = append(kept, c)
		}
		pruned = kept
	}
	return result
}

// encodeGraph serializes the header and per-node records.
func (g *DiskGraph) encodeGraph(vectors [][]float32, adjacency [][]uint32, medoid uint32) []byte {
	buf := make([]byte, headerSize+len(vectors)*g.recordSize())
	binary.LittleEndian.PutUint32(buf[0:], fileMagic)
	binary.LittleEndian.PutUint32(buf[4:], fileVersion)
	binary.LittleEndian.PutUint32(buf[8:], uint32(g.opts.Dimension))
	binary.LittleEndian.PutUint32(buf[12:], uint32(len(vectors)))
	binary.LittleEndian.PutUint32(buf[16:], uint32(g.opts.GraphDegree))
	binary.LittleEndian.PutUint32(buf[20:], medoid)

	for id := range vectors {
		off := g.vectorOffset(uint32(id))
		for _, v := range vectors[id] {
			binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(v))
			off += 4
		}
		off = g.neighborOffset(uint32(id))
		for i := 0; i < g.opts.GraphDegree; i++ {
			nb := invalidNeighbor
			if i < len(adjacency[id]) {
				nb = adjacency[id][i]
			}
			binary.LittleEndian.PutUint32(buf[off:], nb)
			off += 4
		}
	}
	return buf
}

// writePayloadLocked writes the payload and manifest into dir atomically.
func (g *DiskGraph) writePayloadLocked(dir string, payload []byte, count uint32) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("diskgraph: create dir: %w", err)
	}

	tmp := filepath.Join(dir, payloadFileName+".tmp")
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return fmt.Errorf("diskgraph: write payload: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, payloadFileName)); err != nil {
		return fmt.Errorf("diskgraph: rename payload: %w", err)
	}

	return manifest.Write(dir, &manifest.Manifest{
		Backend:   g.Name(),
		Dimension: g.opts.Dimension,
		Count:     count,
		Payload:   payloadFileName,
		Checksum:  hash.CRC32C(payload),
	})
}

// swapStateLocked maps the payload in dir and replaces the current state.
func (g *DiskGraph) swapStateLocked(dir string) error {
	st, err := g.openState(dir)
	if err != nil {
		return err
	}
	old := g.state
	g.state = st
	if old != nil {
		return old.m.Close()
	}
	return nil
}

// openState validates the manifest in dir and maps the payload.
func (g *DiskGraph) openState(dir string) (*graphState, error) {
	m, err := manifest.Read(dir)
	if err != nil {
		if err == manifest.ErrNotFound {
			return nil, index.ErrNoSnapshot
		}
		return nil, err
	}
	if m.Backend != g.Name() {
		return nil, fmt.Errorf("diskgraph: snapshot backend is %q", m.Backend)
	}
	if m.Dimension != g.opts.Dimension {
		return nil, &index.ErrDimensionMismatch{Expected: g.opts.Dimension, Actual: m.Dimension}
	}

	path := filepath.Join(dir, m.Payload)
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("diskgraph: read payload: %w", err)
	}
	if sum := hash.CRC32C(payload); sum != m.Checksum {
		return nil, &manifest.ErrChecksumMismatch{Payload: m.Payload, Want: m.Checksum, Got: sum}
	}
	if len(payload) < headerSize {
		return nil, fmt.Errorf("diskgraph: payload truncated: %d bytes", len(payload))
	}

	magic := binary.LittleEndian.Uint32(payload[0:])
	version := binary.LittleEndian.Uint32(payload[4:])
	dim := binary.LittleEndian.Uint32(payload[8:])
	count := binary.LittleEndian.Uint32(payload[12:])
	degree := binary.LittleEndian.Uint32(payload[16:])
	medoid := binary.LittleEndian.Uint32(payload[20:])

	if magic != fileMagic {
		return nil, fmt.Errorf("diskgraph: bad payload magic %08x", magic)
	}
	if version != fileVersion {
		return nil, fmt.Errorf("diskgraph: unsupported payload version %d", version)
	}
	if int(dim) != g.opts.Dimension {
		return nil, &index.ErrDimensionMismatch{Expected: g.opts.Dimension, Actual: int(dim)}
	}
	if int(degree) != g.opts.GraphDegree {
		return nil, fmt.Errorf("diskgraph: payload degree %d, configured %d", degree, g.opts.GraphDegree)
	}
	if want := headerSize + int(count)*g.recordSize(); len(payload) != want {
		return nil, fmt.Errorf("diskgraph: payload size %d, want %d", len(payload), want)
	}

	mapping, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("diskgraph: map payload: %w", err)
	}
	return &graphState{m: mapping, data: mapping.Bytes(), count: count, medoid: medoid}, nil
}

// Persist writes a durable snapshot of the graph into dir. When dir is the
// graph's own directory the on-disk state is already current.
func (g *DiskGraph) Persist(dir string) error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if sameDir(dir, g.opts.Dir) {
		if g.state == nil {
			return g.writePayloadLockedRO(dir)
		}
		return nil
	}

	path := filepath.Join(g.opts.Dir, payloadFileName)
	payload, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		payload = g.encodeGraph(nil, nil, 0)
	} else if err != nil {
		return fmt.Errorf("diskgraph: read payload: %w", err)
	}

	var count uint32
	if g.state != nil {
		count = g.state.count
	}
	return g.writePayloadLocked(dir, payload, count)
}

// writePayloadLockedRO writes an empty snapshot; split out so Persist can
// run under the read lock.
func (g *DiskGraph) writePayloadLockedRO(dir string) error {
	return g.writePayloadLocked(dir, g.encodeGraph(nil, nil, 0), 0)
}

// Load restores the graph from a snapshot directory and serves reads from
// that directory's mapping.
func (g *DiskGraph) Load(dir string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.swapStateLocked(dir)
}

// clearLocked drops the mapping and removes the on-disk graph.
func (g *DiskGraph) clearLocked() error {
	if g.state != nil {
		if err := g.state.m.Close(); err != nil {
			return err
		}
		g.state = nil
	}
	for _, name := range []string{payloadFileName, manifest.FileName} {
		if err := os.Remove(filepath.Join(g.opts.Dir, name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("diskgraph: remove %s: %w", name, err)
		}
	}
	return nil
}

// randomNeighbors draws up to degree distinct neighbors for node id.
func randomNeighbors(rng *rand.Rand, id uint32, n, degree int) []uint32 {
	if n <= 1 {
		return nil
	}
	want := degree
	if want > n-1 {
		want = n - 1
	}
	seen := map[uint32]bool{id: true}
	out := make([]uint32, 0, want)
	for len(out) < want {
		nb := uint32(rng.Intn(n))
		if seen[nb] {
			continue
		}
		seen[nb] = true
		out = append(out, nb)
	}
	return out
}

// findMedoid returns the vector closest to the centroid.
func findMedoid(vectors [][]float32) uint32 {
	dim := len(vectors[0])
	mean := make([]float32, dim)
	for _, v := range vectors {
		for i, x := range v {
			mean[i] += x
		}
	}
	for i := range mean {
		mean[i] /= float32(len(vectors))
	}

	best := uint32(0)
	bestDist := distance.SquaredL2(mean, vectors[0])
	for i := 1; i < len(vectors); i++ {
		if d := distance.SquaredL2(mean, vectors[i]); d < bestDist {
			best = uint32(i)
			bestDist = d
		}
	}
	return best
}

func appendUnique(s []uint32, v uint32) []uint32 {
	for _, x := range s {
		if x == v {
			return s
		}
	}
	return append(s, v)
}

func sameDir(a, b string) bool {
	ca, err := filepath.Abs(a)
	if err != nil {
		return a == b
	}
	cb, err := filepath.Abs(b)
	if err != nil {
		return a == b
	}
	return ca == cb
}
