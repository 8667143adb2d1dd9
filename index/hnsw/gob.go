package hnsw

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bitharbor/annex/index"
	"github.com/bitharbor/annex/internal/hash"
	"github.com/bitharbor/annex/manifest"
)

// payloadFileName is the graph payload inside a snapshot directory.
const payloadFileName = "graph.gob"

// graphData is the serializable representation of the graph.
type graphData struct {
	Nodes      []node
	EntryPoint int32
	MaxLevel   int
}

// Persist writes a durable snapshot of the graph into dir.
func (h *HNSW) Persist(dir string) error {
	h.mu.RLock()
	data := graphData{
		Nodes:      h.nodes,
		EntryPoint: h.entryPoint,
		MaxLevel:   h.maxLevel,
	}
	count := uint32(len(h.nodes))
	h.mu.RUnlock()

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(data); err != nil {
		return fmt.Errorf("hnsw: encode snapshot: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("hnsw: create snapshot dir: %w", err)
	}

	payload := buf.Bytes()
	tmp := filepath.Join(dir, payloadFileName+".tmp")
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return fmt.Errorf("hnsw: write snapshot payload: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, payloadFileName)); err != nil {
		return fmt.Errorf("hnsw: rename snapshot payload: %w", err)
	}

	return manifest.Write(dir, &manifest.Manifest{
		Backend:   h.Name(),
		Dimension: h.opts.Dimension,
		Count:     count,
		Payload:   payloadFileName,
		Checksum:  hash.CRC32C(payload),
	})
}

// Load restores the graph from a snapshot directory.
func (h *HNSW) Load(dir string) error {
	m, err := manifest.Read(dir)
	if err != nil {
		if err == manifest.ErrNotFound {
			return index.ErrNoSnapshot
		}
		return err
	}
	if m.Backend != h.Name() {
		return fmt.Errorf("hnsw: snapshot backend is %q", m.Backend)
	}
	if m.Dimension != h.opts.Dimension {
		return &index.ErrDimensionMismatch{Expected: h.opts.Dimension, Actual: m.Dimension}
	}

	payload, err := os.ReadFile(filepath.Join(dir, m.Payload))
	if err != nil {
		return fmt.Errorf("hnsw: read snapshot payload: %w", err)
	}
	if sum := hash.CRC32C(payload); sum != m.Checksum {
		return &manifest.ErrChecksumMismatch{Payload: m.Payload, Want: m.Checksum, Got: sum}
	}

	var data graphData
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&data); err != nil {
		return fmt.Errorf("hnsw: decode snapshot: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.nodes = data.Nodes
	h.entryPoint = data.EntryPoint
	h.maxLevel = data.MaxLevel
	return nil
}
