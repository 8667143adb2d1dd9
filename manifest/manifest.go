// Package manifest describes persisted index snapshots.
//
// A snapshot directory holds a payload file plus a MANIFEST json document
// recording the backend, dimension, row count and a CRC32-Castagnoli
// checksum of the payload. The manifest is replaced atomically (temp file +
// rename) so a crash mid-persist leaves the previous snapshot readable.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FileName is the manifest file name inside a snapshot directory.
const FileName = "MANIFEST"

// CurrentVersion is the manifest schema version written by this package.
const CurrentVersion = 1

// ErrNotFound is returned when a directory holds no manifest.
var ErrNotFound = errors.New("manifest: not found")

// ErrChecksumMismatch indicates a payload whose checksum does not match the
// manifest.
type ErrChecksumMismatch struct {
	Payload string
	Want    uint32
	Got     uint32
}

func (e *ErrChecksumMismatch) Error() string {
	return fmt.Sprintf("manifest: checksum mismatch for %s: want %08x, got %08x", e.Payload, e.Want, e.Got)
}

// Manifest describes a single persisted index snapshot.
type Manifest struct {
	Version   int    `json:"version"`
	Backend   string `json:"backend"`
	Dimension int    `json:"dimension"`
	Count     uint32 `json:"count"`
	Payload   string `json:"payload"`  // payload file name, relative to the snapshot dir
	Checksum  uint32 `json:"checksum"` // CRC32C of the payload file
}

// Write atomically writes m into dir, creating dir if needed.
func Write(dir string, m *Manifest) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("manifest: create dir: %w", err)
	}

	m.Version = CurrentVersion
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("manifest: encode: %w", err)
	}

	tmp := filepath.Join(dir, FileName+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("manifest: write temp: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, FileName)); err != nil {
		return fmt.Errorf("manifest: rename: %w", err)
	}
	return nil
}

// Read loads the manifest from dir.
func Read(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("manifest: read: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("manifest: decode: %w", err)
	}
	if m.Version != CurrentVersion {
		return nil, fmt.Errorf("manifest: unsupported version %d", m.Version)
	}
	return &m, nil
}
