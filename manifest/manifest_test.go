package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManifest_WriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()

	in := &Manifest{
		Backend:   "hnsw",
		Dimension: 8,
		Count:     42,
		Payload:   "graph.bin",
		Checksum:  0xdeadbeef,
	}
	require.NoError(t, Write(dir, in))

	out, err := Read(dir)
	require.NoError(t, err)
	assert.Equal(t, CurrentVersion, out.Version)
	assert.Equal(t, "hnsw", out.Backend)
	assert.Equal(t, 8, out.Dimension)
	assert.Equal(t, uint32(42), out.Count)
	assert.Equal(t, "graph.bin", out.Payload)
	assert.Equal(t, uint32(0xdeadbeef), out.Checksum)

	// No temp file left behind.
	_, err = os.Stat(filepath.Join(dir, FileName+".tmp"))
	assert.True(t, os.IsNotExist(err))
}

func TestManifest_ReadMissing(t *testing.T) {
	_, err := Read(t.TempDir())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestManifest_ReadUnsupportedVersion(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(`{"version":99}`), 0o644))

	_, err := Read(dir)
	require.Error(t, err)
}
