package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "annex.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "dimension: 64\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 64, cfg.Dimension)
	assert.Equal(t, 1e-6, cfg.Epsilon)
	assert.Equal(t, BackendHNSW, cfg.Index.Backend)
	assert.Equal(t, 1, cfg.Sync.RebuildBatchSize)
	assert.Equal(t, 32, cfg.Search.RefineCandidates)
	assert.Equal(t, "zstd", cfg.Snapshot.Compression)
	assert.False(t, cfg.Snapshot.Enabled)
	assert.Equal(t, int64(1), cfg.Resources.MaxConcurrentRebuilds)
	assert.Equal(t, "text", cfg.Logging.Format)

	// Relative data_dir is anchored at the config file's directory.
	assert.Equal(t, filepath.Join(filepath.Dir(path), "data"), cfg.DataDir)
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeConfig(t, `
dimension: 128
epsilon: 1e-4
data_dir: /var/lib/annex
index:
  backend: diskgraph
  diskgraph:
    degree: 48
    alpha: 1.4
sync:
  rebuild_batch_size: 16
search:
  refine_candidates: 64
snapshot:
  enabled: true
  compression: lz4
  store: local
  local:
    dir: /var/lib/annex/snapshots
resources:
  max_concurrent_rebuilds: 2
  snapshot_io_bytes_per_sec: 1048576
logging:
  format: json
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 128, cfg.Dimension)
	assert.Equal(t, 1e-4, cfg.Epsilon)
	assert.Equal(t, "/var/lib/annex", cfg.DataDir)
	assert.Equal(t, BackendDiskGraph, cfg.Index.Backend)
	assert.Equal(t, 48, cfg.Index.DiskGraph.Degree)
	assert.Equal(t, float32(1.4), cfg.Index.DiskGraph.Alpha)
	assert.Equal(t, 16, cfg.Sync.RebuildBatchSize)
	assert.Equal(t, 64, cfg.Search.RefineCandidates)
	assert.True(t, cfg.Snapshot.Enabled)
	assert.Equal(t, "lz4", cfg.Snapshot.Compression)
	assert.Equal(t, "/var/lib/annex/snapshots", cfg.Snapshot.Local.Dir)
	assert.Equal(t, int64(2), cfg.Resources.MaxConcurrentRebuilds)
	assert.Equal(t, int64(1<<20), cfg.Resources.SnapshotIOBytesPerSec)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("ANNEX_TEST_SECRET", "s3cr3t")
	path := writeConfig(t, `
dimension: 8
snapshot:
  enabled: true
  store: minio
  minio:
    endpoint: localhost:9000
    bucket: snapshots
    access_key: annex
    secret_key: ${ANNEX_TEST_SECRET}
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", cfg.Snapshot.MinIO.SecretKey)
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantMsg string
	}{
		{"missing dimension", func(c *Config) { c.Dimension = 0 }, "dimension"},
		{"negative epsilon", func(c *Config) { c.Epsilon = -1 }, "epsilon"},
		{"unknown backend", func(c *Config) { c.Index.Backend = "faiss" }, "backend"},
		{"zero batch", func(c *Config) { c.Sync.RebuildBatchSize = -1 }, "rebuild_batch_size"},
		{"unknown compression", func(c *Config) { c.Snapshot.Compression = "gzip" }, "compression"},
		{"snapshot store unset dir", func(c *Config) {
			c.Snapshot.Enabled = true
			c.Snapshot.Local.Dir = ""
		}, "snapshot.local.dir"},
		{"s3 without bucket", func(c *Config) {
			c.Snapshot.Enabled = true
			c.Snapshot.Store = "s3"
		}, "bucket"},
		{"unknown log format", func(c *Config) { c.Logging.Format = "xml" }, "logging format"},
		{"unknown log level", func(c *Config) { c.Logging.Level = "trace" }, "log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Dimension = 8
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestBuild_HNSWService(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	cfg := Default()
	cfg.Dimension = 4
	cfg.DataDir = filepath.Join(dir, "data")
	cfg.Logging.Format = "none"

	svc, err := Build(ctx, cfg)
	require.NoError(t, err)
	defer svc.Close()

	require.Equal(t, 4, svc.Dimension())

	_, _, err = svc.AddEmbedding(ctx, "movie-1", []float32{1, 0, 0, 0})
	require.NoError(t, err)

	matches, err := svc.Search(ctx, []float32{1, 0, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "movie-1", matches[0].MediaID)
}

func TestBuild_DiskGraphWithSnapshots(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	cfg := Default()
	cfg.Dimension = 4
	cfg.DataDir = filepath.Join(dir, "data")
	cfg.Index.Backend = BackendDiskGraph
	cfg.Snapshot.Enabled = true
	cfg.Snapshot.Compression = "lz4"
	cfg.Snapshot.Local.Dir = filepath.Join(dir, "snapshots")
	cfg.Logging.Format = "none"

	svc, err := Build(ctx, cfg)
	require.NoError(t, err)
	defer svc.Close()

	_, _, err = svc.AddEmbedding(ctx, "movie-1", []float32{0, 1, 0, 0})
	require.NoError(t, err)

	matches, err := svc.Search(ctx, []float32{0, 1, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)

	name, err := svc.PublishSnapshot(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, name)
}

func TestBuild_InvalidConfig(t *testing.T) {
	cfg := Default()
	_, err := Build(context.Background(), cfg)
	require.Error(t, err)
}
