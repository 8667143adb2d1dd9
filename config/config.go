// Package config maps a YAML file onto a fully constructed embedding
// service. Defaults are applied for every omitted field, so a minimal
// file only needs the embedding dimension.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/bitharbor/annex/snapshot"
)

// Backend names accepted by IndexConfig.Backend.
const (
	BackendHNSW      = "hnsw"
	BackendDiskGraph = "diskgraph"
)

// Config holds all configuration for an embedding service instance.
type Config struct {
	// Dimension is the fixed embedding dimensionality. Required.
	Dimension int `yaml:"dimension"`

	// Epsilon is the canonicalization rounding tolerance.
	Epsilon float64 `yaml:"epsilon"`

	// DataDir holds the vector log, the id map database, and
	// disk-resident index files.
	DataDir string `yaml:"data_dir"`

	Index     IndexConfig    `yaml:"index"`
	Sync      SyncConfig     `yaml:"sync"`
	Search    SearchConfig   `yaml:"search"`
	Snapshot  SnapshotConfig `yaml:"snapshot"`
	Resources ResourceConfig `yaml:"resources"`
	Logging   LoggingConfig  `yaml:"logging"`
}

// IndexConfig selects and tunes the ANN index backend.
type IndexConfig struct {
	// Backend is "hnsw" (in-memory graph) or "diskgraph" (mmap-backed).
	Backend string `yaml:"backend"`

	HNSW      HNSWConfig      `yaml:"hnsw"`
	DiskGraph DiskGraphConfig `yaml:"diskgraph"`
}

// HNSWConfig tunes the in-memory graph backend.
type HNSWConfig struct {
	M              int `yaml:"m"`
	EFConstruction int `yaml:"ef_construction"`
	EFSearch       int `yaml:"ef_search"`
}

// DiskGraphConfig tunes the disk-resident graph backend.
type DiskGraphConfig struct {
	Degree          int     `yaml:"degree"`
	BuildBeamWidth  int     `yaml:"build_beam_width"`
	SearchBeamWidth int     `yaml:"search_beam_width"`
	Alpha           float32 `yaml:"alpha"`
}

// SyncConfig controls how ingests propagate into the index.
type SyncConfig struct {
	// RebuildBatchSize is how many ingests accumulate before a full
	// rebuild. 1 keeps the index in lockstep with every append.
	RebuildBatchSize int `yaml:"rebuild_batch_size"`
}

// SearchConfig tunes the query path.
type SearchConfig struct {
	// RefineCandidates is how many graph candidates a search over-fetches
	// before exact re-scoring.
	RefineCandidates int `yaml:"refine_candidates"`
}

// SnapshotConfig controls index snapshot publishing.
type SnapshotConfig struct {
	// Enabled turns snapshot publishing on. The store selection below is
	// ignored when false.
	Enabled bool `yaml:"enabled"`

	// Compression is "none", "lz4" or "zstd".
	Compression string `yaml:"compression"`

	// Store is "local", "s3" or "minio".
	Store string `yaml:"store"`

	Local LocalStoreConfig `yaml:"local"`
	S3    S3StoreConfig    `yaml:"s3"`
	MinIO MinIOStoreConfig `yaml:"minio"`
}

// LocalStoreConfig points snapshots at a filesystem directory.
type LocalStoreConfig struct {
	Dir string `yaml:"dir"`
}

// S3StoreConfig points snapshots at an S3 bucket. Credentials come from
// the ambient AWS configuration chain. When CommitTable is set, the
// CURRENT pointer is committed through DynamoDB conditional writes so
// concurrent publishers cannot overwrite each other.
type S3StoreConfig struct {
	Bucket      string `yaml:"bucket"`
	Prefix      string `yaml:"prefix"`
	Region      string `yaml:"region"`
	CommitTable string `yaml:"commit_table"`
}

// MinIOStoreConfig points snapshots at an S3-compatible endpoint.
// AccessKey and SecretKey support ${ENV_VAR} expansion.
type MinIOStoreConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
}

// ResourceConfig bounds the service's resource usage. Zero values mean
// unlimited, except MaxConcurrentRebuilds which defaults to 1.
type ResourceConfig struct {
	MaxConcurrentRebuilds int64 `yaml:"max_concurrent_rebuilds"`
	MemoryLimitBytes      int64 `yaml:"memory_limit_bytes"`
	SnapshotIOBytesPerSec int64 `yaml:"snapshot_io_bytes_per_sec"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	// Format is "text", "json" or "none".
	Format string `yaml:"format"`

	// Level is "debug", "info", "warn" or "error".
	Level string `yaml:"level"`
}

// Default returns a configuration with every tunable at its default.
// Dimension stays zero and must be set before the config validates.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Epsilon == 0 {
		cfg.Epsilon = 1e-6
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "data"
	}
	if cfg.Index.Backend == "" {
		cfg.Index.Backend = BackendHNSW
	}
	if cfg.Sync.RebuildBatchSize == 0 {
		cfg.Sync.RebuildBatchSize = 1
	}
	if cfg.Search.RefineCandidates == 0 {
		cfg.Search.RefineCandidates = 32
	}
	if cfg.Snapshot.Compression == "" {
		cfg.Snapshot.Compression = "zstd"
	}
	if cfg.Snapshot.Store == "" {
		cfg.Snapshot.Store = "local"
	}
	if cfg.Resources.MaxConcurrentRebuilds == 0 {
		cfg.Resources.MaxConcurrentRebuilds = 1
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// Load reads and parses the config file at path, expands relative paths
// against the file's directory, applies defaults, and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.DataDir = expandPath(cfg.DataDir, configDir)
	if cfg.Snapshot.Local.Dir != "" {
		cfg.Snapshot.Local.Dir = expandPath(cfg.Snapshot.Local.Dir, configDir)
	}
	cfg.Snapshot.MinIO.AccessKey = os.ExpandEnv(cfg.Snapshot.MinIO.AccessKey)
	cfg.Snapshot.MinIO.SecretKey = os.ExpandEnv(cfg.Snapshot.MinIO.SecretKey)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for values Build cannot work with.
func (c *Config) Validate() error {
	if c.Dimension <= 0 {
		return fmt.Errorf("config: dimension must be positive, got %d", c.Dimension)
	}
	if c.Epsilon <= 0 || c.Epsilon >= 1 {
		return fmt.Errorf("config: epsilon must be in (0, 1), got %g", c.Epsilon)
	}

	switch c.Index.Backend {
	case BackendHNSW, BackendDiskGraph:
	default:
		return fmt.Errorf("config: unknown index backend %q", c.Index.Backend)
	}

	if c.Sync.RebuildBatchSize < 1 {
		return fmt.Errorf("config: rebuild_batch_size must be at least 1, got %d", c.Sync.RebuildBatchSize)
	}
	if c.Search.RefineCandidates < 1 {
		return fmt.Errorf("config: refine_candidates must be at least 1, got %d", c.Search.RefineCandidates)
	}

	if _, err := snapshot.ParseCompression(c.Snapshot.Compression); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Snapshot.Enabled {
		switch c.Snapshot.Store {
		case "local":
			if c.Snapshot.Local.Dir == "" {
				return fmt.Errorf("config: snapshot.local.dir is required for the local store")
			}
		case "s3":
			if c.Snapshot.S3.Bucket == "" {
				return fmt.Errorf("config: snapshot.s3.bucket is required for the s3 store")
			}
		case "minio":
			if c.Snapshot.MinIO.Endpoint == "" || c.Snapshot.MinIO.Bucket == "" {
				return fmt.Errorf("config: snapshot.minio.endpoint and bucket are required for the minio store")
			}
		default:
			return fmt.Errorf("config: unknown snapshot store %q", c.Snapshot.Store)
		}
	}

	switch c.Logging.Format {
	case "text", "json", "none":
	default:
		return fmt.Errorf("config: unknown logging format %q", c.Logging.Format)
	}
	if _, err := parseLevel(c.Logging.Level); err != nil {
		return err
	}

	return nil
}

// expandPath converts a relative path to one anchored at baseDir.
func expandPath(path, baseDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}
