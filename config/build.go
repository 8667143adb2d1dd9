package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/bitharbor/annex"
	"github.com/bitharbor/annex/blobstore"
	minioblob "github.com/bitharbor/annex/blobstore/minio"
	s3blob "github.com/bitharbor/annex/blobstore/s3"
	"github.com/bitharbor/annex/idmap"
	"github.com/bitharbor/annex/index"
	"github.com/bitharbor/annex/index/diskgraph"
	"github.com/bitharbor/annex/index/hnsw"
	"github.com/bitharbor/annex/resource"
	"github.com/bitharbor/annex/snapshot"
	"github.com/bitharbor/annex/vectorstore"
)

// Build constructs a ready-to-serve embedding service from cfg. The vector
// log, the id map database, and any disk-resident index live under
// cfg.DataDir. Closing the returned service releases everything Build
// opened.
func Build(ctx context.Context, cfg *Config) (*annex.Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	store, err := vectorstore.NewFileStore(filepath.Join(cfg.DataDir, "vectors.log"), cfg.Dimension)
	if err != nil {
		return nil, err
	}

	ids, err := idmap.NewSQLiteMap(filepath.Join(cfg.DataDir, "idmap.db"))
	if err != nil {
		store.Close()
		return nil, err
	}

	idx, err := buildIndex(cfg)
	if err != nil {
		store.Close()
		ids.Close()
		return nil, err
	}

	resources := resource.NewController(resource.Config{
		MaxConcurrentRebuilds: cfg.Resources.MaxConcurrentRebuilds,
		MemoryLimitBytes:      cfg.Resources.MemoryLimitBytes,
		SnapshotIOBytesPerSec: cfg.Resources.SnapshotIOBytesPerSec,
	})

	opts := []annex.Option{
		annex.WithEpsilon(cfg.Epsilon),
		annex.WithRebuildBatchSize(cfg.Sync.RebuildBatchSize),
		annex.WithRefineCandidates(cfg.Search.RefineCandidates),
		annex.WithResourceController(resources),
		annex.WithLogger(buildLogger(cfg.Logging)),
	}

	if cfg.Snapshot.Enabled {
		publisher, err := buildPublisher(ctx, cfg, resources)
		if err != nil {
			store.Close()
			ids.Close()
			return nil, err
		}
		opts = append(opts, annex.WithSnapshotPublisher(publisher))
	}

	svc, err := annex.New(store, idx, ids, opts...)
	if err != nil {
		store.Close()
		ids.Close()
		return nil, err
	}
	return svc, nil
}

func buildIndex(cfg *Config) (index.Index, error) {
	switch cfg.Index.Backend {
	case BackendHNSW:
		idx, err := hnsw.New(func(o *hnsw.Options) {
			o.Dimension = cfg.Dimension
			if cfg.Index.HNSW.M > 0 {
				o.M = cfg.Index.HNSW.M
			}
			if cfg.Index.HNSW.EFConstruction > 0 {
				o.EFConstruction = cfg.Index.HNSW.EFConstruction
			}
			if cfg.Index.HNSW.EFSearch > 0 {
				o.EFSearch = cfg.Index.HNSW.EFSearch
			}
		})
		if err != nil {
			return nil, err
		}
		return idx, nil
	case BackendDiskGraph:
		idx, err := diskgraph.New(func(o *diskgraph.Options) {
			o.Dimension = cfg.Dimension
			o.Dir = filepath.Join(cfg.DataDir, "index")
			if cfg.Index.DiskGraph.Degree > 0 {
				o.GraphDegree = cfg.Index.DiskGraph.Degree
			}
			if cfg.Index.DiskGraph.BuildBeamWidth > 0 {
				o.BuildBeamWidth = cfg.Index.DiskGraph.BuildBeamWidth
			}
			if cfg.Index.DiskGraph.SearchBeamWidth > 0 {
				o.SearchBeamWidth = cfg.Index.DiskGraph.SearchBeamWidth
			}
			if cfg.Index.DiskGraph.Alpha > 0 {
				o.Alpha = cfg.Index.DiskGraph.Alpha
			}
		})
		if err != nil {
			return nil, err
		}
		return idx, nil
	default:
		return nil, fmt.Errorf("config: unknown index backend %q", cfg.Index.Backend)
	}
}

func buildPublisher(ctx context.Context, cfg *Config, resources *resource.Controller) (*snapshot.Publisher, error) {
	store, err := buildSnapshotStore(ctx, cfg.Snapshot)
	if err != nil {
		return nil, err
	}

	compression, err := snapshot.ParseCompression(cfg.Snapshot.Compression)
	if err != nil {
		return nil, err
	}

	return snapshot.NewPublisher(store, func(o *snapshot.Options) {
		o.Compression = compression
		o.Limiter = resources.SnapshotIOLimiter()
	}), nil
}

func buildSnapshotStore(ctx context.Context, cfg SnapshotConfig) (blobstore.Store, error) {
	switch cfg.Store {
	case "local":
		store, err := blobstore.NewLocalStore(cfg.Local.Dir)
		if err != nil {
			return nil, err
		}
		return store, nil

	case "s3":
		var loadOpts []func(*awsconfig.LoadOptions) error
		if cfg.S3.Region != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.S3.Region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, fmt.Errorf("config: load aws config: %w", err)
		}

		store := s3blob.NewStore(awss3.NewFromConfig(awsCfg), cfg.S3.Bucket, cfg.S3.Prefix)
		if cfg.S3.CommitTable == "" {
			return store, nil
		}
		catalog := fmt.Sprintf("s3://%s/%s", cfg.S3.Bucket, cfg.S3.Prefix)
		return s3blob.NewCommitStore(store, dynamodb.NewFromConfig(awsCfg), cfg.S3.CommitTable, catalog), nil

	case "minio":
		client, err := minio.New(cfg.MinIO.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.MinIO.AccessKey, cfg.MinIO.SecretKey, ""),
			Secure: cfg.MinIO.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("config: minio client: %w", err)
		}
		return minioblob.NewStore(client, cfg.MinIO.Bucket, cfg.MinIO.Prefix), nil

	default:
		return nil, fmt.Errorf("config: unknown snapshot store %q", cfg.Store)
	}
}

func buildLogger(cfg LoggingConfig) *annex.Logger {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	switch cfg.Format {
	case "json":
		return annex.NewJSONLogger(level)
	case "none":
		return annex.NoopLogger()
	default:
		return annex.NewTextLogger(level)
	}
}

func parseLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("config: unknown log level %q", s)
	}
}
