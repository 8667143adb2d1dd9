// Package benchmark_test measures ingest and search throughput of the
// embedding service across index backends.
package benchmark_test

import (
	"context"
	"fmt"
	"strconv"
	"testing"

	"github.com/bitharbor/annex"
	"github.com/bitharbor/annex/idmap"
	"github.com/bitharbor/annex/index"
	"github.com/bitharbor/annex/index/diskgraph"
	"github.com/bitharbor/annex/index/hnsw"
	"github.com/bitharbor/annex/testutil"
	"github.com/bitharbor/annex/vectorstore"
)

const (
	dimSmall  = 32
	dimMedium = 128

	benchSeed = 42
)

func openService(b *testing.B, dim int, backend string, optFns ...annex.Option) *annex.Service {
	b.Helper()
	seed := int64(benchSeed)

	var (
		idx index.Index
		err error
	)
	switch backend {
	case "hnsw":
		idx, err = hnsw.New(func(o *hnsw.Options) {
			o.Dimension = dim
			o.RandomSeed = &seed
		})
	case "diskgraph":
		idx, err = diskgraph.New(func(o *diskgraph.Options) {
			o.Dimension = dim
			o.Dir = b.TempDir()
			o.RandomSeed = &seed
		})
	default:
		b.Fatalf("unknown backend %q", backend)
	}
	if err != nil {
		b.Fatal(err)
	}

	svc, err := annex.New(vectorstore.NewMemoryStore(dim), idx, idmap.NewMemoryMap(), optFns...)
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { svc.Close() })
	return svc
}

func loadVectors(b *testing.B, svc *annex.Service, n, dim int) [][]float32 {
	b.Helper()
	ctx := context.Background()
	rng := testutil.NewRNG(benchSeed)

	vectors := make([][]float32, n)
	for i := range vectors {
		vectors[i] = rng.UnitVector(dim)
		if _, _, err := svc.AddEmbedding(ctx, fmt.Sprintf("media-%06d", i), vectors[i]); err != nil {
			b.Fatal(err)
		}
	}
	return vectors
}

func BenchmarkAddEmbedding(b *testing.B) {
	for _, dim := range []int{dimSmall, dimMedium} {
		b.Run("dim="+strconv.Itoa(dim), func(b *testing.B) {
			svc := openService(b, dim, "hnsw")
			ctx := context.Background()
			rng := testutil.NewRNG(benchSeed)

			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, _, err := svc.AddEmbedding(ctx, fmt.Sprintf("media-%06d", i), rng.UnitVector(dim)); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkSearch(b *testing.B) {
	const n = 10_000
	const k = 10

	for _, backend := range []string{"hnsw", "diskgraph"} {
		b.Run(backend, func(b *testing.B) {
			// Batch past n so the load phase defers index work to the
			// warm-up search's rebuild.
			svc := openService(b, dimMedium, backend, annex.WithRebuildBatchSize(n+1))
			loadVectors(b, svc, n, dimMedium)

			ctx := context.Background()
			rng := testutil.NewRNG(benchSeed + 1)
			queries := make([][]float32, 100)
			for i := range queries {
				queries[i] = rng.UnitVector(dimMedium)
			}

			// Warm up so the first measured search never pays for a
			// rebuild.
			if _, err := svc.Search(ctx, queries[0], k); err != nil {
				b.Fatal(err)
			}

			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := svc.Search(ctx, queries[i%len(queries)], k); err != nil {
					b.Fatal(err)
				}
			}
			b.StopTimer()
			b.ReportMetric(float64(b.N)/b.Elapsed().Seconds(), "qps")
		})
	}
}

func BenchmarkRebuild(b *testing.B) {
	for _, n := range []int{1_000, 10_000} {
		b.Run("n="+strconv.Itoa(n), func(b *testing.B) {
			svc := openService(b, dimSmall, "hnsw")
			loadVectors(b, svc, n, dimSmall)
			ctx := context.Background()

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if err := svc.Rebuild(ctx); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
