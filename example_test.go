package annex_test

import (
	"context"
	"fmt"
	"log"

	"github.com/bitharbor/annex"
	"github.com/bitharbor/annex/idmap"
	"github.com/bitharbor/annex/index/hnsw"
	"github.com/bitharbor/annex/vectorstore"
)

func Example() {
	dim := 4
	idx, err := hnsw.New(func(o *hnsw.Options) {
		o.Dimension = dim
	})
	if err != nil {
		log.Fatal(err)
	}

	svc, err := annex.New(vectorstore.NewMemoryStore(dim), idx, idmap.NewMemoryMap())
	if err != nil {
		log.Fatal(err)
	}
	defer svc.Close()

	ctx := context.Background()
	for mediaID, vec := range map[string][]float32{
		"movie-1": {1, 0, 0, 0},
		"movie-2": {0, 1, 0, 0},
	} {
		if _, _, err := svc.AddEmbedding(ctx, mediaID, vec); err != nil {
			log.Fatal(err)
		}
	}

	matches, err := svc.Search(ctx, []float32{1, 0.1, 0, 0}, 1)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(matches[0].MediaID)
	// Output: movie-1
}

func Example_deduplication() {
	dim := 4
	idx, err := hnsw.New(func(o *hnsw.Options) {
		o.Dimension = dim
	})
	if err != nil {
		log.Fatal(err)
	}

	svc, err := annex.New(vectorstore.NewMemoryStore(dim), idx, idmap.NewMemoryMap())
	if err != nil {
		log.Fatal(err)
	}
	defer svc.Close()

	ctx := context.Background()
	first, _, _ := svc.AddEmbedding(ctx, "movie-1", []float32{1, 0, 0, 0})

	// Noise below the canonicalization tolerance maps to the same row.
	again, _, _ := svc.AddEmbedding(ctx, "movie-1", []float32{1 + 1e-9, 0, 0, 0})

	fmt.Println(first == again)
	// Output: true
}
