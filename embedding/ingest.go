package embedding

import (
	"context"
	"fmt"

	"github.com/bitharbor/annex/canonical"
)

// Catalog is the slice of the embedding service an Ingestor needs.
type Catalog interface {
	AddEmbedding(ctx context.Context, mediaID string, raw []float32) (uint32, canonical.Hash, error)
	Dimension() int
}

// Ingestor feeds an Embedder's output into the catalog.
type Ingestor struct {
	catalog  Catalog
	embedder Embedder
}

// NewIngestor pairs an embedder with a catalog. The dimensions must
// agree.
func NewIngestor(catalog Catalog, embedder Embedder) (*Ingestor, error) {
	if catalog.Dimension() != embedder.Dimensions() {
		return nil, fmt.Errorf("embedding: embedder produces %d dimensions, catalog expects %d",
			embedder.Dimensions(), catalog.Dimension())
	}
	return &Ingestor{catalog: catalog, embedder: embedder}, nil
}

// IngestText embeds text and stores the result for mediaID, returning
// the vector's row id.
func (in *Ingestor) IngestText(ctx context.Context, mediaID, text string) (uint32, error) {
	vec, err := in.embedder.Embed(ctx, text)
	if err != nil {
		return 0, fmt.Errorf("embedding: embed %q: %w", mediaID, err)
	}
	rowID, _, err := in.catalog.AddEmbedding(ctx, mediaID, vec)
	return rowID, err
}

// IngestBatch embeds texts and stores each result under the media id at
// the same position. Row ids are returned in input order.
func (in *Ingestor) IngestBatch(ctx context.Context, mediaIDs, texts []string) ([]uint32, error) {
	if len(mediaIDs) != len(texts) {
		return nil, fmt.Errorf("embedding: %d media ids for %d texts", len(mediaIDs), len(texts))
	}

	vecs, err := in.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}

	rowIDs := make([]uint32, len(vecs))
	for i, vec := range vecs {
		rowID, _, err := in.catalog.AddEmbedding(ctx, mediaIDs[i], vec)
		if err != nil {
			return nil, fmt.Errorf("embedding: ingest %q: %w", mediaIDs[i], err)
		}
		rowIDs[i] = rowID
	}
	return rowIDs, nil
}
