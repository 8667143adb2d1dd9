// Package embedding defines the contract for external embedding
// providers and helpers to feed their output into the catalog. The
// service itself never computes embeddings; providers live behind the
// Embedder interface.
package embedding

import "context"

// Embedder produces vector embeddings for text.
type Embedder interface {
	// Embed converts a single text to a vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch converts texts to vectors (batched for efficiency).
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the vector dimensionality.
	Dimensions() int

	// Close releases provider resources.
	Close() error
}

// Func adapts a plain embedding function to the Embedder interface.
// Batching falls back to sequential single calls.
type Func struct {
	Fn  func(ctx context.Context, text string) ([]float32, error)
	Dim int
}

var _ Embedder = (*Func)(nil)

func (f *Func) Embed(ctx context.Context, text string) ([]float32, error) {
	return f.Fn(ctx, text)
}

func (f *Func) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := f.Fn(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (f *Func) Dimensions() int { return f.Dim }

func (f *Func) Close() error { return nil }
