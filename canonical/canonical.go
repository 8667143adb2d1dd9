// Package canonical converts raw embedding vectors into their canonical
// stored form and computes the content hash used for deduplication.
//
// Canonicalization is pure and deterministic: bit-identical raw input always
// yields the same hash, and near-identical inputs (within the rounding
// tolerance) collapse to the same canonical form and hash.
package canonical

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"slices"

	"lukechampine.com/blake3"

	"github.com/bitharbor/annex/distance"
)

// HashSize is the size of a vector hash in bytes.
const HashSize = 32

// Hash is the BLAKE3 content digest of a canonical vector's byte encoding.
type Hash [HashSize]byte

// Hex returns the lowercase hex encoding of the hash.
func (h Hash) Hex() string {
	return hex.EncodeToString(h[:])
}

// String implements fmt.Stringer.
func (h Hash) String() string { return h.Hex() }

// ParseHash decodes a hex-encoded vector hash.
func ParseHash(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("canonical: invalid hash encoding: %w", err)
	}
	if len(b) != HashSize {
		return h, fmt.Errorf("canonical: invalid hash length %d", len(b))
	}
	copy(h[:], b)
	return h, nil
}

// ErrDimensionMismatch indicates a raw vector whose dimensionality does not
// match the configured one.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("canonical: dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// Canonicalizer normalizes and quantizes raw vectors.
//
// The rounding precision is derived from epsilon as
// decimals = round(-log10(epsilon)), so floating-point noise below epsilon
// collapses to identical canonical output. Epsilon <= 0 disables rounding.
type Canonicalizer struct {
	dim     int
	scale   float64 // 0 when rounding is disabled
	unitTol float64
}

// New creates a Canonicalizer for vectors of the given dimension.
func New(dim int, epsilon float64) (*Canonicalizer, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("canonical: invalid dimension %d", dim)
	}

	c := &Canonicalizer{dim: dim}
	if epsilon > 0 {
		decimals := int(math.Round(-math.Log10(epsilon)))
		if decimals < 0 {
			decimals = 0
		}
		c.scale = math.Pow(10, float64(decimals))
	}

	// unitTol bounds how far rounding can push a freshly normalized vector
	// off unit norm: 1/(2*scale) per component, sqrt(dim) components in the
	// worst case, plus float32 quantization noise. Vectors inside the band
	// skip the divide, so canonical output is a fixed point of Canonicalize.
	c.unitTol = 1e-6
	if c.scale > 0 {
		c.unitTol += math.Sqrt(float64(dim)) / c.scale
	}
	return c, nil
}

// Dimension returns the configured vector dimension.
func (c *Canonicalizer) Dimension() int { return c.dim }

// Canonicalize returns the canonical form of raw and its content hash.
// The input is not mutated. A zero vector passes through unnormalized.
//
// Canonical vectors are fixed points: re-canonicalizing output reproduces
// it bit for bit, so a vector read back from storage keeps its hash.
func (c *Canonicalizer) Canonicalize(raw []float32) ([]float32, Hash, error) {
	vec, err := c.NormalizeQuery(raw)
	if err != nil {
		return nil, Hash{}, err
	}

	if c.scale > 0 {
		c.round(vec)

		// An input that skipped the divide can be pushed out of the unit
		// band by rounding; one renormalize-and-round pass lands it back
		// inside, after which rounding is stable.
		if norm := float64(distance.Norm(vec)); norm > 0 && math.Abs(norm-1) > c.unitTol {
			distance.NormalizeL2InPlace(vec)
			c.round(vec)
		}
	}

	return vec, sum(vec), nil
}

// round snaps each component to the rounding grid.
func (c *Canonicalizer) round(vec []float32) {
	for i, v := range vec {
		r := float32(math.Round(float64(v)*c.scale) / c.scale)
		if r == 0 {
			r = 0 // canonicalize negative zero
		}
		vec[i] = r
	}
}

// NormalizeQuery applies the same L2 normalization as Canonicalize without
// rounding or hashing. Query vectors go through this path so that they are
// compared against stored vectors on the same scale. A zero-norm vector is
// returned unchanged (it scores 0 against everything).
func (c *Canonicalizer) NormalizeQuery(raw []float32) ([]float32, error) {
	if len(raw) != c.dim {
		return nil, &ErrDimensionMismatch{Expected: c.dim, Actual: len(raw)}
	}

	// A vector already within unitTol of unit norm passes through so that
	// canonical vectors survive a round trip unchanged: re-canonicalizing a
	// stored vector must reproduce its hash, and renormalizing here would
	// shift components across the rounding grid.
	norm := float64(distance.Norm(raw))
	if norm == 0 || math.Abs(norm-1) <= c.unitTol {
		return slices.Clone(raw), nil
	}

	vec, _ := distance.NormalizeL2Copy(raw)
	return vec, nil
}

// sum hashes the fixed-endianness byte encoding of vec.
func sum(vec []float32) Hash {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return blake3.Sum256(buf)
}
