// Package testutil provides deterministic helpers for tests.
package testutil

import (
	"math"
	"math/rand"
	"sync"
)

// RNG encapsulates a seeded random number generator. It is thread-safe.
type RNG struct {
	mu   sync.Mutex
	rand *rand.Rand
	seed int64
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 { return r.seed }

// Float32 returns a pseudo-random number in [0.0, 1.0).
func (r *RNG) Float32() float32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float32()
}

// Intn returns a non-negative pseudo-random number in [0, n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Vector returns a random vector with components in [-1, 1).
func (r *RNG) Vector(dim int) []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	v := make([]float32, dim)
	for i := range v {
		v[i] = r.rand.Float32()*2 - 1
	}
	return v
}

// UnitVector returns a random L2-normalized vector.
func (r *RNG) UnitVector(dim int) []float32 {
	v := r.Vector(dim)
	var norm2 float64
	for _, x := range v {
		norm2 += float64(x) * float64(x)
	}
	if norm2 == 0 {
		v[0] = 1
		return v
	}
	inv := 1 / math.Sqrt(norm2)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
	return v
}

// NearOrthogonalBasis returns n unit vectors that are pairwise orthogonal
// save for a small perturbation, useful for unambiguous ranking tests.
// Requires n <= dim.
func NearOrthogonalBasis(n, dim int, perturbation float32) [][]float32 {
	if n > dim {
		panic("testutil: basis size exceeds dimension")
	}

	out := make([][]float32, n)
	for i := range out {
		v := make([]float32, dim)
		v[i] = 1
		for j := range v {
			if j != i {
				v[j] = perturbation
			}
		}
		var norm2 float64
		for _, x := range v {
			norm2 += float64(x) * float64(x)
		}
		inv := 1 / math.Sqrt(norm2)
		for j := range v {
			v[j] = float32(float64(v[j]) * inv)
		}
		out[i] = v
	}
	return out
}
