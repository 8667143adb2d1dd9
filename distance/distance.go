// Package distance provides float32 vector kernels used throughout the
// storage and index layers.
package distance

import (
	"fmt"
	"math"
	"slices"
)

// Dot calculates the dot product of two vectors.
// Assumes vectors are the same length (caller's responsibility).
func Dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// SquaredL2 calculates the squared L2 (Euclidean) distance between two vectors.
// Assumes vectors are the same length (caller's responsibility).
func SquaredL2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// Norm returns the L2 norm of v. The sum of squares is accumulated in
// float64 so the result is stable enough to compare against 1 for
// already-normalized vectors.
func Norm(v []float32) float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return float32(math.Sqrt(sum))
}

// NormalizeL2InPlace L2-normalizes v in place.
// Returns false if v has zero L2 norm; v is left untouched in that case.
func NormalizeL2InPlace(v []float32) bool {
	if len(v) == 0 {
		return false
	}
	var norm2 float64
	for _, x := range v {
		norm2 += float64(x) * float64(x)
	}
	if norm2 == 0 {
		return false
	}
	inv := 1 / math.Sqrt(norm2)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
	return true
}

// NormalizeL2Copy returns a normalized copy of src.
// A zero-norm input is returned as an unmodified copy (ok == false).
func NormalizeL2Copy(src []float32) (dst []float32, ok bool) {
	dst = slices.Clone(src)
	ok = NormalizeL2InPlace(dst)
	return dst, ok
}

// Metric represents the distance metric used for vector comparison.
type Metric int

const (
	MetricL2 Metric = iota
	MetricCosine
	MetricDot
)

func (m Metric) String() string {
	switch m {
	case MetricL2:
		return "L2"
	case MetricCosine:
		return "Cosine"
	case MetricDot:
		return "Dot"
	default:
		return fmt.Sprintf("Unknown(%d)", m)
	}
}

// Func is a function type for distance calculation.
// Smaller results mean closer vectors.
type Func func(a, b []float32) float32

// Provider returns the distance function for the given metric.
// Cosine assumes L2-normalized inputs, under which ordering by squared L2
// is equivalent to ordering by descending cosine similarity.
func Provider(m Metric) (Func, error) {
	switch m {
	case MetricL2, MetricCosine:
		return SquaredL2, nil
	case MetricDot:
		return func(a, b []float32) float32 { return -Dot(a, b) }, nil
	default:
		return nil, fmt.Errorf("distance: unsupported metric %v", m)
	}
}
