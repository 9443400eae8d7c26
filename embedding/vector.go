// Package embedding provides the vector arithmetic the rest of the core
// relies on and the embedding-function contract components accept. All
// helpers are total: degenerate inputs (empty vectors, mismatched lengths,
// the zero vector) degrade to identity or zero results rather than failing.
package embedding

import "math"

// Add returns a+b element-wise. An empty operand acts as the additive
// identity; mismatched non-empty lengths fail safe by returning a copy of
// the left operand unmodified.
func Add(a, b []float64) []float64 {
	if len(a) == 0 {
		return append([]float64(nil), b...)
	}
	if len(b) == 0 || len(a) != len(b) {
		return append([]float64(nil), a...)
	}
	out := make([]float64, len(a))
	for i := range a {
		out[i] = a[i] + b[i]
	}
	return out
}

// Scale returns v*s element-wise.
func Scale(v []float64, s float64) []float64 {
	out := make([]float64, len(v))
	for i := range v {
		out[i] = v[i] * s
	}
	return out
}

// Centroid returns the arithmetic mean of the given vectors, skipping empty
// ones and any whose length disagrees with the first non-empty vector.
// Returns nil when nothing usable remains.
func Centroid(vectors [][]float64) []float64 {
	var sum []float64
	count := 0
	for _, v := range vectors {
		if len(v) == 0 {
			continue
		}
		if sum == nil {
			sum = append([]float64(nil), v...)
			count = 1
			continue
		}
		if len(v) != len(sum) {
			continue
		}
		for i := range sum {
			sum[i] += v[i]
		}
		count++
	}
	if count == 0 {
		return nil
	}
	return Scale(sum, 1.0/float64(count))
}

// Cosine returns the cosine similarity of a and b. Empty or mismatched
// vectors and the zero vector all yield 0.0; the result is never NaN.
func Cosine(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0.0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0.0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
