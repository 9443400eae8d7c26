package embedding

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAdd(t *testing.T) {
	assert.Equal(t, []float64{4, 6}, Add([]float64{1, 2}, []float64{3, 4}))
	// Empty operands are the additive identity.
	assert.Equal(t, []float64{1, 2}, Add(nil, []float64{1, 2}))
	assert.Equal(t, []float64{1, 2}, Add([]float64{1, 2}, nil))
	// Mismatched lengths fail safe by keeping the left operand.
	assert.Equal(t, []float64{1, 2}, Add([]float64{1, 2}, []float64{1, 2, 3}))
}

func TestScale(t *testing.T) {
	assert.Equal(t, []float64{2, 4}, Scale([]float64{1, 2}, 2))
	assert.Empty(t, Scale(nil, 3))
}

func TestCentroid(t *testing.T) {
	got := Centroid([][]float64{{1, 0}, {0, 1}})
	assert.InDelta(t, 0.5, got[0], 1e-9)
	assert.InDelta(t, 0.5, got[1], 1e-9)

	// Empty and mismatched vectors are skipped.
	got = Centroid([][]float64{nil, {2, 4}, {1, 2, 3}})
	assert.Equal(t, []float64{2, 4}, got)

	assert.Nil(t, Centroid(nil))
	assert.Nil(t, Centroid([][]float64{nil, {}}))
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float64{1, 2}, []float64{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float64{1, 0}, []float64{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, Cosine([]float64{1, 0}, []float64{-1, 0}), 1e-9)

	// Degenerate inputs yield 0.0, never NaN.
	assert.Zero(t, Cosine(nil, []float64{1}))
	assert.Zero(t, Cosine([]float64{1, 2}, []float64{1}))
	assert.Zero(t, Cosine([]float64{0, 0}, []float64{1, 1}))
}
