package vecmath

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []float32
		expected float64
	}{
		{"identical vectors", []float32{1, 2, 3}, []float32{1, 2, 3}, 1.0},
		{"orthogonal vectors", []float32{1, 0}, []float32{0, 1}, 0.0},
		{"opposite vectors", []float32{1, 0}, []float32{-1, 0}, -1.0},
		{"different lengths", []float32{1, 2}, []float32{1, 2, 3}, 0.0},
		{"empty vectors", []float32{}, []float32{}, 0.0},
		{"zero vector", []float32{0, 0, 0}, []float32{1, 2, 3}, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, CosineSimilarity(tt.a, tt.b), 1e-9)
		})
	}
}

func TestNormalizeMinMax(t *testing.T) {
	assert.Equal(t, []float64{0, 0.5, 1}, NormalizeMinMax([]float64{1, 2, 3}))
	assert.Equal(t, []float64{1, 1, 1}, NormalizeMinMax([]float64{5, 5, 5}))
	assert.Equal(t, []float64{}, NormalizeMinMax(nil))
}

func TestNormalizeMinMax_Idempotent(t *testing.T) {
	once := NormalizeMinMax([]float64{3, 7, 1, 9})
	twice := NormalizeMinMax(once)
	for i := range once {
		assert.InDelta(t, once[i], twice[i], 1e-9)
	}
}
