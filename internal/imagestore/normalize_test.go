package imagestore

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestNormalize(t *testing.T) {
	// A variable, so the expected quotient is a float64 division.
	aboveEps := 0.5000001
	tests := []struct {
		name     string
		in       []float64
		weight   []float64
		eps      float64
		expected []float64
	}{
		{
			name:     "plain division",
			in:       []float64{2, 4, 6},
			weight:   []float64{2, 2, 3},
			eps:      DefaultEpsilon,
			expected: []float64{1, 2, 2},
		},
		{
			name:     "zero weight floors to zero",
			in:       []float64{5, 5},
			weight:   []float64{0, 1},
			eps:      DefaultEpsilon,
			expected: []float64{0, 5},
		},
		{
			name:     "weight exactly at eps is floored",
			in:       []float64{1, 1},
			weight:   []float64{0.5, aboveEps},
			eps:      0.5,
			expected: []float64{0, 1 / aboveEps},
		},
		{
			name:     "negative weight is floored",
			in:       []float64{3},
			weight:   []float64{-1},
			eps:      DefaultEpsilon,
			expected: []float64{0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := make([]float64, len(tt.in))
			Normalize(out, tt.in, tt.weight, tt.eps)
			assert.Equal(t, tt.expected, out)
		})
	}
}

func TestNormalize_LengthMismatchPanics(t *testing.T) {
	assert.Panics(t, func() {
		Normalize(make([]float64, 2), make([]float64, 3), make([]float64, 3), DefaultEpsilon)
	})
}

func TestNormalize_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 64).Draw(t, "n")
		in := rapid.SliceOfN(rapid.Float64Range(-1e6, 1e6), n, n).Draw(t, "in")
		weight := rapid.SliceOfN(rapid.OneOf(
			rapid.Just(0.0),
			rapid.Float64Range(-1, 1e-13),
			rapid.Float64Range(1e-6, 1e6),
		), n, n).Draw(t, "weight")

		out := make([]float64, n)
		Normalize(out, in, weight, DefaultEpsilon)

		for i := range out {
			if weight[i] > DefaultEpsilon {
				if out[i] != in[i]/weight[i] {
					t.Fatalf("pixel %d: got %v, want %v", i, out[i], in[i]/weight[i])
				}
			} else if out[i] != 0 {
				t.Fatalf("pixel %d: got %v under floored weight %v", i, out[i], weight[i])
			}
			if math.IsNaN(out[i]) || math.IsInf(out[i], 0) {
				t.Fatalf("pixel %d is not finite: %v", i, out[i])
			}
		}
	})
}

func TestNormalizedResponse(t *testing.T) {
	out := make([]float64, 3)
	normalizedResponse(out, []float64{2, 4, 0})
	assert.Equal(t, []float64{0.5, 1, 0}, out)

	normalizedResponse(out, []float64{0, 0, 0})
	assert.Equal(t, []float64{0, 0, 0}, out)
}
