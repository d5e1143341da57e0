package imagestore

import "gonum.org/v1/gonum/floats"

// DefaultEpsilon is the weight floor below which a normalized pixel is zero.
const DefaultEpsilon = 1e-12

// Normalize writes out[i] = in[i]/weight[i] where weight[i] > eps and 0
// elsewhere. out may alias in. It panics if the lengths differ, like the
// gonum floats routines it sits beside.
func Normalize(out, in, weight []float64, eps float64) {
	if len(out) != len(in) || len(in) != len(weight) {
		panic("imagestore: slice length mismatch")
	}
	for i, w := range weight {
		if w > eps {
			out[i] = in[i] / w
		} else {
			out[i] = 0
		}
	}
}

// normalizedResponse writes the weight scaled to unit peak into out.
func normalizedResponse(out, weight []float64) {
	if len(weight) == 0 {
		return
	}
	peak := floats.Max(weight)
	if peak <= 0 {
		for i := range out {
			out[i] = 0
		}
		return
	}
	floats.ScaleTo(out, 1/peak, weight)
}
