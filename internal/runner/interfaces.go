package runner

import (
	"context"

	"cleanloop/internal/imagestore"
)

// StepResult is what a deconvolution kernel reports after one call.
type StepResult struct {
	Iterations     int
	ModelFluxDelta float64
	PeakResidual   float64
}

// Deconvolver is the external minor-cycle kernel. Step runs at most
// maxIters iterations on the store's normalized residual and model with
// the given loop gain, and must not touch any other mapper. The store is
// held exclusively for the duration of the call.
type Deconvolver interface {
	Step(ctx context.Context, id int, store *imagestore.ImageStore, gain float64, maxIters int) (StepResult, error)
}
