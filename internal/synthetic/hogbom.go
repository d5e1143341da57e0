package synthetic

import (
	"context"
	"math"

	"gonum.org/v1/gonum/floats"

	"cleanloop/internal/api"
	"cleanloop/internal/imagestore"
	"cleanloop/internal/runner"
)

// Hogbom is a minimal Högbom clean: each iteration finds the largest
// absolute residual, adds gain times it to the model and subtracts the
// scaled psf around it.
type Hogbom struct{}

func (Hogbom) Step(ctx context.Context, _ int, store *imagestore.ImageStore, gain float64, maxIters int) (runner.StepResult, error) {
	psf, err := store.Snapshot(api.ArtifactPsf)
	if err != nil {
		return runner.StepResult{}, err
	}
	if err := store.EnsureModel(); err != nil {
		return runner.StepResult{}, err
	}
	shape := store.Shape()
	nx, ny, plane := shape[0], shape[1], shape.Plane()

	type component struct {
		idx  int
		flux float64
	}
	var comps []component
	var result runner.StepResult

	err = store.Update(api.ArtifactResidual, func(res []float64) {
		for result.Iterations < maxIters && ctx.Err() == nil {
			idx := maxAbsIdx(res)
			v := res[idx]
			if v == 0 {
				break
			}
			off := idx / plane * plane
			p := psf[off : off+plane]
			center := floats.MaxIdx(p)
			pix := idx - off
			SubtractPsf(res[off:off+plane], p, nx, ny, pix%nx-center%nx, pix/nx-center/nx, gain*v/p[center])

			comps = append(comps, component{idx: idx, flux: gain * v})
			result.ModelFluxDelta += gain * v
			result.Iterations++
		}
		result.PeakResidual = floats.Norm(res, math.Inf(1))
	})
	if err != nil {
		return runner.StepResult{}, err
	}

	err = store.Update(api.ArtifactModel, func(model []float64) {
		for _, c := range comps {
			model[c.idx] += c.flux
		}
	})
	return result, err
}

func maxAbsIdx(s []float64) int {
	best, idx := -1.0, 0
	for i, v := range s {
		if a := math.Abs(v); a > best {
			best, idx = a, i
		}
	}
	return idx
}

// Restore writes residual + model convolved with the psf main lobe into
// the restored image.
func (Hogbom) Restore(_ context.Context, _ int, store *imagestore.ImageStore) error {
	psf, err := store.Snapshot(api.ArtifactPsf)
	if err != nil {
		return err
	}
	residual, err := store.Snapshot(api.ArtifactResidual)
	if err != nil {
		return err
	}
	model, err := store.Snapshot(api.ArtifactModel)
	if err != nil {
		return err
	}
	shape := store.Shape()
	nx, ny, plane := shape[0], shape[1], shape.Plane()

	restored := make([]float64, len(residual))
	for off := 0; off < len(restored); off += plane {
		beam := mainLobe(psf[off:off+plane], nx)
		Convolve(restored[off:off+plane], model[off:off+plane], beam, nx, ny)
	}
	floats.Add(restored, residual)
	return store.Replace(api.ArtifactRestored, restored)
}

// mainLobe keeps the positive part of the psf up to its first null along x.
func mainLobe(psf []float64, nx int) []float64 {
	peak := floats.MaxIdx(psf)
	px, py := peak%nx, peak/nx
	radius := 1
	for x := px + 1; x < nx && psf[py*nx+x] > 0; x++ {
		radius = x - px + 1
	}
	beam := make([]float64, len(psf))
	for i, v := range psf {
		dx, dy := i%nx-px, i/nx-py
		if v > 0 && dx*dx+dy*dy < radius*radius {
			beam[i] = v
		}
	}
	return beam
}
