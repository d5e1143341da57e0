package synthetic

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"cleanloop/internal/api"
	"cleanloop/internal/config"
	"cleanloop/internal/imagestore"
	"cleanloop/internal/iteration"
	"cleanloop/internal/mapper"
	"cleanloop/internal/parallel"
	"cleanloop/internal/runner"
)

func testSky() config.SkyConfig {
	return config.SkyConfig{
		PsfSigma: 1.5,
		Sources: []config.PointSource{
			{X: 10, Y: 10, Flux: 1.0},
			{X: 20, Y: 22, Flux: 0.5},
		},
	}
}

func TestNewField(t *testing.T) {
	shape := imagestore.Shape{32, 32}
	f := NewField(shape, testSky(), 0)

	require.Len(t, f.Psf, 1024)
	center := floats.MaxIdx(f.Psf)
	assert.Equal(t, 16*32+16, center)
	assert.InDelta(t, 1.0, f.Psf[center], 1e-12)
	assert.Less(t, floats.Min(f.Psf), 0.0, "psf has negative sidelobes")

	assert.InDelta(t, 1.0, f.Dirty[10*32+10], 1e-3)
	assert.InDelta(t, 0.5, f.Dirty[22*32+20], 1e-3)
	assert.Equal(t, 10*32+10, floats.MaxIdx(f.Dirty))

	term1 := NewField(shape, testSky(), 1)
	assert.InDelta(t, 0.1, term1.Dirty[10*32+10], 1e-3)
}

func TestNewFieldMultiPlane(t *testing.T) {
	f := NewField(imagestore.Shape{8, 8, 2}, config.SkyConfig{PsfSigma: 1, Sources: []config.PointSource{{X: 2, Y: 3, Flux: 2}}}, 0)
	require.Len(t, f.Dirty, 128)
	assert.Equal(t, f.Dirty[:64], f.Dirty[64:])
	assert.InDelta(t, 2.0, f.Dirty[3*8+2], 1e-9)
}

func TestSubtractPsfClipsAtEdges(t *testing.T) {
	psf := []float64{
		0, 1, 0,
		1, 2, 1,
		0, 1, 0,
	}
	dst := make([]float64, 9)
	SubtractPsf(dst, psf, 3, 3, -1, -1, -1)
	assert.Equal(t, []float64{
		2, 1, 0,
		1, 0, 0,
		0, 0, 0,
	}, dst)

	Convolve(dst, []float64{0, 0, 0, 0, 1, 0, 0, 0, 0}, psf, 3, 3)
	assert.Equal(t, psf, dst)
}

func TestWorkerPartials(t *testing.T) {
	ctx := context.Background()
	f := NewField(imagestore.Shape{8, 8}, config.SkyConfig{PsfSigma: 1, Sources: []config.PointSource{{X: 4, Y: 4, Flux: 1}}}, 0)
	w := NewWorker(0, 2)
	w.AddField(0, f)

	_, err := w.Partial(ctx, 0, api.ArtifactPsf)
	assert.Error(t, err, "nothing gridded yet")

	require.NoError(t, w.grid(0, true))
	psf, err := w.Partial(ctx, 0, api.ArtifactPsf)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, floats.Max(psf), 1e-12)

	require.NoError(t, w.grid(0, false))
	res, err := w.Partial(ctx, 0, api.ArtifactResidual)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, res[4*8+4], 1e-9)

	model := make([]float64, 64)
	model[4*8+4] = 1
	require.NoError(t, w.StageModel(ctx, 0, model))
	require.NoError(t, w.degrid(0))
	require.NoError(t, w.grid(0, false))
	res, err = w.Partial(ctx, 0, api.ArtifactResidual)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, res[4*8+4], 1e-9, "staged model is not used before commit")

	require.NoError(t, w.CommitModels(ctx))
	require.NoError(t, w.degrid(0))
	require.NoError(t, w.grid(0, false))
	res, err = w.Partial(ctx, 0, api.ArtifactResidual)
	require.NoError(t, err)
	assert.InDelta(t, 0, floats.Norm(res, 2), 1e-9)

	assert.Error(t, w.StageModel(ctx, 9, model))
	assert.Error(t, w.grid(9, true))
}

func TestHogbomStep(t *testing.T) {
	ctx := context.Background()
	f := NewField(imagestore.Shape{16, 16}, config.SkyConfig{PsfSigma: 1, Sources: []config.PointSource{{X: 5, Y: 6, Flux: 1}}}, 0)

	store, err := imagestore.New("field", imagestore.Shape{16, 16})
	require.NoError(t, err)
	store.EnsurePsf()
	require.NoError(t, store.EnsureResidual())
	require.NoError(t, store.Replace(api.ArtifactPsf, f.Psf))
	require.NoError(t, store.Replace(api.ArtifactWeight, floatsOf(256, 1)))
	require.NoError(t, store.Replace(api.ArtifactResidual, f.Dirty))
	require.NoError(t, store.NormalizeByWeight())

	res, err := Hogbom{}.Step(ctx, 0, store, 0.5, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Iterations)
	assert.InDelta(t, 0.5, res.ModelFluxDelta, 1e-9)
	assert.InDelta(t, 0.5, res.PeakResidual, 1e-9)

	model, err := store.Snapshot(api.ArtifactModel)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, model[6*16+5], 1e-9)
	assert.True(t, store.IsNormalized(api.ArtifactResidual))

	res, err = Hogbom{}.Step(ctx, 0, store, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Iterations, "a clean residual stops the kernel")
	assert.InDelta(t, 0, res.PeakResidual, 1e-9)
	assert.InDelta(t, 1.0, store.ModelFlux(), 1e-9)
}

func floatsOf(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestCleanConvergesOnSyntheticSky(t *testing.T) {
	ctx := context.Background()
	shape := imagestore.Shape{32, 32}
	field := NewField(shape, testSky(), 0)

	workers := []*Worker{NewWorker(0, 1), NewWorker(1, 3)}
	pworkers := make([]parallel.Worker, len(workers))
	for i, w := range workers {
		w.AddField(0, field)
		pworkers[i] = w
	}

	mappers := mapper.NewCollection()
	store, err := imagestore.New("sky", shape)
	require.NoError(t, err)
	require.NoError(t, mappers.AddMapper(mapper.Spec{ID: 0, Store: store, Engine: NewEngine(workers...)}))

	tr, err := parallel.NewLocalTransport(time.Second, pworkers...)
	require.NoError(t, err)
	sync := parallel.NewSynchronizer(mappers, tr)

	ctrl := iteration.New()
	require.NoError(t, ctrl.SetupIteration(api.IterationParams{Niter: 500, CycleNiter: 100, LoopGain: 0.1, Threshold: 0.01}))

	code, err := runner.New(mappers, sync, ctrl, Hogbom{}, iteration.NewToken()).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, api.StopThreshold, code)

	d := ctrl.GetIterationDetails()
	assert.LessOrEqual(t, d.PeakResidual, 0.01)
	assert.Greater(t, d.MajorCycleCount, 1)
	assert.InDelta(t, 1.5, store.ModelFlux(), 0.05)

	restored, err := store.Snapshot(api.ArtifactRestored)
	require.NoError(t, err)
	assert.Equal(t, 10*32+10, floats.MaxIdx(restored))
	assert.InDelta(t, 1.0, restored[10*32+10], 0.05)

	for _, w := range workers {
		assert.Equal(t, fmt.Sprint(store.ModelFlux()), fmt.Sprint(floats.Sum(w.model[0])))
	}
}
