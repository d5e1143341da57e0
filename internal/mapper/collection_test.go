package mapper

import (
	"context"
	"errors"
	"testing"

	"cleanloop/internal/api"
	"cleanloop/internal/imagestore"
	"cleanloop/internal/testing/mock"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeWith builds a 2x2 store whose residual, psf and model are set.
func storeWith(t *testing.T, name string, residual, psf, model []float64) *imagestore.ImageStore {
	t.Helper()
	s, err := imagestore.New(name, imagestore.Shape{2, 2})
	require.NoError(t, err)
	s.EnsurePsf()
	require.NoError(t, s.EnsureResidual())
	require.NoError(t, s.Replace(api.ArtifactWeight, []float64{1, 1, 1, 1}))
	if psf != nil {
		require.NoError(t, s.Replace(api.ArtifactPsf, psf))
	}
	require.NoError(t, s.Replace(api.ArtifactResidual, residual))
	require.NoError(t, s.NormalizeByWeight())
	if model != nil {
		require.NoError(t, s.EnsureModel())
		require.NoError(t, s.Replace(api.ArtifactModel, model))
	}
	return s
}

func newCollection(t *testing.T, residuals map[int][]float64) (*Collection, *mock.RecordingEngine) {
	t.Helper()
	c := NewCollection()
	engine := mock.NewRecordingEngine()
	for id, res := range residuals {
		require.NoError(t, c.AddMapper(Spec{ID: id, Store: storeWith(t, "f", res, nil, nil), Engine: engine}))
	}
	return c, engine
}

func TestAddMapper(t *testing.T) {
	c := NewCollection()
	engine := mock.NewRecordingEngine()

	require.NoError(t, c.AddMapper(Spec{ID: 2, Store: storeWith(t, "a", []float64{0, 0, 0, 0}, nil, nil), Engine: engine}))
	require.NoError(t, c.AddMapper(Spec{ID: 0, Store: storeWith(t, "b", []float64{0, 0, 0, 0}, nil, nil), Engine: engine}))

	err := c.AddMapper(Spec{ID: 2, Store: storeWith(t, "c", []float64{0, 0, 0, 0}, nil, nil), Engine: engine})
	assert.True(t, api.IsDuplicateMapper(err))

	assert.Equal(t, 2, c.NMappers())
	assert.Equal(t, []int{2, 0}, c.MapperIDs(), "insertion order is kept")

	assert.True(t, api.IsInvalidParameter(c.AddMapper(Spec{ID: 9, Engine: engine})))

	_, err = c.Store(42)
	assert.True(t, api.IsNotFound(err))
}

func TestGridLifecycle(t *testing.T) {
	ctx := context.Background()
	c, engine := newCollection(t, map[int][]float64{1: {0, 0, 0, 0}})

	err := c.Grid(ctx, 1)
	assert.True(t, api.IsInvalidLifecycleState(err), "grid before initializeGrid")
	err = c.FinalizeGrid(ctx, 1)
	assert.True(t, api.IsInvalidLifecycleState(err), "finalize before initialize")

	require.NoError(t, c.InitializeGrid(ctx, 1, true))
	assert.True(t, api.IsInvalidLifecycleState(c.InitializeGrid(ctx, 1, true)), "double initialize")
	assert.True(t, api.IsInvalidLifecycleState(c.FinalizeGrid(ctx, 1)), "finalize needs at least one grid")
	assert.True(t, api.IsInvalidLifecycleState(c.InitializeDegrid(ctx, 1)), "degrid while gridding")

	require.NoError(t, c.Grid(ctx, 1))
	require.NoError(t, c.Grid(ctx, 1))
	require.NoError(t, c.FinalizeGrid(ctx, 1))

	phase, err := c.Phase(1)
	require.NoError(t, err)
	assert.Equal(t, PhaseIdle, phase)

	require.NoError(t, c.InitializeDegrid(ctx, 1))
	assert.True(t, api.IsInvalidLifecycleState(c.Grid(ctx, 1)))
	require.NoError(t, c.Degrid(ctx, 1))
	require.NoError(t, c.FinalizeDegrid(ctx, 1))

	assert.Equal(t, []string{
		"initializeGrid:1", "grid:1", "grid:1", "finalizeGrid:1",
		"initializeDegrid:1", "degrid:1", "finalizeDegrid:1",
	}, engine.Ops())
	assert.True(t, engine.Calls()[0].DoPsf)
	assert.True(t, engine.Calls()[2].DoPsf, "dopsf is carried through the pass")
}

func TestGridLifecycle_EngineErrorLeavesPhase(t *testing.T) {
	ctx := context.Background()
	c, engine := newCollection(t, map[int][]float64{1: {0, 0, 0, 0}})
	boom := errors.New("visibilities unavailable")
	engine.FailOn("initializeGrid", boom)

	err := c.InitializeGrid(ctx, 1, false)
	assert.ErrorIs(t, err, boom)

	phase, _ := c.Phase(1)
	assert.Equal(t, PhaseIdle, phase)
}

func TestFindPeakResidual(t *testing.T) {
	c, _ := newCollection(t, map[int][]float64{
		0: {0.1, -0.2, 0, 0},
		1: {0, 0, -0.7, 0.3},
		2: {0.5, 0, 0, 0},
	})

	id, peak, err := c.FindPeakResidual()
	require.NoError(t, err)
	assert.Equal(t, 1, id)
	assert.Equal(t, 0.7, peak)
}

func TestFindPeakResidual_TieGoesToLowestID(t *testing.T) {
	residuals := map[int][]float64{
		5: {0, 0.9, 0, 0},
		3: {0, 0, -0.9, 0},
		4: {0.9, 0, 0, 0},
	}

	var first int
	for run := 0; run < 5; run++ {
		c, _ := newCollection(t, residuals)
		id, peak, err := c.FindPeakResidual()
		require.NoError(t, err)
		assert.Equal(t, 0.9, peak)
		if run == 0 {
			first = id
		}
		assert.Equal(t, first, id, "tie-break must be stable across runs")
	}
	assert.Equal(t, 3, first)
}

func TestFindPeakResidual_Errors(t *testing.T) {
	_, _, err := NewCollection().FindPeakResidual()
	assert.True(t, api.IsInvalidState(err))

	c := NewCollection()
	s, err := imagestore.New("bare", imagestore.Shape{2, 2})
	require.NoError(t, err)
	require.NoError(t, c.AddMapper(Spec{ID: 0, Store: s, Engine: mock.NewRecordingEngine()}))
	_, _, err = c.FindPeakResidual()
	assert.True(t, api.IsNotAllocated(err))
}

func TestAddIntegratedFlux(t *testing.T) {
	c := NewCollection()
	engine := mock.NewRecordingEngine()
	a := storeWith(t, "a", []float64{0, 0, 0, 0}, nil, []float64{0.5, 0, 0, 0})
	b := storeWith(t, "b", []float64{0, 0, 0, 0}, nil, []float64{0.25, 0.25, 0, 0})
	require.NoError(t, c.AddMapper(Spec{ID: 0, Store: a, Engine: engine}))
	require.NoError(t, c.AddMapper(Spec{ID: 1, Store: b, Engine: engine}))

	assert.Equal(t, 1.0, c.AddIntegratedFlux())
	assert.Equal(t, 0.0, c.AddIntegratedFlux(), "no change since the last call")

	require.NoError(t, c.WithMapper(1, func(s *imagestore.ImageStore) error {
		return s.Replace(api.ArtifactModel, []float64{0.25, 0.25, 0.5, 0})
	}))
	assert.Equal(t, 0.5, c.AddIntegratedFlux())
	assert.Equal(t, 1.5, c.TotalModelFlux())
}

func TestFindMaxPsfSidelobe(t *testing.T) {
	c := NewCollection()
	engine := mock.NewRecordingEngine()
	// peak at (0,0); x walk stops at x=1, so every other pixel is sidelobe.
	require.NoError(t, c.AddMapper(Spec{ID: 0, Store: storeWith(t, "a", []float64{0, 0, 0, 0}, []float64{1, 0, 0.2, 0.1}, nil), Engine: engine}))
	require.NoError(t, c.AddMapper(Spec{ID: 1, Store: storeWith(t, "b", []float64{0, 0, 0, 0}, []float64{1, -0.4, 0, 0}, nil), Engine: engine}))

	sl, err := c.FindMaxPsfSidelobe()
	require.NoError(t, err)
	assert.InDelta(t, 0.4, sl, 1e-12)
}

func TestAnyUpdatedModel(t *testing.T) {
	ctx := context.Background()
	c, _ := newCollection(t, map[int][]float64{0: {0, 0, 0, 0}, 1: {0, 0, 0, 0}})

	assert.False(t, c.AnyUpdatedModel())
	require.NoError(t, c.SetModelUpdated(1, true))
	assert.True(t, c.AnyUpdatedModel())
	require.NoError(t, c.SetModelUpdated(1, false))
	assert.True(t, c.AnyUpdatedModel(), "a false report does not clear a pending change")
	updated, err := c.ModelUpdated(1)
	require.NoError(t, err)
	assert.True(t, updated)
	updated, err = c.ModelUpdated(0)
	require.NoError(t, err)
	assert.False(t, updated)

	require.NoError(t, c.InitializeDegrid(ctx, 1))
	require.NoError(t, c.Degrid(ctx, 1))
	require.NoError(t, c.FinalizeDegrid(ctx, 1))
	assert.False(t, c.AnyUpdatedModel(), "predict consumes the change")

	assert.True(t, api.IsNotFound(c.SetModelUpdated(7, true)))
	_, err = c.ModelUpdated(7)
	assert.True(t, api.IsNotFound(err))
}

func TestReleaseImageLocks(t *testing.T) {
	ctx := context.Background()
	c, _ := newCollection(t, map[int][]float64{0: {0, 0, 0, 0}})

	assert.NotPanics(t, c.ReleaseImageLocks, "safe with nothing locked")

	require.NoError(t, c.InitializeGrid(ctx, 0, false))
	s, _ := c.Store(0)
	assert.True(t, s.IsLocked(api.ArtifactResidual))
	assert.True(t, s.IsLocked(api.ArtifactWeight))

	c.ReleaseImageLocks()
	assert.False(t, s.IsLocked(api.ArtifactResidual))
}
