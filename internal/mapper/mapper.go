package mapper

import (
	"context"

	"cleanloop/internal/api"
	"cleanloop/internal/imagestore"
)

// Phase is a mapper's position in the per-major-cycle grid/degrid lifecycle.
type Phase string

const (
	PhaseIdle              Phase = "idle"
	PhaseGridInitialized   Phase = "grid-initialized"
	PhaseGridding          Phase = "gridding"
	PhaseDegridInitialized Phase = "degrid-initialized"
	PhaseDegridding        Phase = "degridding"
)

// Mapper is one imaging field/term: an image store, its engine and the
// model-updated flag.
type Mapper struct {
	id           int
	store        *imagestore.ImageStore
	engine       GriddingEngine
	phase        Phase
	dopsf        bool
	modelUpdated bool
	lastFlux     float64
}

// ID returns the mapper id.
func (m *Mapper) ID() int { return m.id }

// Store returns the mapper's image store.
func (m *Mapper) Store() *imagestore.ImageStore { return m.store }

// Phase returns the current lifecycle phase.
func (m *Mapper) Phase() Phase { return m.phase }

func (m *Mapper) allowed(from ...Phase) bool {
	for _, p := range from {
		if m.phase == p {
			return true
		}
	}
	return false
}

func (m *Mapper) initializeGrid(ctx context.Context, dopsf bool) error {
	if !m.allowed(PhaseIdle) {
		return api.NewInvalidLifecycleStateError("initializeGrid", string(m.phase))
	}
	if err := m.engine.InitializeGrid(ctx, m.id, m.store, dopsf); err != nil {
		return err
	}
	m.dopsf = dopsf
	m.phase = PhaseGridInitialized
	return nil
}

func (m *Mapper) grid(ctx context.Context) error {
	if !m.allowed(PhaseGridInitialized, PhaseGridding) {
		return api.NewInvalidLifecycleStateError("grid", string(m.phase))
	}
	if err := m.engine.Grid(ctx, m.id, m.store, m.dopsf); err != nil {
		return err
	}
	m.phase = PhaseGridding
	return nil
}

func (m *Mapper) finalizeGrid(ctx context.Context) error {
	if !m.allowed(PhaseGridding) {
		return api.NewInvalidLifecycleStateError("finalizeGrid", string(m.phase))
	}
	if err := m.engine.FinalizeGrid(ctx, m.id, m.store, m.dopsf); err != nil {
		return err
	}
	m.phase = PhaseIdle
	return nil
}

func (m *Mapper) initializeDegrid(ctx context.Context) error {
	if !m.allowed(PhaseIdle) {
		return api.NewInvalidLifecycleStateError("initializeDegrid", string(m.phase))
	}
	if err := m.engine.InitializeDegrid(ctx, m.id, m.store); err != nil {
		return err
	}
	m.phase = PhaseDegridInitialized
	return nil
}

func (m *Mapper) degrid(ctx context.Context) error {
	if !m.allowed(PhaseDegridInitialized, PhaseDegridding) {
		return api.NewInvalidLifecycleStateError("degrid", string(m.phase))
	}
	if err := m.engine.Degrid(ctx, m.id, m.store); err != nil {
		return err
	}
	m.phase = PhaseDegridding
	return nil
}

func (m *Mapper) finalizeDegrid(ctx context.Context) error {
	if !m.allowed(PhaseDegridding) {
		return api.NewInvalidLifecycleStateError("finalizeDegrid", string(m.phase))
	}
	if err := m.engine.FinalizeDegrid(ctx, m.id, m.store); err != nil {
		return err
	}
	m.phase = PhaseIdle
	// A finished predict consumes the model change.
	m.modelUpdated = false
	return nil
}
