package mapper

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"

	"cleanloop/internal/api"
	"cleanloop/internal/imagestore"
	"cleanloop/pkg/logging"
)

// Collection owns an ordered list of mappers and answers aggregate queries
// over them. Lifecycle calls and WithMapper hold the write lock; aggregate
// queries hold the read lock, so they always see a consistent snapshot.
type Collection struct {
	mu      sync.RWMutex
	mappers []*Mapper
	byID    map[int]*Mapper
}

// NewCollection creates an empty collection.
func NewCollection() *Collection {
	return &Collection{byID: make(map[int]*Mapper)}
}

// AddMapper appends a mapper. It fails with DuplicateMapper on an id collision.
func (c *Collection) AddMapper(spec Spec) error {
	if spec.Store == nil {
		return api.NewInvalidParameterError("store", nil, "mapper needs an image store")
	}
	if spec.Engine == nil {
		return api.NewInvalidParameterError("engine", nil, "mapper needs a gridding engine")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.byID[spec.ID]; exists {
		return &api.DuplicateMapperError{ID: spec.ID}
	}
	m := &Mapper{
		id:     spec.ID,
		store:  spec.Store,
		engine: spec.Engine,
		phase:  PhaseIdle,
	}
	c.mappers = append(c.mappers, m)
	c.byID[spec.ID] = m
	logging.Debug("Mappers", "Added mapper %d (%s %s)", spec.ID, spec.Store.Name(), spec.Store.Shape())
	return nil
}

// NMappers returns the number of mappers.
func (c *Collection) NMappers() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.mappers)
}

// MapperIDs returns mapper ids in insertion order.
func (c *Collection) MapperIDs() []int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]int, len(c.mappers))
	for i, m := range c.mappers {
		ids[i] = m.id
	}
	return ids
}

func (c *Collection) get(id int) (*Mapper, error) {
	m, ok := c.byID[id]
	if !ok {
		return nil, api.NewNotFoundError("mapper", strconv.Itoa(id))
	}
	return m, nil
}

// Store returns the image store of a mapper.
func (c *Collection) Store(id int) (*imagestore.ImageStore, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, err := c.get(id)
	if err != nil {
		return nil, err
	}
	return m.store, nil
}

// Phase returns the lifecycle phase of a mapper.
func (c *Collection) Phase(id int) (Phase, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, err := c.get(id)
	if err != nil {
		return "", err
	}
	return m.phase, nil
}

// WithMapper runs fn with exclusive access to the mapper's store.
func (c *Collection) WithMapper(id int, fn func(store *imagestore.ImageStore) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, err := c.get(id)
	if err != nil {
		return err
	}
	return fn(m.store)
}

func (c *Collection) lifecycle(id int, op string, fn func(m *Mapper) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, err := c.get(id)
	if err != nil {
		return err
	}
	if err := fn(m); err != nil {
		return fmt.Errorf("mapper %d %s: %w", id, op, err)
	}
	return nil
}

// InitializeGrid starts a grid pass. dopsf selects psf+weight instead of residual+weight.
func (c *Collection) InitializeGrid(ctx context.Context, id int, dopsf bool) error {
	return c.lifecycle(id, "initializeGrid", func(m *Mapper) error {
		if err := m.initializeGrid(ctx, dopsf); err != nil {
			return err
		}
		if dopsf {
			m.store.Lock(api.ArtifactPsf)
		} else {
			m.store.Lock(api.ArtifactResidual)
		}
		m.store.Lock(api.ArtifactWeight)
		return nil
	})
}

// Grid runs one grid step. It may be called repeatedly between InitializeGrid and FinalizeGrid.
func (c *Collection) Grid(ctx context.Context, id int) error {
	return c.lifecycle(id, "grid", func(m *Mapper) error { return m.grid(ctx) })
}

// FinalizeGrid ends a grid pass.
func (c *Collection) FinalizeGrid(ctx context.Context, id int) error {
	return c.lifecycle(id, "finalizeGrid", func(m *Mapper) error { return m.finalizeGrid(ctx) })
}

// InitializeDegrid starts a predict pass from the mapper's model.
func (c *Collection) InitializeDegrid(ctx context.Context, id int) error {
	return c.lifecycle(id, "initializeDegrid", func(m *Mapper) error {
		if err := m.initializeDegrid(ctx); err != nil {
			return err
		}
		m.store.Lock(api.ArtifactModel)
		return nil
	})
}

// Degrid runs one predict step.
func (c *Collection) Degrid(ctx context.Context, id int) error {
	return c.lifecycle(id, "degrid", func(m *Mapper) error { return m.degrid(ctx) })
}

// FinalizeDegrid ends a predict pass and clears the mapper's model-updated flag.
func (c *Collection) FinalizeDegrid(ctx context.Context, id int) error {
	return c.lifecycle(id, "finalizeDegrid", func(m *Mapper) error { return m.finalizeDegrid(ctx) })
}

// SetModelUpdated records whether a minor cycle changed the mapper's model.
func (c *Collection) SetModelUpdated(id int, updated bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, err := c.get(id)
	if err != nil {
		return err
	}
	m.modelUpdated = m.modelUpdated || updated
	return nil
}

// ModelUpdated reports whether the mapper's model changed since its last predict.
func (c *Collection) ModelUpdated(id int) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, err := c.get(id)
	if err != nil {
		return false, err
	}
	return m.modelUpdated, nil
}

// AnyUpdatedModel reports whether any mapper's model changed since its last predict.
func (c *Collection) AnyUpdatedModel() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, m := range c.mappers {
		if m.modelUpdated {
			return true
		}
	}
	return false
}

// sortedByID returns the mappers ordered by ascending id.
func (c *Collection) sortedByID() []*Mapper {
	sorted := append([]*Mapper(nil), c.mappers...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].id < sorted[j].id })
	return sorted
}

// FindPeakResidual returns the largest |residual| over all mappers and the
// mapper holding it. Exact ties go to the lowest mapper id.
func (c *Collection) FindPeakResidual() (int, float64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.mappers) == 0 {
		return 0, 0, api.NewInvalidStateError("FindPeakResidual", "empty collection")
	}
	bestID, best := 0, math.Inf(-1)
	for _, m := range c.sortedByID() {
		peak, err := m.store.PeakResidual()
		if err != nil {
			return 0, 0, fmt.Errorf("mapper %d: %w", m.id, err)
		}
		if peak > best {
			bestID, best = m.id, peak
		}
	}
	return bestID, best, nil
}

// AddIntegratedFlux returns the change in total model flux since the previous call.
func (c *Collection) AddIntegratedFlux() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	delta := 0.0
	for _, m := range c.mappers {
		flux := m.store.ModelFlux()
		delta += flux - m.lastFlux
		m.lastFlux = flux
	}
	return delta
}

// TotalModelFlux returns the current summed model flux without touching the delta bookkeeping.
func (c *Collection) TotalModelFlux() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	total := 0.0
	for _, m := range c.mappers {
		total += m.store.ModelFlux()
	}
	return total
}

// FindMaxPsfSidelobe returns the worst psf sidelobe level over all mappers.
func (c *Collection) FindMaxPsfSidelobe() (float64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	worst := 0.0
	for _, m := range c.mappers {
		sl, err := m.store.PsfSidelobe()
		if err != nil {
			return 0, fmt.Errorf("mapper %d: %w", m.id, err)
		}
		worst = math.Max(worst, sl)
	}
	return worst, nil
}

// ReleaseImageLocks drops every artifact hold on every mapper. Always safe to call.
func (c *Collection) ReleaseImageLocks() {
	c.mu.RLock()
	defer c.mu.RUnlock()

	released := 0
	for _, m := range c.mappers {
		released += m.store.ReleaseLocks()
	}
	if released > 0 {
		logging.Debug("Mappers", "Released %d image locks", released)
	}
}
