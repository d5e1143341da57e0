package parallel

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"cleanloop/internal/api"
	"cleanloop/internal/imagestore"
	"cleanloop/internal/mapper"
	"cleanloop/internal/metrics"
	"cleanloop/pkg/logging"
)

// Synchronizer moves images between the workers and the global image
// stores of a mapper collection. Per cycle the order is fixed: gather,
// divide, scatter. Calls made out of that order fail with OutOfOrderSync.
type Synchronizer struct {
	mu        sync.Mutex
	mappers   *mapper.Collection
	transport Transport
	metrics   *metrics.Recorder

	gathered map[api.ArtifactKind]bool
	// aborted is read without mu so Abort never waits on a running collective.
	aborted atomic.Bool
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithMetrics records gather and scatter durations and failures.
func WithMetrics(r *metrics.Recorder) Option {
	return func(s *Synchronizer) {
		s.metrics = r
	}
}

// NewSynchronizer creates a synchronizer over the mappers of c.
func NewSynchronizer(c *mapper.Collection, t Transport, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		mappers:   c,
		transport: t,
		gathered:  make(map[api.ArtifactKind]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func gatherKinds(includePsf, includeResidual bool) []api.ArtifactKind {
	var kinds []api.ArtifactKind
	if includePsf {
		kinds = append(kinds, api.ArtifactPsf)
	}
	if includeResidual {
		kinds = append(kinds, api.ArtifactResidual)
	}
	if len(kinds) > 0 {
		kinds = append(kinds, api.ArtifactWeight)
	}
	return kinds
}

// GatherImages sums the workers' partial images into every mapper's global
// store: psf and weight when includePsf, residual and weight when
// includeResidual. All mappers are reduced before any store is written,
// so a failed gather leaves every global image as it was.
func (s *Synchronizer) GatherImages(ctx context.Context, includePsf, includeResidual bool) (err error) {
	kinds := gatherKinds(includePsf, includeResidual)
	if len(kinds) == 0 {
		return api.NewInvalidParameterError("kinds", "none", "gather needs psf or residual")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	defer func() {
		s.metrics.ObserveSync(PhaseGather, time.Since(start), err)
		if err != nil {
			logging.Error("Sync", err, "Gather of %v failed, global images left unchanged", kinds)
		}
	}()

	ids := s.mappers.MapperIDs()
	results := make(map[int]map[api.ArtifactKind][]float64, len(ids))
	for _, id := range ids {
		sums, err := s.transport.ReduceSum(ctx, GatherRequest{MapperID: id, Kinds: kinds, Ranks: s.transport.Ranks()})
		if err != nil {
			return fmt.Errorf("gather mapper %d: %w", id, err)
		}
		results[id] = sums
	}

	for _, id := range ids {
		if err := s.mappers.WithMapper(id, func(store *imagestore.ImageStore) error {
			return checkGathered(store, results[id], includePsf, includeResidual)
		}); err != nil {
			return fmt.Errorf("gather mapper %d: %w", id, err)
		}
	}

	for _, id := range ids {
		if err := s.mappers.WithMapper(id, func(store *imagestore.ImageStore) error {
			return commitGathered(store, results[id], includePsf, includeResidual)
		}); err != nil {
			return fmt.Errorf("commit mapper %d: %w", id, err)
		}
	}

	if includePsf {
		s.gathered[api.ArtifactPsf] = true
	}
	if includeResidual {
		s.gathered[api.ArtifactResidual] = true
	}
	logging.Info("Sync", "Gathered %v for %d mappers from %d ranks", kinds, len(ids), len(s.transport.Ranks()))
	return nil
}

// checkGathered verifies a store can take the reduced images without
// writing anything.
func checkGathered(store *imagestore.ImageStore, sums map[api.ArtifactKind][]float64, includePsf, includeResidual bool) error {
	if includeResidual && !includePsf {
		for _, kind := range []api.ArtifactKind{api.ArtifactPsf, api.ArtifactWeight} {
			if _, err := store.Artifact(kind); err != nil {
				return err
			}
		}
	}
	size := store.Shape().Size()
	for kind, pixels := range sums {
		if len(pixels) != size {
			return api.NewInvalidParameterError(string(kind), len(pixels), fmt.Sprintf("%s expects %d pixels", store.Name(), size))
		}
	}
	return nil
}

func commitGathered(store *imagestore.ImageStore, sums map[api.ArtifactKind][]float64, includePsf, includeResidual bool) error {
	if includePsf {
		store.EnsurePsf()
	}
	if includeResidual {
		if err := store.EnsureResidual(); err != nil {
			return err
		}
	}
	for kind, pixels := range sums {
		if err := store.Replace(kind, pixels); err != nil {
			return err
		}
	}
	return nil
}

func (s *Synchronizer) divide(op string, kind api.ArtifactKind, fn func(*imagestore.ImageStore) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.gathered[kind] {
		return &api.OutOfOrderSyncError{Operation: op, Expected: fmt.Sprintf("GatherImages(%s)", kind)}
	}
	for _, id := range s.mappers.MapperIDs() {
		if err := s.mappers.WithMapper(id, fn); err != nil {
			return fmt.Errorf("%s mapper %d: %w", op, id, err)
		}
	}
	return nil
}

// DividePSFByWeight normalizes every gathered global psf by its weight.
func (s *Synchronizer) DividePSFByWeight() error {
	return s.divide("DividePSFByWeight", api.ArtifactPsf, (*imagestore.ImageStore).DividePsfByWeight)
}

// DivideResidualByWeight normalizes every gathered global residual by its weight.
func (s *Synchronizer) DivideResidualByWeight() error {
	return s.divide("DivideResidualByWeight", api.ArtifactResidual, (*imagestore.ImageStore).DivideResidualByWeight)
}

// ScatterModel broadcasts every mapper's global model to the workers. It
// needs a gather since the last scatter with all gathered images
// normalized. Models are staged on the workers for all mappers first and
// committed only when every broadcast succeeded; a failed or aborted
// scatter discards the staged models, so workers keep their last model for
// every mapper.
func (s *Synchronizer) ScatterModel(ctx context.Context) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.aborted.Load() {
		logging.Warn("Sync", "Clean aborted, skipping model scatter")
		return nil
	}
	if len(s.gathered) == 0 {
		return &api.OutOfOrderSyncError{Operation: "ScatterModel", Expected: "GatherImages"}
	}

	ids := s.mappers.MapperIDs()
	for _, id := range ids {
		store, err := s.mappers.Store(id)
		if err != nil {
			return err
		}
		if s.gathered[api.ArtifactPsf] && !store.IsNormalized(api.ArtifactPsf) {
			return &api.OutOfOrderSyncError{Operation: "ScatterModel", Expected: "DividePSFByWeight"}
		}
		if s.gathered[api.ArtifactResidual] && !store.IsNormalized(api.ArtifactResidual) {
			return &api.OutOfOrderSyncError{Operation: "ScatterModel", Expected: "DivideResidualByWeight"}
		}
	}

	start := time.Now()
	defer func() {
		s.metrics.ObserveSync(PhaseScatter, time.Since(start), err)
		if err != nil {
			logging.Error("Sync", err, "Model scatter failed, workers keep their previous models")
		}
	}()

	ranks := s.transport.Ranks()
	if err := s.stageModels(ctx, ids, ranks); err != nil {
		s.transport.Discard(context.WithoutCancel(ctx), ranks)
		return err
	}
	if s.aborted.Load() {
		s.transport.Discard(context.WithoutCancel(ctx), ranks)
		logging.Warn("Sync", "Clean aborted during scatter, staged models discarded")
		return nil
	}
	if err := s.transport.Commit(ctx, ranks); err != nil {
		return fmt.Errorf("commit scatter: %w", err)
	}

	s.gathered = make(map[api.ArtifactKind]bool)
	logging.Info("Sync", "Scattered models of %d mappers", len(ids))
	return nil
}

func (s *Synchronizer) stageModels(ctx context.Context, ids, ranks []int) error {
	for _, id := range ids {
		var model []float64
		if err := s.mappers.WithMapper(id, func(store *imagestore.ImageStore) error {
			if err := store.EnsureModel(); err != nil {
				return err
			}
			var err error
			model, err = store.Snapshot(api.ArtifactModel)
			return err
		}); err != nil {
			return fmt.Errorf("scatter mapper %d: %w", id, err)
		}
		if err := s.transport.Broadcast(ctx, ScatterRequest{MapperID: id, Model: model, Ranks: ranks}); err != nil {
			return fmt.Errorf("scatter mapper %d: %w", id, err)
		}
	}
	return nil
}

// Ranks returns the worker ranks taking part in every collective.
func (s *Synchronizer) Ranks() []int {
	return s.transport.Ranks()
}

// Abort makes every later ScatterModel a no-op and discards the models of
// a scatter still in flight. It does not wait for a running collective.
func (s *Synchronizer) Abort() {
	s.aborted.Store(true)
}

// Aborted reports whether Abort was called.
func (s *Synchronizer) Aborted() bool {
	return s.aborted.Load()
}
