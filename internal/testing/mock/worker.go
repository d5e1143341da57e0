package mock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cleanloop/internal/api"
)

// ErrWorkerDown is returned by a MemoryWorker marked as down.
var ErrWorkerDown = errors.New("worker down")

// MemoryWorker is an in-process worker holding fixed partial images per
// mapper. It records every model committed to it.
type MemoryWorker struct {
	mu        sync.Mutex
	rank      int
	partials  map[int]map[api.ArtifactKind][]float64
	staged    map[int][]float64
	received  map[int][]float64
	failStage map[int]bool
	scatters  int

	// Delay is applied before every reply; the context still wins.
	Delay time.Duration
	// Down makes every call fail with ErrWorkerDown.
	Down bool
	// IgnoreContext makes the worker sleep through Delay regardless of cancellation.
	IgnoreContext bool
}

// NewMemoryWorker creates a worker with the given rank.
func NewMemoryWorker(rank int) *MemoryWorker {
	return &MemoryWorker{
		rank:     rank,
		partials:  make(map[int]map[api.ArtifactKind][]float64),
		staged:    make(map[int][]float64),
		received:  make(map[int][]float64),
		failStage: make(map[int]bool),
	}
}

// SetPartial sets the partial image the worker reports for a mapper and kind.
func (w *MemoryWorker) SetPartial(mapperID int, kind api.ArtifactKind, pixels []float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.partials[mapperID] == nil {
		w.partials[mapperID] = make(map[api.ArtifactKind][]float64)
	}
	w.partials[mapperID][kind] = append([]float64(nil), pixels...)
}

// FailStage makes staging the model of mapperID fail with ErrWorkerDown.
func (w *MemoryWorker) FailStage(mapperID int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.failStage[mapperID] = true
}

// StagedCount is the number of models staged but not yet committed or discarded.
func (w *MemoryWorker) StagedCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.staged)
}

// ReceivedModel returns the last model committed to this worker for a mapper.
func (w *MemoryWorker) ReceivedModel(mapperID int) []float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]float64(nil), w.received[mapperID]...)
}

// ScatterCount is the number of models committed.
func (w *MemoryWorker) ScatterCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.scatters
}

func (w *MemoryWorker) Rank() int { return w.rank }

func (w *MemoryWorker) wait(ctx context.Context) error {
	if w.Delay <= 0 {
		return nil
	}
	if w.IgnoreContext {
		time.Sleep(w.Delay)
		return nil
	}
	select {
	case <-time.After(w.Delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *MemoryWorker) Partial(ctx context.Context, mapperID int, kind api.ArtifactKind) ([]float64, error) {
	if err := w.wait(ctx); err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.Down {
		return nil, ErrWorkerDown
	}
	pixels, ok := w.partials[mapperID][kind]
	if !ok {
		return nil, fmt.Errorf("rank %d has no %s partial for mapper %d", w.rank, kind, mapperID)
	}
	return append([]float64(nil), pixels...), nil
}

func (w *MemoryWorker) StageModel(ctx context.Context, mapperID int, model []float64) error {
	if err := w.wait(ctx); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.Down || w.failStage[mapperID] {
		return ErrWorkerDown
	}
	w.staged[mapperID] = append([]float64(nil), model...)
	return nil
}

func (w *MemoryWorker) CommitModels(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.Down {
		return ErrWorkerDown
	}
	for id, model := range w.staged {
		w.received[id] = model
		w.scatters++
	}
	clear(w.staged)
	return nil
}

func (w *MemoryWorker) DiscardModels(context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	clear(w.staged)
}
