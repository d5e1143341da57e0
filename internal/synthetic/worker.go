package synthetic

import (
	"context"
	"fmt"
	"sync"

	"cleanloop/internal/api"
	"cleanloop/pkg/logging"
)

// Worker holds one data partition of every field. Its weight is its share
// of the data, so partial images from all workers sum to the weighted
// global image.
type Worker struct {
	mu     sync.Mutex
	rank   int
	weight float64
	fields map[int]*Field

	model     map[int][]float64
	staged    map[int][]float64
	predicted map[int][]float64
	partials  map[int]map[api.ArtifactKind][]float64
}

// NewWorker creates a worker whose partition carries the given weight.
func NewWorker(rank int, weight float64) *Worker {
	return &Worker{
		rank:      rank,
		weight:    weight,
		fields:    make(map[int]*Field),
		model:     make(map[int][]float64),
		staged:    make(map[int][]float64),
		predicted: make(map[int][]float64),
		partials:  make(map[int]map[api.ArtifactKind][]float64),
	}
}

// AddField registers the field a mapper images.
func (w *Worker) AddField(mapperID int, f *Field) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.fields[mapperID] = f
}

func (w *Worker) Rank() int { return w.rank }

func (w *Worker) field(mapperID int) (*Field, error) {
	f, ok := w.fields[mapperID]
	if !ok {
		return nil, fmt.Errorf("rank %d has no field for mapper %d", w.rank, mapperID)
	}
	return f, nil
}

// grid computes this partition's psf+weight or residual+weight.
func (w *Worker) grid(mapperID int, dopsf bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	f, err := w.field(mapperID)
	if err != nil {
		return err
	}

	weight := make([]float64, len(f.Psf))
	for i := range weight {
		weight[i] = w.weight
	}
	out := map[api.ArtifactKind][]float64{api.ArtifactWeight: weight}
	if dopsf {
		psf := make([]float64, len(f.Psf))
		for i, v := range f.Psf {
			psf[i] = w.weight * v
		}
		out[api.ArtifactPsf] = psf
	} else {
		residual := make([]float64, len(f.Dirty))
		predicted := w.predicted[mapperID]
		for i, v := range f.Dirty {
			if predicted != nil {
				v -= predicted[i]
			}
			residual[i] = w.weight * v
		}
		out[api.ArtifactResidual] = residual
	}
	w.partials[mapperID] = out
	return nil
}

// degrid predicts the sky of the last committed model.
func (w *Worker) degrid(mapperID int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	f, err := w.field(mapperID)
	if err != nil {
		return err
	}
	model, ok := w.model[mapperID]
	if !ok {
		delete(w.predicted, mapperID)
		return nil
	}

	nx, ny := f.Shape[0], f.Shape[1]
	plane := f.Shape.Plane()
	predicted := make([]float64, len(model))
	for off := 0; off < len(model); off += plane {
		Convolve(predicted[off:off+plane], model[off:off+plane], f.Psf[off:off+plane], nx, ny)
	}
	w.predicted[mapperID] = predicted
	return nil
}

func (w *Worker) Partial(_ context.Context, mapperID int, kind api.ArtifactKind) ([]float64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	pixels, ok := w.partials[mapperID][kind]
	if !ok {
		return nil, fmt.Errorf("rank %d has not gridded %s for mapper %d", w.rank, kind, mapperID)
	}
	return append([]float64(nil), pixels...), nil
}

func (w *Worker) StageModel(_ context.Context, mapperID int, model []float64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.field(mapperID); err != nil {
		return err
	}
	w.staged[mapperID] = append([]float64(nil), model...)
	return nil
}

// CommitModels makes the staged models the ones the next degrid predicts from.
func (w *Worker) CommitModels(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for id, model := range w.staged {
		w.model[id] = model
	}
	logging.Debug("Synthetic", "Rank %d committed models for %d mappers", w.rank, len(w.staged))
	clear(w.staged)
	return nil
}

func (w *Worker) DiscardModels(context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	clear(w.staged)
}
