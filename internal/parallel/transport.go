package parallel

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"

	"cleanloop/internal/api"
	"cleanloop/pkg/logging"
)

const (
	PhaseGather  = "gather"
	PhaseScatter = "scatter"
)

// Worker is one participant of a collective. Rank identifies it inside the
// transport; Partial returns the worker's contribution to a mapper image.
// A scatter stages one model per mapper with StageModel, then either
// CommitModels makes all staged models current or DiscardModels drops them
// and the worker keeps its previous models.
type Worker interface {
	Rank() int
	Partial(ctx context.Context, mapperID int, kind api.ArtifactKind) ([]float64, error)
	StageModel(ctx context.Context, mapperID int, model []float64) error
	CommitModels(ctx context.Context) error
	DiscardModels(ctx context.Context)
}

// GatherRequest names the artifacts reduced for one mapper and the ranks
// taking part. Empty Ranks means every rank.
type GatherRequest struct {
	MapperID int
	Kinds    []api.ArtifactKind
	Ranks    []int
}

// ScatterRequest carries the model broadcast for one mapper.
type ScatterRequest struct {
	MapperID int
	Model    []float64
	Ranks    []int
}

// Transport is a collective-communication primitive: a pixel-wise sum
// reduction to the coordinator and a staged broadcast from it. Broadcast
// only stages a model on the workers; Commit publishes everything staged
// and Discard drops it. All calls are bounded by Timeout.
type Transport interface {
	Ranks() []int
	Timeout() time.Duration
	ReduceSum(ctx context.Context, req GatherRequest) (map[api.ArtifactKind][]float64, error)
	Broadcast(ctx context.Context, req ScatterRequest) error
	Commit(ctx context.Context, ranks []int) error
	Discard(ctx context.Context, ranks []int)
}

// LocalTransport runs collectives over in-process workers, one goroutine
// per rank.
type LocalTransport struct {
	workers map[int]Worker
	ranks   []int
	timeout time.Duration
}

// NewLocalTransport creates a transport over workers. Ranks must be unique
// and timeout positive.
func NewLocalTransport(timeout time.Duration, workers ...Worker) (*LocalTransport, error) {
	if timeout <= 0 {
		return nil, api.NewInvalidParameterError("timeout", timeout, "must be > 0")
	}
	if len(workers) == 0 {
		return nil, api.NewInvalidParameterError("workers", 0, "need at least one worker")
	}
	t := &LocalTransport{workers: make(map[int]Worker, len(workers)), timeout: timeout}
	for _, w := range workers {
		if _, dup := t.workers[w.Rank()]; dup {
			return nil, api.NewInvalidParameterError("rank", w.Rank(), "duplicate worker rank")
		}
		t.workers[w.Rank()] = w
		t.ranks = append(t.ranks, w.Rank())
	}
	sort.Ints(t.ranks)
	return t, nil
}

func (t *LocalTransport) Ranks() []int { return append([]int(nil), t.ranks...) }

func (t *LocalTransport) Timeout() time.Duration { return t.timeout }

func (t *LocalTransport) participants(ranks []int, phase string) ([]Worker, error) {
	if len(ranks) == 0 {
		ranks = t.ranks
	}
	out := make([]Worker, 0, len(ranks))
	for _, r := range ranks {
		w, ok := t.workers[r]
		if !ok {
			return nil, &api.WorkerUnreachableError{Rank: r, Phase: phase, Cause: fmt.Errorf("rank %d not in transport", r)}
		}
		out = append(out, w)
	}
	return out, nil
}

// call runs fn in its own goroutine and gives up when ctx is done, so a
// worker that ignores cancellation cannot hold the collective past its
// deadline.
func call[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	type result struct {
		val T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		ch <- result{v, err}
	}()
	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case res := <-ch:
		return res.val, res.err
	}
}

// ReduceSum collects every requested kind from every participating rank and
// sums them pixel-wise in rank order. Any failure fails the whole
// reduction; no partial sum is returned.
func (t *LocalTransport) ReduceSum(ctx context.Context, req GatherRequest) (map[api.ArtifactKind][]float64, error) {
	workers, err := t.participants(req.Ranks, PhaseGather)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	eg, ctx := errgroup.WithContext(ctx)

	partials := make([]map[api.ArtifactKind][]float64, len(workers))
	for i, w := range workers {
		eg.Go(func() error {
			got := make(map[api.ArtifactKind][]float64, len(req.Kinds))
			for _, kind := range req.Kinds {
				pixels, err := call(ctx, func(ctx context.Context) ([]float64, error) {
					return w.Partial(ctx, req.MapperID, kind)
				})
				if err != nil {
					return &api.WorkerUnreachableError{Rank: w.Rank(), Phase: PhaseGather, Cause: err}
				}
				got[kind] = pixels
			}
			partials[i] = got
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	sums := make(map[api.ArtifactKind][]float64, len(req.Kinds))
	for _, kind := range req.Kinds {
		for i, p := range partials {
			pixels := p[kind]
			sum, ok := sums[kind]
			if !ok {
				sums[kind] = append([]float64(nil), pixels...)
				continue
			}
			if len(pixels) != len(sum) {
				return nil, &api.WorkerUnreachableError{
					Rank:  workers[i].Rank(),
					Phase: PhaseGather,
					Cause: fmt.Errorf("%s partial has %d pixels, want %d", kind, len(pixels), len(sum)),
				}
			}
			floats.Add(sum, pixels)
		}
	}
	logging.Debug("Sync", "Reduced %v for mapper %d over %d ranks", req.Kinds, req.MapperID, len(workers))
	return sums, nil
}

// Broadcast stages the model on every participating rank. It fails if any
// rank does not acknowledge within the timeout.
func (t *LocalTransport) Broadcast(ctx context.Context, req ScatterRequest) error {
	workers, err := t.participants(req.Ranks, PhaseScatter)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	eg, ctx := errgroup.WithContext(ctx)

	for _, w := range workers {
		eg.Go(func() error {
			model := append([]float64(nil), req.Model...)
			_, err := call(ctx, func(ctx context.Context) (struct{}, error) {
				return struct{}{}, w.StageModel(ctx, req.MapperID, model)
			})
			if err != nil {
				return &api.WorkerUnreachableError{Rank: w.Rank(), Phase: PhaseScatter, Cause: err}
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}
	logging.Debug("Sync", "Staged model of mapper %d on %d ranks", req.MapperID, len(workers))
	return nil
}

// Commit makes the staged models current on every participating rank.
func (t *LocalTransport) Commit(ctx context.Context, ranks []int) error {
	workers, err := t.participants(ranks, PhaseScatter)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	eg, ctx := errgroup.WithContext(ctx)

	for _, w := range workers {
		eg.Go(func() error {
			_, err := call(ctx, func(ctx context.Context) (struct{}, error) {
				return struct{}{}, w.CommitModels(ctx)
			})
			if err != nil {
				return &api.WorkerUnreachableError{Rank: w.Rank(), Phase: PhaseScatter, Cause: err}
			}
			return nil
		})
	}
	return eg.Wait()
}

// Discard drops staged models on every participating rank. Ranks that do
// not answer within the timeout are logged and skipped.
func (t *LocalTransport) Discard(ctx context.Context, ranks []int) {
	workers, err := t.participants(ranks, PhaseScatter)
	if err != nil {
		logging.Warn("Sync", "Discard of staged models skipped: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	var eg errgroup.Group
	for _, w := range workers {
		eg.Go(func() error {
			_, err := call(ctx, func(ctx context.Context) (struct{}, error) {
				w.DiscardModels(ctx)
				return struct{}{}, nil
			})
			if err != nil {
				logging.Warn("Sync", "Rank %d did not discard staged models: %v", w.Rank(), err)
			}
			return nil
		})
	}
	_ = eg.Wait()
	logging.Debug("Sync", "Discarded staged models on %d ranks", len(workers))
}
