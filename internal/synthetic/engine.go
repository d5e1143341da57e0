package synthetic

import (
	"context"
	"fmt"

	"cleanloop/internal/imagestore"
)

// Engine is a gridding engine that drives the synthetic workers: Grid makes
// every worker compute its partial image, Degrid makes every worker
// predict from the model it last received. The global images are filled by
// the synchronizer's gather, not by the engine.
type Engine struct {
	workers []*Worker
}

// NewEngine creates an engine over workers.
func NewEngine(workers ...*Worker) *Engine {
	return &Engine{workers: workers}
}

func (e *Engine) each(ctx context.Context, fn func(w *Worker) error) error {
	for _, w := range e.workers {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(w); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) InitializeGrid(ctx context.Context, _ int, _ *imagestore.ImageStore, _ bool) error {
	return ctx.Err()
}

func (e *Engine) Grid(ctx context.Context, id int, _ *imagestore.ImageStore, dopsf bool) error {
	return e.each(ctx, func(w *Worker) error {
		if err := w.grid(id, dopsf); err != nil {
			return fmt.Errorf("grid: %w", err)
		}
		return nil
	})
}

func (e *Engine) FinalizeGrid(ctx context.Context, _ int, _ *imagestore.ImageStore, _ bool) error {
	return ctx.Err()
}

func (e *Engine) InitializeDegrid(ctx context.Context, _ int, _ *imagestore.ImageStore) error {
	return ctx.Err()
}

func (e *Engine) Degrid(ctx context.Context, id int, _ *imagestore.ImageStore) error {
	return e.each(ctx, func(w *Worker) error {
		if err := w.degrid(id); err != nil {
			return fmt.Errorf("degrid: %w", err)
		}
		return nil
	})
}

func (e *Engine) FinalizeDegrid(ctx context.Context, _ int, _ *imagestore.ImageStore) error {
	return ctx.Err()
}
