package runner

import (
	"context"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/briandowns/spinner"

	"cleanloop/internal/api"
	"cleanloop/internal/imagestore"
	"cleanloop/internal/iteration"
	"cleanloop/internal/mapper"
	"cleanloop/internal/parallel"
	"cleanloop/pkg/logging"
)

// Restorer is implemented by kernels that can build the restored image
// once cleaning is finished.
type Restorer interface {
	Restore(ctx context.Context, id int, store *imagestore.ImageStore) error
}

// Runner drives a complete clean: psf, then alternating major and minor
// cycles until the controller reports the run finished.
type Runner struct {
	mappers *mapper.Collection
	sync    *parallel.Synchronizer
	ctrl    *iteration.Controller
	kernel  Deconvolver
	token   *iteration.Token

	progress io.Writer
	spin     *spinner.Spinner
}

// Option configures a Runner.
type Option func(*Runner)

// WithProgress shows a spinner with the current cycle on w.
func WithProgress(w io.Writer) Option {
	return func(r *Runner) {
		r.progress = w
	}
}

// New creates a runner. The controller must already be set up; tok is the
// token the operator's control backends act on.
func New(mappers *mapper.Collection, sync *parallel.Synchronizer, ctrl *iteration.Controller,
	kernel Deconvolver, tok *iteration.Token, opts ...Option) *Runner {
	r := &Runner{
		mappers: mappers,
		sync:    sync,
		ctrl:    ctrl,
		kernel:  kernel,
		token:   tok,
	}
	for _, opt := range opts {
		opt(r)
	}
	tok.OnChange(func(ev iteration.TokenEvent) {
		if ev == iteration.TokenAborted {
			sync.Abort()
		}
	})
	return r
}

func (r *Runner) status(format string, args ...any) {
	if r.progress == nil {
		return
	}
	if r.spin == nil {
		r.spin = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(r.progress))
		r.spin.Start()
	}
	r.spin.Suffix = " " + fmt.Sprintf(format, args...)
}

func (r *Runner) stopProgress() {
	if r.spin != nil {
		r.spin.Stop()
		r.spin = nil
	}
}

// Run executes the clean and returns why it stopped. A synchronization or
// kernel failure ends the run with an error; the controller's summary so
// far stays intact.
func (r *Runner) Run(ctx context.Context) (api.StopCode, error) {
	defer r.stopProgress()

	if st := r.ctrl.State(); st != api.StateConfigured {
		return api.StopNone, api.NewInvalidStateError("Run", string(st))
	}
	if r.mappers.NMappers() == 0 {
		return api.StopNone, api.NewInvalidParameterError("mappers", 0, "nothing to image")
	}
	logging.Info("Runner", "Starting clean with %d mappers over %d ranks", r.mappers.NMappers(), len(r.sync.Ranks()))

	if err := r.makePSF(ctx); err != nil {
		return api.StopNone, fmt.Errorf("make psf: %w", err)
	}
	if err := r.runMajorCycle(ctx); err != nil {
		return api.StopNone, fmt.Errorf("major cycle: %w", err)
	}

	for !r.ctrl.CleanComplete() {
		done, err := r.hasConverged(ctx)
		if err != nil {
			return api.StopNone, err
		}
		if done {
			break
		}
		if err := r.runMinorCycle(ctx); err != nil {
			return api.StopNone, fmt.Errorf("minor cycle: %w", err)
		}
		if r.ctrl.CleanComplete() {
			break
		}
		if err := r.runMajorCycle(ctx); err != nil {
			return api.StopNone, fmt.Errorf("major cycle: %w", err)
		}
	}

	r.stopProgress()
	if err := r.restore(ctx); err != nil {
		return r.ctrl.StopReason(), fmt.Errorf("restore: %w", err)
	}

	d := r.ctrl.GetIterationDetails()
	logging.Info("Runner", "Clean stopped (%s) after %d iterations in %d major cycles; peak residual %g, model flux %g",
		d.StopReason, d.TotalIterationsDone, d.MajorCycleCount, d.PeakResidual, d.ModelFlux)
	return r.ctrl.StopReason(), nil
}

func (r *Runner) grid(ctx context.Context, id int, dopsf bool) error {
	if err := r.mappers.InitializeGrid(ctx, id, dopsf); err != nil {
		return err
	}
	if err := r.mappers.Grid(ctx, id); err != nil {
		return err
	}
	return r.mappers.FinalizeGrid(ctx, id)
}

func (r *Runner) degrid(ctx context.Context, id int) error {
	if err := r.mappers.InitializeDegrid(ctx, id); err != nil {
		return err
	}
	if err := r.mappers.Degrid(ctx, id); err != nil {
		return err
	}
	return r.mappers.FinalizeDegrid(ctx, id)
}

func (r *Runner) forEachStore(fn func(store *imagestore.ImageStore) error) error {
	for _, id := range r.mappers.MapperIDs() {
		if err := r.mappers.WithMapper(id, fn); err != nil {
			return fmt.Errorf("mapper %d: %w", id, err)
		}
	}
	return nil
}

func (r *Runner) makePSF(ctx context.Context) error {
	r.status("Making psf")
	for _, id := range r.mappers.MapperIDs() {
		if err := r.grid(ctx, id, true); err != nil {
			return err
		}
	}
	if err := r.sync.GatherImages(ctx, true, false); err != nil {
		return err
	}
	if err := r.sync.DividePSFByWeight(); err != nil {
		return err
	}
	r.mappers.ReleaseImageLocks()
	return nil
}

// abortRequested stops the controller when the operator aborted the token.
func (r *Runner) abortRequested() bool {
	if !r.token.Aborted() {
		return false
	}
	r.ctrl.Abort()
	return true
}

// runMajorCycle scatters the model, predicts and grids a new residual and
// gathers it. An abort seen at the scatter or gather boundary stops the
// controller and ends the cycle without gathering.
func (r *Runner) runMajorCycle(ctx context.Context) error {
	if r.abortRequested() {
		return nil
	}
	r.status("Major cycle %d", r.ctrl.GetIterationDetails().MajorCycleCount+1)

	if err := r.forEachStore((*imagestore.ImageStore).DivideModelByWeight); err != nil {
		return err
	}
	if err := r.sync.ScatterModel(ctx); err != nil {
		return err
	}
	if err := r.forEachStore((*imagestore.ImageStore).MultiplyModelByWeight); err != nil {
		return err
	}
	if r.abortRequested() {
		return nil
	}

	for _, id := range r.mappers.MapperIDs() {
		updated, err := r.mappers.ModelUpdated(id)
		if err != nil {
			return err
		}
		if updated {
			if err := r.degrid(ctx, id); err != nil {
				return err
			}
		}
		if err := r.grid(ctx, id, false); err != nil {
			return err
		}
	}

	if r.abortRequested() {
		r.mappers.ReleaseImageLocks()
		return nil
	}
	if err := r.ctrl.EndMajorCycle(); err != nil {
		return err
	}
	if err := r.sync.GatherImages(ctx, false, true); err != nil {
		return err
	}
	if err := r.sync.DivideResidualByWeight(); err != nil {
		return err
	}
	r.mappers.ReleaseImageLocks()
	return nil
}

func (r *Runner) hasConverged(ctx context.Context) (bool, error) {
	if err := r.ctrl.EvaluateMappers(r.mappers); err != nil {
		return false, err
	}
	if delta := r.mappers.AddIntegratedFlux(); delta != 0 {
		logging.Debug("Runner", "Model flux changed by %g this cycle", delta)
	}

	r.stopProgress()
	if err := r.ctrl.WaitForInteraction(ctx, r.token); err != nil {
		return false, err
	}
	return r.ctrl.CheckConvergence()
}

// eligiblePeak returns the mapper with the largest |residual| among those
// the operator has not skipped or stopped. Ties go to the lowest id.
func (r *Runner) eligiblePeak() (int, float64, bool, error) {
	bestID, best, found := 0, math.Inf(-1), false
	for _, id := range r.mappers.MapperIDs() {
		if r.ctrl.MapperAction(id) != api.ActionContinue {
			continue
		}
		store, err := r.mappers.Store(id)
		if err != nil {
			return 0, 0, false, err
		}
		peak, err := store.PeakResidual()
		if err != nil {
			return 0, 0, false, fmt.Errorf("mapper %d: %w", id, err)
		}
		if peak > best || (peak == best && id < bestID) {
			bestID, best, found = id, peak, true
		}
	}
	return bestID, best, found, nil
}

func (r *Runner) runMinorCycle(ctx context.Context) error {
	if _, err := r.ctrl.CalculateCycleThreshold(); err != nil {
		return err
	}
	controls, err := r.ctrl.MinorCycleControls()
	if err != nil {
		return err
	}
	d := r.ctrl.GetIterationDetails()
	r.status("Minor cycle %d: cleaning to %.4g", d.MinorCycleCount+1, controls.CycleThreshold)
	logging.Info("Runner", "Minor cycle %d: up to %d iterations, cycle threshold %g, gain %g",
		d.MinorCycleCount+1, controls.CycleNiter, controls.CycleThreshold, controls.LoopGain)

	iters := make(map[int]int)
	id, peak, found, err := r.eligiblePeak()
	if err != nil {
		return err
	}
	stop, why := !found, iteration.NotStopped
	if found {
		if stop, why, err = r.ctrl.CheckMinorStop(r.token, 0, peak); err != nil {
			return err
		}
	} else {
		logging.Info("Runner", "No mapper left to clean in this minor cycle")
	}

	for !stop {
		if err := ctx.Err(); err != nil {
			r.ctrl.Abort()
			return err
		}

		var res StepResult
		if err := r.mappers.WithMapper(id, func(store *imagestore.ImageStore) error {
			var err error
			res, err = r.kernel.Step(ctx, id, store, controls.LoopGain, 1)
			return err
		}); err != nil {
			return fmt.Errorf("mapper %d: %w", id, err)
		}
		if res.Iterations == 0 {
			logging.Warn("Runner", "Kernel made no progress on mapper %d, ending minor cycle", id)
			break
		}
		iters[id] += res.Iterations

		store, err := r.mappers.Store(id)
		if err != nil {
			return err
		}
		r.ctrl.AddSummaryMinor(id, store.ModelFlux(), res.PeakResidual)

		if id, peak, _, err = r.eligiblePeak(); err != nil {
			return err
		}
		if stop, why, err = r.ctrl.CheckMinorStop(r.token, res.Iterations, peak); err != nil {
			return err
		}
	}
	logging.Debug("Runner", "Minor cycle ended: %s", why)

	var records []api.ExecRecord
	for _, id := range r.mappers.MapperIDs() {
		store, err := r.mappers.Store(id)
		if err != nil {
			return err
		}
		peak, err := store.PeakResidual()
		if err != nil {
			return err
		}
		updated := iters[id] > 0
		if err := r.mappers.SetModelUpdated(id, updated); err != nil {
			return err
		}
		records = append(records, api.ExecRecord{
			MapperID:     id,
			IterDone:     iters[id],
			PeakResidual: peak,
			ModelFlux:    store.ModelFlux(),
			UpdatedModel: updated,
		})
	}
	return r.ctrl.EndMinorCycle(records...)
}

// restore builds the restored image of every mapper. Mappers without a
// gathered residual or a model, as after an abort in the first major
// cycle, are skipped.
func (r *Runner) restore(ctx context.Context) error {
	restorer, ok := r.kernel.(Restorer)
	for _, id := range r.mappers.MapperIDs() {
		if err := r.mappers.WithMapper(id, func(store *imagestore.ImageStore) error {
			if !store.DoImagesExist() || !store.DoesModelImageExist() {
				logging.Warn("Runner", "Mapper %d has no residual or model yet, not restoring", id)
				return nil
			}
			if err := store.AllocateRestoredImage(); err != nil {
				return err
			}
			if !ok {
				return nil
			}
			return restorer.Restore(ctx, id, store)
		}); err != nil {
			return fmt.Errorf("mapper %d: %w", id, err)
		}
	}
	return nil
}
