package iteration

import (
	"fmt"
	"math"
	"sync"
	"time"

	"cleanloop/internal/api"
	"cleanloop/internal/metrics"
	"cleanloop/pkg/logging"
)

const (
	defaultCycleFactor    = 1.0
	defaultMinPsfFraction = 0.1
	defaultMaxPsfFraction = 0.8
)

// MinorStopReason says why CheckMinorStop ended a minor cycle.
type MinorStopReason int

const (
	NotStopped MinorStopReason = iota
	StopAborted
	StopCycleIterations
	StopGlobalThreshold
	StopCycleThreshold
	StopPauseRequested
)

func (r MinorStopReason) String() string {
	switch r {
	case NotStopped:
		return "not stopped"
	case StopAborted:
		return "aborted"
	case StopCycleIterations:
		return "cycle iteration limit"
	case StopGlobalThreshold:
		return "global threshold"
	case StopCycleThreshold:
		return "cycle threshold"
	case StopPauseRequested:
		return "pause requested"
	default:
		return "unknown"
	}
}

// Aggregator is the subset of the mapper collection the controller reads at
// a major cycle boundary.
type Aggregator interface {
	MapperIDs() []int
	FindPeakResidual() (int, float64, error)
	FindMaxPsfSidelobe() (float64, error)
	TotalModelFlux() float64
}

// Controller tracks the convergence state of one imaging run. It is the
// only writer of that state; everything else reads it through
// GetIterationDetails and GetIterationSummary.
type Controller struct {
	mu sync.Mutex

	state  api.IterationState
	params api.IterationParams

	totalDone      int
	cycleDone      int
	maxCycle       int
	cycleThreshold float64
	override       *float64

	peakResidual   float64
	peakKnown      bool
	modelFlux      float64
	maxPsfSidelobe float64

	stopFlag bool
	stopCode api.StopCode

	majorCount int
	minorCount int

	summaryMinor []api.SummaryMinorRow
	summaryMajor []api.SummaryMajorRow
	records      []api.SummaryRecord

	mappers map[int]bool
	actions map[int]api.ActionCode

	subscribers []chan api.StateEvent
	metrics     *metrics.Recorder
}

// Option configures a Controller.
type Option func(*Controller)

// WithMetrics publishes controller progress to r.
func WithMetrics(r *metrics.Recorder) Option {
	return func(c *Controller) {
		c.metrics = r
	}
}

// New creates a controller in the Uninitialized state.
func New(opts ...Option) *Controller {
	c := &Controller{
		state:   api.StateUninitialized,
		mappers: make(map[int]bool),
		actions: make(map[int]api.ActionCode),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DefaultParams returns the parameter set used when fields are left zero.
func DefaultParams() api.IterationParams {
	return api.IterationParams{
		LoopGain:       0.1,
		CycleFactor:    defaultCycleFactor,
		MinPsfFraction: defaultMinPsfFraction,
		MaxPsfFraction: defaultMaxPsfFraction,
	}
}

func (c *Controller) setState(next api.IterationState) {
	prev := c.state
	if prev == next {
		return
	}
	c.state = next
	c.metrics.StateChanged(string(next))
	logging.Debug("Iteration", "State %s -> %s", prev, next)

	event := api.StateEvent{Previous: prev, Current: next, StopCode: c.stopCode, Timestamp: time.Now()}
	for _, sub := range c.subscribers {
		select {
		case sub <- event:
		default:
			logging.Debug("Iteration", "Subscriber blocked, skipping state event %s", next)
		}
	}
}

func (c *Controller) requireState(op string, allowed ...api.IterationState) error {
	for _, s := range allowed {
		if c.state == s {
			return nil
		}
	}
	return api.NewInvalidStateError(op, string(c.state))
}

// Subscribe returns a channel receiving every state transition. Events are
// dropped for a subscriber whose buffer is full.
func (c *Controller) Subscribe() <-chan api.StateEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan api.StateEvent, 100)
	c.subscribers = append(c.subscribers, ch)
	return ch
}

// Close closes every subscriber channel. The controller must not be used afterwards.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, sub := range c.subscribers {
		close(sub)
	}
	c.subscribers = nil
}

// SetupIteration validates p and moves Uninitialized -> Configured. Zero
// CycleFactor, MinPsfFraction and MaxPsfFraction take their defaults. A
// CycleNiter of zero, negative, or above Niter becomes Niter.
func (c *Controller) SetupIteration(p api.IterationParams) error {
	if p.LoopGain <= 0 || p.LoopGain > 1 {
		return api.NewInvalidParameterError("loopgain", p.LoopGain, "must be in (0,1]")
	}
	if p.Niter < 0 {
		return api.NewInvalidParameterError("niter", p.Niter, "must be >= 0")
	}
	if p.Threshold < 0 {
		return api.NewInvalidParameterError("threshold", p.Threshold, "must be >= 0")
	}
	if p.CycleFactor < 0 {
		return api.NewInvalidParameterError("cyclefactor", p.CycleFactor, "must be >= 0")
	}
	if p.CycleFactor == 0 {
		p.CycleFactor = defaultCycleFactor
	}
	if p.MinPsfFraction == 0 && p.MaxPsfFraction == 0 {
		p.MinPsfFraction = defaultMinPsfFraction
		p.MaxPsfFraction = defaultMaxPsfFraction
	}
	if p.MinPsfFraction < 0 || p.MaxPsfFraction > 1 || p.MinPsfFraction > p.MaxPsfFraction {
		return api.NewInvalidParameterError("psffraction", fmt.Sprintf("[%g,%g]", p.MinPsfFraction, p.MaxPsfFraction),
			"need 0 <= minpsffraction <= maxpsffraction <= 1")
	}
	if p.Niter > 0 && (p.CycleNiter <= 0 || p.CycleNiter > p.Niter) {
		p.CycleNiter = p.Niter
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireState("SetupIteration", api.StateUninitialized); err != nil {
		return err
	}
	c.params = p
	c.cycleThreshold = p.Threshold
	c.setState(api.StateConfigured)
	logging.Info("Iteration", "Configured niter=%d cycleniter=%d gain=%g threshold=%g cyclefactor=%g interactive=%t",
		p.Niter, p.CycleNiter, p.LoopGain, p.Threshold, p.CycleFactor, p.Interactive)
	return nil
}

// Params returns the current (possibly runtime-changed) parameters.
func (c *Controller) Params() api.IterationParams {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.params
}

// State returns the current state.
func (c *Controller) State() api.IterationState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// MergeInitRecord folds mapper reports taken at a major cycle boundary into
// the global state: the largest peak and sidelobe, the summed model flux.
func (c *Controller) MergeInitRecord(records ...api.InitRecord) error {
	if len(records) == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireState("MergeInitRecord", api.StateConfigured, api.StateMajorCycleBoundary, api.StateMinorCyclePaused); err != nil {
		return err
	}

	peak, sidelobe, flux := 0.0, 0.0, 0.0
	for _, r := range records {
		peak = math.Max(peak, math.Abs(r.PeakResidual))
		sidelobe = math.Max(sidelobe, r.MaxPsfSidelobe)
		flux += r.ModelFlux
		c.mappers[r.MapperID] = true
	}
	c.peakResidual = peak
	c.peakKnown = true
	c.maxPsfSidelobe = sidelobe
	c.modelFlux = flux

	c.metrics.SetPeakResidual(peak)
	c.metrics.SetModelFlux(flux)
	return nil
}

// EvaluateMappers reads the aggregates of a mapper collection and merges
// them as one init record.
func (c *Controller) EvaluateMappers(agg Aggregator) error {
	_, peak, err := agg.FindPeakResidual()
	if err != nil {
		return fmt.Errorf("find peak residual: %w", err)
	}
	sidelobe, err := agg.FindMaxPsfSidelobe()
	if err != nil {
		return fmt.Errorf("find psf sidelobe: %w", err)
	}
	if err := c.MergeInitRecord(api.InitRecord{
		MapperID:       -1,
		PeakResidual:   peak,
		MaxPsfSidelobe: sidelobe,
		ModelFlux:      agg.TotalModelFlux(),
	}); err != nil {
		return err
	}

	c.mu.Lock()
	delete(c.mappers, -1)
	for _, id := range agg.MapperIDs() {
		c.mappers[id] = true
	}
	c.mu.Unlock()
	return nil
}

// psfFraction is the clamped fraction of the peak residual a minor cycle cleans down to.
func (c *Controller) psfFraction() float64 {
	f := c.maxPsfSidelobe * c.params.CycleFactor
	return math.Min(math.Max(f, c.params.MinPsfFraction), c.params.MaxPsfFraction)
}

// CalculateCycleThreshold computes max(threshold, peakResidual*psfFraction)
// and records it. A pending ChangeCycleThreshold value replaces the
// computed one for this cycle only, still floored at the global threshold.
func (c *Controller) CalculateCycleThreshold() (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireState("CalculateCycleThreshold", api.StateConfigured, api.StateMajorCycleBoundary, api.StateMinorCyclePaused); err != nil {
		return 0, err
	}

	ct := math.Max(c.params.Threshold, c.peakResidual*c.psfFraction())
	if c.override != nil {
		ct = math.Max(c.params.Threshold, *c.override)
		c.override = nil
	}
	c.cycleThreshold = ct
	c.metrics.SetCycleThreshold(ct)
	logging.Debug("Iteration", "Cycle threshold %g (peak %g, sidelobe %g, psffraction %g)",
		ct, c.peakResidual, c.maxPsfSidelobe, c.psfFraction())
	return ct, nil
}

// MinorCycleControls starts a minor cycle and returns the limits the
// executor must honor. The cycle threshold must already be calculated.
func (c *Controller) MinorCycleControls() (api.MinorCycleControls, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireState("MinorCycleControls", api.StateConfigured, api.StateMajorCycleBoundary); err != nil {
		return api.MinorCycleControls{}, err
	}

	remaining := c.params.Niter - c.totalDone
	if remaining < 0 {
		remaining = 0
	}
	c.maxCycle = min(c.params.CycleNiter, remaining)
	c.cycleDone = 0
	c.setState(api.StateMinorCycleRunning)

	return api.MinorCycleControls{
		CycleNiter:     c.maxCycle,
		CycleThreshold: c.cycleThreshold,
		LoopGain:       c.params.LoopGain,
	}, nil
}

// CheckMinorStop is called by the minor-cycle executor after each step. It
// adds itersDone to the cycle and total counts, records the current peak,
// and reports whether the cycle must end: the token was aborted, the cycle
// iteration budget is used up, the peak reached the global or the cycle
// threshold, or a pause was requested.
func (c *Controller) CheckMinorStop(tok *Token, itersDone int, currentPeak float64) (bool, MinorStopReason, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireState("CheckMinorStop", api.StateMinorCycleRunning); err != nil {
		return false, NotStopped, err
	}
	if itersDone < 0 {
		return false, NotStopped, api.NewInvalidParameterError("itersDone", itersDone, "must be >= 0")
	}
	if c.cycleDone+itersDone > c.maxCycle {
		return false, NotStopped, api.NewInvalidParameterError("itersDone", itersDone,
			fmt.Sprintf("cycle budget is %d and %d are done", c.maxCycle, c.cycleDone))
	}

	c.cycleDone += itersDone
	c.totalDone += itersDone
	c.peakResidual = math.Abs(currentPeak)
	c.peakKnown = true
	c.metrics.AddIterations(itersDone)
	c.metrics.SetPeakResidual(c.peakResidual)

	switch {
	case c.stopFlag || (tok != nil && tok.Aborted()):
		c.stopFlag = true
		return true, StopAborted, nil
	case c.cycleDone >= c.maxCycle:
		return true, StopCycleIterations, nil
	case c.peakResidual <= c.params.Threshold:
		return true, StopGlobalThreshold, nil
	case c.peakResidual <= c.cycleThreshold:
		return true, StopCycleThreshold, nil
	case tok != nil && tok.PauseRequested():
		return true, StopPauseRequested, nil
	}
	return false, NotStopped, nil
}

func (c *Controller) mergeExec(records []api.ExecRecord) {
	if len(records) == 0 {
		return
	}
	peak, flux := 0.0, 0.0
	for _, r := range records {
		peak = math.Max(peak, math.Abs(r.PeakResidual))
		flux += r.ModelFlux
		c.mappers[r.MapperID] = true
		c.summaryMinor = append(c.summaryMinor, r.Rows...)
		c.records = append(c.records, api.SummaryRecord{
			CycleType:    api.CycleMinor,
			MapperID:     r.MapperID,
			ModelFlux:    r.ModelFlux,
			PeakResidual: r.PeakResidual,
		})
	}
	c.peakResidual = peak
	c.peakKnown = true
	c.modelFlux = flux
	c.metrics.SetPeakResidual(peak)
	c.metrics.SetModelFlux(flux)
}

// MergeExecRecord folds per-mapper minor cycle reports into the global
// state without ending the cycle. Iteration totals are counted by
// CheckMinorStop, not taken from the records.
func (c *Controller) MergeExecRecord(records ...api.ExecRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireState("MergeExecRecord", api.StateMinorCycleRunning); err != nil {
		return err
	}
	c.mergeExec(records)
	return nil
}

// EndMinorCycle merges the final records and ends the minor cycle:
// Stopped if the run was aborted, MajorCycleBoundary otherwise. One-shot
// skip actions are cleared.
func (c *Controller) EndMinorCycle(records ...api.ExecRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireState("EndMinorCycle", api.StateMinorCycleRunning); err != nil {
		return err
	}
	c.mergeExec(records)
	c.minorCount++
	c.metrics.MinorCycleDone()
	for id, a := range c.actions {
		if a == api.ActionSkip {
			delete(c.actions, id)
		}
	}

	logging.Info("Iteration", "Minor cycle %d done: %d iterations (total %d/%d), peak residual %g, model flux %g",
		c.minorCount, c.cycleDone, c.totalDone, c.params.Niter, c.peakResidual, c.modelFlux)

	if c.stopFlag {
		c.stopCode = api.StopForce
		c.setState(api.StateStopped)
		return nil
	}
	c.setState(api.StateMajorCycleBoundary)
	return nil
}

// EndMajorCycle counts a finished major cycle and appends a major summary row.
func (c *Controller) EndMajorCycle() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireState("EndMajorCycle", api.StateConfigured, api.StateMajorCycleBoundary); err != nil {
		return err
	}
	c.majorCount++
	c.addSummaryMajor()
	c.metrics.MajorCycleDone()
	c.setState(api.StateMajorCycleBoundary)
	logging.Info("Iteration", "Major cycle %d done, %d iterations so far", c.majorCount, c.totalDone)
	return nil
}

// IncrementMajorCycleCount bumps the major cycle counter used in reports.
func (c *Controller) IncrementMajorCycleCount() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.majorCount++
}

// IncrementMinorCycleCount bumps the minor cycle counter used in reports.
func (c *Controller) IncrementMinorCycleCount() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.minorCount++
}

// AddSummaryMinor appends one minor-cycle audit entry.
func (c *Controller) AddSummaryMinor(mapperID int, modelFlux, peakResidual float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.summaryMinor = append(c.summaryMinor, api.SummaryMinorRow{
		Iteration:      c.totalDone,
		PeakResidual:   peakResidual,
		ModelFlux:      modelFlux,
		CycleThreshold: c.cycleThreshold,
		MapperID:       mapperID,
	})
	c.records = append(c.records, api.SummaryRecord{
		CycleType:    api.CycleMinor,
		MapperID:     mapperID,
		ModelFlux:    modelFlux,
		PeakResidual: peakResidual,
	})
}

// AddSummaryMajor appends one major-cycle audit entry.
func (c *Controller) AddSummaryMajor() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.addSummaryMajor()
}

func (c *Controller) addSummaryMajor() {
	c.summaryMajor = append(c.summaryMajor, api.SummaryMajorRow{Cycle: c.majorCount, IterationsDone: c.totalDone})
	c.records = append(c.records, api.SummaryRecord{
		CycleType:    api.CycleMajor,
		MapperID:     -1,
		ModelFlux:    c.modelFlux,
		PeakResidual: c.peakResidual,
	})
}

// CheckStop is the coarse check made between major cycles.
func (c *Controller) CheckStop() (bool, api.StopCode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.checkStop()
}

func (c *Controller) checkStop() (bool, api.StopCode) {
	switch {
	case c.stopFlag:
		return true, api.StopForce
	case c.totalDone >= c.params.Niter:
		return true, api.StopIterationLimit
	case c.peakKnown && c.peakResidual <= c.params.Threshold:
		return true, api.StopThreshold
	}
	return false, api.StopNone
}

// CheckConvergence runs CheckStop at a major cycle boundary and, if the run
// is finished, moves to Converged (iteration limit, threshold) or Stopped
// (force stop).
func (c *Controller) CheckConvergence() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.IsTerminal() {
		return true, nil
	}
	if err := c.requireState("CheckConvergence", api.StateConfigured, api.StateMajorCycleBoundary); err != nil {
		return false, err
	}
	done, code := c.checkStop()
	if !done {
		return false, nil
	}
	c.stopCode = code
	if code == api.StopForce {
		c.setState(api.StateStopped)
	} else {
		c.setState(api.StateConverged)
	}
	logging.Info("Iteration", "Clean finished after %d iterations and %d major cycles: %s",
		c.totalDone, c.majorCount, code)
	return true, nil
}

// CleanComplete reports whether the state is Converged or Stopped.
func (c *Controller) CleanComplete() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.IsTerminal()
}

// StopReason returns the stop code of a finished run, StopNone otherwise.
func (c *Controller) StopReason() api.StopCode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopCode
}

// ChangeStopFlag sets or clears the force-stop flag. It takes effect at the
// next CheckMinorStop or CheckStop.
func (c *Controller) ChangeStopFlag(stop bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopFlag = stop
}

// Abort force-stops the run immediately.
func (c *Controller) Abort() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.IsTerminal() {
		return
	}
	c.stopFlag = true
	c.stopCode = api.StopForce
	c.setState(api.StateStopped)
	logging.Warn("Iteration", "Clean aborted after %d iterations", c.totalDone)
}

// MapperAction returns the operator's action code for a mapper.
func (c *Controller) MapperAction(id int) api.ActionCode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.actions[id]
}

// GetIterationDetails returns a snapshot of the iteration state. Outside a
// running minor cycle MaxCycleIterations is the configured cycle cap.
func (c *Controller) GetIterationDetails() api.IterationDetails {
	c.mu.Lock()
	defer c.mu.Unlock()
	maxCycle := c.maxCycle
	if c.state != api.StateMinorCycleRunning {
		maxCycle = c.params.CycleNiter
	}
	return api.IterationDetails{
		State:                    c.state,
		TotalIterationsDone:      c.totalDone,
		TotalIterationsRequested: c.params.Niter,
		CycleIterationsDone:      c.cycleDone,
		MaxCycleIterations:       maxCycle,
		LoopGain:                 c.params.LoopGain,
		GlobalThreshold:          c.params.Threshold,
		CycleThreshold:           c.cycleThreshold,
		CycleFactor:              c.params.CycleFactor,
		MinPsfFraction:           c.params.MinPsfFraction,
		MaxPsfFraction:           c.params.MaxPsfFraction,
		PeakResidual:             c.peakResidual,
		ModelFlux:                c.modelFlux,
		MaxPsfSidelobe:           c.maxPsfSidelobe,
		Interactive:              c.params.Interactive,
		StopFlag:                 c.stopFlag,
		StopCode:                 c.stopCode,
		StopReason:               c.stopCode.String(),
		MajorCycleCount:          c.majorCount,
		MinorCycleCount:          c.minorCount,
	}
}

// GetIterationSummary returns a copy of the audit log.
func (c *Controller) GetIterationSummary() api.IterationSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return api.IterationSummary{
		Minor:   append([]api.SummaryMinorRow(nil), c.summaryMinor...),
		Major:   append([]api.SummaryMajorRow(nil), c.summaryMajor...),
		Records: append([]api.SummaryRecord(nil), c.records...),
	}
}
