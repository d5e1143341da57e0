package iteration

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"cleanloop/internal/api"
	"cleanloop/pkg/logging"
)

func (c *Controller) requireChangeable(op string) error {
	return c.requireState(op, api.StateMinorCyclePaused, api.StateMajorCycleBoundary)
}

func auditChange(param string, value any) {
	logging.Audit(logging.AuditEvent{
		Action:  "change_" + param,
		Source:  "controller",
		Details: map[string]string{param: fmt.Sprint(value)},
	})
}

// ChangeCycleThreshold overrides the cycle threshold for the next minor
// cycle only. The value is still floored at the global threshold.
func (c *Controller) ChangeCycleThreshold(v float64) error {
	if v < 0 {
		return api.NewInvalidParameterError("cyclethreshold", v, "must be >= 0")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireChangeable("ChangeCycleThreshold"); err != nil {
		return err
	}
	c.override = &v
	auditChange("cyclethreshold", v)
	return nil
}

// ChangeThreshold changes the global stopping threshold. The cycle
// threshold never drops below it.
func (c *Controller) ChangeThreshold(v float64) error {
	if v < 0 {
		return api.NewInvalidParameterError("threshold", v, "must be >= 0")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireChangeable("ChangeThreshold"); err != nil {
		return err
	}
	c.params.Threshold = v
	c.cycleThreshold = max(c.cycleThreshold, v)
	auditChange("threshold", v)
	return nil
}

// ChangeNiter changes the total iteration budget. A value at or below the
// iterations already done ends the run at the next convergence check.
func (c *Controller) ChangeNiter(v int) error {
	if v < 0 {
		return api.NewInvalidParameterError("niter", v, "must be >= 0")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireChangeable("ChangeNiter"); err != nil {
		return err
	}
	c.params.Niter = v
	if c.params.CycleNiter > v {
		c.params.CycleNiter = v
	}
	auditChange("niter", v)
	return nil
}

// ChangeMaxCycleNiter changes the per-cycle iteration cap.
func (c *Controller) ChangeMaxCycleNiter(v int) error {
	if v <= 0 {
		return api.NewInvalidParameterError("cycleniter", v, "must be > 0")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireChangeable("ChangeMaxCycleNiter"); err != nil {
		return err
	}
	c.params.CycleNiter = v
	auditChange("cycleniter", v)
	return nil
}

// ChangeLoopGain changes the loop gain used by later minor cycles.
func (c *Controller) ChangeLoopGain(v float64) error {
	if v <= 0 || v > 1 {
		return api.NewInvalidParameterError("loopgain", v, "must be in (0,1]")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireChangeable("ChangeLoopGain"); err != nil {
		return err
	}
	c.params.LoopGain = v
	auditChange("loopgain", v)
	return nil
}

// applyResume must be called while the controller is MinorCyclePaused.
func (c *Controller) applyResume(r Resume) error {
	if r.Niter != nil {
		if err := c.ChangeNiter(*r.Niter); err != nil {
			return err
		}
	}
	if r.CycleNiter != nil && *r.CycleNiter > 0 {
		if err := c.ChangeMaxCycleNiter(*r.CycleNiter); err != nil {
			return err
		}
	}
	if r.Threshold != nil {
		if err := c.ChangeThreshold(*r.Threshold); err != nil {
			return err
		}
	}
	if r.CycleThreshold != nil {
		if err := c.ChangeCycleThreshold(*r.CycleThreshold); err != nil {
			return err
		}
	}
	if r.LoopGain != nil {
		if err := c.ChangeLoopGain(*r.LoopGain); err != nil {
			return err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for id, a := range r.Actions {
		if a == api.ActionContinue {
			delete(c.actions, id)
			continue
		}
		c.actions[id] = a
		logging.Audit(logging.AuditEvent{
			Action:  "mapper_action",
			Source:  "controller",
			Details: map[string]string{"mapper": strconv.Itoa(id), "action": a.String()},
		})
	}
	if len(c.mappers) > 0 && c.allStopped() {
		logging.Info("Iteration", "Every mapper was told to stop, stopping clean")
		c.stopFlag = true
	}
	return nil
}

func (c *Controller) allStopped() bool {
	for id := range c.mappers {
		if c.actions[id] != api.ActionStop {
			return false
		}
	}
	return true
}

// WaitForInteraction is called at a major cycle boundary. When the run is
// interactive or a pause was requested on tok, it moves to
// MinorCyclePaused and blocks until the operator continues or aborts;
// otherwise it returns at once. Resume changes and action codes are
// applied before returning to MajorCycleBoundary. An abort stops the run
// and returns nil, also when tok was aborted before the boundary was
// reached; a cancelled ctx stops the run and returns ctx.Err().
func (c *Controller) WaitForInteraction(ctx context.Context, tok *Token) error {
	c.mu.Lock()
	if err := c.requireState("WaitForInteraction", api.StateMajorCycleBoundary); err != nil {
		c.mu.Unlock()
		return err
	}
	if tok != nil && tok.Aborted() {
		c.mu.Unlock()
		c.Abort()
		return nil
	}
	interactive := c.params.Interactive
	if !interactive && (tok == nil || !tok.PauseRequested()) {
		c.mu.Unlock()
		return nil
	}
	if tok == nil {
		c.mu.Unlock()
		return api.NewInvalidParameterError("token", nil, "interactive run needs a continuation token")
	}
	c.setState(api.StateMinorCyclePaused)
	done, peak := c.totalDone, c.peakResidual
	c.mu.Unlock()

	logging.Info("Iteration", "Paused after %d iterations, peak residual %g; waiting for continue", done, peak)

	r, err := tok.Wait(ctx)
	switch {
	case errors.Is(err, ErrAborted):
		c.Abort()
		return nil
	case err != nil:
		c.Abort()
		return err
	}

	if err := c.applyResume(r); err != nil {
		// Validated by the token already; a failure here is a state race.
		logging.Error("Iteration", err, "Failed to apply resume")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == api.StateMinorCyclePaused {
		c.setState(api.StateMajorCycleBoundary)
	}
	logging.Info("Iteration", "Resumed after %d iterations", c.totalDone)
	return nil
}
