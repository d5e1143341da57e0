package iteration

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"sync"

	"cleanloop/internal/api"
)

// ErrAborted is returned from a wait that ended because the token was aborted.
var ErrAborted = errors.New("clean aborted")

// Resume carries the operator's answer to a pause: optional parameter
// changes and per-mapper action codes. Nil fields are left unchanged.
type Resume struct {
	Niter          *int
	CycleNiter     *int
	Threshold      *float64
	CycleThreshold *float64
	LoopGain       *float64
	Actions        map[int]api.ActionCode
}

// Validate checks the requested values against the same ranges SetupIteration enforces.
func (r Resume) Validate() error {
	if r.Niter != nil && *r.Niter < 0 {
		return api.NewInvalidParameterError("niter", *r.Niter, "must be >= 0")
	}
	if r.CycleNiter != nil && *r.CycleNiter < 0 {
		return api.NewInvalidParameterError("cycleniter", *r.CycleNiter, "must be >= 0")
	}
	if r.Threshold != nil && *r.Threshold < 0 {
		return api.NewInvalidParameterError("threshold", *r.Threshold, "must be >= 0")
	}
	if r.CycleThreshold != nil && *r.CycleThreshold < 0 {
		return api.NewInvalidParameterError("cyclethreshold", *r.CycleThreshold, "must be >= 0")
	}
	if r.LoopGain != nil && (*r.LoopGain <= 0 || *r.LoopGain > 1) {
		return api.NewInvalidParameterError("loopgain", *r.LoopGain, "must be in (0,1]")
	}
	for id, a := range r.Actions {
		if a < api.ActionContinue || a > api.ActionStop {
			return api.NewInvalidParameterError("action", a, "mapper "+strconv.Itoa(id)+": must be 0, 1 or 2")
		}
	}
	return nil
}

// IsEmpty reports whether the resume carries no changes.
func (r Resume) IsEmpty() bool {
	return r.Niter == nil && r.CycleNiter == nil && r.Threshold == nil &&
		r.CycleThreshold == nil && r.LoopGain == nil && len(r.Actions) == 0
}

// merge overlays later onto r.
func (r Resume) merge(later Resume) Resume {
	if later.Niter != nil {
		r.Niter = later.Niter
	}
	if later.CycleNiter != nil {
		r.CycleNiter = later.CycleNiter
	}
	if later.Threshold != nil {
		r.Threshold = later.Threshold
	}
	if later.CycleThreshold != nil {
		r.CycleThreshold = later.CycleThreshold
	}
	if later.LoopGain != nil {
		r.LoopGain = later.LoopGain
	}
	if len(later.Actions) > 0 {
		merged := make(map[int]api.ActionCode, len(r.Actions)+len(later.Actions))
		for id, a := range r.Actions {
			merged[id] = a
		}
		for id, a := range later.Actions {
			merged[id] = a
		}
		r.Actions = merged
	}
	return r
}

// Token is the continuation token shared between the run driver and
// whatever control backend the operator uses (control file, prompt, MCP).
// It carries pause requests, continues and aborts without tying the
// controller to any transport.
type Token struct {
	mu       sync.Mutex
	pause    bool
	waiting  bool
	pending  Resume
	resumed  chan struct{}
	abortCh  chan struct{}
	aborted  bool
	onChange []func(TokenEvent)
}

// TokenEvent reports a token state change to observers such as the prompt.
type TokenEvent string

const (
	TokenPaused  TokenEvent = "paused"
	TokenResumed TokenEvent = "resumed"
	TokenAborted TokenEvent = "aborted"
	TokenWaiting TokenEvent = "waiting"
)

// NewToken creates a token with no pause requested.
func NewToken() *Token {
	return &Token{
		resumed: make(chan struct{}, 1),
		abortCh: make(chan struct{}),
	}
}

// OnChange registers an observer called after every token event. Observers
// run synchronously and must not block.
func (t *Token) OnChange(fn func(TokenEvent)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onChange = append(t.onChange, fn)
}

func (t *Token) notify(ev TokenEvent) {
	t.mu.Lock()
	observers := slices.Clone(t.onChange)
	t.mu.Unlock()
	for _, fn := range observers {
		fn(ev)
	}
}

// RequestPause asks the run to pause at the next minor-cycle boundary.
func (t *Token) RequestPause() {
	t.mu.Lock()
	already := t.pause
	t.pause = true
	t.mu.Unlock()
	if !already {
		t.notify(TokenPaused)
	}
}

// PauseRequested reports whether a pause is pending.
func (t *Token) PauseRequested() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pause
}

// Waiting reports whether the run is currently blocked on this token.
func (t *Token) Waiting() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.waiting
}

// Continue releases a paused run, applying r at the boundary. Changes sent
// while the run is not paused are queued and merged into the next resume.
// It returns true if a waiting run was released.
func (t *Token) Continue(r Resume) (bool, error) {
	if err := r.Validate(); err != nil {
		return false, err
	}
	t.mu.Lock()
	t.pending = t.pending.merge(r)
	released := false
	if t.waiting {
		select {
		case t.resumed <- struct{}{}:
		default:
		}
		released = true
	}
	t.mu.Unlock()
	if released {
		t.notify(TokenResumed)
	}
	return released, nil
}

// Abort stops the run at the next boundary and releases any wait.
func (t *Token) Abort() {
	t.mu.Lock()
	if t.aborted {
		t.mu.Unlock()
		return
	}
	t.aborted = true
	close(t.abortCh)
	t.mu.Unlock()
	t.notify(TokenAborted)
}

// Aborted reports whether Abort was called.
func (t *Token) Aborted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.aborted
}

// Done is closed when the token is aborted.
func (t *Token) Done() <-chan struct{} {
	return t.abortCh
}

// Wait blocks until Continue, Abort or ctx cancellation. There is no
// timeout: an interactive pause waits for the operator indefinitely.
func (t *Token) Wait(ctx context.Context) (Resume, error) {
	t.mu.Lock()
	if t.aborted {
		t.mu.Unlock()
		return Resume{}, ErrAborted
	}
	t.waiting = true
	// Drop a stale release left over from an earlier wait.
	select {
	case <-t.resumed:
	default:
	}
	t.mu.Unlock()
	t.notify(TokenWaiting)

	defer func() {
		t.mu.Lock()
		t.waiting = false
		t.mu.Unlock()
	}()

	select {
	case <-t.resumed:
		t.mu.Lock()
		r := t.pending
		t.pending = Resume{}
		t.pause = false
		t.mu.Unlock()
		return r, nil
	case <-t.abortCh:
		return Resume{}, ErrAborted
	case <-ctx.Done():
		return Resume{}, ctx.Err()
	}
}
