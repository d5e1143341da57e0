package mock

import (
	"context"
	"fmt"
	"sync"

	"cleanloop/internal/imagestore"
)

// Call is one recorded gridding engine invocation.
type Call struct {
	Op    string
	ID    int
	DoPsf bool
}

// RecordingEngine is a gridding engine that records every call and can be
// told to fail a given operation. OnGrid, when set, runs on every Grid call.
type RecordingEngine struct {
	mu     sync.Mutex
	calls  []Call
	failOn map[string]error

	OnGrid func(id int, store *imagestore.ImageStore, dopsf bool) error
}

// NewRecordingEngine creates an engine with no failures configured.
func NewRecordingEngine() *RecordingEngine {
	return &RecordingEngine{failOn: make(map[string]error)}
}

// FailOn makes every call to op return err.
func (e *RecordingEngine) FailOn(op string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failOn[op] = err
}

// Calls returns a copy of the recorded calls.
func (e *RecordingEngine) Calls() []Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Call(nil), e.calls...)
}

// Ops returns the recorded operation names as "op:id".
func (e *RecordingEngine) Ops() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ops := make([]string, len(e.calls))
	for i, c := range e.calls {
		ops[i] = fmt.Sprintf("%s:%d", c.Op, c.ID)
	}
	return ops
}

func (e *RecordingEngine) record(op string, id int, dopsf bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err, ok := e.failOn[op]; ok {
		return err
	}
	e.calls = append(e.calls, Call{Op: op, ID: id, DoPsf: dopsf})
	return nil
}

func (e *RecordingEngine) InitializeGrid(_ context.Context, id int, _ *imagestore.ImageStore, dopsf bool) error {
	return e.record("initializeGrid", id, dopsf)
}

func (e *RecordingEngine) Grid(_ context.Context, id int, store *imagestore.ImageStore, dopsf bool) error {
	if err := e.record("grid", id, dopsf); err != nil {
		return err
	}
	if e.OnGrid != nil {
		return e.OnGrid(id, store, dopsf)
	}
	return nil
}

func (e *RecordingEngine) FinalizeGrid(_ context.Context, id int, _ *imagestore.ImageStore, dopsf bool) error {
	return e.record("finalizeGrid", id, dopsf)
}

func (e *RecordingEngine) InitializeDegrid(_ context.Context, id int, _ *imagestore.ImageStore) error {
	return e.record("initializeDegrid", id, false)
}

func (e *RecordingEngine) Degrid(_ context.Context, id int, _ *imagestore.ImageStore) error {
	return e.record("degrid", id, false)
}

func (e *RecordingEngine) FinalizeDegrid(_ context.Context, id int, _ *imagestore.ImageStore) error {
	return e.record("finalizeDegrid", id, false)
}
