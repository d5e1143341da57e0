package control

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cleanloop/internal/api"
	"cleanloop/internal/iteration"
)

// scriptedReader returns queued lines and then blocks until closed.
type scriptedReader struct {
	lines  chan string
	closed chan struct{}
	once   sync.Once
}

func newScriptedReader(lines ...string) *scriptedReader {
	r := &scriptedReader{lines: make(chan string, len(lines)), closed: make(chan struct{})}
	for _, l := range lines {
		r.lines <- l
	}
	return r
}

func (r *scriptedReader) Readline() (string, error) {
	select {
	case l := <-r.lines:
		return l, nil
	case <-r.closed:
		return "", io.EOF
	}
}

func (r *scriptedReader) Close() error {
	r.once.Do(func() { close(r.closed) })
	return nil
}

// syncBuffer guards a bytes.Buffer written by the prompt goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testStatus() api.IterationDetails {
	return api.IterationDetails{State: api.StateMinorCyclePaused, TotalIterationsDone: 40, TotalIterationsRequested: 100, MajorCycleCount: 3}
}

func TestPromptHandle(t *testing.T) {
	tok := iteration.NewToken()
	p := NewPrompt(tok, testStatus, WithOutput(io.Discard))

	done, msg, err := p.Handle("status")
	require.NoError(t, err)
	assert.False(t, done)
	assert.Contains(t, msg, "iterations=40/100")
	assert.Contains(t, msg, "majorcycles=3")

	done, msg, err = p.Handle("help")
	require.NoError(t, err)
	assert.False(t, done)
	assert.Contains(t, msg, "cyclethreshold=X")

	_, _, err = p.Handle("continue loopgain=2")
	assert.True(t, api.IsInvalidParameter(err))

	done, _, err = p.Handle("pause")
	require.NoError(t, err)
	assert.False(t, done)

	done, _, err = p.Handle("stop")
	require.NoError(t, err)
	assert.True(t, done)
	assert.True(t, tok.Aborted())
}

func TestPromptResumesWait(t *testing.T) {
	tok := iteration.NewToken()
	out := &syncBuffer{}
	reader := newScriptedReader("", "status", "bogus", "continue niter=60 mapper1=skip")
	p := NewPrompt(tok, testStatus, WithOutput(out), WithReader(func() (LineReader, error) { return reader, nil }))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- p.Run(ctx) }()

	r, err := tok.Wait(context.Background())
	require.NoError(t, err)
	require.NotNil(t, r.Niter)
	assert.Equal(t, 60, *r.Niter)
	assert.Equal(t, map[int]api.ActionCode{1: api.ActionSkip}, r.Actions)

	cancel()
	select {
	case err := <-runErr:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("prompt did not exit after cancel")
	}

	text := out.String()
	assert.Contains(t, text, "paused at major cycle boundary")
	assert.Contains(t, text, "error:")
	assert.Contains(t, text, "resumed (niter=60 mapper1=skip)")
}

func TestPromptClosesWhenResumedElsewhere(t *testing.T) {
	tok := iteration.NewToken()
	reader := newScriptedReader()
	opened := make(chan struct{})
	p := NewPrompt(tok, testStatus, WithOutput(io.Discard), WithReader(func() (LineReader, error) {
		close(opened)
		return reader, nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = p.Run(ctx) }()

	waitErr := make(chan error, 1)
	go func() {
		_, err := tok.Wait(context.Background())
		waitErr <- err
	}()
	select {
	case <-opened:
	case <-time.After(2 * time.Second):
		t.Fatal("prompt did not open while paused")
	}

	_, err := tok.Continue(iteration.Resume{})
	require.NoError(t, err)
	require.NoError(t, <-waitErr)

	select {
	case <-reader.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("prompt reader was not closed after an external resume")
	}
}

func TestPromptExitsOnAbort(t *testing.T) {
	tok := iteration.NewToken()
	p := NewPrompt(tok, nil, WithOutput(io.Discard))

	runErr := make(chan error, 1)
	go func() { runErr <- p.Run(context.Background()) }()
	tok.Abort()

	select {
	case err := <-runErr:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("prompt did not exit after abort")
	}
	assert.Equal(t, "status unavailable", p.statusLine())
}
