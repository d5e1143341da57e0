package control

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/chzyer/readline"

	"cleanloop/internal/api"
	"cleanloop/internal/iteration"
	"cleanloop/pkg/logging"
)

const sourcePrompt = "prompt"

const promptHelp = `commands while paused:
  continue [niter=N] [cycleniter=N] [threshold=X] [cyclethreshold=X] [loopgain=X] [mapperN=continue|skip|stop]
  status   show the controller state
  stop     end the run after this boundary
  help     show this text`

// LineReader reads operator input one line at a time.
type LineReader interface {
	Readline() (string, error)
	Close() error
}

// StatusFunc reports the current controller state for the status command.
type StatusFunc func() api.IterationDetails

// Prompt is an interactive prompt that opens whenever the run blocks on
// its token and closes once the run is released, by this prompt or by any
// other control backend.
type Prompt struct {
	tok       *iteration.Token
	status    StatusFunc
	out       io.Writer
	newReader func() (LineReader, error)

	waiting  chan struct{}
	released chan struct{}
}

// PromptOption configures a Prompt.
type PromptOption func(*Prompt)

// WithOutput sets where prompt messages are written.
func WithOutput(w io.Writer) PromptOption {
	return func(p *Prompt) {
		p.out = w
	}
}

// WithReader replaces the readline terminal reader.
func WithReader(fn func() (LineReader, error)) PromptOption {
	return func(p *Prompt) {
		p.newReader = fn
	}
}

// NewPrompt creates a prompt bound to tok.
func NewPrompt(tok *iteration.Token, status StatusFunc, opts ...PromptOption) *Prompt {
	p := &Prompt{
		tok:       tok,
		status:    status,
		out:       os.Stdout,
		newReader: newTerminalReader,
		waiting:   make(chan struct{}, 1),
		released:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	tok.OnChange(func(ev iteration.TokenEvent) {
		switch ev {
		case iteration.TokenWaiting:
			signal(p.waiting)
		case iteration.TokenResumed, iteration.TokenAborted:
			signal(p.released)
		}
	})
	return p
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func newTerminalReader() (LineReader, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "clean> ",
		HistoryFile:     filepath.Join(os.TempDir(), ".cleanloop_history"),
		InterruptPrompt: "^C",
		EOFPrompt:       "continue",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline instance: %w", err)
	}
	return rl, nil
}

// Run serves pauses until ctx ends or the token is aborted.
func (p *Prompt) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.tok.Done():
			return nil
		case <-p.waiting:
		}
		if err := p.session(ctx); err != nil {
			return err
		}
	}
}

// session reads commands for one pause.
func (p *Prompt) session(ctx context.Context) error {
	select {
	case <-p.released:
	default:
	}
	if !p.tok.Waiting() {
		return nil
	}

	rl, err := p.newReader()
	if err != nil {
		return err
	}
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-p.released:
		case <-ctx.Done():
		case <-stop:
		}
		rl.Close()
	}()

	fmt.Fprintln(p.out, "paused at major cycle boundary")
	fmt.Fprintln(p.out, p.statusLine())

	for {
		line, err := rl.Readline()
		if !p.tok.Waiting() {
			return nil
		}
		switch {
		case errors.Is(err, readline.ErrInterrupt):
			continue
		case errors.Is(err, io.EOF):
			line = string(ActionContinue)
		case err != nil:
			return fmt.Errorf("readline error: %w", err)
		}
		if line == "" {
			continue
		}

		done, msg, err := p.Handle(line)
		if err != nil {
			fmt.Fprintf(p.out, "error: %v\n", err)
			continue
		}
		fmt.Fprintln(p.out, msg)
		if done {
			return nil
		}
	}
}

// Handle executes one prompt line. done reports whether the pause was
// ended by it.
func (p *Prompt) Handle(line string) (done bool, msg string, err error) {
	cmd, err := ParseCommand(line)
	if err != nil {
		return false, "", err
	}
	switch cmd.Action {
	case ActionStatus:
		return false, p.statusLine(), nil
	case ActionHelp:
		return false, promptHelp, nil
	}
	msg, err = Apply(p.tok, cmd, sourcePrompt)
	if err != nil {
		return false, "", err
	}
	logging.Debug("Control", "Prompt command %q: %s", line, msg)
	return cmd.Action != ActionPause, msg, nil
}

func (p *Prompt) statusLine() string {
	if p.status == nil {
		return "status unavailable"
	}
	d := p.status()
	return fmt.Sprintf("state=%s iterations=%d/%d peak=%.4g threshold=%g cyclethreshold=%.4g majorcycles=%d flux=%.4g",
		d.State, d.TotalIterationsDone, d.TotalIterationsRequested, d.PeakResidual,
		d.GlobalThreshold, d.CycleThreshold, d.MajorCycleCount, d.ModelFlux)
}
