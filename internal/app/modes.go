package app

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"cleanloop/internal/api"
	"cleanloop/internal/control"
	"cleanloop/internal/controlsurface"
	"cleanloop/internal/metrics"
	"cleanloop/pkg/logging"
)

// Result describes a finished clean.
type Result struct {
	RunID    string
	StopCode api.StopCode
	Details  api.IterationDetails
}

// handleSignals turns the first SIGINT or SIGTERM into a graceful stop at
// the next check and the second into a hard cancel.
func handleSignals(ctx context.Context, s *Services, cancel context.CancelFunc) func() {
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		graceful := true
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-sigChan:
				if graceful {
					logging.Info("CLI", "Stopping after the current iteration. Interrupt again to abort immediately.")
					s.Token.Abort()
					graceful = false
					continue
				}
				logging.Info("CLI", "Aborting")
				cancel()
				return
			}
		}
	}()
	return func() {
		signal.Stop(sigChan)
		close(done)
	}
}

// startBackends starts the control file watcher, the prompt and the metrics
// endpoint as configured. The returned function stops them.
func startBackends(ctx context.Context, cfg *Config, s *Services, prompt bool) (func(), error) {
	cl := cfg.Cleanloop
	ctx, cancel := context.WithCancel(ctx)
	var stops []func()
	stopAll := func() {
		cancel()
		for i := len(stops) - 1; i >= 0; i-- {
			stops[i]()
		}
	}

	if cl.Control.ControlFile != "" {
		w := control.NewFileWatcher(cl.Control.ControlFile, s.Token,
			control.WithDebounce(cl.Control.Debounce),
			control.WithPollInterval(cl.Control.PollInterval))
		if err := w.Start(ctx); err != nil {
			stopAll()
			return nil, err
		}
		stops = append(stops, w.Stop)
	}

	if prompt && cl.Control.Prompt {
		p := control.NewPrompt(s.Token, s.Controller.GetIterationDetails)
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := p.Run(ctx); err != nil {
				logging.Error("CLI", err, "Prompt failed; use the control file or stop the run")
			}
		}()
		stops = append(stops, func() { <-done })
	}

	if cl.Metrics.Listen != "" {
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := metrics.Serve(ctx, cl.Metrics.Listen, s.Registry); err != nil {
				logging.Error("Metrics", err, "Metrics endpoint failed")
			}
		}()
		stops = append(stops, func() { <-done })
	}

	return stopAll, nil
}

// execute runs the clean and persists its summary whether or not it
// succeeded.
func execute(ctx context.Context, s *Services, images []string) (*Result, error) {
	rec := s.Summaries.Begin(s.Controller.Params(), images...)
	code, runErr := s.Runner.Run(ctx)
	if runErr != nil {
		logging.Error("CLI", runErr, "Clean failed")
	}

	details := s.Controller.GetIterationDetails()
	if err := s.Summaries.Finish(rec, details, s.Controller.GetIterationSummary(), runErr); err != nil {
		logging.Error("CLI", err, "Failed to save run summary %s", rec.ID)
		if runErr == nil {
			runErr = err
		}
	} else {
		logging.Info("CLI", "Run summary saved as %s", rec.ID)
	}
	return &Result{RunID: rec.ID, StopCode: code, Details: details}, runErr
}

// runClean executes the application in command line mode.
func runClean(ctx context.Context, cfg *Config, s *Services) (*Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer handleSignals(ctx, s, cancel)()

	stop, err := startBackends(ctx, cfg, s, true)
	if err != nil {
		return nil, err
	}
	defer stop()

	return execute(ctx, s, s.Images)
}

// serveClean executes the clean while the MCP control surface serves
// in/out. The prompt is never started because stdin belongs to the MCP
// session. When the client disconnects first the run is stopped.
func serveClean(ctx context.Context, cfg *Config, s *Services, in io.Reader, out io.Writer) (*Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stop, err := startBackends(ctx, cfg, s, false)
	if err != nil {
		return nil, err
	}
	defer stop()

	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	surface := controlsurface.New(s.Controller, s.Token, version)

	events := s.Controller.Subscribe()
	fwdCtx, stopForward := context.WithCancel(ctx)
	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		surface.ForwardStateEvents(fwdCtx, events)
	}()
	defer func() {
		stopForward()
		<-forwarded
	}()

	var result *Result
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		result, err = execute(ctx, s, s.Images)
		return err
	})
	g.Go(func() error {
		err := surface.Serve(gctx, in, out)
		if !s.Controller.State().IsTerminal() {
			logging.Info("ControlSurface", "Client disconnected, stopping the run")
			s.Token.Abort()
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
			return nil
		}
		return err
	})
	err = g.Wait()
	return result, err
}
