package app

import (
	"context"
	"fmt"
	"io"
	"os"

	"cleanloop/internal/config"
	"cleanloop/pkg/logging"
)

// Application bootstraps and runs one clean. It follows a two-phase
// pattern:
//  1. Bootstrap phase: load configuration, initialize logging, build the
//     mappers, workers, synchronizer, controller and runner
//  2. Execution phase: run the clean with the configured control backends
//     and persist its summary
//
// Example usage:
//
//	cfg := app.NewConfig(false, false, configPath)
//	application, err := app.NewApplication(cfg)
//	if err != nil {
//	    return fmt.Errorf("failed to create application: %w", err)
//	}
//	result, err := application.Run(ctx)
type Application struct {
	config   *Config
	services *Services
}

// NewApplication loads configuration and initializes all services. It
// returns an error if the configuration is invalid or a service cannot be
// built.
func NewApplication(cfg *Config) (*Application, error) {
	// Configure logging based on debug flag
	appLogLevel := logging.LevelInfo
	if cfg.Debug {
		appLogLevel = logging.LevelDebug
	}

	var logOutput io.Writer = os.Stdout
	if cfg.LogOutput != nil {
		logOutput = cfg.LogOutput
	}
	if cfg.Quiet {
		logOutput = io.Discard
	}
	logging.InitForCLI(appLogLevel, logOutput)

	if cfg.Cleanloop == nil {
		configPath := cfg.ConfigPath
		if configPath == "" {
			dir, err := config.GetUserConfigDir()
			if err != nil {
				return nil, err
			}
			configPath = dir
		}
		loaded, err := config.LoadConfig(configPath)
		if err != nil {
			logging.Error("Bootstrap", err, "Failed to load cleanloop configuration from path: %s", configPath)
			return nil, fmt.Errorf("failed to load cleanloop configuration from path %s: %w", configPath, err)
		}
		cfg.Cleanloop = &loaded
	}
	if cfg.Interactive {
		cfg.Cleanloop.Iteration.Interactive = true
		if cfg.Cleanloop.Control.ControlFile == "" {
			cfg.Cleanloop.Control.Prompt = true
		}
	}
	if cfg.MetricsListen != "" {
		cfg.Cleanloop.Metrics.Listen = cfg.MetricsListen
	}

	services, err := InitializeServices(cfg)
	if err != nil {
		logging.Error("Bootstrap", err, "Failed to initialize services")
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	return &Application{
		config:   cfg,
		services: services,
	}, nil
}

// Services exposes the initialized services.
func (a *Application) Services() *Services {
	return a.services
}

// Run executes the clean with the file watcher, prompt and metrics
// endpoint the configuration asks for, then saves the run summary.
func (a *Application) Run(ctx context.Context) (*Result, error) {
	return runClean(ctx, a.config, a.services)
}

// Serve executes the clean while serving the MCP control surface on
// in/out. It returns once the clean has finished and the client has
// disconnected.
func (a *Application) Serve(ctx context.Context, in io.Reader, out io.Writer) (*Result, error) {
	return serveClean(ctx, a.config, a.services, in, out)
}
