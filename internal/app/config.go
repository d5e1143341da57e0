package app

import (
	"io"

	"cleanloop/internal/config"
)

// Config holds the application configuration
type Config struct {
	// Debug settings
	Debug bool

	// Quiet suppresses log output and the progress spinner
	Quiet bool

	// Interactive pauses at every major cycle boundary, overriding the file
	Interactive bool

	// ConfigPath is the directory holding config.yaml
	ConfigPath string

	// MetricsListen overrides metrics.listen from the file when set
	MetricsListen string

	// Version is reported by the MCP control surface
	Version string

	// LogOutput receives log lines. Defaults to stdout; serve mode uses
	// stderr because stdout carries the MCP session.
	LogOutput io.Writer

	// Cleanloop is the loaded configuration file
	Cleanloop *config.CleanloopConfig
}

// NewConfig creates a new application configuration
func NewConfig(debug, quiet bool, configPath string) *Config {
	return &Config{
		Debug:      debug,
		Quiet:      quiet,
		ConfigPath: configPath,
	}
}
