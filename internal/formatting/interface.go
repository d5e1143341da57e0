// Package formatting renders persisted clean runs and live controller
// details for the CLI, in console, JSON, YAML or table form.
package formatting

import (
	"io"
	"os"

	"cleanloop/internal/api"
	"cleanloop/internal/summary"
)

// OutputFormat represents the desired output format
type OutputFormat string

const (
	FormatConsole OutputFormat = "console" // Simple console output
	FormatJSON    OutputFormat = "json"    // JSON output
	FormatYAML    OutputFormat = "yaml"    // YAML output
	FormatTable   OutputFormat = "table"   // Rich table output
)

// Options configures the formatter behavior
type Options struct {
	Format OutputFormat
	Quiet  bool      // Omit the per-iteration minor cycle rows
	Color  bool      // Enable colored output
	Writer io.Writer // Defaults to os.Stdout
}

func (o Options) writer() io.Writer {
	if o.Writer == nil {
		return os.Stdout
	}
	return o.Writer
}

// Formatter renders clean runs
type Formatter interface {
	FormatRuns(runs []summary.RunRecord) error
	FormatRun(run summary.RunRecord) error
	FormatDetails(details api.IterationDetails) error

	SetOptions(options Options)
	GetOptions() Options
}

// ParseFormat validates a user supplied format name.
func ParseFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(s); f {
	case FormatConsole, FormatJSON, FormatYAML, FormatTable:
		return f, nil
	default:
		return "", api.NewInvalidParameterError("output", s, "must be one of table, json, yaml, console")
	}
}

// Factory creates formatters for different output formats
type Factory interface {
	CreateFormatter(options Options) Formatter
}

// NewFactory creates a new formatter factory
func NewFactory() Factory {
	return &factory{}
}

// factory implements the Factory interface
type factory struct{}

// CreateFormatter creates the appropriate formatter based on options
func (f *factory) CreateFormatter(options Options) Formatter {
	switch options.Format {
	case FormatJSON:
		return NewJSONFormatter(options)
	case FormatYAML:
		return NewYAMLFormatter(options)
	case FormatTable:
		return NewTableFormatter(options)
	case FormatConsole:
		fallthrough
	default:
		return NewConsoleFormatter(options)
	}
}
