package formatting

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"cleanloop/internal/api"
	"cleanloop/internal/summary"
)

// YAMLFormatter provides YAML output formatting
type YAMLFormatter struct {
	options Options
}

// NewYAMLFormatter creates a new YAML formatter
func NewYAMLFormatter(options Options) Formatter {
	return &YAMLFormatter{
		options: options,
	}
}

// FormatRuns writes the run list as a YAML sequence
func (f *YAMLFormatter) FormatRuns(runs []summary.RunRecord) error {
	return f.write(listView(runs, f.options.Quiet))
}

// FormatRun writes one run as YAML, the same document the store keeps
func (f *YAMLFormatter) FormatRun(run summary.RunRecord) error {
	if f.options.Quiet {
		run.Summary.Minor = nil
	}
	return f.write(run)
}

// FormatDetails writes controller details as YAML
func (f *YAMLFormatter) FormatDetails(details api.IterationDetails) error {
	return f.write(details)
}

// SetOptions updates the formatter options
func (f *YAMLFormatter) SetOptions(options Options) {
	f.options = options
}

// GetOptions returns the current formatter options
func (f *YAMLFormatter) GetOptions() Options {
	return f.options
}

// write marshals data and writes it out
func (f *YAMLFormatter) write(data interface{}) error {
	yamlBytes, err := yaml.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to format YAML: %w", err)
	}
	_, err = f.options.writer().Write(yamlBytes)
	return err
}
