package formatting

import (
	"fmt"

	"cleanloop/internal/api"
	"cleanloop/internal/summary"
)

// JSONFormatter provides structured JSON output formatting
type JSONFormatter struct {
	options Options
}

// NewJSONFormatter creates a new JSON formatter
func NewJSONFormatter(options Options) Formatter {
	return &JSONFormatter{
		options: options,
	}
}

// FormatRuns writes the run list as a JSON array
func (f *JSONFormatter) FormatRuns(runs []summary.RunRecord) error {
	return f.write(listView(runs, f.options.Quiet))
}

// FormatRun writes one run as JSON
func (f *JSONFormatter) FormatRun(run summary.RunRecord) error {
	if f.options.Quiet {
		run.Summary.Minor = nil
	}
	return f.write(run)
}

// FormatDetails writes controller details as JSON
func (f *JSONFormatter) FormatDetails(details api.IterationDetails) error {
	return f.write(details)
}

// SetOptions updates the formatter options
func (f *JSONFormatter) SetOptions(options Options) {
	f.options = options
}

// GetOptions returns the current formatter options
func (f *JSONFormatter) GetOptions() Options {
	return f.options
}

func (f *JSONFormatter) write(v interface{}) error {
	_, err := fmt.Fprintln(f.options.writer(), PrettyJSON(v))
	return err
}
