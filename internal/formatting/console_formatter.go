package formatting

import (
	"fmt"
	"io"
	"strings"

	"cleanloop/internal/api"
	"cleanloop/internal/summary"
)

// ConsoleFormatter provides simple console output formatting
type ConsoleFormatter struct {
	options Options
}

// NewConsoleFormatter creates a new console formatter
func NewConsoleFormatter(options Options) Formatter {
	return &ConsoleFormatter{
		options: options,
	}
}

// FormatRuns prints one line per run
func (f *ConsoleFormatter) FormatRuns(runs []summary.RunRecord) error {
	w := f.options.writer()
	if len(runs) == 0 {
		_, err := fmt.Fprintln(w, "No runs recorded.")
		return err
	}

	var output []string
	output = append(output, fmt.Sprintf("Recorded runs (%d):", len(runs)))
	for i, r := range runs {
		output = append(output, fmt.Sprintf("  %d. %s  %s  %-16s %d/%d iterations  peak %.4g",
			i+1, r.ID, r.StartedAt.Format("2006-01-02 15:04:05"), runStatus(r),
			r.Details.TotalIterationsDone, r.Details.TotalIterationsRequested, r.Details.PeakResidual))
	}
	_, err := fmt.Fprintln(w, strings.Join(output, "\n"))
	return err
}

// FormatRun prints the run header and its cycle log
func (f *ConsoleFormatter) FormatRun(run summary.RunRecord) error {
	w := f.options.writer()
	var output []string
	output = append(output, fmt.Sprintf("Run: %s", run.ID))
	output = append(output, fmt.Sprintf("Images: %s", strings.Join(run.Images, ", ")))
	output = append(output, fmt.Sprintf("Started: %s", run.StartedAt.Format("2006-01-02 15:04:05")))
	output = append(output, fmt.Sprintf("Duration: %s", formatDuration(run.Duration())))
	output = append(output, fmt.Sprintf("Status: %s", runStatus(run)))
	if run.Error != "" {
		output = append(output, fmt.Sprintf("Error: %s", run.Error))
	}
	if _, err := fmt.Fprintln(w, strings.Join(output, "\n")); err != nil {
		return err
	}
	if err := f.writeDetails(w, run.Details); err != nil {
		return err
	}

	output = output[:0]
	output = append(output, fmt.Sprintf("Major cycles (%d):", len(run.Summary.Major)))
	for _, row := range run.Summary.Major {
		output = append(output, fmt.Sprintf("  cycle %d: %d iterations done", row.Cycle, row.IterationsDone))
	}
	if !f.options.Quiet {
		output = append(output, fmt.Sprintf("Minor cycle iterations (%d):", len(run.Summary.Minor)))
		for _, row := range run.Summary.Minor {
			output = append(output, fmt.Sprintf("  iter %d mapper %d: peak %.4g flux %.4g cyclethreshold %.4g",
				row.Iteration, row.MapperID, row.PeakResidual, row.ModelFlux, row.CycleThreshold))
		}
	}
	_, err := fmt.Fprintln(w, strings.Join(output, "\n"))
	return err
}

// FormatDetails prints controller details as key: value lines
func (f *ConsoleFormatter) FormatDetails(details api.IterationDetails) error {
	return f.writeDetails(f.options.writer(), details)
}

func (f *ConsoleFormatter) writeDetails(w io.Writer, d api.IterationDetails) error {
	for _, kv := range detailPairs(d) {
		if _, err := fmt.Fprintf(w, "%-20s %s\n", kv[0]+":", kv[1]); err != nil {
			return err
		}
	}
	return nil
}

// SetOptions updates the formatter options
func (f *ConsoleFormatter) SetOptions(options Options) {
	f.options = options
}

// GetOptions returns the current formatter options
func (f *ConsoleFormatter) GetOptions() Options {
	return f.options
}

// detailPairs lists the details shown by the console and table views.
func detailPairs(d api.IterationDetails) [][2]string {
	return [][2]string{
		{"state", string(d.State)},
		{"iterations", fmt.Sprintf("%d/%d", d.TotalIterationsDone, d.TotalIterationsRequested)},
		{"cycleniter", fmt.Sprintf("%d", d.MaxCycleIterations)},
		{"loopgain", fmt.Sprintf("%g", d.LoopGain)},
		{"threshold", fmt.Sprintf("%g", d.GlobalThreshold)},
		{"cyclethreshold", fmt.Sprintf("%.4g", d.CycleThreshold)},
		{"cyclefactor", fmt.Sprintf("%g", d.CycleFactor)},
		{"psffraction", fmt.Sprintf("[%g, %g]", d.MinPsfFraction, d.MaxPsfFraction)},
		{"peak residual", fmt.Sprintf("%.4g", d.PeakResidual)},
		{"model flux", fmt.Sprintf("%.4g", d.ModelFlux)},
		{"psf sidelobe", fmt.Sprintf("%.4g", d.MaxPsfSidelobe)},
		{"major cycles", fmt.Sprintf("%d", d.MajorCycleCount)},
		{"minor cycles", fmt.Sprintf("%d", d.MinorCycleCount)},
		{"stop reason", d.StopCode.String()},
	}
}
