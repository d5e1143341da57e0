package formatting

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"cleanloop/internal/api"
	"cleanloop/internal/summary"
	pkgstrings "cleanloop/pkg/strings"
)

// TableFormatter provides rich table output formatting
type TableFormatter struct {
	options Options
}

// NewTableFormatter creates a new table formatter
func NewTableFormatter(options Options) Formatter {
	return &TableFormatter{
		options: options,
	}
}

// FormatRuns renders the run list
func (f *TableFormatter) FormatRuns(runs []summary.RunRecord) error {
	w := f.options.writer()
	if len(runs) == 0 {
		_, err := fmt.Fprint(w, f.formatEmptyMessage("No runs recorded"))
		return err
	}

	t := f.createTable(w)
	t.AppendHeader(f.header("ID", "STARTED", "DURATION", "STATUS", "ITERATIONS", "MAJOR", "PEAK", "FLUX", "IMAGES"))
	for _, r := range runs {
		t.AppendRow(table.Row{
			f.key(shortID(r.ID)),
			r.StartedAt.Format("2006-01-02 15:04:05"),
			formatDuration(r.Duration()),
			f.status(r),
			fmt.Sprintf("%d/%d", r.Details.TotalIterationsDone, r.Details.TotalIterationsRequested),
			r.Details.MajorCycleCount,
			fmt.Sprintf("%.4g", r.Details.PeakResidual),
			fmt.Sprintf("%.4g", r.Details.ModelFlux),
			pkgstrings.JoinTruncated(r.Images, ",", pkgstrings.DefaultColumnMaxLen),
		})
	}
	t.Render()

	_, err := fmt.Fprintf(w, "\n%s %s %s\n",
		f.paint(text.FgHiBlue, "Total:"),
		f.paint(text.FgHiWhite, fmt.Sprint(len(runs))),
		f.paint(text.FgHiBlue, "runs"))
	return err
}

// FormatRun renders the run details, the major cycle log and, unless
// quiet, the minor cycle log
func (f *TableFormatter) FormatRun(run summary.RunRecord) error {
	w := f.options.writer()

	info := f.createTable(w)
	info.SetTitle("Run " + run.ID)
	info.AppendHeader(f.header("KEY", "VALUE"))
	info.AppendRow(table.Row{f.key("images"), strings.Join(run.Images, ", ")})
	info.AppendRow(table.Row{f.key("started"), run.StartedAt.Format("2006-01-02 15:04:05")})
	info.AppendRow(table.Row{f.key("duration"), formatDuration(run.Duration())})
	info.AppendRow(table.Row{f.key("status"), f.status(run)})
	if run.Error != "" {
		info.AppendRow(table.Row{f.key("error"), f.paint(text.FgRed, pkgstrings.Truncate(run.Error, pkgstrings.DefaultMessageMaxLen))})
	}
	for _, kv := range detailPairs(run.Details) {
		info.AppendRow(table.Row{f.key(kv[0]), kv[1]})
	}
	info.Render()
	fmt.Fprintln(w)

	major := f.createTable(w)
	major.SetTitle("Major cycles")
	major.AppendHeader(f.header("CYCLE", "ITERATIONS DONE"))
	for _, row := range run.Summary.Major {
		major.AppendRow(table.Row{row.Cycle, row.IterationsDone})
	}
	major.Render()

	if f.options.Quiet || len(run.Summary.Minor) == 0 {
		return nil
	}
	fmt.Fprintln(w)

	minor := f.createTable(w)
	minor.SetTitle("Minor cycle iterations")
	minor.AppendHeader(f.header("ITERATION", "MAPPER", "PEAK", "FLUX", "CYCLE THRESHOLD"))
	for _, row := range run.Summary.Minor {
		minor.AppendRow(table.Row{
			row.Iteration,
			row.MapperID,
			fmt.Sprintf("%.4g", row.PeakResidual),
			fmt.Sprintf("%.4g", row.ModelFlux),
			fmt.Sprintf("%.4g", row.CycleThreshold),
		})
	}
	minor.Render()
	return nil
}

// FormatDetails renders controller details as key-value pairs
func (f *TableFormatter) FormatDetails(details api.IterationDetails) error {
	t := f.createTable(f.options.writer())
	t.AppendHeader(f.header("KEY", "VALUE"))
	for _, kv := range detailPairs(details) {
		t.AppendRow(table.Row{f.key(kv[0]), kv[1]})
	}
	t.Render()
	return nil
}

// SetOptions updates the formatter options
func (f *TableFormatter) SetOptions(options Options) {
	f.options = options
}

// GetOptions returns the current formatter options
func (f *TableFormatter) GetOptions() Options {
	return f.options
}

// Helper methods

// createTable creates a new table with standard styling
func (f *TableFormatter) createTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	return t
}

func (f *TableFormatter) paint(c text.Color, s string) string {
	if !f.options.Color {
		return s
	}
	return c.Sprint(s)
}

func (f *TableFormatter) header(names ...string) table.Row {
	row := make(table.Row, len(names))
	for i, n := range names {
		row[i] = f.paint(text.FgHiCyan, n)
	}
	return row
}

func (f *TableFormatter) key(s string) string {
	return f.paint(text.FgHiCyan, s)
}

func (f *TableFormatter) status(r summary.RunRecord) string {
	s := runStatus(r)
	switch {
	case r.Error != "":
		return f.paint(text.FgRed, s)
	case r.Details.StopCode == api.StopForce:
		return f.paint(text.FgYellow, s)
	default:
		return f.paint(text.FgGreen, s)
	}
}

// formatEmptyMessage formats empty result messages
func (f *TableFormatter) formatEmptyMessage(message string) string {
	return fmt.Sprintf("%s\n", f.paint(text.FgYellow, message))
}
