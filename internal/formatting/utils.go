package formatting

import (
	"encoding/json"
	"fmt"
	"time"

	"cleanloop/internal/api"
	"cleanloop/internal/summary"
)

// PrettyJSON formats any value as indented JSON for human-readable display.
// It handles marshaling errors gracefully by falling back to fmt.Sprintf.
//
// Example:
//
//	fmt.Println(formatting.PrettyJSON(ctrl.GetIterationDetails()))
func PrettyJSON(v interface{}) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// shortID trims a run id to its first block for list views.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// formatDuration renders a run duration, or "-" for an unfinished run.
func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Round(time.Millisecond).String()
}

// runStatus summarizes how a run ended.
func runStatus(r summary.RunRecord) string {
	if r.Error != "" {
		return "failed"
	}
	if r.Details.StopCode == api.StopNone {
		return string(r.Details.State)
	}
	return r.Details.StopCode.String()
}

// listView returns a copy of runs for output, never nil, without the minor
// cycle rows when quiet is set.
func listView(runs []summary.RunRecord, quiet bool) []summary.RunRecord {
	out := make([]summary.RunRecord, len(runs))
	copy(out, runs)
	if quiet {
		for i := range out {
			out[i].Summary.Minor = nil
		}
	}
	return out
}
