package logging

import (
	"fmt"
	"sort"
	"strings"
)

// AuditEvent records an operator action against a running clean.
type AuditEvent struct {
	// Action is the verb, e.g. "pause", "resume", "stop", "change_threshold".
	Action string
	// Source identifies where the action came from (prompt, control-file, mcp).
	Source string
	// Outcome is "success" or "rejected".
	Outcome string
	// Details holds parameter changes or the rejection reason.
	Details map[string]string
}

// Audit logs an operator action at INFO level with an [AUDIT] prefix.
func Audit(event AuditEvent) {
	outcome := event.Outcome
	if outcome == "" {
		outcome = "success"
	}
	msg := fmt.Sprintf("[AUDIT] action=%s source=%s outcome=%s", event.Action, event.Source, outcome)
	if len(event.Details) > 0 {
		keys := make([]string, 0, len(event.Details))
		for k := range event.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+"="+event.Details[k])
		}
		msg += " " + strings.Join(parts, " ")
	}
	logInternal(LevelInfo, "Audit", nil, "%s", msg)
}
