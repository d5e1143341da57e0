package control

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"cleanloop/internal/api"
	"cleanloop/internal/iteration"
	"cleanloop/pkg/logging"
)

// Action is what an operator asks the run to do.
type Action string

const (
	ActionPause    Action = "pause"
	ActionContinue Action = "continue"
	ActionStop     Action = "stop"
	ActionStatus   Action = "status"
	ActionHelp     Action = "help"
)

// Command is a parsed operator request. Resume is only used by continue.
type Command struct {
	Action Action
	Resume iteration.Resume
}

// File is the YAML document read from the control file.
//
//	action: continue
//	niter: 500
//	threshold: 0.002
//	mappers:
//	  1: skip
type File struct {
	Action         string         `yaml:"action"`
	Niter          *int           `yaml:"niter,omitempty"`
	CycleNiter     *int           `yaml:"cycleniter,omitempty"`
	Threshold      *float64       `yaml:"threshold,omitempty"`
	CycleThreshold *float64       `yaml:"cyclethreshold,omitempty"`
	LoopGain       *float64       `yaml:"loopgain,omitempty"`
	Mappers        map[int]string `yaml:"mappers,omitempty"`
}

// ParseFile decodes a control file into a command.
func ParseFile(data []byte) (Command, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Command{}, fmt.Errorf("failed to parse control file: %w", err)
	}
	action, err := parseAction(f.Action)
	if err != nil {
		return Command{}, err
	}
	if action == ActionStatus || action == ActionHelp {
		return Command{}, api.NewInvalidParameterError("action", f.Action, "must be pause, continue or stop")
	}
	cmd := Command{
		Action: action,
		Resume: iteration.Resume{
			Niter:          f.Niter,
			CycleNiter:     f.CycleNiter,
			Threshold:      f.Threshold,
			CycleThreshold: f.CycleThreshold,
			LoopGain:       f.LoopGain,
		},
	}
	for id, name := range f.Mappers {
		code, err := ParseMapperAction(name)
		if err != nil {
			return Command{}, err
		}
		if cmd.Resume.Actions == nil {
			cmd.Resume.Actions = make(map[int]api.ActionCode)
		}
		cmd.Resume.Actions[id] = code
	}
	if err := cmd.Resume.Validate(); err != nil {
		return Command{}, err
	}
	return cmd, nil
}

// ParseCommand parses one prompt line of the form
//
//	continue niter=500 threshold=0.002 mapper1=skip
//
// Only continue accepts key=value arguments.
func ParseCommand(line string) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, api.NewInvalidParameterError("command", line, "empty command")
	}
	action, err := parseAction(fields[0])
	if err != nil {
		return Command{}, err
	}
	cmd := Command{Action: action}
	args := fields[1:]
	if len(args) > 0 && action != ActionContinue {
		return Command{}, api.NewInvalidParameterError("command", line, fmt.Sprintf("%s takes no arguments", action))
	}
	for _, arg := range args {
		if err := setArg(&cmd.Resume, arg); err != nil {
			return Command{}, err
		}
	}
	if err := cmd.Resume.Validate(); err != nil {
		return Command{}, err
	}
	return cmd, nil
}

func parseAction(s string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pause", "p":
		return ActionPause, nil
	case "continue", "resume", "c":
		return ActionContinue, nil
	case "stop", "abort", "quit", "q":
		return ActionStop, nil
	case "status", "s":
		return ActionStatus, nil
	case "help", "?":
		return ActionHelp, nil
	default:
		return "", api.NewInvalidParameterError("action", s, "unknown action")
	}
}

// ParseMapperAction parses a per-mapper action by name or code.
func ParseMapperAction(s string) (api.ActionCode, error) {
	switch strings.ToLower(s) {
	case "continue", "0":
		return api.ActionContinue, nil
	case "skip", "1":
		return api.ActionSkip, nil
	case "stop", "2":
		return api.ActionStop, nil
	default:
		return 0, api.NewInvalidParameterError("action", s, "must be continue, skip or stop")
	}
}

func setArg(r *iteration.Resume, arg string) error {
	key, value, ok := strings.Cut(arg, "=")
	if !ok || value == "" {
		return api.NewInvalidParameterError("argument", arg, "expected key=value")
	}
	key = strings.ToLower(key)

	if idText, found := strings.CutPrefix(key, "mapper"); found {
		id, err := strconv.Atoi(idText)
		if err != nil || id < 0 {
			return api.NewInvalidParameterError("argument", arg, "mapper id must be a non-negative integer")
		}
		code, err := ParseMapperAction(value)
		if err != nil {
			return err
		}
		if r.Actions == nil {
			r.Actions = make(map[int]api.ActionCode)
		}
		r.Actions[id] = code
		return nil
	}

	switch key {
	case "niter", "cycleniter":
		n, err := strconv.Atoi(value)
		if err != nil {
			return api.NewInvalidParameterError(key, value, "must be an integer")
		}
		if key == "niter" {
			r.Niter = &n
		} else {
			r.CycleNiter = &n
		}
	case "threshold", "cyclethreshold", "loopgain":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return api.NewInvalidParameterError(key, value, "must be a number")
		}
		switch key {
		case "threshold":
			r.Threshold = &v
		case "cyclethreshold":
			r.CycleThreshold = &v
		default:
			r.LoopGain = &v
		}
	default:
		return api.NewInvalidParameterError("argument", key, "unknown parameter")
	}
	return nil
}

// Apply hands a command to the token and returns a short human-readable
// result. source names the backend in the audit log. Status and help are
// answered by the caller.
func Apply(tok *iteration.Token, cmd Command, source string) (string, error) {
	msg, err := apply(tok, cmd)
	event := logging.AuditEvent{
		Action:  string(cmd.Action),
		Source:  source,
		Outcome: "success",
	}
	if err != nil {
		event.Outcome = "rejected"
		event.Details = map[string]string{"reason": err.Error()}
	} else if d := describeResume(cmd.Resume); d != "" {
		event.Details = map[string]string{"changes": strings.Trim(d, " ()")}
	}
	logging.Audit(event)
	return msg, err
}

func apply(tok *iteration.Token, cmd Command) (string, error) {
	switch cmd.Action {
	case ActionPause:
		tok.RequestPause()
		return "pause requested; the run stops at the next major cycle boundary", nil
	case ActionContinue:
		released, err := tok.Continue(cmd.Resume)
		if err != nil {
			return "", err
		}
		if released {
			return "resumed" + describeResume(cmd.Resume), nil
		}
		return "queued for the next pause" + describeResume(cmd.Resume), nil
	case ActionStop:
		tok.Abort()
		return "stop requested", nil
	default:
		return "", api.NewInvalidParameterError("action", string(cmd.Action), "cannot be applied to a run")
	}
}

func describeResume(r iteration.Resume) string {
	if r.IsEmpty() {
		return ""
	}
	var parts []string
	if r.Niter != nil {
		parts = append(parts, fmt.Sprintf("niter=%d", *r.Niter))
	}
	if r.CycleNiter != nil {
		parts = append(parts, fmt.Sprintf("cycleniter=%d", *r.CycleNiter))
	}
	if r.Threshold != nil {
		parts = append(parts, fmt.Sprintf("threshold=%g", *r.Threshold))
	}
	if r.CycleThreshold != nil {
		parts = append(parts, fmt.Sprintf("cyclethreshold=%g", *r.CycleThreshold))
	}
	if r.LoopGain != nil {
		parts = append(parts, fmt.Sprintf("loopgain=%g", *r.LoopGain))
	}
	ids := make([]int, 0, len(r.Actions))
	for id := range r.Actions {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf("mapper%d=%s", id, r.Actions[id]))
	}
	return " (" + strings.Join(parts, " ") + ")"
}
