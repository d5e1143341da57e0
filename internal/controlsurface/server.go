package controlsurface

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"cleanloop/internal/api"
	"cleanloop/internal/control"
	"cleanloop/internal/iteration"
	"cleanloop/pkg/logging"
)

const sourceMCP = "mcp"

// StateNotificationMethod is the MCP notification sent to connected clients
// on every controller state transition.
const StateNotificationMethod = "notifications/cleanloop/state"

// Controller is the read side of the iteration controller the tools expose.
type Controller interface {
	GetIterationDetails() api.IterationDetails
	GetIterationSummary() api.IterationSummary
	CleanComplete() bool
}

// Server exposes a running clean as MCP tools.
type Server struct {
	ctrl      Controller
	tok       *iteration.Token
	mcpServer *server.MCPServer
}

// New creates the control surface for ctrl, steering the run through tok.
func New(ctrl Controller, tok *iteration.Token, version string) *Server {
	mcpServer := server.NewMCPServer(
		"cleanloop",
		version,
		server.WithToolCapabilities(false),
	)
	s := &Server{
		ctrl:      ctrl,
		tok:       tok,
		mcpServer: mcpServer,
	}
	s.registerTools()
	return s
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// Serve speaks MCP over in/out until ctx is cancelled or in is closed.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	logging.Info("ControlSurface", "Serving MCP control tools on stdio")
	return server.NewStdioServer(s.mcpServer).Listen(ctx, in, out)
}

// ForwardStateEvents sends every event read from events to the connected
// MCP clients until events is closed or ctx is done.
func (s *Server) ForwardStateEvents(ctx context.Context, events <-chan api.StateEvent) {
	forwardStateEvents(ctx, events, s.mcpServer.SendNotificationToAllClients)
}

func forwardStateEvents(ctx context.Context, events <-chan api.StateEvent, send func(method string, params map[string]any)) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			logging.Debug("ControlSurface", "Notifying clients of state %s -> %s", ev.Previous, ev.Current)
			send(StateNotificationMethod, stateParams(ev))
		}
	}
}

func stateParams(ev api.StateEvent) map[string]any {
	params := map[string]any{
		"previous":  string(ev.Previous),
		"current":   string(ev.Current),
		"timestamp": ev.Timestamp.Format(time.RFC3339Nano),
	}
	if ev.Current.IsTerminal() {
		params["stopCode"] = int(ev.StopCode)
		params["stopReason"] = ev.StopCode.String()
	}
	return params
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("get_iteration_details",
		mcp.WithDescription("Current controller state, counters, thresholds and stop reason"),
	), s.handleGetIterationDetails)

	s.mcpServer.AddTool(mcp.NewTool("get_iteration_summary",
		mcp.WithDescription("Minor and major cycle summary log of the run so far"),
	), s.handleGetIterationSummary)

	s.mcpServer.AddTool(mcp.NewTool("pause",
		mcp.WithDescription("Pause the run at the next major cycle boundary"),
	), s.handlePause)

	s.mcpServer.AddTool(mcp.NewTool("resume",
		mcp.WithDescription("Resume a paused run, optionally changing parameters. Changes sent while running are applied at the next pause."),
		mcp.WithNumber("niter", mcp.Description("New total iteration limit")),
		mcp.WithNumber("cycleniter", mcp.Description("New per-cycle iteration cap")),
		mcp.WithNumber("threshold", mcp.Description("New global threshold")),
		mcp.WithNumber("cyclethreshold", mcp.Description("Cycle threshold for the next minor cycle only")),
		mcp.WithNumber("loopgain", mcp.Description("New loop gain in (0,1]")),
		mcp.WithObject("mapper_actions",
			mcp.Description(`Per-mapper actions keyed by mapper id, e.g. {"1": "skip"}. Values: continue, skip, stop`),
		),
	), s.handleResume)

	s.mcpServer.AddTool(mcp.NewTool("stop",
		mcp.WithDescription("Stop the run at the next boundary"),
	), s.handleStop)

	s.mcpServer.AddTool(mcp.NewTool("clean_complete",
		mcp.WithDescription("Whether the run has reached a stopping condition"),
	), s.handleCleanComplete)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to format result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) handleGetIterationDetails(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.ctrl.GetIterationDetails())
}

func (s *Server) handleGetIterationSummary(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.ctrl.GetIterationSummary())
}

func (s *Server) handleCleanComplete(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	d := s.ctrl.GetIterationDetails()
	return jsonResult(map[string]any{
		"complete":   s.ctrl.CleanComplete(),
		"stopCode":   d.StopCode,
		"stopReason": d.StopReason,
	})
}

func (s *Server) handlePause(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.apply(control.Command{Action: control.ActionPause})
}

func (s *Server) handleStop(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.apply(control.Command{Action: control.ActionStop})
}

func (s *Server) handleResume(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	r, err := resumeFromArgs(request.GetArguments())
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return s.apply(control.Command{Action: control.ActionContinue, Resume: r})
}

func (s *Server) apply(cmd control.Command) (*mcp.CallToolResult, error) {
	msg, err := control.Apply(s.tok, cmd, sourceMCP)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(msg), nil
}

// resumeFromArgs maps tool arguments onto a Resume. JSON numbers arrive as float64.
func resumeFromArgs(args map[string]any) (iteration.Resume, error) {
	var r iteration.Resume

	intArg := func(key string) (*int, error) {
		raw, ok := args[key]
		if !ok || raw == nil {
			return nil, nil
		}
		f, ok := raw.(float64)
		if !ok || f != math.Trunc(f) {
			return nil, api.NewInvalidParameterError(key, raw, "must be an integer")
		}
		n := int(f)
		return &n, nil
	}
	floatArg := func(key string) (*float64, error) {
		raw, ok := args[key]
		if !ok || raw == nil {
			return nil, nil
		}
		f, ok := raw.(float64)
		if !ok {
			return nil, api.NewInvalidParameterError(key, raw, "must be a number")
		}
		return &f, nil
	}

	var err error
	if r.Niter, err = intArg("niter"); err != nil {
		return r, err
	}
	if r.CycleNiter, err = intArg("cycleniter"); err != nil {
		return r, err
	}
	if r.Threshold, err = floatArg("threshold"); err != nil {
		return r, err
	}
	if r.CycleThreshold, err = floatArg("cyclethreshold"); err != nil {
		return r, err
	}
	if r.LoopGain, err = floatArg("loopgain"); err != nil {
		return r, err
	}

	if raw, ok := args["mapper_actions"]; ok && raw != nil {
		actions, ok := raw.(map[string]any)
		if !ok {
			return r, api.NewInvalidParameterError("mapper_actions", raw, "must be an object")
		}
		r.Actions = make(map[int]api.ActionCode, len(actions))
		for key, value := range actions {
			id, err := strconv.Atoi(key)
			if err != nil || id < 0 {
				return r, api.NewInvalidParameterError("mapper_actions", key, "keys must be mapper ids")
			}
			name, ok := value.(string)
			if !ok {
				return r, api.NewInvalidParameterError("mapper_actions", value, "values must be strings")
			}
			code, err := control.ParseMapperAction(name)
			if err != nil {
				return r, err
			}
			r.Actions[id] = code
		}
	}
	return r, r.Validate()
}
