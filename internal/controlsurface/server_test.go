package controlsurface

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	mcp_client "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cleanloop/internal/api"
	"cleanloop/internal/iteration"
)

func newTestServer(t *testing.T) (*Server, *iteration.Controller, *iteration.Token) {
	t.Helper()
	ctrl := iteration.New()
	require.NoError(t, ctrl.SetupIteration(api.IterationParams{Niter: 50, CycleNiter: 10, LoopGain: 0.1, Threshold: 0.01}))
	tok := iteration.NewToken()
	return New(ctrl, tok, "test"), ctrl, tok
}

func callRequest(name string, args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	if args != nil {
		req.Params.Arguments = args
	}
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.Len(t, result.Content, 1)
	text, ok := mcp.AsTextContent(result.Content[0])
	require.True(t, ok)
	return text.Text
}

func TestGetIterationDetails(t *testing.T) {
	s, _, _ := newTestServer(t)

	result, err := s.handleGetIterationDetails(context.Background(), callRequest("get_iteration_details", nil))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var details api.IterationDetails
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &details))
	assert.Equal(t, api.StateConfigured, details.State)
	assert.Equal(t, 50, details.TotalIterationsRequested)
	assert.Equal(t, 10, details.MaxCycleIterations)
}

func TestGetIterationSummary(t *testing.T) {
	s, ctrl, _ := newTestServer(t)
	require.NoError(t, ctrl.EndMajorCycle())

	result, err := s.handleGetIterationSummary(context.Background(), callRequest("get_iteration_summary", nil))
	require.NoError(t, err)

	var sum api.IterationSummary
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &sum))
	require.Len(t, sum.Major, 1)
	assert.Equal(t, 1, sum.Major[0].Cycle)
}

func TestCleanComplete(t *testing.T) {
	s, ctrl, _ := newTestServer(t)

	result, err := s.handleCleanComplete(context.Background(), callRequest("clean_complete", nil))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), `"complete": false`)

	ctrl.Abort()
	result, err = s.handleCleanComplete(context.Background(), callRequest("clean_complete", nil))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, `"complete": true`)
	assert.Contains(t, text, `"stopCode": 3`)
}

func TestPauseAndStop(t *testing.T) {
	s, _, tok := newTestServer(t)

	result, err := s.handlePause(context.Background(), callRequest("pause", nil))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.True(t, tok.PauseRequested())

	result, err = s.handleStop(context.Background(), callRequest("stop", nil))
	require.NoError(t, err)
	assert.Equal(t, "stop requested", resultText(t, result))
	assert.True(t, tok.Aborted())
}

func TestResumeReleasesWait(t *testing.T) {
	s, _, tok := newTestServer(t)

	got := make(chan iteration.Resume, 1)
	go func() {
		r, err := tok.Wait(context.Background())
		if err == nil {
			got <- r
		}
	}()
	require.Eventually(t, tok.Waiting, 2*time.Second, 5*time.Millisecond)

	result, err := s.handleResume(context.Background(), callRequest("resume", map[string]any{
		"niter":          float64(80),
		"threshold":      0.005,
		"mapper_actions": map[string]any{"2": "stop"},
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	select {
	case r := <-got:
		require.NotNil(t, r.Niter)
		assert.Equal(t, 80, *r.Niter)
		assert.Equal(t, 0.005, *r.Threshold)
		assert.Equal(t, map[int]api.ActionCode{2: api.ActionStop}, r.Actions)
	case <-time.After(2 * time.Second):
		t.Fatal("resume did not release the wait")
	}
}

func TestResumeRejectsBadArguments(t *testing.T) {
	tests := map[string]map[string]any{
		"fractional niter":   {"niter": 2.5},
		"string threshold":   {"threshold": "low"},
		"gain out of range":  {"loopgain": 0.0},
		"actions not object": {"mapper_actions": "skip"},
		"bad mapper key":     {"mapper_actions": map[string]any{"first": "skip"}},
		"bad mapper action":  {"mapper_actions": map[string]any{"0": "pause"}},
		"numeric action":     {"mapper_actions": map[string]any{"0": 1.0}},
	}
	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			s, _, _ := newTestServer(t)
			result, err := s.handleResume(context.Background(), callRequest("resume", args))
			require.NoError(t, err)
			assert.True(t, result.IsError)
		})
	}
}

func TestToolsOverInProcessClient(t *testing.T) {
	s, _, tok := newTestServer(t)
	ctx := context.Background()

	c, err := mcp_client.NewInProcessClient(s.MCPServer())
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.Start(ctx))

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "test", Version: "1.0.0"}
	_, err = c.Initialize(ctx, initReq)
	require.NoError(t, err)

	tools, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	require.NoError(t, err)
	var names []string
	for _, tool := range tools.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{
		"get_iteration_details", "get_iteration_summary", "pause", "resume", "stop", "clean_complete",
	}, names)

	result, err := c.CallTool(ctx, callRequest("pause", nil))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.True(t, tok.PauseRequested())
}

type sentNotification struct {
	method string
	params map[string]any
}

func TestForwardStateEvents(t *testing.T) {
	ctrl := iteration.New()
	events := ctrl.Subscribe()
	require.NoError(t, ctrl.SetupIteration(api.IterationParams{Niter: 50, CycleNiter: 10, LoopGain: 0.1}))
	require.NoError(t, ctrl.EndMajorCycle())
	ctrl.Abort()
	ctrl.Close()

	var sent []sentNotification
	forwardStateEvents(context.Background(), events, func(method string, params map[string]any) {
		sent = append(sent, sentNotification{method, params})
	})

	require.Len(t, sent, 3)
	for _, n := range sent {
		assert.Equal(t, StateNotificationMethod, n.method)
	}
	assert.Equal(t, string(api.StateUninitialized), sent[0].params["previous"])
	assert.Equal(t, string(api.StateConfigured), sent[0].params["current"])
	assert.NotContains(t, sent[0].params, "stopCode")
	assert.Equal(t, string(api.StateMajorCycleBoundary), sent[1].params["current"])

	last := sent[2].params
	assert.Equal(t, string(api.StateStopped), last["current"])
	assert.Equal(t, int(api.StopForce), last["stopCode"])
	assert.Equal(t, api.StopForce.String(), last["stopReason"])
}

func TestForwardStateEventsStopsOnCancel(t *testing.T) {
	s, _, _ := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.ForwardStateEvents(ctx, make(chan api.StateEvent))
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("forwarding did not stop after cancel")
	}
}
