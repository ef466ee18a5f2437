package main

import (
	"context"
	"encoding/json"
	"fmt"

	"vigil/pkg/daemon"
	"vigil/pkg/eventlog"
	"vigil/pkg/outcome"
	"vigil/pkg/protocol"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// newMCPServer registers the vigil tools on a fresh MCP server.
func newMCPServer(paths *Paths, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"vigil",
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(mcpInstructions),
	)

	statusTool := &StatusTool{paths: paths}
	s.AddTool(statusTool.Definition(), statusTool.Handle)

	calibrationTool := &CalibrationTool{paths: paths}
	s.AddTool(calibrationTool.Definition(), calibrationTool.Handle)

	eventsTool := &EventsTool{paths: paths}
	s.AddTool(eventsTool.Definition(), eventsTool.Handle)

	enqueueTool := &EnqueueTool{paths: paths}
	s.AddTool(enqueueTool.Definition(), enqueueTool.Handle)

	return s
}

const mcpInstructions = `vigil is an autonomous decision daemon watching a knowledge base.
Use vigil_status to see its operating mode, backend health and attention workspace.
Use vigil_calibration to check whether its confidence predicts success.
Use vigil_events to read what it observed and did.
Use vigil_enqueue to ask it to act: the command bypasses the reasoner but not the safety policy.`

// --- vigil_status ---

// StatusTool handles the vigil_status MCP tool.
type StatusTool struct {
	paths *Paths
}

// Definition returns the MCP tool definition for vigil_status.
func (t *StatusTool) Definition() mcp.Tool {
	return mcp.NewTool("vigil_status",
		mcp.WithDescription(
			"Get the daemon's latest status snapshot: process liveness, operating mode, "+
				"backend health, workspace contents, in-flight actions and the current confidence threshold.",
		),
	)
}

// Handle processes the vigil_status tool call.
func (t *StatusTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rep, err := loadStatus(ctx, t.paths)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("read status: %v", err)), nil
	}
	return jsonResult(rep)
}

// --- vigil_calibration ---

// CalibrationTool handles the vigil_calibration MCP tool.
type CalibrationTool struct {
	paths *Paths
}

// Definition returns the MCP tool definition for vigil_calibration.
func (t *CalibrationTool) Definition() mcp.Tool {
	return mcp.NewTool("vigil_calibration",
		mcp.WithDescription(
			"Compute calibration statistics (precision, confidence means, timeout rate, Brier score) "+
				"over the newest executed decisions. Operator commands are excluded.",
		),
		mcp.WithNumber("window",
			mcp.Description("Number of newest outcomes to consider (default: 100)"),
		),
	)
}

// Handle processes the vigil_calibration tool call.
func (t *CalibrationTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	window := intArg(req, "window", 100)
	if window < 1 {
		return mcp.NewToolResultError("window must be at least 1"), nil
	}

	r, err := openStateReader(t.paths)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	defer func() { _ = r.Close() }()

	stats, err := outcome.QueryStats(ctx, r.DB(), window)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("calibration: %v", err)), nil
	}
	return jsonResult(calibrationReport{Window: window, Stats: stats})
}

// --- vigil_events ---

// EventsTool handles the vigil_events MCP tool.
type EventsTool struct {
	paths *Paths
}

// Definition returns the MCP tool definition for vigil_events.
func (t *EventsTool) Definition() mcp.Tool {
	return mcp.NewTool("vigil_events",
		mcp.WithDescription(
			"Read the daemon's event log, newest first. Types include observation, mode_transition, "+
				"verdict, result, calibration, command and dry_run.",
		),
		mcp.WithString("type",
			mcp.Description("Filter by event type (omit for all)"),
		),
		mcp.WithString("target",
			mcp.Description("Filter by action target or observed path, relative to the knowledge base"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum events to return (default: 20)"),
		),
	)
}

// Handle processes the vigil_events tool call.
func (t *EventsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	r, err := openStateReader(t.paths)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	defer func() { _ = r.Close() }()

	events, err := r.Query(ctx, eventlog.QueryOpts{
		Type:   req.GetString("type", ""),
		Target: req.GetString("target", ""),
		Limit:  intArg(req, "limit", 20),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("events: %v", err)), nil
	}
	return jsonResult(events)
}

// --- vigil_enqueue ---

// EnqueueTool handles the vigil_enqueue MCP tool.
type EnqueueTool struct {
	paths *Paths
}

// Definition returns the MCP tool definition for vigil_enqueue.
func (t *EnqueueTool) Definition() mcp.Tool {
	return mcp.NewTool("vigil_enqueue",
		mcp.WithDescription(
			"Queue an operator command. The daemon turns it into a direct decision on its next cycle; "+
				"the safety policy still applies and only query and noop run while degraded by default.",
		),
		mcp.WithString("kind",
			mcp.Required(),
			mcp.Description("Action kind: mutate, query, analyze or noop"),
		),
		mcp.WithString("target",
			mcp.Description("Target path relative to the knowledge base (required unless kind is noop)"),
		),
		mcp.WithString("payload",
			mcp.Description("Action payload, e.g. the new file content for mutate"),
		),
	)
}

// Handle processes the vigil_enqueue tool call.
func (t *EnqueueTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	kind := protocol.ActionKind(req.GetString("kind", ""))
	target := req.GetString("target", "")
	if kind == "" {
		return mcp.NewToolResultError("kind is required"), nil
	}

	db, err := openStateDB(ctx, t.paths)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	defer func() { _ = db.Close() }()

	id, err := daemon.Enqueue(ctx, db, kind, target, req.GetString("payload", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("queued command #%d: %s",
		id, protocol.DescribeAction(protocol.Action{Kind: kind, Target: target}))), nil
}

// --- helpers ---

// intArg extracts an integer argument from a tool request.
func intArg(req mcp.CallToolRequest, key string, defaultVal int) int {
	v, ok := req.GetArguments()[key].(float64)
	if !ok {
		return defaultVal
	}
	return int(v)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
