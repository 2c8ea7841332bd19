package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ctagard/lldb-agent/internal/tools"
	"github.com/ctagard/lldb-agent/pkg/types"
)

// registerTools registers the catalog tools, then the debugger tools
func (s *Server) registerTools() {
	for _, tool := range tools.MCPTools() {
		s.mcpServer.AddTool(tool, s.catalogHandler(tool.Name))
	}

	if s.debugger != nil {
		s.registerLLDBCommand()
		s.registerLLDBBacktrace()
	}
}

// catalogHandler forwards a call to the dispatcher. Each call gets a fresh
// ID so its result can be traced in the logs.
func (s *Server) catalogHandler(name string) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		arguments, err := encodeArguments(request.GetArguments())
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		result := s.executor.Execute(ctx, types.ToolCallRequest{
			ID:        "mcp-" + uuid.NewString(),
			Name:      name,
			Arguments: arguments,
		})
		if result.IsError() {
			return mcp.NewToolResultError(result.Error), nil
		}
		return mcp.NewToolResultText(result.Output), nil
	}
}

func encodeArguments(args map[string]any) (string, error) {
	if len(args) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("failed to encode arguments: %v", err)
	}
	return string(data), nil
}

func (s *Server) registerLLDBCommand() {
	tool := mcp.NewTool("lldb_command",
		mcp.WithDescription("Execute a native lldb command in the running debug session and return its output. "+
			"Examples: 'frame variable', 'thread step-over', 'memory read 0x1000'. Start the program with the run tool first."),
		mcp.WithString("command",
			mcp.Required(),
			mcp.Description("The lldb command to execute (single line)"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleLLDBCommand)
}

func (s *Server) registerLLDBBacktrace() {
	tool := mcp.NewTool("lldb_backtrace",
		mcp.WithDescription("Get the call stack of the stopped program as structured frames: id, name, source path, line and column."),
	)
	s.mcpServer.AddTool(tool, s.handleLLDBBacktrace)
}

func (s *Server) handleLLDBCommand(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	command, err := request.RequireString("command")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	out, err := s.debugger.SendCommand(ctx, command)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if strings.TrimSpace(out) == "" {
		out = "(no output)"
	}
	return mcp.NewToolResultText(out), nil
}

func (s *Server) handleLLDBBacktrace(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	frames, err := s.debugger.CallStack(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]interface{}{
		"frames": frames,
		"count":  len(frames),
	})
}

func jsonResult(data interface{}) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}
