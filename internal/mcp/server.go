// Package mcp exposes the debugger tools over the Model Context Protocol.
//
// Every tool of the agent catalog is served through the same dispatcher
// the chat agent uses:
//   - run: start the program under lldb
//   - breakpoint: record a line breakpoint
//   - get_source_code: return the inspected source
//   - continue: acknowledge a continue request
//
// Two MCP-only tools reach the debugger directly:
//   - lldb_command: run a raw lldb command
//   - lldb_backtrace: structured call stack of the stopped program
package mcp

import (
	"context"

	"github.com/google/go-dap"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ctagard/lldb-agent/pkg/types"
)

// Executor runs catalog tool calls. *tools.Dispatcher implements it.
type Executor interface {
	Execute(ctx context.Context, req types.ToolCallRequest) types.ToolCallResult
}

// Debugger is the direct debugger access used by the MCP-only tools.
// *lldb.Manager implements it.
type Debugger interface {
	SendCommand(ctx context.Context, text string) (string, error)
	CallStack(ctx context.Context) ([]dap.StackFrame, error)
}

// Server wraps the MCP server with debugging capabilities
type Server struct {
	mcpServer *server.MCPServer
	executor  Executor
	debugger  Debugger
}

// NewServer creates a new MCP server. debugger may be nil, in which case
// only the catalog tools are registered.
func NewServer(executor Executor, debugger Debugger, version string) *Server {
	mcpServer := server.NewMCPServer(
		"lldb-agent",
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	s := &Server{
		mcpServer: mcpServer,
		executor:  executor,
		debugger:  debugger,
	}

	s.registerTools()

	return s
}

// ServeStdio starts the server using stdio transport
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// MCPServer returns the underlying server
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}
