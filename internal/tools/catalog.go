// Package tools exposes the debugger to a language model as a fixed catalog
// of tools and executes the tool calls the model emits.
//
// Tools:
//   - run: start the debug session, replaying every recorded breakpoint
//   - breakpoint: record a line breakpoint and apply it if the program runs
//   - get_source_code: return the inspected source file
//   - continue: acknowledge a continue request
package tools

import (
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ctagard/lldb-agent/pkg/types"
)

// Tool names
const (
	ToolRun           = "run"
	ToolBreakpoint    = "breakpoint"
	ToolGetSourceCode = "get_source_code"
	ToolContinue      = "continue"
)

func noParameters() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
}

// Catalog returns the tool descriptors offered to the model, in a fixed order
func Catalog() []types.ToolDescriptor {
	return []types.ToolDescriptor{
		{
			Name:        ToolRun,
			Description: "Run the program",
			Parameters:  noParameters(),
		},
		{
			Name:        ToolBreakpoint,
			Description: "Set a breakpoint at the given line number",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"line": map[string]any{
						"type":        "integer",
						"description": "Line number where to set the breakpoint",
						"minimum":     1,
					},
				},
				"required": []string{"line"},
			},
		},
		{
			Name:        ToolGetSourceCode,
			Description: "Get the source code of a file",
			Parameters:  noParameters(),
		},
		{
			Name:        ToolContinue,
			Description: "Continue the execution of the program",
			Parameters:  noParameters(),
		},
	}
}

// Names returns the catalog tool names
func Names() []string {
	catalog := Catalog()
	names := make([]string, len(catalog))
	for i, d := range catalog {
		names[i] = d.Name
	}
	return names
}

// MCPTools renders the catalog as MCP tool declarations
func MCPTools() []mcp.Tool {
	catalog := Catalog()
	out := make([]mcp.Tool, 0, len(catalog))
	for _, d := range catalog {
		schema, err := json.Marshal(d.Parameters)
		if err != nil {
			// The catalog is static; a marshalling failure is a programming error
			panic(err)
		}
		out = append(out, mcp.NewToolWithRawSchema(d.Name, d.Description, schema))
	}
	return out
}
