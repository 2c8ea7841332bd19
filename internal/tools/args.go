package tools

import (
	"math"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/ctagard/lldb-agent/internal/errors"
)

// Args is the decoded argument payload of one tool call. Each tool has its
// own variant.
type Args interface {
	Tool() string
}

// RunArgs are the (empty) arguments of the run tool
type RunArgs struct{}

// BreakpointArgs are the arguments of the breakpoint tool
type BreakpointArgs struct {
	Line int
}

// GetSourceCodeArgs are the (empty) arguments of the get_source_code tool
type GetSourceCodeArgs struct{}

// ContinueArgs are the (empty) arguments of the continue tool
type ContinueArgs struct{}

func (RunArgs) Tool() string           { return ToolRun }
func (BreakpointArgs) Tool() string    { return ToolBreakpoint }
func (GetSourceCodeArgs) Tool() string { return ToolGetSourceCode }
func (ContinueArgs) Tool() string      { return ToolContinue }

// DecodeArgs validates raw JSON arguments for the named tool and returns
// the matching variant. Unknown tools fail with an unknown-tool error and
// malformed payloads with an argument error.
func DecodeArgs(name, raw string) (Args, error) {
	switch name {
	case ToolRun:
		return RunArgs{}, checkNoArgs(name, raw)
	case ToolBreakpoint:
		return decodeBreakpoint(raw)
	case ToolGetSourceCode:
		return GetSourceCodeArgs{}, checkNoArgs(name, raw)
	case ToolContinue:
		return ContinueArgs{}, checkNoArgs(name, raw)
	default:
		return nil, errors.UnknownTool(name, Names())
	}
}

// checkNoArgs accepts an empty payload or any JSON object
func checkNoArgs(name, raw string) error {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}
	if !gjson.Valid(trimmed) || !gjson.Parse(trimmed).IsObject() {
		return errors.ArgumentError(name, "parameters must be a JSON object")
	}
	return nil
}

func decodeBreakpoint(raw string) (Args, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, errors.ArgumentError(ToolBreakpoint, "Parameters cannot be empty for breakpoint tool")
	}
	if !gjson.Valid(trimmed) {
		return nil, errors.ArgumentError(ToolBreakpoint, "Invalid JSON parameters: "+trimmed)
	}

	doc := gjson.Parse(trimmed)
	if !doc.IsObject() {
		return nil, errors.ArgumentError(ToolBreakpoint, "parameters must be a JSON object")
	}

	line := doc.Get("line")
	if !line.Exists() {
		return nil, errors.ArgumentError(ToolBreakpoint, "Missing required 'line' parameter")
	}
	if line.Type != gjson.Number {
		return nil, errors.ArgumentError(ToolBreakpoint, "'line' must be a positive integer")
	}
	f := line.Float()
	if f != math.Trunc(f) || f < 1 || f > math.MaxInt32 {
		return nil, errors.ArgumentError(ToolBreakpoint, "'line' must be a positive integer").
			WithDetails("line", line.Raw)
	}
	return BreakpointArgs{Line: int(f)}, nil
}
