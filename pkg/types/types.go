// Package types defines shared data types used across lldb-agent.
//
// This package provides type definitions for:
//   - SessionState: lifecycle of one attached lldb session
//   - Breakpoint: a line breakpoint requested by the operator or the agent
//   - ToolCallRequest / ToolCallResult: structured tool calls emitted by the model
//   - ChatMessage: one entry of the conversation history, tagged by Role
//   - OutputEvent: a single line of asynchronous debugger output
//   - ToolDescriptor: a JSON-Schema shaped tool declaration offered to the model
//
// These types are used throughout the codebase to maintain type safety
// and provide clear contracts between components.
package types

import (
	"fmt"
	"time"
)

// SessionState represents the lifecycle state of a debug session
type SessionState int

const (
	SessionNotStarted SessionState = iota
	SessionStarting
	SessionRunning
	SessionStopped
	SessionCrashed
)

// String returns the lowercase name of the state
func (s SessionState) String() string {
	switch s {
	case SessionNotStarted:
		return "not_started"
	case SessionStarting:
		return "starting"
	case SessionRunning:
		return "running"
	case SessionStopped:
		return "stopped"
	case SessionCrashed:
		return "crashed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// IsTerminal reports whether no further transition is possible from s
func (s SessionState) IsTerminal() bool {
	return s == SessionStopped || s == SessionCrashed
}

// Breakpoint represents a line breakpoint
type Breakpoint struct {
	ID   int    `json:"id"`
	Line int    `json:"line"`
	File string `json:"file,omitempty"`
}

// String renders the breakpoint as file:line
func (b Breakpoint) String() string {
	if b.File == "" {
		return fmt.Sprintf("#%d line %d", b.ID, b.Line)
	}
	return fmt.Sprintf("#%d %s:%d", b.ID, b.File, b.Line)
}

// ToolCallRequest is a tool invocation requested by the model
type ToolCallRequest struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON string
}

// ToolCallResult is the outcome of one ToolCallRequest.
// Exactly one of Output and Error is meaningful; use the constructors.
type ToolCallResult struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
	failed bool
}

// NewToolOutput creates a successful tool result
func NewToolOutput(id, name, output string) ToolCallResult {
	return ToolCallResult{ID: id, Name: name, Output: output}
}

// NewToolError creates a failed tool result
func NewToolError(id, name, message string) ToolCallResult {
	return ToolCallResult{ID: id, Name: name, Error: message, failed: true}
}

// IsError reports whether the result carries an error
func (r ToolCallResult) IsError() bool {
	return r.failed || r.Error != ""
}

// Content returns the text the model should see for this result
func (r ToolCallResult) Content() string {
	if r.IsError() {
		return "error: " + r.Error
	}
	return r.Output
}

// Role tags the kind of a ChatMessage
type Role string

const (
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleSystem     Role = "system"
	RoleToolResult Role = "tool_result"
)

// ChatMessage is one entry of the conversation history.
// ToolCalls is only set on assistant messages and ToolResults only on
// tool_result messages.
type ChatMessage struct {
	Role        Role              `json:"role"`
	Text        string            `json:"text"`
	ToolCalls   []ToolCallRequest `json:"toolCalls,omitempty"`
	ToolResults []ToolCallResult  `json:"toolResults,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}

// UserMessage creates a user message
func UserMessage(text string) ChatMessage {
	return ChatMessage{Role: RoleUser, Text: text, Timestamp: time.Now()}
}

// SystemMessage creates a system message
func SystemMessage(text string) ChatMessage {
	return ChatMessage{Role: RoleSystem, Text: text, Timestamp: time.Now()}
}

// AssistantMessage creates an assistant message carrying the model's tool calls
func AssistantMessage(text string, calls []ToolCallRequest) ChatMessage {
	var copied []ToolCallRequest
	if len(calls) > 0 {
		copied = append(copied, calls...)
	}
	return ChatMessage{Role: RoleAssistant, Text: text, ToolCalls: copied, Timestamp: time.Now()}
}

// ToolResultMessage creates a message carrying every result of one turn, in order
func ToolResultMessage(results []ToolCallResult) ChatMessage {
	copied := append([]ToolCallResult(nil), results...)
	return ChatMessage{Role: RoleToolResult, ToolResults: copied, Timestamp: time.Now()}
}

// Output streams of the debugger process
const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"
)

// OutputEvent is a single line emitted by the debugger process
type OutputEvent struct {
	Seq    uint64    `json:"seq"`
	Stream string    `json:"stream"`
	Line   string    `json:"line"`
	Time   time.Time `json:"time"`
}

// ToolDescriptor declares a tool offered to the model.
// Parameters is a JSON-Schema object.
type ToolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}
