package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/ctagard/lldb-agent/internal/breakpoints"
	"github.com/ctagard/lldb-agent/internal/errors"
	"github.com/ctagard/lldb-agent/internal/lldb"
	"github.com/ctagard/lldb-agent/internal/lldb/lldbtest"
	"github.com/ctagard/lldb-agent/pkg/types"
)

// stubSession records every call the dispatcher makes
type stubSession struct {
	mu       sync.Mutex
	running  bool
	startErr error
	sendErr  error
	sendOut  string
	panicOn  string
	starts   []breakpoints.Snapshot
	commands []string
}

func (s *stubSession) Start(ctx context.Context, snapshot breakpoints.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starts = append(s.starts, snapshot)
	if s.startErr != nil {
		return s.startErr
	}
	s.running = true
	return nil
}

func (s *stubSession) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *stubSession) SendCommand(ctx context.Context, text string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if text == s.panicOn {
		panic("boom")
	}
	s.commands = append(s.commands, text)
	return s.sendOut, s.sendErr
}

func (s *stubSession) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.starts) + len(s.commands)
}

type staticSource string

func (s staticSource) ReadInspectedSource() (string, error) { return string(s), nil }

func quietLogger() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

func newTestDispatcher(session Session) (*Dispatcher, *breakpoints.Registry) {
	reg := breakpoints.New("game.c")
	return NewDispatcher(session, reg, staticSource("int main(void) { return 0; }\n"), quietLogger()), reg
}

// TestCatalog verifies the exact tool catalog.
func TestCatalog(t *testing.T) {
	catalog := Catalog()
	require.Len(t, catalog, 4)
	assert.Equal(t, []string{"run", "breakpoint", "get_source_code", "continue"}, Names())

	bp := catalog[1]
	assert.Equal(t, "Set a breakpoint at the given line number", bp.Description)
	props := bp.Parameters["properties"].(map[string]any)
	line := props["line"].(map[string]any)
	assert.Equal(t, "integer", line["type"])
	assert.Equal(t, []string{"line"}, bp.Parameters["required"])

	for _, d := range catalog {
		assert.Equal(t, "object", d.Parameters["type"], d.Name)
		assert.NotEmpty(t, d.Description, d.Name)
	}
}

// TestMCPTools verifies the MCP rendering carries the same schema.
func TestMCPTools(t *testing.T) {
	tools := MCPTools()
	require.Len(t, tools, 4)

	data, err := json.Marshal(tools[1])
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "breakpoint", decoded["name"])
	schema := decoded["inputSchema"].(map[string]any)
	assert.Equal(t, []any{"line"}, schema["required"])
}

// TestDecodeArgs_Breakpoint covers argument validation for the breakpoint tool.
func TestDecodeArgs_Breakpoint(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		line    int
		wantErr string
	}{
		{"valid", `{"line": 42}`, 42, ""},
		{"integral float", `{"line": 10.0}`, 10, ""},
		{"extra fields", `{"line": 3, "file": "game.c"}`, 3, ""},
		{"empty", "", 0, "Parameters cannot be empty"},
		{"whitespace", "  ", 0, "Parameters cannot be empty"},
		{"empty object", "{}", 0, "Missing required 'line'"},
		{"invalid json", "{line: 4", 0, "Invalid JSON"},
		{"array", "[42]", 0, "must be a JSON object"},
		{"string line", `{"line": "42"}`, 0, "positive integer"},
		{"fractional", `{"line": 4.5}`, 0, "positive integer"},
		{"zero", `{"line": 0}`, 0, "positive integer"},
		{"negative", `{"line": -7}`, 0, "positive integer"},
		{"null", `{"line": null}`, 0, "positive integer"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			args, err := DecodeArgs(ToolBreakpoint, tc.raw)
			if tc.wantErr != "" {
				require.Error(t, err)
				assert.True(t, errors.HasCode(err, errors.CodeArgumentError))
				assert.Contains(t, err.Error(), tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, BreakpointArgs{Line: tc.line}, args)
		})
	}
}

// TestDecodeArgs_NoArgTools verifies argument-less tools accept empty payloads and objects.
func TestDecodeArgs_NoArgTools(t *testing.T) {
	for _, name := range []string{ToolRun, ToolGetSourceCode, ToolContinue} {
		for _, raw := range []string{"", "{}", `{"ignored": true}`} {
			args, err := DecodeArgs(name, raw)
			require.NoError(t, err, "%s %q", name, raw)
			assert.Equal(t, name, args.Tool())
		}
		_, err := DecodeArgs(name, "[1]")
		assert.True(t, errors.HasCode(err, errors.CodeArgumentError))
	}
}

// TestDispatch_UnknownTool verifies unknown names touch nothing.
func TestDispatch_UnknownTool(t *testing.T) {
	session := &stubSession{running: true}
	d, reg := newTestDispatcher(session)

	_, err := d.Dispatch(context.Background(), "nonexistent_tool", "{}")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeUnknownTool))
	assert.Contains(t, err.Error(), "run, breakpoint, get_source_code, continue")
	assert.Equal(t, 0, reg.Len())
	assert.Equal(t, 0, session.calls())
}

// TestDispatch_BreakpointRejectsBadInput verifies no partial state on malformed calls.
func TestDispatch_BreakpointRejectsBadInput(t *testing.T) {
	session := &stubSession{running: true}
	d, reg := newTestDispatcher(session)

	for _, raw := range []string{"", "{}", `{"line": 0}`} {
		_, err := d.Dispatch(context.Background(), ToolBreakpoint, raw)
		assert.True(t, errors.HasCode(err, errors.CodeArgumentError), "payload %q", raw)
	}
	assert.Equal(t, 0, reg.Len())
	assert.Equal(t, 0, session.calls())
}

// TestDispatch_BreakpointNotRunning verifies the registry is updated without touching the session.
func TestDispatch_BreakpointNotRunning(t *testing.T) {
	session := &stubSession{}
	d, reg := newTestDispatcher(session)

	out, err := d.Dispatch(context.Background(), ToolBreakpoint, `{"line": 10}`)
	require.NoError(t, err)
	assert.Contains(t, out, "Breakpoint set at line 10")
	assert.Contains(t, out, "applied when the program runs")

	require.Equal(t, 1, reg.Len())
	assert.Equal(t, 10, reg.List()[0].Line)
	assert.Empty(t, session.commands)
}

// TestDispatch_BreakpointPropagationFailure verifies failures are reported but not rolled back.
func TestDispatch_BreakpointPropagationFailure(t *testing.T) {
	session := &stubSession{running: true, sendErr: errors.Timeout("breakpoint set --file game.c --line 5", 10)}
	d, reg := newTestDispatcher(session)

	out, err := d.Dispatch(context.Background(), ToolBreakpoint, `{"line": 5}`)
	require.NoError(t, err)
	assert.Contains(t, out, "Breakpoint set at line 5")
	assert.Contains(t, out, "failed")
	assert.Contains(t, out, "timed out")
	assert.Equal(t, 1, reg.Len())
	assert.Equal(t, []string{"breakpoint set --file game.c --line 5"}, session.commands)
}

// TestDispatch_BreakpointPropagatesOnce verifies a live session receives the command exactly once.
func TestDispatch_BreakpointPropagatesOnce(t *testing.T) {
	fake := &lldbtest.Fake{
		Respond: func(cmd string) []string {
			return []string{"Breakpoint 1: where = game`main + 4 at game.c:42:3, address = 0x1139"}
		},
	}
	manager := lldb.NewManager(lldb.ControllerConfig{CommandTimeout: time.Second, Logger: quietLogger()}, fake, 2*time.Second)
	defer func() { _ = manager.Close(context.Background()) }()

	d, reg := newTestDispatcher(manager)
	require.NoError(t, manager.Start(context.Background(), reg.Snapshot()))

	out, err := d.Dispatch(context.Background(), ToolBreakpoint, `{"line":42}`)
	require.NoError(t, err)
	assert.Contains(t, out, "Applied to the running program: Breakpoint 1: where = game`main")

	assert.Equal(t, []string{"breakpoint set --file game.c --line 42"}, fake.Commands())
	assert.Equal(t, 1, reg.Len())
}

// TestDispatch_BreakpointRejectedByLLDB verifies an error line in lldb's
// reply is reported as a failed propagation.
func TestDispatch_BreakpointRejectedByLLDB(t *testing.T) {
	fake := &lldbtest.Fake{
		Stderr: func(cmd string) []string {
			if strings.HasPrefix(cmd, "breakpoint set") {
				return []string{"error: invalid line number"}
			}
			return nil
		},
	}
	manager := lldb.NewManager(lldb.ControllerConfig{CommandTimeout: time.Second, Logger: quietLogger()}, fake, 2*time.Second)
	defer func() { _ = manager.Close(context.Background()) }()

	d, reg := newTestDispatcher(manager)
	require.NoError(t, manager.Start(context.Background(), reg.Snapshot()))

	out, err := d.Dispatch(context.Background(), ToolBreakpoint, `{"line":42}`)
	require.NoError(t, err)
	assert.Contains(t, out, "Breakpoint set at line 42")
	assert.Contains(t, out, "failed: lldb rejected it: error: invalid line number")
	assert.NotContains(t, out, "Applied to the running program")
	assert.Equal(t, 1, reg.Len())
}

// TestDispatch_Run verifies run starts the session with the current snapshot.
func TestDispatch_Run(t *testing.T) {
	session := &stubSession{}
	d, reg := newTestDispatcher(session)
	_, _ = reg.Add(10)

	out, err := d.Dispatch(context.Background(), ToolRun, "{}")
	require.NoError(t, err)
	assert.Equal(t, "Program run (1 breakpoint(s) applied)", out)
	require.Len(t, session.starts, 1)
	assert.Equal(t, 10, session.starts[0].Breakpoints()[0].Line)
}

// TestDispatch_RunFailure verifies controller errors are wrapped with their reason.
func TestDispatch_RunFailure(t *testing.T) {
	session := &stubSession{startErr: errors.AlreadyStarted(types.SessionRunning)}
	d, _ := newTestDispatcher(session)

	_, err := d.Dispatch(context.Background(), ToolRun, "")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeControllerError))
	assert.Contains(t, err.Error(), "already started")
}

// TestDispatch_GetSourceCode verifies the file is returned verbatim and missing files are named.
func TestDispatch_GetSourceCode(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "game.c")
	content := "#include <stdio.h>\n\nint main(void) {\n\treturn 0;\n}\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	reg := breakpoints.New("game.c")
	d := NewDispatcher(&stubSession{}, reg, FileSourceReader{Path: path}, quietLogger())
	out, err := d.Dispatch(context.Background(), ToolGetSourceCode, "{}")
	require.NoError(t, err)
	assert.Equal(t, content, out)

	missing := filepath.Join(dir, "missing.c")
	d = NewDispatcher(&stubSession{}, reg, FileSourceReader{Path: missing}, quietLogger())
	_, err = d.Dispatch(context.Background(), ToolGetSourceCode, "{}")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeNotFound))
	assert.Contains(t, err.Error(), missing)
}

// TestDispatch_Continue verifies the stub acknowledgement.
func TestDispatch_Continue(t *testing.T) {
	session := &stubSession{running: true}
	d, _ := newTestDispatcher(session)

	out, err := d.Dispatch(context.Background(), ToolContinue, "{}")
	require.NoError(t, err)
	assert.Equal(t, "Execution continued", out)
	assert.Equal(t, 0, session.calls())
}

// TestExecute verifies results carry either output or error.
func TestExecute(t *testing.T) {
	session := &stubSession{running: true, panicOn: "breakpoint set --file game.c --line 13"}
	d, _ := newTestDispatcher(session)

	ok := d.Execute(context.Background(), types.ToolCallRequest{ID: "call_1", Name: ToolContinue, Arguments: "{}"})
	assert.False(t, ok.IsError())
	assert.Equal(t, "call_1", ok.ID)
	assert.Equal(t, "Execution continued", ok.Output)

	bad := d.Execute(context.Background(), types.ToolCallRequest{ID: "call_2", Name: ToolBreakpoint, Arguments: ""})
	assert.True(t, bad.IsError())
	assert.Empty(t, bad.Output)
	assert.Contains(t, bad.Error, "Parameters cannot be empty")

	panicked := d.Execute(context.Background(), types.ToolCallRequest{ID: "call_3", Name: ToolBreakpoint, Arguments: `{"line": 13}`})
	assert.True(t, panicked.IsError())
	assert.Contains(t, panicked.Error, "internal error")
}

// TestDispatch_BreakpointAtomicity checks that any payload either adds exactly one breakpoint or none.
func TestDispatch_BreakpointAtomicity(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		d, reg := newTestDispatcher(&stubSession{})
		payload := rapid.OneOf(
			rapid.String(),
			rapid.Map(rapid.IntRange(-1000, 1000), func(n int) string {
				data, _ := json.Marshal(map[string]int{"line": n})
				return string(data)
			}),
		).Draw(rt, "payload")

		_, err := d.Dispatch(context.Background(), ToolBreakpoint, payload)
		switch {
		case err != nil && reg.Len() != 0:
			rt.Fatalf("failed call %q left %d breakpoints", payload, reg.Len())
		case err == nil && reg.Len() != 1:
			rt.Fatalf("successful call %q left %d breakpoints", payload, reg.Len())
		case err != nil && !errors.HasCode(err, errors.CodeArgumentError):
			rt.Fatalf("unexpected error kind for %q: %v", payload, err)
		}
	})
}
