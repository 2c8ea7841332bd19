package agent

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctagard/lldb-agent/internal/breakpoints"
	"github.com/ctagard/lldb-agent/internal/errors"
	"github.com/ctagard/lldb-agent/internal/lldb"
	"github.com/ctagard/lldb-agent/internal/lldb/lldbtest"
	"github.com/ctagard/lldb-agent/internal/tools"
	"github.com/ctagard/lldb-agent/pkg/types"
)

// scriptedModel replays canned responses and records what it was sent
type scriptedModel struct {
	mu        sync.Mutex
	responses []ModelResponse
	err       error
	histories [][]types.ChatMessage
	catalogs  [][]types.ToolDescriptor
}

func (m *scriptedModel) CallModel(ctx context.Context, history []types.ChatMessage, catalog []types.ToolDescriptor) (ModelResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.histories = append(m.histories, history)
	m.catalogs = append(m.catalogs, catalog)
	if m.err != nil {
		return ModelResponse{}, m.err
	}
	if len(m.responses) == 0 {
		return ModelResponse{Text: "nothing to do"}, nil
	}
	resp := m.responses[0]
	m.responses = m.responses[1:]
	return resp, nil
}

// recordingExecutor echoes tool calls in the order they are executed
type recordingExecutor struct {
	order []string
}

func (e *recordingExecutor) Catalog() []types.ToolDescriptor { return tools.Catalog() }

func (e *recordingExecutor) Execute(ctx context.Context, req types.ToolCallRequest) types.ToolCallResult {
	e.order = append(e.order, req.ID)
	if req.Name == "fail" {
		return types.NewToolError(req.ID, req.Name, "failed")
	}
	return types.NewToolOutput(req.ID, req.Name, "ok "+req.ID)
}

func quietLogger() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

type rig struct {
	fake     *lldbtest.Fake
	manager  *lldb.Manager
	registry *breakpoints.Registry
	model    *scriptedModel
	agent    *Agent
	orch     *Orchestrator
}

func newRig(t *testing.T, responses ...ModelResponse) *rig {
	t.Helper()
	fake := &lldbtest.Fake{Respond: func(cmd string) []string { return []string{"ok: " + cmd} }}
	manager := lldb.NewManager(lldb.ControllerConfig{CommandTimeout: time.Second, Logger: quietLogger()}, fake, 2*time.Second)
	t.Cleanup(func() { _ = manager.Close(context.Background()) })

	registry := breakpoints.New("game.c")
	dispatcher := tools.NewDispatcher(manager, registry, tools.FileSourceReader{Path: "testdata/none.c"}, quietLogger())
	model := &scriptedModel{responses: responses}
	orch := NewOrchestrator(model, dispatcher, quietLogger())
	return &rig{
		fake:     fake,
		manager:  manager,
		registry: registry,
		model:    model,
		orch:     orch,
		agent:    New(orch, registry, manager, quietLogger()),
	}
}

// TestHandleTurn_NoToolCalls verifies a plain reply adds exactly two messages.
func TestHandleTurn_NoToolCalls(t *testing.T) {
	model := &scriptedModel{responses: []ModelResponse{{Text: "Hello!"}}}
	orch := NewOrchestrator(model, &recordingExecutor{}, quietLogger())
	conv := NewConversation(DefaultSystemPrompt)

	reply, err := orch.HandleTurn(context.Background(), "hi", conv)
	require.NoError(t, err)
	assert.Equal(t, "Hello!", reply)

	msgs := conv.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, types.RoleSystem, msgs[0].Role)
	assert.Equal(t, types.RoleUser, msgs[1].Role)
	assert.Equal(t, "hi", msgs[1].Text)
	assert.Equal(t, types.RoleAssistant, msgs[2].Role)
	assert.Empty(t, msgs[2].ToolCalls)

	// The model saw the system prompt and the user message, plus the catalog
	require.Len(t, model.histories, 1)
	assert.Len(t, model.histories[0], 2)
	assert.Len(t, model.catalogs[0], 4)
}

// TestHandleTurn_ToolCallsInOrder verifies sequential execution and a single result message.
func TestHandleTurn_ToolCallsInOrder(t *testing.T) {
	calls := []types.ToolCallRequest{
		{ID: "c1", Name: "run"},
		{ID: "c2", Name: "fail"},
		{ID: "c3", Name: "continue"},
	}
	model := &scriptedModel{responses: []ModelResponse{{Text: "Working on it", ToolCalls: calls}}}
	exec := &recordingExecutor{}
	orch := NewOrchestrator(model, exec, quietLogger())
	conv := NewConversation("")

	reply, err := orch.HandleTurn(context.Background(), "do things", conv)
	require.NoError(t, err)
	assert.Equal(t, "Working on it", reply)
	assert.Equal(t, []string{"c1", "c2", "c3"}, exec.order)

	msgs := conv.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, calls, msgs[1].ToolCalls)

	results := msgs[2]
	assert.Equal(t, types.RoleToolResult, results.Role)
	require.Len(t, results.ToolResults, 3)
	assert.Equal(t, "c1", results.ToolResults[0].ID)
	assert.False(t, results.ToolResults[0].IsError())
	assert.True(t, results.ToolResults[1].IsError())
	assert.Equal(t, "c3", results.ToolResults[2].ID)
}

// TestHandleTurn_ModelFailure verifies the user message is kept and no assistant message is added.
func TestHandleTurn_ModelFailure(t *testing.T) {
	model := &scriptedModel{err: stderrors.New("401 unauthorized")}
	orch := NewOrchestrator(model, &recordingExecutor{}, quietLogger())
	conv := NewConversation(DefaultSystemPrompt)

	_, err := orch.HandleTurn(context.Background(), "hi", conv)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeModelCallFailed))
	assert.Contains(t, err.Error(), "401 unauthorized")
	assert.Equal(t, 2, conv.Len())
}

// TestEndToEnd_BreakpointThenRun follows a breakpoint turn and a run turn through a live session.
func TestEndToEnd_BreakpointThenRun(t *testing.T) {
	r := newRig(t,
		ModelResponse{
			Text:      "Setting a breakpoint at line 10.",
			ToolCalls: []types.ToolCallRequest{{ID: "call_bp", Name: "breakpoint", Arguments: `{"line":10}`}},
		},
		ModelResponse{
			Text:      "Starting the program.",
			ToolCalls: []types.ToolCallRequest{{ID: "call_run", Name: "run", Arguments: `{}`}},
		},
	)
	conv := NewConversation(DefaultSystemPrompt)

	reply, err := r.orch.HandleTurn(context.Background(), "set a breakpoint at line 10", conv)
	require.NoError(t, err)
	assert.Equal(t, "Setting a breakpoint at line 10.", reply)

	require.Equal(t, 1, r.registry.Len())
	assert.Equal(t, 10, r.registry.List()[0].Line)
	msgs := conv.Messages()
	last := msgs[len(msgs)-1]
	require.Equal(t, types.RoleToolResult, last.Role)
	assert.Contains(t, last.ToolResults[0].Output, "Breakpoint set at line 10")
	assert.Equal(t, types.SessionNotStarted, r.manager.State())
	assert.Empty(t, r.fake.Commands())

	reply, err = r.orch.HandleTurn(context.Background(), "run the program", conv)
	require.NoError(t, err)
	assert.Equal(t, "Starting the program.", reply)
	assert.Equal(t, types.SessionRunning, r.manager.State())
	assert.Equal(t, []string{"breakpoint set --file game.c --line 10"}, r.fake.Commands())

	msgs = conv.Messages()
	last = msgs[len(msgs)-1]
	require.Len(t, last.ToolResults, 1)
	assert.Equal(t, "call_run", last.ToolResults[0].ID)
	assert.Equal(t, "Program run (1 breakpoint(s) applied)", last.ToolResults[0].Output)

	// The second model call saw the whole first turn
	assert.Len(t, r.model.histories[1], 5)
}

// TestAgent_Echo verifies the echo shortcut bypasses the model.
func TestAgent_Echo(t *testing.T) {
	r := newRig(t)
	conv := NewConversation(DefaultSystemPrompt)

	reply, err := r.agent.HandleInput(context.Background(), "  echo hello world ", conv)
	require.NoError(t, err)
	assert.Equal(t, "answer hello world", reply.Text)
	assert.Empty(t, r.model.histories)
	assert.Equal(t, 1, conv.Len())
}

// TestAgent_Breakpoint verifies the breakpoint shortcut and its validation.
func TestAgent_Breakpoint(t *testing.T) {
	r := newRig(t)
	conv := NewConversation("")

	reply, err := r.agent.HandleInput(context.Background(), "breakpoint 42", conv)
	require.NoError(t, err)
	assert.Equal(t, "Breakpoint added at line 42", reply.Text)

	for _, bad := range []string{"breakpoint abc", "Breakpoint 0", "breakpoint -5"} {
		reply, err = r.agent.HandleInput(context.Background(), bad, conv)
		require.NoError(t, err)
		assert.Equal(t, "Error: Invalid line number. Line must be a positive integer.", reply.Text)
	}
	assert.Equal(t, 1, r.registry.Len())
	assert.Empty(t, r.model.histories)
}

// TestAgent_DebugThenBreakpoint verifies debug starts the session and later breakpoints are applied live.
func TestAgent_DebugThenBreakpoint(t *testing.T) {
	r := newRig(t)
	conv := NewConversation("")

	_, _ = r.agent.HandleInput(context.Background(), "breakpoint 3", conv)
	reply, err := r.agent.HandleInput(context.Background(), "DEBUG", conv)
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "LLDB session started")
	assert.True(t, r.manager.IsRunning())

	reply, err = r.agent.HandleInput(context.Background(), "breakpoint 9", conv)
	require.NoError(t, err)
	assert.Equal(t, "Breakpoint added at line 9 and applied to the running program", reply.Text)
	assert.Equal(t, []string{
		"breakpoint set --file game.c --line 3",
		"breakpoint set --file game.c --line 9",
	}, r.fake.Commands())

	reply, err = r.agent.HandleInput(context.Background(), "debug", conv)
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "Error starting LLDB")
}

// TestAgent_BreakpointRejectedByLLDB verifies an error line in lldb's reply
// is not reported as applied.
func TestAgent_BreakpointRejectedByLLDB(t *testing.T) {
	r := newRig(t)
	r.fake.Stderr = func(cmd string) []string {
		if cmd == "breakpoint set --file game.c --line 42" {
			return []string{"error: invalid line number"}
		}
		return nil
	}
	conv := NewConversation("")

	_, err := r.agent.HandleInput(context.Background(), "debug", conv)
	require.NoError(t, err)
	reply, err := r.agent.HandleInput(context.Background(), "breakpoint 42", conv)
	require.NoError(t, err)
	assert.Equal(t, "Breakpoint added at line 42 (not applied to the running program: lldb rejected it: error: invalid line number)", reply.Text)
	assert.Equal(t, 1, r.registry.Len())
}

// TestAgent_ModelTurn verifies other input reaches the model with tool calls reported back.
func TestAgent_ModelTurn(t *testing.T) {
	r := newRig(t, ModelResponse{
		Text:      "Here is the source.",
		ToolCalls: []types.ToolCallRequest{{ID: "src", Name: "get_source_code"}},
	})
	conv := NewConversation(DefaultSystemPrompt)

	reply, err := r.agent.HandleInput(context.Background(), "show me the code", conv)
	require.NoError(t, err)
	assert.Equal(t, "Here is the source.", reply.Text)
	require.Len(t, reply.ToolCalls, 1)
	require.Len(t, reply.ToolResults, 1)
	// testdata/none.c does not exist
	assert.True(t, reply.ToolResults[0].IsError())
	assert.Contains(t, reply.ToolResults[0].Error, "file not found")
}

// TestAgent_NoModel verifies model turns fail cleanly without a configured model.
func TestAgent_NoModel(t *testing.T) {
	registry := breakpoints.New("game.c")
	a := New(nil, registry, &lldb.Manager{}, quietLogger())

	_, err := a.HandleInput(context.Background(), "what is going on?", NewConversation(""))
	assert.True(t, errors.HasCode(err, errors.CodeModelCallFailed))

	reply, err := a.HandleInput(context.Background(), "echo still works", NewConversation(""))
	require.NoError(t, err)
	assert.Equal(t, "answer still works", reply.Text)
}
