package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/ctagard/lldb-agent/internal/breakpoints"
	"github.com/ctagard/lldb-agent/internal/errors"
	"github.com/ctagard/lldb-agent/internal/lldb"
	"github.com/ctagard/lldb-agent/internal/tools"
	"github.com/ctagard/lldb-agent/pkg/types"
)

// Reply is what the operator sees for one input
type Reply struct {
	Text        string
	ToolCalls   []types.ToolCallRequest
	ToolResults []types.ToolCallResult
}

// Agent answers operator input. A few direct commands are handled locally;
// everything else becomes a model turn.
//
//	echo <text>       replies "answer <text>"
//	breakpoint <N>    records a breakpoint at line N
//	debug             starts the debug session
type Agent struct {
	orchestrator *Orchestrator
	registry     *breakpoints.Registry
	session      tools.Session
	log          *logrus.Entry
}

// New creates an agent. orchestrator may be nil when no model is
// configured; model turns then fail with a hint.
func New(orchestrator *Orchestrator, registry *breakpoints.Registry, session tools.Session, logger *logrus.Entry) *Agent {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Agent{
		orchestrator: orchestrator,
		registry:     registry,
		session:      session,
		log:          logger,
	}
}

// HandleInput routes one line of operator input
func (a *Agent) HandleInput(ctx context.Context, input string, conv *Conversation) (Reply, error) {
	text := strings.TrimSpace(input)

	switch {
	case hasPrefixFold(text, "echo "):
		return Reply{Text: "answer " + text[len("echo "):]}, nil
	case hasPrefixFold(text, "breakpoint "):
		return a.addBreakpoint(ctx, text[len("breakpoint "):]), nil
	case strings.EqualFold(text, "debug"):
		return a.startDebugger(ctx), nil
	}

	if a.orchestrator == nil {
		return Reply{}, errors.ModelCallFailed(fmt.Errorf("no API key configured"))
	}
	resp, results, err := a.orchestrator.turn(ctx, text, conv)
	if err != nil {
		return Reply{}, err
	}
	return Reply{Text: resp.Text, ToolCalls: resp.ToolCalls, ToolResults: results}, nil
}

func (a *Agent) addBreakpoint(ctx context.Context, arg string) Reply {
	bp, err := a.registry.AddFromString(arg)
	if err != nil {
		return Reply{Text: "Error: Invalid line number. Line must be a positive integer."}
	}

	text := fmt.Sprintf("Breakpoint added at line %d", bp.Line)
	if a.session.IsRunning() {
		out, err := a.session.SendCommand(ctx, lldb.BreakpointCommand(bp.File, bp.Line))
		if err == nil {
			if line, failed := lldb.FailureLine(out); failed {
				err = fmt.Errorf("lldb rejected it: %s", line)
			}
		}
		if err != nil {
			a.log.WithField("breakpoint", bp.String()).WithError(err).Warn("breakpoint propagation failed")
			text += fmt.Sprintf(" (not applied to the running program: %v)", err)
		} else {
			text += " and applied to the running program"
		}
	}
	return Reply{Text: text}
}

func (a *Agent) startDebugger(ctx context.Context) Reply {
	if err := a.session.Start(ctx, a.registry.Snapshot()); err != nil {
		return Reply{Text: fmt.Sprintf("Error starting LLDB: %v", err)}
	}
	return Reply{Text: "LLDB session started. Prefix a line with `lldb ` to talk to lldb directly."}
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
