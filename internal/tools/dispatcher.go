package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/ctagard/lldb-agent/internal/breakpoints"
	"github.com/ctagard/lldb-agent/internal/errors"
	"github.com/ctagard/lldb-agent/internal/lldb"
	"github.com/ctagard/lldb-agent/pkg/types"
)

// Session is the part of the debug session the tools drive.
// *lldb.Manager implements it.
type Session interface {
	Start(ctx context.Context, snapshot breakpoints.Snapshot) error
	IsRunning() bool
	SendCommand(ctx context.Context, text string) (string, error)
}

// Dispatcher executes tool calls against the session and the breakpoint registry
type Dispatcher struct {
	session  Session
	registry *breakpoints.Registry
	source   SourceReader
	log      *logrus.Entry
}

// NewDispatcher creates a dispatcher. A nil logger uses the standard logger.
func NewDispatcher(session Session, registry *breakpoints.Registry, source SourceReader, logger *logrus.Entry) *Dispatcher {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Dispatcher{
		session:  session,
		registry: registry,
		source:   source,
		log:      logger,
	}
}

// Catalog returns the tools this dispatcher serves
func (d *Dispatcher) Catalog() []types.ToolDescriptor {
	return Catalog()
}

// Dispatch runs the named tool with JSON arguments and returns its textual result.
// Arguments are fully validated before the registry or the session is touched.
func (d *Dispatcher) Dispatch(ctx context.Context, name, arguments string) (string, error) {
	args, err := DecodeArgs(name, arguments)
	if err != nil {
		d.log.WithFields(logrus.Fields{"tool": name, "error": err}).Debug("tool call rejected")
		return "", err
	}
	d.log.WithFields(logrus.Fields{"tool": name, "arguments": arguments}).Debug("dispatching tool call")

	switch a := args.(type) {
	case RunArgs:
		return d.run(ctx)
	case BreakpointArgs:
		return d.breakpoint(ctx, a)
	case GetSourceCodeArgs:
		return d.getSourceCode()
	case ContinueArgs:
		// Acknowledged only; resuming the inferior is done from the console
		return "Execution continued", nil
	default:
		return "", errors.UnknownTool(name, Names())
	}
}

// Execute runs a tool call and converts every failure, including panics,
// into an error result.
func (d *Dispatcher) Execute(ctx context.Context, req types.ToolCallRequest) (result types.ToolCallResult) {
	defer func() {
		if r := recover(); r != nil {
			d.log.WithField("tool", req.Name).Errorf("tool call panicked: %v", r)
			result = types.NewToolError(req.ID, req.Name, fmt.Sprintf("internal error: %v", r))
		}
	}()

	out, err := d.Dispatch(ctx, req.Name, req.Arguments)
	if err != nil {
		return types.NewToolError(req.ID, req.Name, err.Error())
	}
	return types.NewToolOutput(req.ID, req.Name, out)
}

func (d *Dispatcher) run(ctx context.Context) (string, error) {
	snapshot := d.registry.Snapshot()
	if err := d.session.Start(ctx, snapshot); err != nil {
		return "", errors.ControllerError("run", err)
	}
	if n := snapshot.Len(); n > 0 {
		return fmt.Sprintf("Program run (%d breakpoint(s) applied)", n), nil
	}
	return "Program run", nil
}

func (d *Dispatcher) breakpoint(ctx context.Context, args BreakpointArgs) (string, error) {
	bp, err := d.registry.Add(args.Line)
	if err != nil {
		return "", errors.ArgumentError(ToolBreakpoint, err.Error())
	}

	msg := fmt.Sprintf("Breakpoint set at line %d", bp.Line)
	if !d.session.IsRunning() {
		return msg + ". It will be applied when the program runs.", nil
	}

	out, err := d.session.SendCommand(ctx, lldb.BreakpointCommand(bp.File, bp.Line))
	if err == nil {
		if line, failed := lldb.FailureLine(out); failed {
			err = fmt.Errorf("lldb rejected it: %s", line)
		}
	}
	if err != nil {
		d.log.WithFields(logrus.Fields{"tool": ToolBreakpoint, "breakpoint": bp.String()}).
			WithError(err).Warn("breakpoint propagation failed")
		return fmt.Sprintf("%s. Applying it to the running program failed: %v. It is kept and will be applied on the next run.", msg, err), nil
	}

	out = strings.TrimSpace(out)
	if out == "" {
		return msg + ". Applied to the running program.", nil
	}
	return fmt.Sprintf("%s. Applied to the running program: %s", msg, out), nil
}

func (d *Dispatcher) getSourceCode() (string, error) {
	if d.source == nil {
		return "", errors.NotFound("", fmt.Errorf("no source reader configured"))
	}
	return d.source.ReadInspectedSource()
}
