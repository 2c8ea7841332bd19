// Package console is the interactive front end of lldb-agent.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/google/go-dap"
	"github.com/sirupsen/logrus"

	"github.com/ctagard/lldb-agent/internal/agent"
	"github.com/ctagard/lldb-agent/internal/breakpoints"
	"github.com/ctagard/lldb-agent/pkg/types"
)

const prompt = "> "

// Debugger is the session surface the console drives. *lldb.Manager implements it.
type Debugger interface {
	State() types.SessionState
	SendCommand(ctx context.Context, text string) (string, error)
	CallStack(ctx context.Context) ([]dap.StackFrame, error)
	Continue(ctx context.Context) (string, error)
	Subscribe() (<-chan types.OutputEvent, func())
}

// Options configures a Console
type Options struct {
	In  io.Reader
	Out io.Writer
	// Interactive prints a prompt before each line
	Interactive bool
	// Stream prints every debugger output line as it arrives. Replies to
	// manual debugger input are then not printed a second time.
	Stream bool
	Logger *logrus.Entry
}

// Console reads operator input line by line.
//
//	lldb <cmd>, :<cmd>   sent to the debugger as is
//	/breakpoints         list recorded breakpoints
//	/state               show the session state
//	/bt                  show the call stack
//	/continue            resume the program
//	/quit                leave
//
// Everything else goes to the agent.
type Console struct {
	agent    *agent.Agent
	debugger Debugger
	registry *breakpoints.Registry
	conv     *agent.Conversation
	opts     Options
	log      *logrus.Entry

	outMu sync.Mutex
}

// New creates a console
func New(a *agent.Agent, debugger Debugger, registry *breakpoints.Registry, conv *agent.Conversation, opts Options) *Console {
	if opts.Logger == nil {
		opts.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Console{
		agent:    a,
		debugger: debugger,
		registry: registry,
		conv:     conv,
		opts:     opts,
		log:      opts.Logger,
	}
}

// Run processes input until it ends, /quit is entered or ctx is done
func (c *Console) Run(ctx context.Context) error {
	var printer sync.WaitGroup
	if c.opts.Stream {
		events, cancel := c.debugger.Subscribe()
		printer.Add(1)
		go func() {
			defer printer.Done()
			for ev := range events {
				c.printEvent(ev)
			}
		}()
		defer func() {
			cancel()
			printer.Wait()
		}()
	}

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(c.opts.In)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		c.showPrompt()
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			return err
		case line := <-lines:
			if quit := c.handleLine(ctx, line); quit {
				return nil
			}
		}
	}
}

// handleLine runs one line of input and reports whether the console should stop
func (c *Console) handleLine(ctx context.Context, line string) bool {
	text := strings.TrimSpace(line)
	if text == "" {
		return false
	}

	switch {
	case text == "/quit" || text == "/exit":
		return true
	case strings.HasPrefix(text, "/"):
		c.handleSlash(ctx, text)
	case strings.HasPrefix(text, "lldb "):
		c.sendRaw(ctx, strings.TrimPrefix(text, "lldb "))
	case strings.HasPrefix(text, ":"):
		c.sendRaw(ctx, strings.TrimPrefix(text, ":"))
	default:
		c.ask(ctx, text)
	}
	return false
}

func (c *Console) handleSlash(ctx context.Context, text string) {
	switch text {
	case "/breakpoints":
		bps := c.registry.List()
		if len(bps) == 0 {
			c.println("No breakpoints")
			return
		}
		for _, bp := range bps {
			c.println(bp.String())
		}
	case "/state":
		c.println("Session: " + c.debugger.State().String())
	case "/bt":
		frames, err := c.debugger.CallStack(ctx)
		if err != nil {
			c.printError(err)
			return
		}
		if len(frames) == 0 {
			c.println("No frames")
			return
		}
		for _, f := range frames {
			c.println(formatFrame(f))
		}
	case "/continue":
		out, err := c.debugger.Continue(ctx)
		if err != nil {
			c.printError(err)
			return
		}
		c.printReply(out)
	default:
		c.println("Unknown command: " + text + " (try /breakpoints, /state, /bt, /continue, /quit)")
	}
}

func (c *Console) sendRaw(ctx context.Context, command string) {
	out, err := c.debugger.SendCommand(ctx, strings.TrimSpace(command))
	if err != nil {
		c.printError(err)
		return
	}
	c.printReply(out)
}

func (c *Console) ask(ctx context.Context, text string) {
	reply, err := c.agent.HandleInput(ctx, text, c.conv)
	if err != nil {
		c.log.WithError(err).Debug("agent turn failed")
		c.printError(err)
		return
	}
	for i, call := range reply.ToolCalls {
		status := "ok"
		if i < len(reply.ToolResults) {
			status = reply.ToolResults[i].Content()
		}
		c.println(fmt.Sprintf("[tool] %s(%s) -> %s", call.Name, call.Arguments, status))
	}
	if reply.Text != "" {
		c.println(reply.Text)
	}
}

// printReply prints debugger output unless the stream already showed it
func (c *Console) printReply(out string) {
	if c.opts.Stream {
		return
	}
	out = strings.TrimRight(out, "\n")
	if out != "" {
		c.println(out)
	}
}

func (c *Console) printEvent(ev types.OutputEvent) {
	if ev.Stream == types.StreamStderr {
		c.println("[lldb!] " + ev.Line)
		return
	}
	c.println("[lldb] " + ev.Line)
}

func (c *Console) printError(err error) {
	c.println("Error: " + err.Error())
}

func (c *Console) showPrompt() {
	if !c.opts.Interactive {
		return
	}
	c.outMu.Lock()
	defer c.outMu.Unlock()
	fmt.Fprint(c.opts.Out, prompt)
}

func (c *Console) println(s string) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	fmt.Fprintln(c.opts.Out, s)
}

func formatFrame(f dap.StackFrame) string {
	if f.Source == nil {
		return fmt.Sprintf("#%d %s", f.Id, f.Name)
	}
	return fmt.Sprintf("#%d %s at %s:%d", f.Id, f.Name, f.Source.Name, f.Line)
}
