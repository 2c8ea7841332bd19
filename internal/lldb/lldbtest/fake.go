// Package lldbtest provides an in-process stand-in for lldb that speaks the
// sentinel protocol over pipes, for tests of code built on package lldb.
package lldbtest

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/ctagard/lldb-agent/internal/lldb"
)

var (
	sentinel       = regexp.MustCompile(`^script print\("([^"]*)"\)$`)
	stderrSentinel = regexp.MustCompile(`^script import sys; print\("([^"]*)", file=sys\.stderr\)$`)
)

// Fake launches fake debugger processes. Configure the exported fields
// before the first Launch.
type Fake struct {
	// Respond returns the stdout lines printed for a command
	Respond func(cmd string) []string
	// Stderr returns the stderr lines printed for a command
	Stderr func(cmd string) []string
	// Delay holds back the answer to a command, and everything after it
	Delay func(cmd string) time.Duration
	// ExitOn ends the process with the given status when the command arrives
	ExitOn map[string]int
	// Banner is printed on stdout right after launch
	Banner []string
	// StartupDelay postpones reading stdin after launch
	StartupDelay time.Duration
	// Echo prints "(lldb) <input>" for every input line, as lldb does
	Echo bool
	// LaunchErr makes Launch fail
	LaunchErr error

	mu       sync.Mutex
	commands []string
	procs    []*Proc
}

// Launch implements lldb.Launcher
func (f *Fake) Launch(ctx context.Context) (lldb.Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.LaunchErr != nil {
		return nil, f.LaunchErr
	}

	p := &Proc{fake: f, exited: make(chan struct{}), killed: make(chan struct{})}
	p.stdinR, p.stdinW = io.Pipe()
	p.stdoutR, p.stdoutW = io.Pipe()
	p.stderrR, p.stderrW = io.Pipe()

	f.mu.Lock()
	f.procs = append(f.procs, p)
	p.pid = 4000 + len(f.procs)
	f.mu.Unlock()

	go p.serve()
	return p, nil
}

// Commands returns every command received across all launches, in order.
// Sentinel commands are not included.
func (f *Fake) Commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

// Launches returns how many processes were started
func (f *Fake) Launches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.procs)
}

// Last returns the most recently launched process
func (f *Fake) Last() *Proc {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.procs) == 0 {
		return nil
	}
	return f.procs[len(f.procs)-1]
}

// WaitForCommand blocks until cmd has been received or the timeout elapses
func (f *Fake) WaitForCommand(cmd string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, c := range f.Commands() {
			if c == cmd {
				return true
			}
		}
		time.Sleep(2 * time.Millisecond)
	}
	return false
}

func (f *Fake) record(cmd string) {
	f.mu.Lock()
	f.commands = append(f.commands, cmd)
	f.mu.Unlock()
}

// Proc is one fake debugger process
type Proc struct {
	fake *Fake
	pid  int

	stdinR  *io.PipeReader
	stdinW  *io.PipeWriter
	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter
	stderrR *io.PipeReader
	stderrW *io.PipeWriter

	exitOnce sync.Once
	status   int
	exited   chan struct{}
	killOnce sync.Once
	killed   chan struct{}
}

func (p *Proc) Stdin() io.WriteCloser { return p.stdinW }
func (p *Proc) Stdout() io.Reader     { return p.stdoutR }
func (p *Proc) Stderr() io.Reader     { return p.stderrR }
func (p *Proc) PID() int              { return p.pid }

// Wait implements lldb.Process
func (p *Proc) Wait() error {
	<-p.exited
	switch p.status {
	case 0:
		return nil
	case -1:
		return fmt.Errorf("signal: killed")
	default:
		return fmt.Errorf("exit status %d", p.status)
	}
}

// Kill implements lldb.Process
func (p *Proc) Kill() error {
	p.killOnce.Do(func() { close(p.killed) })
	p.Exit(-1)
	return nil
}

// Exit ends the process with status, as if it died on its own
func (p *Proc) Exit(status int) {
	p.exitOnce.Do(func() {
		p.status = status
		_ = p.stdoutW.Close()
		_ = p.stderrW.Close()
		_ = p.stdinR.Close()
		close(p.exited)
	})
}

// Print writes an unsolicited stdout line
func (p *Proc) Print(line string) {
	_, _ = fmt.Fprintln(p.stdoutW, line)
}

// PrintErr writes an unsolicited stderr line
func (p *Proc) PrintErr(line string) {
	_, _ = fmt.Fprintln(p.stderrW, line)
}

func (p *Proc) pause(d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-p.killed:
		return false
	case <-p.exited:
		return false
	}
}

func (p *Proc) serve() {
	f := p.fake
	for _, line := range f.Banner {
		p.Print(line)
	}
	if !p.pause(f.StartupDelay) {
		return
	}

	reader := bufio.NewReader(p.stdinR)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			// EOF on stdin: lldb quits cleanly
			p.Exit(0)
			return
		}
		line = strings.TrimRight(line, "\r\n")

		if f.Echo {
			p.Print("(lldb) " + line)
		}
		if m := sentinel.FindStringSubmatch(line); m != nil {
			p.Print(m[1])
			continue
		}
		if m := stderrSentinel.FindStringSubmatch(line); m != nil {
			p.PrintErr(m[1])
			continue
		}

		f.record(line)
		if f.Delay != nil && !p.pause(f.Delay(line)) {
			return
		}
		if status, ok := f.ExitOn[line]; ok {
			p.Exit(status)
			return
		}
		if line == "quit" {
			p.Exit(0)
			return
		}
		if f.Stderr != nil {
			for _, out := range f.Stderr(line) {
				p.PrintErr(out)
			}
		}
		if f.Respond != nil {
			for _, out := range f.Respond(line) {
				p.Print(out)
			}
		}
	}
}
