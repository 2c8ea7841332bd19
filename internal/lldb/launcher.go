package lldb

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/ctagard/lldb-agent/internal/errors"
)

// Process is a running debugger process as seen by the Controller.
// Stdout and Stderr are read until EOF before Wait is called.
type Process interface {
	Stdin() io.WriteCloser
	Stdout() io.Reader
	Stderr() io.Reader
	// Wait blocks until the process exits. A nil error means exit status 0.
	Wait() error
	// Kill terminates the process and everything it started.
	Kill() error
	PID() int
}

// Launcher starts debugger processes. The context bounds the launch only,
// never the lifetime of the returned process.
type Launcher interface {
	Launch(ctx context.Context) (Process, error)
}

// ExecLauncher runs `<Path> [Args...] <Target>` with piped stdio
type ExecLauncher struct {
	Path   string
	Target string
	Args   []string
	Dir    string
}

// Launch implements Launcher
func (l ExecLauncher) Launch(ctx context.Context) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	args := append(append([]string(nil), l.Args...), l.Target)
	//nolint:gosec // G204: spawning the configured debugger is the point
	cmd := exec.Command(l.Path, args...)
	cmd.Env = os.Environ()
	cmd.Dir = l.Dir

	// Platform-specific process attributes (process_unix.go / process_windows.go)
	setProcAttr(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.SpawnFailed(l.Path, fmt.Errorf("failed to get stdin pipe: %w", err))
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		_ = stdin.Close()
		return nil, errors.SpawnFailed(l.Path, fmt.Errorf("failed to get stdout pipe: %w", err))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		_ = stdin.Close()
		_ = stdout.Close()
		return nil, errors.SpawnFailed(l.Path, fmt.Errorf("failed to get stderr pipe: %w", err))
	}

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		_ = stdout.Close()
		_ = stderr.Close()
		return nil, errors.SpawnFailed(l.Path, err)
	}

	return &execProcess{cmd: cmd, stdin: stdin, stdout: stdout, stderr: stderr}, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.Reader
	stderr io.Reader
}

func (p *execProcess) Stdin() io.WriteCloser { return p.stdin }
func (p *execProcess) Stdout() io.Reader     { return p.stdout }
func (p *execProcess) Stderr() io.Reader     { return p.stderr }
func (p *execProcess) Wait() error           { return p.cmd.Wait() }
func (p *execProcess) PID() int              { return p.cmd.Process.Pid }

func (p *execProcess) Kill() error {
	return killProcessGroup(p.cmd.Process.Pid, p.cmd)
}
