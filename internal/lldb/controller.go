// Package lldb drives one interactive lldb process over its stdio.
//
// The package provides:
//   - Controller: the session state machine and a serialized command queue
//     whose responses are framed by a sentinel command
//   - Hub: non-blocking fan-out of every output line to subscribers
//   - Manager: owns the current Controller and replaces it once it ends
//   - ParseBacktrace: decoding of `bt` output into DAP stack frames
//
// lldb answers one command at a time on stdout and reports command errors
// on stderr, while the inferior's own output can appear at any moment.
// After each command the Controller writes a sentinel for each stream,
// `script import sys; print("<marker>", file=sys.stderr)` and
// `script print("<marker>")`. The lines of both streams up to the line
// equal to the marker are the command's response.
package lldb

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ctagard/lldb-agent/internal/breakpoints"
	"github.com/ctagard/lldb-agent/internal/config"
	"github.com/ctagard/lldb-agent/internal/errors"
	"github.com/ctagard/lldb-agent/pkg/types"
)

// ControllerConfig tunes a Controller. Zero fields take defaults.
type ControllerConfig struct {
	CommandTimeout  time.Duration
	TimeoutPolicy   config.TimeoutPolicy
	SourceFile      string
	StopGracePeriod time.Duration
	SentinelCommand string
	// StderrSentinelCommand prints its %s argument on stderr
	StderrSentinelCommand string
	Logger                *logrus.Entry
}

// ControllerConfigFrom derives controller settings from the debugger section of the configuration
func ControllerConfigFrom(cfg config.DebuggerConfig, logger *logrus.Entry) ControllerConfig {
	return ControllerConfig{
		CommandTimeout:  cfg.CommandTimeout.Std(),
		TimeoutPolicy:   cfg.TimeoutPolicy,
		SourceFile:      cfg.SourceFile,
		SentinelCommand: cfg.SentinelCommand,
		// stderr counterpart of SentinelCommand
		StderrSentinelCommand: cfg.StderrSentinelCommand,
		Logger:                logger,
	}
}

func (c ControllerConfig) withDefaults() ControllerConfig {
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = 10 * time.Second
	}
	if c.TimeoutPolicy == "" {
		c.TimeoutPolicy = config.TimeoutKeepWaiting
	}
	if c.SourceFile == "" {
		c.SourceFile = "game.c"
	}
	if c.StopGracePeriod <= 0 {
		c.StopGracePeriod = 2 * time.Second
	}
	if c.SentinelCommand == "" {
		c.SentinelCommand = `script print("%s")`
	}
	if c.StderrSentinelCommand == "" {
		c.StderrSentinelCommand = `script import sys; print("%s", file=sys.stderr)`
	}
	if c.Logger == nil {
		c.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return c
}

// BreakpointCommand renders the lldb command that sets a line breakpoint
func BreakpointCommand(file string, line int) string {
	return fmt.Sprintf("breakpoint set --file %s --line %d", file, line)
}

// Request lifecycle. The actor moves a request from queued to taken; a
// caller giving up moves it from queued to abandoned. Exactly one wins.
const (
	reqQueued int32 = iota
	reqTaken
	reqAbandoned
)

type result struct {
	output string
	err    error
}

type request struct {
	text     string // empty for the startup handshake
	timeout  time.Duration
	deadline time.Time // zero when unbounded
	state    atomic.Int32
	resp     chan result
}

func (r *request) finish(output string, err error) {
	r.resp <- result{output: output, err: err}
}

// exchange collects the output of the command currently in flight. It is
// complete once the marker has been seen on both streams.
type exchange struct {
	marker   string
	lines    []string
	errLines []string
	outDone  bool
	errDone  bool
	done     chan struct{}
}

// output is the stdout response followed by what the command wrote on stderr
func (ex *exchange) output() string {
	return strings.Join(append(append([]string(nil), ex.lines...), ex.errLines...), "\n")
}

// Controller owns one lldb process. Commands from every caller go through a
// single FIFO queue served by one goroutine, which is the only writer of
// the process's stdin.
type Controller struct {
	id       string
	cfg      ControllerConfig
	launcher Launcher
	log      *logrus.Entry
	hub      *Hub

	mu       sync.Mutex
	state    types.SessionState
	reason   string
	proc     Process
	stopping bool
	queue    []*request
	current  *exchange

	wake      chan struct{}
	exited    chan struct{}
	done      chan struct{}
	finalized sync.Once
}

// NewController creates a controller in the NotStarted state
func NewController(cfg ControllerConfig, launcher Launcher) *Controller {
	cfg = cfg.withDefaults()
	id := uuid.New().String()
	return &Controller{
		id:       id,
		cfg:      cfg,
		launcher: launcher,
		log:      cfg.Logger.WithField("session", id),
		hub:      NewHub(),
		state:    types.SessionNotStarted,
		wake:     make(chan struct{}, 1),
		exited:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// ID returns the session identifier
func (c *Controller) ID() string { return c.id }

// Done is closed once the session has ended and its process is gone
func (c *Controller) Done() <-chan struct{} { return c.done }

// State returns the current lifecycle state
func (c *Controller) State() types.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsRunning reports whether commands are currently accepted
func (c *Controller) IsRunning() bool {
	return c.State() == types.SessionRunning
}

// Reason describes why the session crashed, if it did
func (c *Controller) Reason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// Subscribe returns a stream of every stdout and stderr line the process
// emits, excluding sentinel traffic. The stream closes when the session ends.
func (c *Controller) Subscribe() (<-chan types.OutputEvent, func()) {
	return c.hub.Subscribe()
}

// Start launches lldb, waits until it has processed its startup (symbols of
// the target are loaded) and replays snapshot in order. Start may be called
// once; a failed or cancelled start leaves the session Crashed.
func (c *Controller) Start(ctx context.Context, snapshot breakpoints.Snapshot) error {
	c.mu.Lock()
	if c.state != types.SessionNotStarted {
		state := c.state
		c.mu.Unlock()
		return errors.AlreadyStarted(state)
	}
	c.state = types.SessionStarting
	c.mu.Unlock()
	c.log.WithField("state", types.SessionStarting).Info("starting debug session")

	proc, err := c.launcher.Launch(ctx)
	if err != nil {
		if !errors.HasCode(err, errors.CodeSpawnFailed) {
			err = errors.SpawnFailed("lldb", err)
		}
		c.crash(err.Error())
		return err
	}

	c.mu.Lock()
	if c.state != types.SessionStarting {
		// Stopped while launching
		state := c.state
		c.mu.Unlock()
		_ = proc.Kill()
		go func() { _ = proc.Wait() }()
		return errors.NotRunning(state)
	}
	c.proc = proc
	c.mu.Unlock()

	var readers sync.WaitGroup
	readers.Add(2)
	go c.readStdout(proc.Stdout(), &readers)
	go c.readStderr(proc.Stderr(), &readers)
	go c.waitExit(proc, &readers)
	go c.actor()

	if _, err := c.submit(ctx, "", 0, true); err != nil {
		return c.abortStart("handshake", err)
	}

	for _, bp := range snapshot.Breakpoints() {
		file := bp.File
		if file == "" {
			file = c.cfg.SourceFile
		}
		out, err := c.submit(ctx, BreakpointCommand(file, bp.Line), c.cfg.CommandTimeout, true)
		if err != nil {
			return c.abortStart(fmt.Sprintf("replay of breakpoint %s", bp), err)
		}
		entry := c.log.WithFields(logrus.Fields{"breakpoint": bp.String(), "output": out})
		if msg, failed := FailureLine(out); failed {
			entry.WithField("error", msg).Warn("lldb rejected replayed breakpoint")
		} else {
			entry.Debug("breakpoint replayed")
		}
	}

	c.mu.Lock()
	if c.state != types.SessionStarting {
		state, reason := c.state, c.reason
		c.mu.Unlock()
		if state == types.SessionCrashed {
			return errors.SessionCrashed(reason)
		}
		return errors.NotRunning(state)
	}
	c.state = types.SessionRunning
	c.mu.Unlock()

	c.log.WithFields(logrus.Fields{
		"state":       types.SessionRunning,
		"breakpoints": snapshot.Len(),
	}).Info("debug session running")
	return nil
}

func (c *Controller) abortStart(stage string, err error) error {
	c.crash(fmt.Sprintf("start failed during %s: %v", stage, err))
	return err
}

// SendCommand queues one lldb command and waits for its response text,
// including any error lines lldb printed for it. Commands are answered
// strictly in submission order. The command timeout runs from submission,
// so time spent queued behind a slow command counts against it.
func (c *Controller) SendCommand(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", errors.InvalidArgument("command", text, "a non-empty lldb command")
	}
	if strings.ContainsAny(text, "\r\n") {
		return "", errors.InvalidArgument("command", text, "a single-line lldb command")
	}
	return c.submit(ctx, text, c.cfg.CommandTimeout, false)
}

// Continue resumes the inferior
func (c *Controller) Continue(ctx context.Context) (string, error) {
	return c.SendCommand(ctx, "process continue")
}

func (c *Controller) submit(ctx context.Context, text string, timeout time.Duration, starting bool) (string, error) {
	req := &request{text: text, timeout: timeout, resp: make(chan result, 1)}
	var expired <-chan time.Time
	if timeout > 0 {
		req.deadline = time.Now().Add(timeout)
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	c.mu.Lock()
	accepting := c.state == types.SessionRunning || (starting && c.state == types.SessionStarting)
	if !accepting {
		state := c.state
		c.mu.Unlock()
		return "", errors.NotRunning(state)
	}
	c.queue = append(c.queue, req)
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}

	for {
		select {
		case r := <-req.resp:
			return r.output, r.err
		case <-expired:
			expired = nil
			if req.state.CompareAndSwap(reqQueued, reqAbandoned) {
				c.log.WithField("command", text).Warn("command timed out before it was sent")
				return "", errors.Timeout(text, timeout.Seconds())
			}
			// In flight: the actor applies the timeout policy and answers
		case <-ctx.Done():
			if req.state.CompareAndSwap(reqQueued, reqAbandoned) {
				c.log.WithField("command", text).Debug("queued command withdrawn")
			}
			return "", errors.Cancelled(fmt.Sprintf("command %q", text), ctx.Err())
		}
	}
}

// actor serves the queue until the session ends
func (c *Controller) actor() {
	for {
		req := c.next()
		if req == nil {
			return
		}
		c.serve(req)
	}
}

func (c *Controller) next() *request {
	for {
		c.mu.Lock()
		if c.state.IsTerminal() {
			c.mu.Unlock()
			return nil
		}
		for len(c.queue) > 0 {
			req := c.queue[0]
			c.queue[0] = nil
			c.queue = c.queue[1:]
			if req.state.CompareAndSwap(reqQueued, reqTaken) {
				c.mu.Unlock()
				return req
			}
		}
		c.mu.Unlock()

		select {
		case <-c.wake:
		case <-c.exited:
		}
	}
}

func (c *Controller) serve(req *request) {
	ex := &exchange{marker: uuid.New().String(), done: make(chan struct{})}

	var remaining time.Duration
	if !req.deadline.IsZero() {
		remaining = time.Until(req.deadline)
		if remaining <= 0 {
			req.finish("", errors.Timeout(req.text, req.timeout.Seconds()))
			return
		}
	}

	c.mu.Lock()
	if c.state.IsTerminal() {
		c.mu.Unlock()
		req.finish("", c.endedError())
		return
	}
	c.current = ex
	stdin := c.proc.Stdin()
	c.mu.Unlock()

	log := c.log.WithField("command", req.text)

	payload := fmt.Sprintf(c.cfg.StderrSentinelCommand, ex.marker) + "\n" +
		fmt.Sprintf(c.cfg.SentinelCommand, ex.marker) + "\n"
	if req.text != "" {
		payload = req.text + "\n" + payload
	}
	if _, err := io.WriteString(stdin, payload); err != nil {
		c.mu.Lock()
		if c.current == ex {
			c.current = nil
		}
		c.mu.Unlock()
		req.finish("", errors.ControllerError("write command", err))
		return
	}
	log.Debug("command sent")

	var timeout <-chan time.Time
	if remaining > 0 {
		timer := time.NewTimer(remaining)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-ex.done:
		req.finish(ex.output(), nil)
	case <-c.exited:
		select {
		case <-ex.done:
			req.finish(ex.output(), nil)
		default:
			req.finish("", c.endedError())
		}
	case <-timeout:
		req.finish("", errors.Timeout(req.text, req.timeout.Seconds()))
		if c.cfg.TimeoutPolicy == config.TimeoutCrash {
			c.crash(fmt.Sprintf("command %q timed out after %s", req.text, req.timeout))
			return
		}
		log.Warn("command timed out, waiting for its late response")
		select {
		case <-ex.done:
			log.Debug("late response drained")
		case <-c.exited:
		}
	}
}

// route assigns a line of stream to the command in flight. It reports
// whether the line is ordinary output to publish.
func (c *Controller) route(stream, line string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	ex := c.current
	if ex == nil {
		return true
	}
	if strings.TrimSpace(line) == ex.marker {
		if stream == types.StreamStderr {
			ex.errDone = true
		} else {
			ex.outDone = true
		}
		if ex.outDone && ex.errDone {
			c.current = nil
			close(ex.done)
		}
		return false
	}
	if strings.Contains(line, ex.marker) {
		// lldb echoing a sentinel command itself
		return false
	}
	switch {
	case stream == types.StreamStderr && !ex.errDone:
		ex.errLines = append(ex.errLines, line)
	case stream == types.StreamStdout && !ex.outDone:
		ex.lines = append(ex.lines, line)
	}
	return true
}

func (c *Controller) readStdout(r io.Reader, wg *sync.WaitGroup) {
	defer wg.Done()
	readLines(r, func(line string) {
		if c.route(types.StreamStdout, line) {
			c.hub.Publish(types.StreamStdout, line)
		}
	})
}

func (c *Controller) readStderr(r io.Reader, wg *sync.WaitGroup) {
	defer wg.Done()
	readLines(r, func(line string) {
		if c.route(types.StreamStderr, line) {
			c.hub.Publish(types.StreamStderr, line)
		}
	})
}

// FailureLine returns the first "error:" line of a command response.
// lldb still answers a rejected command, so callers that need to know
// whether it took effect check its output.
func FailureLine(output string) (string, bool) {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "error:") {
			return line, true
		}
	}
	return "", false
}

func readLines(r io.Reader, fn func(string)) {
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			fn(strings.TrimRight(line, "\r\n"))
		}
		if err != nil {
			return
		}
	}
}

// waitExit reaps the process after both output streams hit EOF and settles
// the final state.
func (c *Controller) waitExit(proc Process, readers *sync.WaitGroup) {
	readers.Wait()
	err := proc.Wait()

	c.mu.Lock()
	switch {
	case c.state.IsTerminal():
	case c.stopping || err == nil:
		c.state = types.SessionStopped
	default:
		c.state = types.SessionCrashed
		c.reason = fmt.Sprintf("debugger exited unexpectedly: %v", err)
	}
	state, reason := c.state, c.reason
	pending := c.queue
	c.queue = nil
	c.current = nil
	c.mu.Unlock()

	entry := c.log.WithField("state", state)
	if state == types.SessionCrashed {
		entry.WithField("reason", reason).Error("debug session ended")
	} else {
		entry.Info("debug session ended")
	}

	endErr := c.endedError()
	for _, req := range pending {
		if req.state.CompareAndSwap(reqQueued, reqTaken) {
			req.finish("", endErr)
		}
	}
	c.finalize()
}

// crash moves the session to Crashed and kills the process
func (c *Controller) crash(reason string) {
	c.mu.Lock()
	if c.state.IsTerminal() {
		c.mu.Unlock()
		return
	}
	c.state = types.SessionCrashed
	c.reason = reason
	proc := c.proc
	c.mu.Unlock()

	c.log.WithFields(logrus.Fields{"state": types.SessionCrashed, "reason": reason}).Error("debug session crashed")
	if proc == nil {
		c.finalize()
		return
	}
	if err := proc.Kill(); err != nil {
		c.log.WithError(err).Warn("failed to kill debugger process group")
	}
}

func (c *Controller) endedError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == types.SessionCrashed {
		return errors.SessionCrashed(c.reason)
	}
	return errors.NotRunning(c.state)
}

func (c *Controller) finalize() {
	c.finalized.Do(func() {
		close(c.exited)
		c.hub.Close()
		close(c.done)
	})
}

// Stop ends the session: stdin is closed so lldb exits on EOF, and the
// process group is killed if it is still alive after the grace period.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.state.IsTerminal() {
		c.mu.Unlock()
		return nil
	}
	c.stopping = true
	proc := c.proc
	if proc == nil {
		// Never spawned (or still launching)
		c.state = types.SessionStopped
		c.mu.Unlock()
		c.finalize()
		return nil
	}
	c.mu.Unlock()

	c.log.Info("stopping debug session")
	if err := proc.Stdin().Close(); err != nil {
		c.log.WithError(err).Debug("closing debugger stdin")
	}

	grace := time.NewTimer(c.cfg.StopGracePeriod)
	defer grace.Stop()
	select {
	case <-c.exited:
		return nil
	case <-grace.C:
	case <-ctx.Done():
	}

	c.log.Warn("debugger did not exit, killing process group")
	if err := proc.Kill(); err != nil {
		c.log.WithError(err).Warn("failed to kill debugger process group")
	}
	select {
	case <-c.exited:
		return nil
	case <-ctx.Done():
		return errors.Cancelled("stop", ctx.Err())
	}
}
