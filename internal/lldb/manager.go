package lldb

import (
	"context"
	"sync"
	"time"

	"github.com/google/go-dap"
	"github.com/sirupsen/logrus"

	"github.com/ctagard/lldb-agent/internal/breakpoints"
	"github.com/ctagard/lldb-agent/internal/errors"
	"github.com/ctagard/lldb-agent/pkg/types"
)

// Manager owns the current debug session. A session that has ended is
// never restarted in place: Start builds a fresh Controller instead.
// Output of every session is forwarded to the Manager's own hub so
// subscribers survive restarts.
type Manager struct {
	cfg          ControllerConfig
	launcher     Launcher
	startTimeout time.Duration
	log          *logrus.Entry
	hub          *Hub

	mu         sync.RWMutex
	current    *Controller
	closed     bool
	forwarders sync.WaitGroup
}

// NewManager creates a manager. startTimeout bounds spawn plus replay;
// zero means the caller's context alone bounds it.
func NewManager(cfg ControllerConfig, launcher Launcher, startTimeout time.Duration) *Manager {
	cfg = cfg.withDefaults()
	return &Manager{
		cfg:          cfg,
		launcher:     launcher,
		startTimeout: startTimeout,
		log:          cfg.Logger,
		hub:          NewHub(),
	}
}

// Current returns the most recent controller, or nil before the first Start
func (m *Manager) Current() *Controller {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// State returns the state of the current session
func (m *Manager) State() types.SessionState {
	if c := m.Current(); c != nil {
		return c.State()
	}
	return types.SessionNotStarted
}

// IsRunning reports whether the current session accepts commands
func (m *Manager) IsRunning() bool {
	return m.State() == types.SessionRunning
}

// Start starts a session replaying snapshot. If the current session is
// still live this fails with an already-started error.
func (m *Manager) Start(ctx context.Context, snapshot breakpoints.Snapshot) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errors.NotRunning(types.SessionStopped)
	}
	ctrl := m.current
	if ctrl == nil || ctrl.State().IsTerminal() {
		ctrl = NewController(m.cfg, m.launcher)
		m.current = ctrl
		m.forward(ctrl)
	}
	m.mu.Unlock()

	if m.startTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.startTimeout)
		defer cancel()
	}
	return ctrl.Start(ctx, snapshot)
}

// forward republishes a controller's output on the manager hub (must be called with lock held)
func (m *Manager) forward(ctrl *Controller) {
	events, _ := ctrl.Subscribe()
	m.forwarders.Add(1)
	go func() {
		defer m.forwarders.Done()
		for ev := range events {
			m.hub.Publish(ev.Stream, ev.Line)
		}
	}()
}

// SendCommand sends a command to the current session
func (m *Manager) SendCommand(ctx context.Context, text string) (string, error) {
	ctrl := m.Current()
	if ctrl == nil {
		return "", errors.NotRunning(types.SessionNotStarted)
	}
	return ctrl.SendCommand(ctx, text)
}

// CallStack returns the backtrace of the current session
func (m *Manager) CallStack(ctx context.Context) ([]dap.StackFrame, error) {
	ctrl := m.Current()
	if ctrl == nil {
		return nil, errors.NotRunning(types.SessionNotStarted)
	}
	return ctrl.CallStack(ctx)
}

// Continue resumes the inferior of the current session
func (m *Manager) Continue(ctx context.Context) (string, error) {
	ctrl := m.Current()
	if ctrl == nil {
		return "", errors.NotRunning(types.SessionNotStarted)
	}
	return ctrl.Continue(ctx)
}

// Subscribe streams the output of the current and every later session
func (m *Manager) Subscribe() (<-chan types.OutputEvent, func()) {
	return m.hub.Subscribe()
}

// Close stops the current session and the output hub
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	ctrl := m.current
	m.mu.Unlock()

	var err error
	if ctrl != nil {
		if err = ctrl.Stop(ctx); err != nil {
			m.log.WithError(err).Warn("failed to stop debug session")
		}
	}

	flushed := make(chan struct{})
	go func() {
		m.forwarders.Wait()
		close(flushed)
	}()
	select {
	case <-flushed:
	case <-ctx.Done():
	}
	m.hub.Close()
	return err
}
