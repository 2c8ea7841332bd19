package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ctagard/lldb-agent/internal/breakpoints"
	"github.com/ctagard/lldb-agent/internal/config"
	"github.com/ctagard/lldb-agent/internal/lldb"
	"github.com/ctagard/lldb-agent/internal/tools"
	"github.com/ctagard/lldb-agent/internal/version"
)

// shutdownTimeout bounds stopping lldb on exit
const shutdownTimeout = 5 * time.Second

type rootOptions struct {
	configPath string
	lldbPath   string
	target     string
	sourcePath string
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "lldb-agent",
		Short: "Debug a program under lldb with the help of a language model",
		Long: `lldb-agent drives an lldb session from a chat with a language model.

The model can set breakpoints, run the program and read its source through
tool calls. The same tools are available to MCP clients with "lldb-agent mcp".`,
		Version:      version.Version,
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Path to configuration file (JSON or TOML)")
	flags.StringVar(&opts.lldbPath, "lldb", "", "Path to the lldb binary")
	flags.StringVarP(&opts.target, "target", "t", "", "Program to debug")
	flags.StringVarP(&opts.sourcePath, "source", "s", "", "Source file returned by get_source_code")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn or error")

	root.AddCommand(newChatCmd(opts), newMCPCmd(opts), newVersionCmd())
	return root
}

// load reads the configuration and applies command line overrides
func (o *rootOptions) load() (*config.Config, error) {
	cfg, err := config.LoadConfig(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if o.lldbPath != "" {
		cfg.Debugger.Path = o.lldbPath
	}
	if o.target != "" {
		cfg.Debugger.Target = o.target
	}
	if o.sourcePath != "" {
		cfg.Debugger.SourcePath = o.sourcePath
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	return cfg, cfg.Validate()
}

// setupLogging configures the standard logrus logger from cfg. The returned
// function closes the log file, if any.
func setupLogging(cfg config.LogConfig) (func(), error) {
	level := logrus.InfoLevel
	if cfg.Level != "" {
		parsed, err := logrus.ParseLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
		level = parsed
	}
	logrus.SetLevel(level)

	if cfg.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if cfg.File == "" {
		logrus.SetOutput(os.Stderr)
		return func() {}, nil
	}
	f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	logrus.SetOutput(f)
	return func() { _ = f.Close() }, nil
}

// session is the debugger side shared by every front end
type session struct {
	manager    *lldb.Manager
	registry   *breakpoints.Registry
	dispatcher *tools.Dispatcher
}

func newSession(cfg *config.Config, logger *logrus.Entry) *session {
	launcher := lldb.ExecLauncher{
		Path:   cfg.Debugger.Path,
		Target: cfg.Debugger.Target,
	}
	manager := lldb.NewManager(
		lldb.ControllerConfigFrom(cfg.Debugger, logger.WithField("component", "lldb")),
		launcher,
		cfg.Debugger.StartTimeout.Std(),
	)
	registry := breakpoints.New(cfg.Debugger.SourceFile)
	dispatcher := tools.NewDispatcher(
		manager,
		registry,
		tools.FileSourceReader{Path: cfg.Debugger.SourcePath},
		logger.WithField("component", "tools"),
	)
	return &session{manager: manager, registry: registry, dispatcher: dispatcher}
}

func (s *session) close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.manager.Close(ctx); err != nil {
		logrus.WithError(err).Warn("failed to stop lldb")
	}
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
			logrus.Info("Shutting down...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}
