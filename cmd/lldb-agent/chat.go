package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ctagard/lldb-agent/internal/agent"
	"github.com/ctagard/lldb-agent/internal/console"
	"github.com/ctagard/lldb-agent/internal/llm"
)

func newChatCmd(opts *rootOptions) *cobra.Command {
	var (
		model    string
		noStream bool
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive debugging chat",
		Long: `Start an interactive debugging chat.

Plain lines go to the language model. Lines starting with "lldb " or ":"
are sent to lldb as is. Shortcuts:

    echo <text>        reply with the text
    breakpoint <N>     record a breakpoint at line N
    debug              start lldb
    /breakpoints /state /bt /continue /quit`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if model != "" {
				cfg.Model.Model = model
			}
			closeLog, err := setupLogging(cfg.Log)
			if err != nil {
				return err
			}
			defer closeLog()

			logger := logrus.NewEntry(logrus.StandardLogger())
			s := newSession(cfg, logger)
			defer s.close()

			var orchestrator *agent.Orchestrator
			if cfg.HasModel() {
				client := llm.NewClient(cfg.Model, logger.WithField("component", "llm"))
				orchestrator = agent.NewOrchestrator(client, s.dispatcher, logger.WithField("component", "agent"))
			} else {
				logger.Warn("no API key configured; only shortcuts and lldb commands are available")
			}
			a := agent.New(orchestrator, s.registry, s.manager, logger.WithField("component", "agent"))

			ctx, cancel := signalContext()
			defer cancel()

			c := console.New(a, s.manager, s.registry, agent.NewConversation(agent.DefaultSystemPrompt), console.Options{
				In:          os.Stdin,
				Out:         cmd.OutOrStdout(),
				Interactive: term.IsTerminal(int(os.Stdin.Fd())),
				Stream:      !noStream,
				Logger:      logger.WithField("component", "console"),
			})
			return c.Run(ctx)
		},
	}
	cmd.Flags().StringVarP(&model, "model", "m", "", "Model name, e.g. openai/gpt-4o-mini")
	cmd.Flags().BoolVar(&noStream, "no-stream", false, "Print command replies instead of streaming lldb output")
	return cmd
}
