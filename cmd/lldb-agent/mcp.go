package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ctagard/lldb-agent/internal/mcp"
	"github.com/ctagard/lldb-agent/internal/version"
)

func newMCPCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the debugger tools over MCP on stdio",
		Long: `Serve the debugger tools over the Model Context Protocol on stdin/stdout.

Add to your MCP client configuration:

    {
        "mcpServers": {
            "lldb-agent": {
                "command": "lldb-agent",
                "args": ["mcp", "--target", "./game", "--source", "./game.c"]
            }
        }
    }`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			closeLog, err := setupLogging(cfg.Log)
			if err != nil {
				return err
			}
			defer closeLog()

			logger := logrus.NewEntry(logrus.StandardLogger())
			s := newSession(cfg, logger)
			defer s.close()

			server := mcp.NewServer(s.dispatcher, s.manager, version.Version)
			logger.Info("MCP server starting...")
			return server.ServeStdio()
		},
	}
}
