package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ctagard/lldb-agent/internal/version"
)

func newVersionCmd() *cobra.Command {
	var check bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "lldb-agent version %s\n", version.Version)
			if !check {
				return nil
			}
			info, err := version.CheckForUpdates(context.Background(), nil, version.LatestReleaseURL)
			if err != nil {
				return err
			}
			if msg := info.UpdateMessage(); msg != "" {
				fmt.Fprintln(cmd.OutOrStdout(), msg)
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "lldb-agent is up to date")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "Check GitHub for a newer release")
	return cmd
}
