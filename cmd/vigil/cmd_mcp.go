package main

import (
	"vigil/internal/appversion"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newMCPCmd creates the "vigil mcp" subcommand.
func newMCPCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve vigil's status, calibration and inbox over MCP stdio",
		Long:  "Runs a Model Context Protocol server on stdin/stdout so an assistant\ncan inspect the daemon and queue operator commands.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := ResolvePaths()
			if err != nil {
				return err
			}
			opts.logger.Info("mcp server starting", zap.String("state_db", paths.StateDBPath))
			return server.ServeStdio(newMCPServer(paths, appversion.String()))
		},
	}
}
