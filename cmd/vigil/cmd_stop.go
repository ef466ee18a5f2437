package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newStopCmd creates the "vigil stop" subcommand.
func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Graceful shutdown of the daemon",
		Long:  "Sends SIGTERM to the running daemon. In-flight actions get the\nshutdown grace period to finish before they are cancelled.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := ResolvePaths()
			if err != nil {
				return err
			}

			pf := pidFile(paths.PIDPath)
			state, pid, err := pf.state()
			if err != nil {
				return err
			}

			switch state {
			case procStopped:
				fmt.Fprintln(cmd.OutOrStdout(), "vigil is not running")
				return nil
			case procStale:
				fmt.Fprintln(cmd.OutOrStdout(), "removing stale PID file (process already dead)")
				return pf.remove()
			case procRunning:
				fmt.Fprintf(cmd.OutOrStdout(), "sending SIGTERM to vigil (PID %d)\n", pid)
				if err := pf.terminate(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "stop signal sent")
				return nil
			}

			return nil
		},
	}
}
