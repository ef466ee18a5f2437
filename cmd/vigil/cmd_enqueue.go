package main

import (
	"fmt"

	"vigil/pkg/daemon"
	"vigil/pkg/protocol"

	"github.com/spf13/cobra"
)

// newEnqueueCmd creates the "vigil enqueue" subcommand.
func newEnqueueCmd() *cobra.Command {
	var payload string

	cmd := &cobra.Command{
		Use:   "enqueue <mutate|query|analyze|noop> [target]",
		Short: "Queue an operator command for the daemon",
		Long: "Writes a command into the daemon's inbox. On its next cycle the daemon\n" +
			"turns it into a direct decision that bypasses the reasoner. The safety\n" +
			"policy still applies. Targets are relative to the knowledge base root.",
		Example: "  vigil enqueue analyze notes/inbox.md\n  vigil enqueue mutate notes/todo.md --payload '- [ ] review'",
		Args:    cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := protocol.ActionKind(args[0])
			target := ""
			if len(args) == 2 {
				target = args[1]
			}

			paths, err := ResolvePaths()
			if err != nil {
				return err
			}
			db, err := openStateDB(cmd.Context(), paths)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			id, err := daemon.Enqueue(cmd.Context(), db, kind, target, payload)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queued command #%d: %s\n",
				id, protocol.DescribeAction(protocol.Action{Kind: kind, Target: target}))
			return nil
		},
	}

	cmd.Flags().StringVar(&payload, "payload", "", "action payload (file content for mutate)")
	return cmd
}
