package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// newRunCmd creates the "vigil run" subcommand.
func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the decision loop until stopped",
		Long:  "Starts the daemon in the foreground: it watches the knowledge base,\nprobes backends and acts on confident decisions until SIGINT or SIGTERM.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd, opts, runOptions{})
		},
	}
}

// newDryRunCmd creates the "vigil dry-run" subcommand.
func newDryRunCmd(opts *rootOptions) *cobra.Command {
	var cycles int

	cmd := &cobra.Command{
		Use:   "dry-run",
		Short: "Run decision cycles without executing anything",
		Long:  "Runs the full observe, infer and decide pipeline but only logs the\nactions it would have executed. Operator commands stay queued.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cycles < 0 {
				return fmt.Errorf("--cycles must not be negative")
			}
			return runDaemon(cmd, opts, runOptions{DryRun: true, MaxCycles: cycles})
		},
	}

	cmd.Flags().IntVar(&cycles, "cycles", 10, "stop after this many cycles (0 runs until interrupted)")
	return cmd
}

// runDaemon loads configuration, claims the PID file and runs the daemon
// in the foreground.
func runDaemon(cmd *cobra.Command, opts *rootOptions, ro runOptions) error {
	out := cmd.OutOrStdout()
	progress := newStartupLog(out, isTerminal(out))

	paths, err := ResolvePaths()
	if err != nil {
		return err
	}
	cfg, err := opts.loadConfig(paths)
	if err != nil {
		return err
	}
	if err := opts.reconfigureLogger(cfg); err != nil {
		return err
	}
	progress.Step(fmt.Sprintf("Config loaded (knowledge base %s)", cfg.KBRoot))

	if err := paths.EnsureHome(); err != nil {
		return err
	}
	pid := pidFile(paths.PIDPath)
	if err := pid.claim(os.Getpid()); err != nil {
		return err
	}
	ctx, release := withShutdownSignals(cmd.Context(), pid)
	defer release()

	db, err := openStateDB(ctx, paths)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	progress.Step(fmt.Sprintf("State database %s", paths.StateDBPath))

	stop := progress.StartSpinner("Wiring backends")
	d, err := wireDaemon(ctx, cfg, db, ro, opts.logger)
	stop()
	if err != nil {
		return err
	}

	if ro.DryRun {
		if ro.MaxCycles > 0 {
			progress.Step(fmt.Sprintf("Dry run for %d cycles: nothing will be executed", ro.MaxCycles))
		} else {
			progress.Step("Dry run: nothing will be executed")
		}
	}

	start := time.Now()
	runErr := d.Run(ctx)
	if runErr != nil {
		progress.Warn(fmt.Sprintf("Daemon stopped with error: %v", runErr))
		return runErr
	}
	progress.StepTimed("Daemon stopped", time.Since(start))
	return nil
}
