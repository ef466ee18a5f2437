package main

import (
	"fmt"

	"vigil/internal/appversion"
	"vigil/pkg/config"
	"vigil/pkg/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// rootOptions carries the persistent flags and the logger built from them.
type rootOptions struct {
	configPath string
	verbose    bool
	logFormat  string

	logger *zap.Logger
}

// newRootCmd creates the root vigil command with all subcommands attached.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "vigil",
		Short:         "Autonomous decision core for a knowledge base",
		Long:          "vigil watches a knowledge base, reasons about what changed and acts\nwhen it is confident enough, degrading gracefully as backends fail.",
		Version:       fmt.Sprintf("vigil %s", appversion.String()),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := "info"
			if opts.verbose {
				level = "debug"
			}
			logger, err := logging.New(level, opts.logFormat)
			if err != nil {
				return fmt.Errorf("initialize logger: %w", err)
			}
			opts.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.logger != nil {
				_ = opts.logger.Sync()
			}
		},
	}

	cmd.SetVersionTemplate("{{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default $VIGIL_HOME/config.toml)")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "log format: json or console (default from config)")

	cmd.AddCommand(
		newRunCmd(opts),
		newDryRunCmd(opts),
		newStatusCmd(),
		newStopCmd(),
		newEnqueueCmd(),
		newCalibrationCmd(),
		newMCPCmd(opts),
	)

	return cmd
}

// loadConfig resolves the config path and loads it. An explicit --config
// must exist; the default location is optional.
func (o *rootOptions) loadConfig(paths *Paths) (*config.Config, error) {
	path, required := paths.ConfigPath, false
	if o.configPath != "" {
		path, required = o.configPath, true
	}
	return config.Load(path, required)
}

// reconfigureLogger rebuilds the logger from the loaded config. Flags win
// over the file.
func (o *rootOptions) reconfigureLogger(cfg *config.Config) error {
	level, format := cfg.Logging.Level, cfg.Logging.Format
	if o.verbose {
		level = "debug"
	}
	if o.logFormat != "" {
		format = o.logFormat
	}
	logger, err := logging.New(level, format)
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	if o.logger != nil {
		_ = o.logger.Sync()
	}
	o.logger = logger
	return nil
}
