// Package cli implements the kronos command line: offline batch preparation
// and single-image inspection against the same pipeline the worker runs.
package cli

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dunamismax/kronos/internal/config"
	"github.com/dunamismax/kronos/internal/telemetry"
)

type rootOptions struct {
	logLevel  string
	logFormat string
	logger    zerolog.Logger
}

// NewRootCmd creates the kronos root command and its subcommands.
func NewRootCmd(version string) *cobra.Command {
	opts := &rootOptions{logger: zerolog.Nop()}

	cmd := &cobra.Command{
		Use:           "kronos",
		Short:         "Prepare shuffled image minibatches for training",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			opts.logger = telemetry.NewLoggerTo(cmd.ErrOrStderr(), config.LogConfig{
				Level:  opts.logLevel,
				Format: opts.logFormat,
			}, "cli")
		},
	}

	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "console", "log format (console or json)")

	cmd.AddCommand(
		newBatchesCmd(opts),
		newPrepCmd(opts),
		newDescribeCmd(opts),
	)
	return cmd
}
