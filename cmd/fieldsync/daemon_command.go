package main

import (
	"github.com/spf13/cobra"

	"fieldsync/internal/daemonrun"
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	var logLevel string

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the sync daemon in the foreground",
		Long: "The daemon flushes queued reports on startup, when the collector comes back online,\n" +
			"on the configured schedule and when reports land in the spool directory.\n" +
			"Send SIGUSR1 to request a sync; SIGINT or SIGTERM stops it.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
				LogLevel: logLevel,
				Version:  version,
			})
		},
	}

	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override logging.level (debug, info, warn, error)")
	return cmd
}
