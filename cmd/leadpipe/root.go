package main

import (
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "leadpipe",
		Short: "Lead lifecycle pipeline",
		Long: `leadpipe scores lead submissions, delivers readiness reports by email,
runs the day-3 and day-7 follow-ups and offers leads to buyers.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file")

	cmd.AddCommand(
		newServeCmd(opts),
		newMigrateCmd(opts),
		newFollowupCmd(opts),
		newPurgeCmd(opts),
	)
	return cmd
}
