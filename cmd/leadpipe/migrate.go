package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/osr-alliance/backend-lead-pipeline/store"
)

func newMigrateCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			logger, err := cfg.Log.NewLogger()
			if err != nil {
				return err
			}
			db, err := openDB(cfg.Database.Driver, cfg.Database.DSN)
			if err != nil {
				return err
			}
			defer db.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()
			if err := store.Migrate(ctx, db); err != nil {
				return err
			}
			logger.WithField("driver", cfg.Database.Driver).Info("schema up to date")
			return nil
		},
	}
}
