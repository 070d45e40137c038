package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/osr-alliance/backend-lead-pipeline/audit"
	"github.com/osr-alliance/backend-lead-pipeline/config"
	"github.com/osr-alliance/backend-lead-pipeline/lead"
)

func (o *rootOptions) load() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newFollowupCmd(root *rootOptions) *cobra.Command {
	var day int
	cmd := &cobra.Command{
		Use:   "followup",
		Short: "Run one follow-up batch, as the cron endpoint does",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !lead.FollowupDay(day).Valid() {
				return fmt.Errorf("--day must be 3 or 7")
			}
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if cfg.PDF.SigningKey == "" {
				return fmt.Errorf("pdf.signing_key is required to link reports")
			}
			d, err := openDeps(cfg, false)
			if err != nil {
				return err
			}
			defer d.close()

			p, err := d.pipeline()
			if err != nil {
				return err
			}
			sch, err := d.scheduler(lead.FollowupDay(day), p.email)
			if err != nil {
				return err
			}
			sum, err := sch.Run(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(sum)
		},
	}
	cmd.Flags().IntVar(&day, "day", 3, "follow-up day (3 or 7)")
	return cmd
}

func newPurgeCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "purge-test-data",
		Short: "Delete leads flagged is_test and their audit events",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			d, err := openDeps(cfg, false)
			if err != nil {
				return err
			}
			defer d.close()

			res, err := d.store.PurgeTestData(cmd.Context())
			if err != nil {
				return err
			}
			d.audit.Append(cmd.Context(), audit.TestDataPurged, audit.Payload{
				"leads_deleted":  res.LeadsDeleted,
				"events_deleted": res.EventsDeleted,
				"source":         "cli",
			})
			return printJSON(res)
		},
	}
}
