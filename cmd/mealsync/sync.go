package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/mealsync/mealsync/pkg/api"
	"github.com/mealsync/mealsync/pkg/config"
	"github.com/mealsync/mealsync/pkg/journal"
	"github.com/mealsync/mealsync/pkg/queue"
	"github.com/mealsync/mealsync/pkg/syncer"
	"github.com/spf13/cobra"
)

func newSyncCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile pending entries against the remote API now",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			q, err := queue.New(cfg.DBPath, cfg.Queue.MaxPending)
			if err != nil {
				return err
			}
			defer func() { _ = q.Close() }()

			var j *journal.Logger
			if cfg.Journal.Enabled {
				j, err = journal.New(cfg.DBPath, cfg.Journal.RetentionDays)
				if err != nil {
					return err
				}
				defer func() { _ = j.Close() }()
			}

			rec := syncer.New(q, api.New(cfg.Upstream), j)

			result, err := rec.Reconcile(context.Background())
			if err != nil {
				return err
			}

			fmt.Printf("Synced %d entries.\n", result.SyncedCount)
			if len(result.Errors) > 0 {
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ENTRY ID\tERROR")
				for id, msg := range result.Errors {
					fmt.Fprintf(w, "%s\t%s\n", id, msg)
				}
				w.Flush()
				return fmt.Errorf("%d entries failed and remain queued", len(result.Errors))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "mealsync.yaml", "path to config file")
	return cmd
}
