package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/mealsync/mealsync/pkg/config"
	"github.com/mealsync/mealsync/pkg/queue"
	"github.com/spf13/cobra"
)

func newQueueCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the pending-write queue",
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

			stats, err := q.Stats(context.Background())
			if err != nil {
				return err
			}
			fmt.Printf("Pending: %d\n", stats.Pending)
			if stats.Pending > 0 {
				fmt.Printf("Oldest:  %s\n", stats.Oldest.Format("2006-01-02T15:04:05"))
			}
			return nil
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List pending entries",
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

			entries, err := q.All(context.Background())
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("No pending entries.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tUSER\tSLOT\tCREATED\tSUMMARY")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%v\n",
					e.ID, e.UserID, e.MealSlot, e.CreatedAt.Format("2006-01-02T15:04:05"), e.WantSummary)
			}
			return w.Flush()
		},
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "mealsync.yaml", "path to config file")
	cmd.AddCommand(listCmd)
	return cmd
}
