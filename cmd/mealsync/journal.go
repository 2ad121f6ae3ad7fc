package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/mealsync/mealsync/pkg/config"
	"github.com/mealsync/mealsync/pkg/journal"
	"github.com/mealsync/mealsync/pkg/models"
	"github.com/spf13/cobra"
)

func newJournalCmd() *cobra.Command {
	var (
		configPath string
		entryID    string
		limit      int
		stats      bool
	)

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Query recent sync attempts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			j, err := journal.New(cfg.DBPath, cfg.Journal.RetentionDays)
			if err != nil {
				return err
			}
			defer func() { _ = j.Close() }()

			ctx := context.Background()

			if stats {
				days, err := j.Stats(ctx)
				if err != nil {
					return err
				}
				if len(days) == 0 {
					fmt.Println("No sync attempts recorded.")
					return nil
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "DAY\tATTEMPTS\tFAILURES")
				for _, d := range days {
					fmt.Fprintf(w, "%s\t%d\t%d\n", d.Day, d.Attempts, d.Failures)
				}
				return w.Flush()
			}

			entries, err := j.Query(ctx, models.JournalQueryOpts{EntryID: entryID, Limit: limit})
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("No sync attempts recorded.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tENTRY ID\tOK\tDURATION\tERROR")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%v\t%dms\t%s\n",
					e.CreatedAt.Format("2006-01-02T15:04:05"), e.EntryID, e.OK, e.DurationMs, e.Error)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "mealsync.yaml", "path to config file")
	cmd.Flags().StringVar(&entryID, "entry-id", "", "filter by entry id")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum attempts to show")
	cmd.Flags().BoolVar(&stats, "stats", false, "show per-day aggregates")
	return cmd
}
