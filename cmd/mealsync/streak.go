package main

import (
	"context"
	"fmt"

	"github.com/mealsync/mealsync/pkg/api"
	"github.com/mealsync/mealsync/pkg/config"
	"github.com/mealsync/mealsync/pkg/streak"
	"github.com/spf13/cobra"
)

func newStreakCmd() *cobra.Command {
	var (
		configPath string
		userID     string
	)

	cmd := &cobra.Command{
		Use:   "streak",
		Short: "Show the current consecutive-day logging streak",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return fmt.Errorf("--user is required")
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			dates, err := api.New(cfg.Upstream).LogDates(context.Background(), userID)
			if err != nil {
				return fmt.Errorf("fetch log dates: %w", err)
			}

			days := streak.Compute(dates, streak.Today())
			switch days {
			case 1:
				fmt.Println("Current streak: 1 day")
			default:
				fmt.Printf("Current streak: %d days\n", days)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "mealsync.yaml", "path to config file")
	cmd.Flags().StringVar(&userID, "user", "", "user id to compute the streak for")
	return cmd
}
