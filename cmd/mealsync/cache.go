package main

import (
	"context"
	"fmt"

	cachepkg "github.com/mealsync/mealsync/pkg/cache/sqlite"
	"github.com/mealsync/mealsync/pkg/config"
	"github.com/spf13/cobra"
)

func newCacheCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the cache partitions",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics and partitions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			store, err := cachepkg.New(cfg.DBPath, cfg.Version)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			ctx := context.Background()
			stats, err := store.Stats(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Entries: %d\nHits:    %d\nMisses:  %d\n", stats.Entries, stats.Hits, stats.Misses)

			partitions, err := store.Partitions(ctx)
			if err != nil {
				return err
			}
			for _, p := range partitions {
				fmt.Println("  " + p)
			}
			return nil
		},
	}

	cleanupCmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete partitions from prior versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			store, err := cachepkg.New(cfg.DBPath, cfg.Version)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			dropped, err := store.DeleteStale(context.Background())
			if err != nil {
				return err
			}
			fmt.Printf("Dropped %d stale entries.\n", dropped)
			return nil
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear all cache entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			store, err := cachepkg.New(cfg.DBPath, cfg.Version)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if err := store.Clear(context.Background()); err != nil {
				return err
			}
			fmt.Println("All cache entries cleared.")
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "mealsync.yaml", "path to config file")
	cmd.AddCommand(statsCmd, cleanupCmd, clearCmd)
	return cmd
}
