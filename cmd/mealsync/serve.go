package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/mealsync/mealsync/pkg/api"
	cachepkg "github.com/mealsync/mealsync/pkg/cache/sqlite"
	"github.com/mealsync/mealsync/pkg/config"
	"github.com/mealsync/mealsync/pkg/gateway"
	"github.com/mealsync/mealsync/pkg/journal"
	"github.com/mealsync/mealsync/pkg/queue"
	"github.com/mealsync/mealsync/pkg/router"
	"github.com/mealsync/mealsync/pkg/strategy"
	"github.com/mealsync/mealsync/pkg/syncer"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the offline gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			store, err := cachepkg.New(cfg.DBPath, cfg.Version)
			if err != nil {
				return fmt.Errorf("init cache store: %w", err)
			}
			defer func() { _ = store.Close() }()

			q, err := queue.New(cfg.DBPath, cfg.Queue.MaxPending)
			if err != nil {
				return fmt.Errorf("init queue: %w", err)
			}
			defer func() { _ = q.Close() }()

			var j *journal.Logger
			if cfg.Journal.Enabled {
				j, err = journal.New(cfg.DBPath, cfg.Journal.RetentionDays)
				if err != nil {
					return fmt.Errorf("init journal: %w", err)
				}
				defer func() { _ = j.Close() }()
			}

			rules, err := router.New(cfg.Router)
			if err != nil {
				return fmt.Errorf("compile router rules: %w", err)
			}

			rec := syncer.New(q, api.New(cfg.Upstream), j)
			engine := strategy.New(store, &http.Client{Timeout: cfg.Upstream.Timeout})

			srv, err := gateway.New(cfg, store, engine, rules, rec, nil)
			if err != nil {
				return fmt.Errorf("init gateway: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv.Install(ctx)
			if err := srv.Activate(ctx); err != nil {
				return err
			}

			log.Printf("starting mealsync gateway, version %s", cfg.Version)
			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "mealsync.yaml", "path to config file")
	return cmd
}
