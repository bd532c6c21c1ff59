// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"

	"github.com/ManuGH/phaselog/internal/api"
	"github.com/ManuGH/phaselog/internal/config"
	"github.com/ManuGH/phaselog/internal/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func (c *cli) serveCmd() *cobra.Command {
	var (
		listen string
		watch  bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve health, metrics and group replay over HTTP",
		Long: `Serves /healthz, /readyz, /metrics and the read-only /api/v1 group replay
endpoints. With --watch, edits to the config file reapply the log level
without a restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.load()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.API.Listen = listen
			}
			flush, err := c.tracing(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer flush()

			backend, err := c.open(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = backend.Close() }()

			srv := api.New(backend, api.Config{
				Version:    cfg.Version,
				Listen:     cfg.API.Listen,
				RateLimit:  cfg.API.RateLimit,
				RateWindow: cfg.API.RateWindow,
				MaxConns:   cfg.API.MaxConns,
			})

			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error { return srv.ListenAndServe(ctx) })
			if watch {
				holder := config.NewHolder(cfg, c.loader())
				updates := make(chan config.AppConfig, 1)
				holder.Subscribe(updates)
				g.Go(func() error {
					if err := holder.Watch(ctx); err != nil {
						logger := log.WithComponent("cli")
						logger.Warn().Err(err).Msg("config watcher unavailable")
					}
					return nil
				})
				g.Go(func() error { return applyUpdates(ctx, updates) })
			}
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "override the listen address")
	cmd.Flags().BoolVar(&watch, "watch", true, "reload logging settings when the config file changes")
	return cmd
}

func applyUpdates(ctx context.Context, updates <-chan config.AppConfig) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case cfg := <-updates:
			configureLogging(cfg)
		}
	}
}
