// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ManuGH/phaselog/internal/config"
	"github.com/ManuGH/phaselog/internal/health"
	"github.com/ManuGH/phaselog/internal/log"
	"github.com/ManuGH/phaselog/internal/storage"
	"github.com/ManuGH/phaselog/internal/telemetry"
	"github.com/ManuGH/phaselog/internal/version"
	"github.com/spf13/cobra"
)

// cli carries state shared by the subcommands.
type cli struct {
	configPath string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Configure(log.Config{Level: "info", Output: os.Stderr, Service: "phaselog", Version: version.Version})

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		logger := log.WithComponent("cli")
		logger.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "phaselog",
		Short:         "Phase-ordered event sequencing with a durable sequence log",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "path to config file (YAML)")

	root.AddCommand(
		c.runCmd(),
		c.replayCmd(),
		c.serveCmd(),
		c.configCmd(),
		versionCmd(),
	)
	return root
}

func (c *cli) loader() *config.Loader {
	return config.NewLoader(c.configPath, version.Version)
}

// load resolves configuration and reconfigures the logger from it.
func (c *cli) load() (config.AppConfig, error) {
	cfg, err := c.loader().Load()
	if err != nil {
		return cfg, err
	}
	configureLogging(cfg)
	return cfg, nil
}

func configureLogging(cfg config.AppConfig) {
	log.Configure(log.Config{
		Level:   cfg.LogLevel,
		Output:  os.Stderr,
		Service: cfg.LogService,
		Version: cfg.Version,
	})
}

// open runs the startup checks and opens the configured backend.
func (c *cli) open(ctx context.Context, cfg config.AppConfig) (storage.Backend, error) {
	if err := health.PerformStartupChecks(ctx, cfg); err != nil {
		return nil, err
	}
	b, err := storage.Open(cfg.StorageConfig())
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Backend, err)
	}
	return b, nil
}

// tracing installs the configured tracer provider. The returned func flushes it.
func (c *cli) tracing(ctx context.Context, cfg config.AppConfig) (func(), error) {
	p, err := telemetry.NewProvider(ctx, cfg.TracingConfig())
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	return func() {
		if err := p.Shutdown(context.Background()); err != nil {
			logger := log.WithComponent("telemetry")
			logger.Warn().Err(err).Msg("tracer shutdown failed")
		}
	}, nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version.String())
			return err
		},
	}
}
