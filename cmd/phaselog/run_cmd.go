// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"fmt"

	"github.com/ManuGH/phaselog/internal/log"
	"github.com/ManuGH/phaselog/internal/pipeline"
	"github.com/spf13/cobra"
)

func (c *cli) runCmd() *cobra.Command {
	var (
		rounds int
		seed   uint64
		group  string
		pace   float64
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the XOR demo pipeline and persist it to the configured store",
		Long: `Feeds train and test samples through the phase sequencer, one producer per
phase, and records the ordered stream in the sequence log. Prints the group id.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.load()
			if err != nil {
				return err
			}
			if group != "" {
				cfg.Group = group
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

			res, err := pipeline.RunDemo(cmd.Context(), pipeline.DemoConfig{
				Schedule: cfg.Schedule,
				Rounds:   rounds,
				Seed:     seed,
				GroupID:  cfg.Group,
				Log:      backend,
				Objects:  backend,
				Accept:   cfg.Accepts,
				Rate:     pace,
			})
			if err != nil {
				return err
			}

			logger := log.WithComponent("cli")

			logger.Info().
				Str(log.FieldGroupID, res.GroupID).
				Int64("next_sequence_id", res.Next).
				Float64("accuracy", res.Accuracy).
				Msg("demo run complete")
			_, err = fmt.Fprintln(cmd.OutOrStdout(), res.GroupID)
			return err
		},
	}
	cmd.Flags().IntVar(&rounds, "rounds", 10, "number of full phase rotations to produce")
	cmd.Flags().Uint64Var(&seed, "seed", 1, "sample generator seed")
	cmd.Flags().Float64Var(&pace, "rate", 0, "samples per second per producer (0 is unpaced)")
	cmd.Flags().StringVar(&group, "group", "", "resume this group instead of the configured one")
	return cmd
}
