// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"errors"
	"fmt"

	"github.com/ManuGH/phaselog/internal/api"
	"github.com/ManuGH/phaselog/internal/event"
	"github.com/ManuGH/phaselog/internal/phase"
	"github.com/ManuGH/phaselog/internal/pipeline"
	"github.com/ManuGH/phaselog/internal/seqlog"
	"github.com/spf13/cobra"
)

var errNoGroup = errors.New("no group given (use --group or PHASELOG_GROUP)")

func (c *cli) replayCmd() *cobra.Command {
	var (
		group string
		rerun bool
	)
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay a recorded group as JSON lines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.load()
			if err != nil {
				return err
			}
			if group == "" {
				group = cfg.Group
			}
			if group == "" {
				return errNoGroup
			}
			backend, err := c.open(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = backend.Close() }()

			out := cmd.OutOrStdout()
			if rerun {
				model := pipeline.NewXORModel()
				models := make(map[event.Phase]phase.Model, len(cfg.Schedule))
				for _, slot := range cfg.Schedule {
					models[slot.Phase] = model.ModelFor(slot.Phase)
				}
				after, err := pipeline.Rerun(cmd.Context(), backend, group, models)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(out, "iterations=%d accuracy=%.4f\n", len(after), model.Accuracy())
				return err
			}

			for e, err := range seqlog.NewReader(backend, group).Entries(cmd.Context()) {
				if err != nil {
					return err
				}
				line, err := api.WireJSON(e.SequenceID, e.Event)
				if err != nil {
					return err
				}
				if _, err := fmt.Fprintln(out, string(line)); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&group, "group", "g", "", "group id to replay")
	cmd.Flags().BoolVar(&rerun, "rerun", false, "re-feed the recorded data into a fresh XOR model instead of printing it")
	return cmd
}
