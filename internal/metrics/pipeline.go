// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RunnerIterationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "phaselog_runner_iterations_total",
		Help: "Total phase runner iterations by phase and result",
	}, []string{"phase", "result"})

	SequencerForwardedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "phaselog_sequencer_forwarded_total",
		Help: "Total events forwarded downstream by the sequencer, by canonical phase",
	}, []string{"phase"})

	SequencerRotationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "phaselog_sequencer_rotations_total",
		Help: "Total rotations scheduled after a phase reached its quota",
	}, []string{"phase"})

	SequencerPending = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "phaselog_sequencer_pending",
		Help: "Events buffered per phase waiting for their turn",
	}, []string{"phase"})

	SeqlogAppendsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "phaselog_seqlog_appends_total",
		Help: "Total records appended to the sequence log by encoding",
	}, []string{"encoding"})

	SeqlogAppendErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "phaselog_seqlog_append_errors_total",
		Help: "Total sequence log appends that failed in the backing store",
	})

	SeqlogReplayedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "phaselog_seqlog_replayed_total",
		Help: "Total events replayed from the sequence log",
	})

	ObjectStorePutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "phaselog_objstore_puts_total",
		Help: "Total objects stored by encoding",
	}, []string{"encoding"})
)

func label(v string) string {
	if v == "" {
		return "none"
	}
	return v
}

// IncRunnerIteration records one runner iteration outcome ("ok" or "error").
func IncRunnerIteration(phase, result string) {
	RunnerIterationsTotal.WithLabelValues(label(phase), result).Inc()
}

// IncSequencerForwarded records one forwarded event.
func IncSequencerForwarded(phase string) {
	SequencerForwardedTotal.WithLabelValues(label(phase)).Inc()
}

// IncSequencerRotation records that phase became due.
func IncSequencerRotation(phase string) {
	SequencerRotationsTotal.WithLabelValues(label(phase)).Inc()
}

// SetSequencerPending sets the buffered depth for phase.
func SetSequencerPending(phase string, n int) {
	SequencerPending.WithLabelValues(label(phase)).Set(float64(n))
}

// IncSeqlogAppend records one append with the encoding that was used.
func IncSeqlogAppend(encoding string) {
	SeqlogAppendsTotal.WithLabelValues(label(encoding)).Inc()
}

// IncObjectStorePut records one object store put.
func IncObjectStorePut(encoding string) {
	ObjectStorePutsTotal.WithLabelValues(label(encoding)).Inc()
}
