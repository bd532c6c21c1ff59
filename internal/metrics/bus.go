// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BusDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "phaselog_bus_dropped_total",
		Help: "Total number of in-memory bus deliveries abandoned by subscriber and reason",
	}, []string{"subscriber", "reason"})

	BusHandlerErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "phaselog_bus_handler_errors_total",
		Help: "Total number of handler errors returned while serving a subscription",
	}, []string{"subscriber"})
)

// IncBusDropReason records an abandoned delivery with a concrete reason.
func IncBusDropReason(subscriber, reason string) {
	if subscriber == "" {
		subscriber = "unknown"
	}
	if reason == "" {
		reason = "unknown"
	}
	BusDroppedTotal.WithLabelValues(subscriber, reason).Inc()
}

// IncBusHandlerError records a handler failure for the given subscriber.
func IncBusHandlerError(subscriber string) {
	if subscriber == "" {
		subscriber = "unknown"
	}
	BusHandlerErrorsTotal.WithLabelValues(subscriber).Inc()
}
