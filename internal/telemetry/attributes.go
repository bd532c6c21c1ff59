// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Span attribute keys.
const (
	PhaseKey     = "phaselog.phase"
	IterationKey = "phaselog.iteration"
	ModelKey     = "phaselog.model"
	GroupKey     = "phaselog.group_id"
	SequenceKey  = "phaselog.sequence_id"
	ErrorTypeKey = "error.type"
)

// IterationAttributes describes one runner iteration.
func IterationAttributes(phase string, iteration int64, model string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(PhaseKey, phase),
		attribute.Int64(IterationKey, iteration),
	}
	if model != "" {
		attrs = append(attrs, attribute.String(ModelKey, model))
	}
	return attrs
}

// RecordAttributes describes one sequence log record.
func RecordAttributes(group string, seq int64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(GroupKey, group),
		attribute.Int64(SequenceKey, seq),
	}
}

// ErrorAttributes marks a span with an error class.
func ErrorAttributes(errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool("error", true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
