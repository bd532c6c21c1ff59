// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldGroupID       = "group_id"
	FieldSequenceID    = "sequence_id"
	FieldCorrelationID = "correlation_id"
	FieldRequestID     = "request_id"

	// Pipeline fields
	FieldEvent      = "event"
	FieldEventType  = "event_type"
	FieldComponent  = "component"
	FieldPhase      = "phase"
	FieldIteration  = "iteration"
	FieldQuota      = "quota"
	FieldEncoding   = "encoding"
	FieldSubscriber = "subscriber"

	// Storage fields
	FieldBackend = "backend"
	FieldPath    = "path"
)
