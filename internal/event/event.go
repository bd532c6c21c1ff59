// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package event defines the value type that flows through the dispatch bus,
// the sequencer and the sequence log.
package event

import (
	"strings"
	"time"
)

// Type identifies an event kind.
type Type string

const (
	TypeData            Type = "data"
	TypeBeforeIteration Type = "before_iteration"
	TypeAfterIteration  Type = "after_iteration"
	TypeStoreObject     Type = "store_object"
)

// Phase names a logical stage of repeated work. The empty phase is the
// absent phase; it is a valid match target like any other.
type Phase string

// UnorderedSuffix marks events that still have to pass through a sequencer.
const UnorderedSuffix = "_unordered"

// Unordered returns the phase tag used for events that still need ordering.
func (p Phase) Unordered() Phase {
	return p + UnorderedSuffix
}

// IsUnordered reports whether p carries the unordered suffix.
func (p Phase) IsUnordered() bool {
	return strings.HasSuffix(string(p), UnorderedSuffix)
}

// Canonical strips the unordered suffix, if any.
func (p Phase) Canonical() Phase {
	return Phase(strings.TrimSuffix(string(p), UnorderedSuffix))
}

// Event is an immutable value once published. Copy before changing fields.
type Event struct {
	Type      Type
	Phase     Phase
	Iteration int64
	// Payload is the data for data events, the model input for iteration
	// events and the stored object for store_object confirmations.
	Payload any
	// Output is the model output of an after_iteration event.
	Output any
	Model  string
	Time   time.Time
	// Attrs holds extra producer fields, flattened into the wire document.
	Attrs map[string]any
}

// Data builds an unordered-or-ordered data event.
func Data(phase Phase, payload any) Event {
	return Event{Type: TypeData, Phase: phase, Payload: payload}
}

// StoreObject builds the confirmation emitted after a successful append.
func StoreObject(obj any) Event {
	return Event{Type: TypeStoreObject, Payload: obj}
}

// WithPhase returns a copy of e tagged with phase.
func (e Event) WithPhase(phase Phase) Event {
	e.Phase = phase
	return e
}

// Attr returns an extra field.
func (e Event) Attr(key string) (any, bool) {
	if e.Attrs == nil {
		return nil, false
	}
	v, ok := e.Attrs[key]
	return v, ok
}

// WithAttr returns a copy of e with key set. The attrs map is copied.
func (e Event) WithAttr(key string, value any) Event {
	attrs := make(map[string]any, len(e.Attrs)+1)
	for k, v := range e.Attrs {
		attrs[k] = v
	}
	attrs[key] = value
	e.Attrs = attrs
	return e
}

// Is reports whether the event has the given type and phase.
func (e Event) Is(t Type, phase Phase) bool {
	return e.Type == t && e.Phase == phase
}
