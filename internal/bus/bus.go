// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package bus is the in-process dispatch fabric every component publishes to
// and consumes from.
package bus

import (
	"context"

	"github.com/ManuGH/phaselog/internal/event"
)

// Predicate selects the events a subscription receives.
type Predicate func(event.Event) bool

// Handler applies an event within a context.
type Handler func(ctx context.Context, ev event.Event) error

// Emitter is the publish half of a Bus. Components that only produce events
// depend on this.
type Emitter interface {
	Publish(ctx context.Context, ev event.Event) error
}

type Subscriber interface {
	// C returns a read-only event channel. Events arrive in publish order.
	C() <-chan event.Event
	// Close unsubscribes.
	Close() error
}

// Bus is the event transport abstraction.
type Bus interface {
	Emitter
	Subscribe(ctx context.Context, name string, match Predicate) (Subscriber, error)
}

// Any matches every event.
func Any(event.Event) bool { return true }

// OfType matches events of the given types.
func OfType(types ...event.Type) Predicate {
	return func(ev event.Event) bool {
		for _, t := range types {
			if ev.Type == t {
				return true
			}
		}
		return false
	}
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ctx context.Context, ev event.Event) error

func (f EmitterFunc) Publish(ctx context.Context, ev event.Event) error {
	return f(ctx, ev)
}
