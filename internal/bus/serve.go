// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package bus

import (
	"context"
	"errors"
	"sync"

	"github.com/ManuGH/phaselog/internal/event"
	"github.com/ManuGH/phaselog/internal/log"
	"github.com/ManuGH/phaselog/internal/metrics"
)

// Serve drains sub in order, calling h for every event. Handler errors are
// logged and counted; the loop keeps going. Serve returns nil when the
// subscription is closed and ctx.Err() when ctx is done.
func Serve(ctx context.Context, name string, sub Subscriber, h Handler) error {
	logger := log.WithComponent("bus").With().Str(log.FieldSubscriber, name).Logger()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sub.C():
			if !ok {
				return nil
			}
			if err := h(ctx, ev); err != nil {
				if errors.Is(err, context.Canceled) && ctx.Err() != nil {
					return ctx.Err()
				}
				metrics.IncBusHandlerError(name)
				logger.Error().
					Err(err).
					Str(log.FieldEventType, string(ev.Type)).
					Str(log.FieldPhase, string(ev.Phase)).
					Msg("event handler failed")
			}
		}
	}
}

// Listener is a component that can be registered on a bus.
type Listener interface {
	Accepts(ev event.Event) bool
	Handle(ctx context.Context, ev event.Event) error
}

// Attach subscribes l under name and serves it until ctx is done or the
// subscription is closed. The returned function blocks until serving stops.
func Attach(ctx context.Context, b Bus, name string, l Listener) (wait func() error, err error) {
	sub, err := b.Subscribe(ctx, name, l.Accepts)
	if err != nil {
		return nil, err
	}
	done := make(chan error, 1)
	go func() {
		err := Serve(ctx, name, sub, l.Handle)
		_ = sub.Close()
		done <- err
	}()
	return sync.OnceValue(func() error { return <-done }), nil
}
