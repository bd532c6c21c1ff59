// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ManuGH/phaselog/internal/bus"
	"github.com/ManuGH/phaselog/internal/event"
	"github.com/ManuGH/phaselog/internal/log"
	"github.com/ManuGH/phaselog/internal/phase"
	"github.com/ManuGH/phaselog/internal/seqlog"
	"golang.org/x/sync/errgroup"
)

// Rerun replays a recorded group into fresh runners, one per model, and
// returns the after_iteration events they produce. Recorded data events are
// already ordered, so no sequencer is involved; a single dispatcher feeds
// the runners in log order.
func Rerun(ctx context.Context, store seqlog.Store, group string, models map[event.Phase]phase.Model) ([]event.Event, error) {
	logger := log.WithComponent("pipeline").With().Str(log.FieldGroupID, group).Logger()
	b := bus.NewMemoryBus()
	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	defer func() {
		cancel()
		b.Reset()
		_ = g.Wait()
	}()

	out := &collector{}
	d := dispatcher{runners: make(map[event.Phase]*phase.Runner, len(models)), c: out}
	for ph, model := range models {
		d.runners[ph] = phase.New(ph, model, b, phase.WithModelName("rerun"), phase.WithLogger(logger))
	}
	wait, err := bus.Attach(gctx, b, "rerun.dispatch", d)
	if err != nil {
		return nil, err
	}
	g.Go(wait)
	wait, err = bus.Attach(gctx, b, "rerun.collector", out)
	if err != nil {
		return nil, err
	}
	g.Go(wait)

	var expected int
	emit := bus.EmitterFunc(func(ctx context.Context, ev event.Event) error {
		if ev.Type == event.TypeData {
			if _, ok := models[ev.Phase]; ok {
				expected++
			}
		}
		return b.Publish(ctx, ev)
	})
	if err := seqlog.NewReader(store, group, seqlog.WithReplayEmitter(emit)).Replay(gctx); err != nil {
		return nil, err
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for out.done() < expected {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("rerun %s: %w", group, ctx.Err())
		case <-ticker.C:
		}
	}

	b.Reset()
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := out.firstErr(); err != nil {
		return nil, fmt.Errorf("rerun %s: %w", group, err)
	}
	logger.Info().Int("iterations", expected).Msg("group rerun complete")
	return out.events(), nil
}

type collector struct {
	mu     sync.Mutex
	after  []event.Event
	failed int
	err    error
}

func (c *collector) Accepts(ev event.Event) bool { return ev.Type == event.TypeAfterIteration }

func (c *collector) Handle(_ context.Context, ev event.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.after = append(c.after, ev)
	return nil
}

func (c *collector) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failed++
	if c.err == nil {
		c.err = err
	}
}

func (c *collector) done() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.after) + c.failed
}

func (c *collector) firstErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *collector) events() []event.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]event.Event(nil), c.after...)
}

// dispatcher hands data events to the runner of their phase and reports
// runner errors to the collector so a failing model does not stall the rerun.
type dispatcher struct {
	runners map[event.Phase]*phase.Runner
	c       *collector
}

func (d dispatcher) Accepts(ev event.Event) bool {
	_, ok := d.runners[ev.Phase]
	return ok && ev.Type == event.TypeData
}

func (d dispatcher) Handle(ctx context.Context, ev event.Event) error {
	r, ok := d.runners[ev.Phase]
	if !ok {
		return nil
	}
	err := r.Handle(ctx, ev)
	if err != nil {
		d.c.fail(err)
	}
	return err
}
