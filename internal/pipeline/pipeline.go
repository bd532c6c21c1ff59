// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package pipeline wires runners, the sequencer, the sequence log writer and
// the object store onto one in-process bus.
//
//	producer --data(P_unordered)--> sequencer --data(P)--> runner(P)
//	runner --before/after_iteration(P)--> bus
//	after_iteration(P) --> sequencer (rotation)
//	accepted events --> writer --> store; writer --store_object--> bus
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ManuGH/phaselog/internal/bus"
	"github.com/ManuGH/phaselog/internal/event"
	"github.com/ManuGH/phaselog/internal/log"
	"github.com/ManuGH/phaselog/internal/objstore"
	"github.com/ManuGH/phaselog/internal/phase"
	"github.com/ManuGH/phaselog/internal/seqlog"
	"github.com/ManuGH/phaselog/internal/sequencer"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const pollInterval = 5 * time.Millisecond

var (
	ErrNotStarted = errors.New("pipeline not started")
	ErrStarted    = errors.New("pipeline already started")
)

// Config describes one pipeline instance.
type Config struct {
	Schedule sequencer.Schedule
	// Models maps each scheduled phase to the model its runner drives.
	// Phases without a model are forwarded but never complete.
	Models map[event.Phase]phase.Model
	// ModelName is attached to iteration events.
	ModelName string

	Log     seqlog.Store
	GroupID string
	// Accept selects the events the writer persists. Defaults to ordered
	// data events.
	Accept func(event.Event) bool

	// Objects enables the object store listener when set.
	Objects      objstore.Backend
	ObjectAccept func(event.Event) bool
}

// Pipeline owns the bus and every listener attached to it.
type Pipeline struct {
	cfg    Config
	logger zerolog.Logger

	bus       *bus.MemoryBus
	sequencer *sequencer.Sequencer
	runners   []*phase.Runner
	writer    *seqlog.Writer
	objects   *objstore.Store

	completed atomic.Int64

	errMu sync.Mutex
	err   error

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	group   *errgroup.Group
}

// Option configures a Pipeline.
type Option func(*Pipeline)

func WithLogger(l zerolog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// New builds the components. Nothing runs until Start.
func New(ctx context.Context, cfg Config, opts ...Option) (*Pipeline, error) {
	if cfg.Log == nil {
		return nil, fmt.Errorf("pipeline: nil sequence log store")
	}
	p := &Pipeline{
		cfg:    cfg,
		logger: log.WithComponent("pipeline"),
		bus:    bus.NewMemoryBus(),
	}
	for _, opt := range opts {
		opt(p)
	}

	seq, err := sequencer.New(cfg.Schedule, p.bus)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	p.sequencer = seq

	phases := make([]event.Phase, 0, len(cfg.Models))
	for ph := range cfg.Models {
		phases = append(phases, ph)
	}
	sort.Slice(phases, func(i, j int) bool { return phases[i] < phases[j] })
	for _, ph := range phases {
		p.runners = append(p.runners, phase.New(ph, cfg.Models[ph], p.bus, phase.WithModelName(cfg.ModelName)))
	}

	accept := cfg.Accept
	if accept == nil {
		accept = func(ev event.Event) bool {
			return ev.Type == event.TypeData && !ev.Phase.IsUnordered()
		}
	}
	wopts := []seqlog.WriterOption{
		seqlog.WithAccept(accept),
		seqlog.WithEmitter(p.bus),
	}
	if cfg.GroupID != "" {
		wopts = append(wopts, seqlog.WithGroupID(cfg.GroupID))
	}
	w, err := seqlog.NewWriter(ctx, cfg.Log, wopts...)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	p.writer = w

	if cfg.Objects != nil {
		oaccept := cfg.ObjectAccept
		if oaccept == nil {
			oaccept = func(ev event.Event) bool {
				if ev.Type != event.TypeData || ev.Phase.IsUnordered() {
					return false
				}
				_, ok := objstore.ObjectID(ev)
				return ok
			}
		}
		p.objects = objstore.New(cfg.Objects, objstore.WithAccept(oaccept))
	}
	return p, nil
}

// Start attaches every listener. The completion counter is attached last so
// that, by the time it sees an event, every other subscriber has it queued.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return ErrStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)

	listeners := []attachment{
		{"sequencer", p.sequencer},
		{"seqlog", p.writer},
	}
	for _, r := range p.runners {
		listeners = append(listeners, attachment{"runner." + string(r.Phase()), r})
	}
	if p.objects != nil {
		listeners = append(listeners, attachment{"objstore", p.objects})
	}
	listeners = append(listeners, attachment{"progress", progress{&p.completed}})

	for _, entry := range listeners {
		wait, err := bus.Attach(gctx, p.bus, entry.name, recorder{entry.l, p})
		if err != nil {
			cancel()
			p.bus.Reset()
			_ = g.Wait()
			return fmt.Errorf("pipeline: attach %s: %w", entry.name, err)
		}
		g.Go(wait)
	}

	p.started = true
	p.cancel = cancel
	p.group = g
	p.logger.Info().
		Str(log.FieldGroupID, p.writer.GroupID()).
		Str("schedule", p.cfg.Schedule.String()).
		Int("runners", len(p.runners)).
		Msg("pipeline started")
	return nil
}

// Publish submits one unordered work item for phase ph.
func (p *Pipeline) Publish(ctx context.Context, ph event.Phase, payload any) error {
	return p.bus.Publish(ctx, event.Data(ph.Canonical().Unordered(), payload))
}

// Completed returns the number of after_iteration events observed.
func (p *Pipeline) Completed() int64 {
	return p.completed.Load()
}

// Drain waits for n completions, lets every listener consume what is
// queued, and shuts the pipeline down.
func (p *Pipeline) Drain(ctx context.Context, n int64) error {
	p.mu.Lock()
	started := p.started
	p.mu.Unlock()
	if !started {
		return ErrNotStarted
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for p.completed.Load() < n {
		if err := p.Err(); err != nil {
			_ = p.Close()
			return err
		}
		select {
		case <-ctx.Done():
			_ = p.Close()
			return fmt.Errorf("pipeline: drain after %d of %d completions: %w", p.completed.Load(), n, ctx.Err())
		case <-ticker.C:
		}
	}
	return p.shutdown(true)
}

// Close tears the pipeline down without waiting for queued work.
func (p *Pipeline) Close() error {
	return p.shutdown(false)
}

func (p *Pipeline) shutdown(graceful bool) error {
	p.mu.Lock()
	started, cancel, g := p.started, p.cancel, p.group
	p.started = false
	p.mu.Unlock()

	if !started {
		return p.sequencer.Close()
	}
	if !graceful {
		cancel()
	}
	// Closing the subscriptions lets each Serve loop finish its queue.
	p.bus.Reset()
	werr := g.Wait()
	cancel()

	if err := p.sequencer.Close(); err != nil {
		return err
	}
	if err := p.Err(); err != nil {
		return err
	}
	if !graceful && errors.Is(werr, context.Canceled) {
		return nil
	}
	return werr
}

// Err returns the first error a listener reported, including a fatal
// sequencer error.
func (p *Pipeline) Err() error {
	if err := p.sequencer.Err(); err != nil {
		return err
	}
	p.errMu.Lock()
	defer p.errMu.Unlock()
	return p.err
}

func (p *Pipeline) record(err error) {
	p.errMu.Lock()
	defer p.errMu.Unlock()
	if p.err == nil {
		p.err = err
	}
}

// GroupID is the sequence log group being written.
func (p *Pipeline) GroupID() string { return p.writer.GroupID() }

// Next is the sequence id the next persisted event receives.
func (p *Pipeline) Next() int64 { return p.writer.Next() }

// Objects returns the object store, or nil when none is configured.
func (p *Pipeline) Objects() *objstore.Store { return p.objects }

// Bus exposes the dispatch fabric for extra listeners.
func (p *Pipeline) Bus() *bus.MemoryBus { return p.bus }

type attachment struct {
	name string
	l    bus.Listener
}

// recorder keeps the first handler error so Drain can surface it.
type recorder struct {
	bus.Listener
	p *Pipeline
}

func (r recorder) Handle(ctx context.Context, ev event.Event) error {
	err := r.Listener.Handle(ctx, ev)
	if err != nil && !errors.Is(err, context.Canceled) {
		r.p.record(err)
	}
	return err
}

// progress counts completions.
type progress struct {
	n *atomic.Int64
}

func (progress) Accepts(ev event.Event) bool { return ev.Type == event.TypeAfterIteration }

func (c progress) Handle(context.Context, event.Event) error {
	c.n.Add(1)
	return nil
}
