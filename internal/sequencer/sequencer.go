// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package sequencer merges independently paced, phase-tagged event streams
// into one stream that follows a fixed phase rotation.
//
// Producers publish data events tagged with the unordered form of their
// phase ("train_unordered"). The sequencer buffers them per phase and a
// single worker forwards exactly quota(P) events of the due phase P, retagged
// with the canonical phase. The next phase becomes due once quota(P)
// after_iteration completions for P have been observed.
package sequencer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ManuGH/phaselog/internal/bus"
	"github.com/ManuGH/phaselog/internal/event"
	"github.com/ManuGH/phaselog/internal/log"
	"github.com/ManuGH/phaselog/internal/metrics"
	"github.com/rs/zerolog"
)

var (
	// ErrAlreadyOrdered is the fatal configuration error raised when an
	// after_iteration carrying an unordered phase tag reaches the sequencer.
	// Completions can only be counted for phases the sequencer itself ordered.
	ErrAlreadyOrdered = errors.New("completion signal for an unordered phase")

	// ErrStopped is returned by Handle after the worker has exited.
	ErrStopped = errors.New("sequencer stopped")
)

type state int

const (
	stateIdle state = iota
	stateRunning
	stateStopped
)

// token is a control queue entry: a due slot index, or the stop marker.
type token struct {
	slot int
	stop bool
}

// Sequencer is a bus.Listener. Handle never blocks, so it is safe to feed
// completions back from the downstream publish path.
type Sequencer struct {
	schedule Schedule
	index    map[event.Phase]int
	out      bus.Emitter
	logger   zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	state   state
	counts  []int
	err     error
	pending []*queue[event.Event]
	control *queue[token]
}

// Option configures a Sequencer.
type Option func(*Sequencer)

// WithLogger overrides the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Sequencer) { s.logger = l }
}

// New validates schedule and returns an idle sequencer forwarding to out.
func New(schedule Schedule, out bus.Emitter, opts ...Option) (*Sequencer, error) {
	if err := schedule.Validate(); err != nil {
		return nil, err
	}
	if out == nil {
		return nil, fmt.Errorf("sequencer: nil emitter")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Sequencer{
		schedule: append(Schedule(nil), schedule...),
		index:    make(map[event.Phase]int, len(schedule)),
		out:      out,
		logger:   log.WithComponent("sequencer"),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		counts:   make([]int, len(schedule)),
		pending:  make([]*queue[event.Event], len(schedule)),
		control:  newQueue[token](),
	}
	for i, slot := range s.schedule {
		s.index[slot.Phase] = i
		s.pending[i] = newQueue[event.Event]()
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Schedule returns a copy of the configured rotation.
func (s *Sequencer) Schedule() Schedule {
	return append(Schedule(nil), s.schedule...)
}

// Accepts matches completion signals and unordered data events.
func (s *Sequencer) Accepts(ev event.Event) bool {
	switch ev.Type {
	case event.TypeAfterIteration:
		return true
	case event.TypeData:
		return ev.Phase.IsUnordered()
	default:
		return false
	}
}

// Handle routes one inbound event. It returns ErrAlreadyOrdered on a
// contract violation and ErrStopped once the worker is gone.
func (s *Sequencer) Handle(_ context.Context, ev event.Event) error {
	switch {
	case ev.Type == event.TypeAfterIteration:
		if ev.Phase.IsUnordered() {
			return s.fail(fmt.Errorf("%w: phase %q iteration %d", ErrAlreadyOrdered, ev.Phase, ev.Iteration))
		}
		return s.complete(ev.Phase)
	case ev.Type == event.TypeData && ev.Phase.IsUnordered():
		return s.enqueue(ev)
	default:
		return nil
	}
}

func (s *Sequencer) lookup(p event.Phase) (int, bool) {
	i, ok := s.index[p]
	if !ok || s.schedule[i].Quota == 0 {
		return 0, false
	}
	return i, true
}

func (s *Sequencer) complete(p event.Phase) error {
	i, ok := s.lookup(p)
	if !ok {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.startLocked(); err != nil {
		return err
	}
	s.counts[i]++
	if s.counts[i] < s.schedule[i].Quota {
		return nil
	}
	s.counts[i] = 0
	next := s.schedule.after(i)
	s.control.Push(token{slot: next})
	metrics.IncSequencerRotation(string(s.schedule[next].Phase))
	s.logger.Debug().
		Str(log.FieldPhase, string(p)).
		Str("next_phase", string(s.schedule[next].Phase)).
		Msg("phase quota reached")
	return nil
}

func (s *Sequencer) enqueue(ev event.Event) error {
	i, ok := s.lookup(ev.Phase.Canonical())
	if !ok {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.startLocked(); err != nil {
		return err
	}
	n := s.pending[i].Push(ev)
	metrics.SetSequencerPending(string(s.schedule[i].Phase), n)
	return nil
}

// startLocked moves an idle sequencer to running. Caller holds s.mu.
func (s *Sequencer) startLocked() error {
	if s.err != nil {
		return s.err
	}
	switch s.state {
	case stateRunning:
		return nil
	case stateStopped:
		return ErrStopped
	}
	s.state = stateRunning
	first := s.schedule.first()
	s.control.Push(token{slot: first})
	metrics.IncSequencerRotation(string(s.schedule[first].Phase))
	s.logger.Debug().Str("schedule", s.schedule.String()).Msg("sequencer worker starting")
	go s.run()
	return nil
}

// fail latches err, stops the worker and returns err.
func (s *Sequencer) fail(err error) error {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	idle := s.state == stateIdle
	if idle {
		s.state = stateStopped
	}
	s.mu.Unlock()

	s.logger.Error().Err(err).Msg("sequencer misconfigured, stopping")
	s.cancel()
	if idle {
		close(s.done)
	}
	return err
}

func (s *Sequencer) run() {
	defer func() {
		s.mu.Lock()
		s.state = stateStopped
		s.mu.Unlock()
		close(s.done)
	}()

	for {
		tok, _, err := s.control.Pop(s.ctx)
		if err != nil {
			return
		}
		if tok.stop {
			s.logger.Debug().Msg("sequencer stop token received")
			return
		}
		if err := s.drain(tok.slot); err != nil {
			if !errors.Is(err, context.Canceled) || s.ctx.Err() == nil {
				s.mu.Lock()
				if s.err == nil {
					s.err = err
				}
				s.mu.Unlock()
				s.logger.Error().Err(err).Msg("sequencer forwarding failed")
			}
			return
		}
	}
}

// drain forwards exactly quota events of slot i, blocking on an empty buffer.
func (s *Sequencer) drain(i int) error {
	slot := s.schedule[i]
	for n := 0; n < slot.Quota; n++ {
		ev, left, err := s.pending[i].Pop(s.ctx)
		if err != nil {
			return err
		}
		metrics.SetSequencerPending(string(slot.Phase), left)

		if err := s.out.Publish(s.ctx, ev.WithPhase(slot.Phase)); err != nil {
			return fmt.Errorf("forward %s event: %w", slot.Phase, err)
		}
		metrics.IncSequencerForwarded(string(slot.Phase))
	}
	return nil
}

// Stop enqueues the stop token. Phases already due ahead of it drain first.
func (s *Sequencer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case stateIdle:
		s.state = stateStopped
		close(s.done)
	case stateRunning:
		s.control.Push(token{stop: true})
	}
}

// Close tears the worker down without draining and waits for it to exit.
func (s *Sequencer) Close() error {
	s.mu.Lock()
	idle := s.state == stateIdle
	if idle {
		s.state = stateStopped
	}
	s.mu.Unlock()

	s.cancel()
	if idle {
		close(s.done)
	}
	return s.Wait()
}

// Wait blocks until the sequencer has stopped and returns the latched error.
func (s *Sequencer) Wait() error {
	<-s.done
	return s.Err()
}

// Err returns the latched fatal error, if any.
func (s *Sequencer) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Pending returns the number of buffered events for phase p.
func (s *Sequencer) Pending(p event.Phase) int {
	i, ok := s.index[p]
	if !ok {
		return 0
	}
	return s.pending[i].Len()
}

var _ bus.Listener = (*Sequencer)(nil)
