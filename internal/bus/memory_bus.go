// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ManuGH/phaselog/internal/event"
	"github.com/ManuGH/phaselog/internal/log"
	"github.com/ManuGH/phaselog/internal/metrics"
)

// MemoryBus is an in-memory pub/sub. It is not durable and provides in-order,
// at-least-once in-process delivery while publish contexts remain active: a
// full subscriber blocks the publisher instead of losing the event.
type MemoryBus struct {
	mu   sync.RWMutex
	subs []*memSub
}

const (
	subscriberBuffer = 64
	dropLogEvery     = 100
)

var (
	dropCount atomic.Uint64

	// ErrClosed is returned when subscribing to a bus that was reset while
	// the subscribe call was in flight, or closing a subscription twice.
	ErrClosed = errors.New("subscription closed")
)

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{}
}

func publishDropReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "context_done"
	}
}

func (b *MemoryBus) Publish(ctx context.Context, ev event.Event) error {
	if ctx == nil {
		return fmt.Errorf("publish context is nil")
	}
	b.mu.RLock()
	subs := append([]*memSub(nil), b.subs...)
	b.mu.RUnlock()

	for _, s := range subs {
		if !s.match(ev) {
			continue
		}
		if err := s.deliver(ctx, ev); err != nil {
			if errors.Is(err, ErrClosed) {
				continue
			}
			reason := publishDropReason(err)
			metrics.IncBusDropReason(s.name, reason)
			count := dropCount.Add(1)
			if count%dropLogEvery == 1 {
				log.L().Warn().
					Str(log.FieldSubscriber, s.name).
					Str(log.FieldEventType, string(ev.Type)).
					Str("reason", reason).
					Uint64("dropped", count).
					Msg("memory bus failed to publish due to context cancellation")
			}
			return fmt.Errorf("publish %s to %q: %w", ev.Type, s.name, err)
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(_ context.Context, name string, match Predicate) (Subscriber, error) {
	if match == nil {
		match = Any
	}
	s := &memSub{
		b:     b,
		name:  name,
		match: match,
		ch:    make(chan event.Event, subscriberBuffer),
		done:  make(chan struct{}),
	}

	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()

	return s, nil
}

// Reset closes every subscription. Used between runs so no listener leaks
// into the next one.
func (b *MemoryBus) Reset() {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, s := range subs {
		s.shutdown()
	}
}

// Len returns the number of live subscriptions.
func (b *MemoryBus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

type memSub struct {
	b     *MemoryBus
	name  string
	match Predicate
	ch    chan event.Event

	// sendMu serialises deliveries against close so a publisher never sends
	// on a closed channel.
	sendMu   sync.RWMutex
	done     chan struct{}
	doneOnce sync.Once
	closed   bool
}

func (s *memSub) deliver(ctx context.Context, ev event.Event) error {
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	select {
	case s.ch <- ev:
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *memSub) C() <-chan event.Event {
	return s.ch
}

func (s *memSub) Close() error {
	s.b.mu.Lock()
	out := s.b.subs[:0]
	for _, c := range s.b.subs {
		if c != s {
			out = append(out, c)
		}
	}
	s.b.subs = out
	s.b.mu.Unlock()

	if !s.shutdown() {
		return ErrClosed
	}
	return nil
}

func (s *memSub) shutdown() bool {
	first := false
	// Wake blocked publishers before taking the write lock.
	s.doneOnce.Do(func() {
		close(s.done)
		first = true
	})
	if !first {
		return false
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	s.closed = true
	close(s.ch) // Signal subscriber to stop
	return true
}

// Ensure compliance
var _ Bus = (*MemoryBus)(nil)
