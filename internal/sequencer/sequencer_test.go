// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package sequencer

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/ManuGH/phaselog/internal/bus"
	"github.com/ManuGH/phaselog/internal/event"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// sink records forwarded events. With feedback set, every forwarded event is
// immediately confirmed with an after_iteration, standing in for a runner.
type sink struct {
	mu       sync.Mutex
	events   []event.Event
	feedback *Sequencer
}

func (k *sink) Publish(ctx context.Context, ev event.Event) error {
	k.mu.Lock()
	k.events = append(k.events, ev)
	fb := k.feedback
	k.mu.Unlock()

	if fb != nil {
		return fb.Handle(ctx, event.Event{Type: event.TypeAfterIteration, Phase: ev.Phase})
	}
	return nil
}

func (k *sink) phases() []event.Phase {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make([]event.Phase, len(k.events))
	for i, ev := range k.events {
		out[i] = ev.Phase
	}
	return out
}

func (k *sink) len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.events)
}

func newLooped(t *testing.T, schedule Schedule) (*Sequencer, *sink) {
	t.Helper()
	k := &sink{}
	s, err := New(schedule, k, WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	k.feedback = s
	t.Cleanup(func() { _ = s.Close() })
	return s, k
}

func produce(t *testing.T, s *Sequencer, phase event.Phase, n int, seed int64) {
	t.Helper()
	r := rand.New(rand.NewSource(seed))
	for i := 0; i < n; i++ {
		assert.NoError(t, s.Handle(context.Background(), event.Data(phase.Unordered(), i)))
		if r.Intn(4) == 0 {
			time.Sleep(time.Duration(r.Intn(200)) * time.Microsecond)
		}
	}
}

func TestRotationUnderRandomInterleaving(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	const rounds = 200
	for _, seed := range []int64{1, 7, 42} {
		s, k := newLooped(t, Schedule{{"A", 2}, {"B", 1}})

		var wg sync.WaitGroup
		wg.Add(2)
		go func() { defer wg.Done(); produce(t, s, "A", 2*rounds, seed) }()
		go func() { defer wg.Done(); produce(t, s, "B", rounds, seed+1) }()
		wg.Wait()

		require.Eventually(t, func() bool { return k.len() == 3*rounds }, 5*time.Second, 5*time.Millisecond)

		got := k.phases()
		for i, p := range got {
			want := event.Phase("A")
			if i%3 == 2 {
				want = "B"
			}
			require.Equal(t, want, p, "position %d (seed %d)", i, seed)
		}
		require.NoError(t, s.Close())
	}
}

func TestForwardedEventsAreCanonicalCopies(t *testing.T) {
	s, k := newLooped(t, Schedule{{"train", 1}})
	in := event.Data(event.Phase("train").Unordered(), 3).WithAttr("_id", 9)

	require.NoError(t, s.Handle(context.Background(), in))
	require.Eventually(t, func() bool { return k.len() == 1 }, time.Second, time.Millisecond)

	k.mu.Lock()
	out := k.events[0]
	k.mu.Unlock()
	assert.Equal(t, event.Phase("train"), out.Phase)
	assert.Equal(t, event.TypeData, out.Type)
	assert.Equal(t, 3, out.Payload)
	id, _ := out.Attr("_id")
	assert.Equal(t, 9, id)
	assert.Equal(t, event.Phase("train_unordered"), in.Phase)
}

func TestLargeQuotaDrainsBeforeNextPhase(t *testing.T) {
	s, k := newLooped(t, Schedule{{"TRAIN", 1000}, {"TEST", 1}})
	ctx := context.Background()

	require.NoError(t, s.Handle(ctx, event.Data("TEST_unordered", "t")))
	for i := 0; i < 1000; i++ {
		require.NoError(t, s.Handle(ctx, event.Data("TRAIN_unordered", i)))
	}
	require.NoError(t, s.Handle(ctx, event.Data("TEST_unordered", "t2")))

	require.Eventually(t, func() bool { return k.len() == 1001 }, 5*time.Second, time.Millisecond)

	got := k.phases()
	for i := 0; i < 1000; i++ {
		require.Equal(t, event.Phase("TRAIN"), got[i], "position %d", i)
	}
	assert.Equal(t, event.Phase("TEST"), got[1000])

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1001, k.len(), "next TRAIN turn must wait for TRAIN data")
	assert.Equal(t, 1, s.Pending("TEST"))
}

func TestRotationWaitsForCompletions(t *testing.T) {
	k := &sink{}
	s, err := New(Schedule{{"A", 1}, {"B", 1}}, k, WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Handle(ctx, event.Data("B_unordered", 1)))
	require.NoError(t, s.Handle(ctx, event.Data("A_unordered", 1)))
	require.NoError(t, s.Handle(ctx, event.Data("A_unordered", 2)))

	require.Eventually(t, func() bool { return k.len() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []event.Phase{"A"}, k.phases())

	require.NoError(t, s.Handle(ctx, event.Event{Type: event.TypeAfterIteration, Phase: "A", Iteration: 1}))
	require.Eventually(t, func() bool { return k.len() == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, []event.Phase{"A", "B"}, k.phases())

	require.NoError(t, s.Handle(ctx, event.Event{Type: event.TypeAfterIteration, Phase: "B", Iteration: 1}))
	require.Eventually(t, func() bool { return k.len() == 3 }, time.Second, time.Millisecond)
	assert.Equal(t, []event.Phase{"A", "B", "A"}, k.phases())
}

func TestZeroQuotaSlotIsSkipped(t *testing.T) {
	s, k := newLooped(t, Schedule{{"Z", 0}, {"A", 1}, {"DONE", 0}, {"B", 1}})
	ctx := context.Background()

	require.NoError(t, s.Handle(ctx, event.Data("Z_unordered", 0)))
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Handle(ctx, event.Data("B_unordered", i)))
		require.NoError(t, s.Handle(ctx, event.Data("A_unordered", i)))
	}

	require.Eventually(t, func() bool { return k.len() == 6 }, time.Second, time.Millisecond)
	assert.Equal(t, []event.Phase{"A", "B", "A", "B", "A", "B"}, k.phases())
	assert.Zero(t, s.Pending("Z"))
}

func TestUnscheduledPhasesAreIgnored(t *testing.T) {
	k := &sink{}
	s, err := New(Schedule{{"A", 1}}, k, WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Handle(ctx, event.Data("C_unordered", 1)))
	require.NoError(t, s.Handle(ctx, event.Event{Type: event.TypeAfterIteration, Phase: "C"}))
	require.NoError(t, s.Handle(ctx, event.Data("A", 1)))
	assert.Zero(t, s.Pending("C"))
	assert.Zero(t, s.Pending("A"))

	require.NoError(t, s.Close())
	assert.Zero(t, k.len())
}

func TestAlreadyOrderedCompletionIsFatal(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	k := &sink{}
	s, err := New(Schedule{{"A", 1}}, k, WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Handle(ctx, event.Data("A_unordered", 1)))
	err = s.Handle(ctx, event.Event{Type: event.TypeAfterIteration, Phase: "A_unordered", Iteration: 1})
	require.ErrorIs(t, err, ErrAlreadyOrdered)

	require.ErrorIs(t, s.Wait(), ErrAlreadyOrdered)
	require.ErrorIs(t, s.Err(), ErrAlreadyOrdered)
	require.ErrorIs(t, s.Handle(ctx, event.Data("A_unordered", 2)), ErrAlreadyOrdered)
	require.ErrorIs(t, s.Close(), ErrAlreadyOrdered)
}

func TestAlreadyOrderedBeforeStart(t *testing.T) {
	s, err := New(Schedule{{"A", 1}}, &sink{}, WithLogger(zerolog.Nop()))
	require.NoError(t, err)

	err = s.Handle(context.Background(), event.Event{Type: event.TypeAfterIteration, Phase: "A_unordered"})
	require.ErrorIs(t, err, ErrAlreadyOrdered)
	require.ErrorIs(t, s.Wait(), ErrAlreadyOrdered)
}

func TestStopAfterDueWork(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	k := &sink{}
	s, err := New(Schedule{{"A", 1}, {"B", 1}}, k, WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Handle(ctx, event.Data("A_unordered", 1)))
	require.Eventually(t, func() bool { return k.len() == 1 }, time.Second, time.Millisecond)

	s.Stop()
	require.NoError(t, s.Wait())
	require.ErrorIs(t, s.Handle(ctx, event.Data("A_unordered", 2)), ErrStopped)
}

func TestStopIdle(t *testing.T) {
	s, err := New(Schedule{{"A", 1}}, &sink{}, WithLogger(zerolog.Nop()))
	require.NoError(t, err)

	s.Stop()
	require.NoError(t, s.Wait())
	require.ErrorIs(t, s.Handle(context.Background(), event.Data("A_unordered", 1)), ErrStopped)
	require.NoError(t, s.Close())
}

func TestCloseUnblocksStarvedWorker(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	s, err := New(Schedule{{"A", 2}}, &sink{}, WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	require.NoError(t, s.Handle(context.Background(), event.Data("A_unordered", 1)))

	done := make(chan error, 1)
	go func() { done <- s.Close() }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("close did not return")
	}
}

func TestForwardErrorIsLatched(t *testing.T) {
	boom := errors.New("downstream gone")
	out := bus.EmitterFunc(func(context.Context, event.Event) error { return boom })
	s, err := New(Schedule{{"A", 1}}, out, WithLogger(zerolog.Nop()))
	require.NoError(t, err)

	require.NoError(t, s.Handle(context.Background(), event.Data("A_unordered", 1)))
	require.ErrorIs(t, s.Wait(), boom)
}

func TestNewRejectsBadInput(t *testing.T) {
	_, err := New(Schedule{{"A", 0}}, &sink{})
	require.ErrorIs(t, err, ErrInvalidSchedule)

	_, err = New(Schedule{{"A", 1}}, nil)
	require.Error(t, err)
}

func TestSequencerBetweenBusAndRunner(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	b := bus.NewMemoryBus()
	ctx, cancel := context.WithCancel(context.Background())

	out, err := b.Subscribe(ctx, "ordered", func(ev event.Event) bool {
		return ev.Type == event.TypeData && !ev.Phase.IsUnordered()
	})
	require.NoError(t, err)

	s, err := New(Schedule{{"A", 1}, {"B", 1}}, b, WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	wait, err := bus.Attach(ctx, b, "sequencer", s)
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, event.Data("B_unordered", "b")))
	require.NoError(t, b.Publish(ctx, event.Data("A_unordered", "a")))

	first := <-out.C()
	assert.Equal(t, event.Phase("A"), first.Phase)
	require.NoError(t, b.Publish(ctx, event.Event{Type: event.TypeAfterIteration, Phase: "A", Iteration: 1}))
	second := <-out.C()
	assert.Equal(t, event.Phase("B"), second.Phase)

	require.NoError(t, s.Close())
	cancel()
	require.ErrorIs(t, wait(), context.Canceled)
	require.NoError(t, out.Close())
}
