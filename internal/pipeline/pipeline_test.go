// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ManuGH/phaselog/internal/event"
	"github.com/ManuGH/phaselog/internal/ndarray"
	"github.com/ManuGH/phaselog/internal/objstore"
	"github.com/ManuGH/phaselog/internal/phase"
	"github.com/ManuGH/phaselog/internal/seqlog"
	"github.com/ManuGH/phaselog/internal/sequencer"
	"github.com/ManuGH/phaselog/internal/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

var trainTest = sequencer.Schedule{
	{Phase: "train", Quota: 2},
	{Phase: "test", Quota: 1},
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func recorded(t *testing.T, store seqlog.Store, group string) []event.Event {
	t.Helper()
	events, err := seqlog.NewReader(store, group).Events(context.Background())
	require.NoError(t, err)
	return events
}

func TestRunDemo_LogFollowsRotation(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ctx := testContext(t)
	store := memory.New()
	res, err := RunDemo(ctx, DemoConfig{
		Schedule: trainTest,
		Rounds:   5,
		Seed:     7,
		Log:      store,
		Objects:  store,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.GroupID)
	assert.Equal(t, int64(15), res.Next)

	events := recorded(t, store, res.GroupID)
	require.Len(t, events, 15)
	for i, ev := range events {
		want := event.Phase("train")
		if i%3 == 2 {
			want = "test"
		}
		assert.Equal(t, event.TypeData, ev.Type, "record %d", i)
		assert.Equal(t, want, ev.Phase, "record %d", i)
	}

	snapshot, err := objstore.New(store).Get(ctx, ModelObjectID)
	require.NoError(t, err)
	arr, ok := snapshot.(*ndarray.Array)
	require.True(t, ok, "snapshot is %T", snapshot)
	counts, err := arr.Float64s()
	require.NoError(t, err)
	var total float64
	for _, c := range counts {
		total += c
	}
	assert.Equal(t, float64(10), total)

	sample, err := objstore.New(store).Get(ctx, "test-4")
	require.NoError(t, err)
	assert.Equal(t, "test-4", sample.(map[string]any)[objstore.IDKey])
}

func TestRunDemo_ResumesGroup(t *testing.T) {
	ctx := testContext(t)
	store := memory.New()

	first, err := RunDemo(ctx, DemoConfig{Schedule: trainTest, Rounds: 2, Seed: 1, Log: store})
	require.NoError(t, err)
	second, err := RunDemo(ctx, DemoConfig{Schedule: trainTest, Rounds: 3, Seed: 2, Log: store, GroupID: first.GroupID})
	require.NoError(t, err)

	assert.Equal(t, first.GroupID, second.GroupID)
	assert.Equal(t, int64(6), first.Next)
	assert.Equal(t, int64(15), second.Next)
	assert.Len(t, recorded(t, store, first.GroupID), 15)
}

func TestRunDemo_ZeroQuotaPhaseNeverRuns(t *testing.T) {
	ctx := testContext(t)
	store := memory.New()
	res, err := RunDemo(ctx, DemoConfig{
		Schedule: sequencer.Schedule{{Phase: "warmup", Quota: 0}, {Phase: "train", Quota: 1}, {Phase: "test", Quota: 1}},
		Rounds:   4,
		Log:      store,
	})
	require.NoError(t, err)
	for _, ev := range recorded(t, store, res.GroupID) {
		assert.NotEqual(t, event.Phase("warmup"), ev.Phase)
	}
	assert.Equal(t, int64(8), res.Next)
}

func TestRunDemo_PacedProducers(t *testing.T) {
	ctx := testContext(t)
	store := memory.New()

	start := time.Now()
	res, err := RunDemo(ctx, DemoConfig{Schedule: trainTest, Rounds: 3, Log: store, Rate: 100})
	require.NoError(t, err)
	// six train samples at 100/s with a burst of one
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
	assert.Equal(t, int64(9), res.Next)
}

func TestRunDemo_PacingHonoursDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := RunDemo(ctx, DemoConfig{Schedule: trainTest, Rounds: 2, Log: memory.New(), Rate: 1})
	require.Error(t, err)
}

func TestPipeline_AcceptIterationEvents(t *testing.T) {
	ctx := testContext(t)
	store := memory.New()
	res, err := RunDemo(ctx, DemoConfig{
		Schedule: trainTest,
		Rounds:   3,
		Log:      store,
		Accept:   func(ev event.Event) bool { return ev.Type == event.TypeAfterIteration },
	})
	require.NoError(t, err)

	events := recorded(t, store, res.GroupID)
	require.Len(t, events, 9)
	next := map[event.Phase]int64{}
	for _, ev := range events {
		require.Equal(t, event.TypeAfterIteration, ev.Type)
		next[ev.Phase]++
		assert.Equal(t, next[ev.Phase], ev.Iteration)
		assert.Equal(t, "xor", ev.Model)
	}
	assert.Equal(t, map[event.Phase]int64{"train": 6, "test": 3}, next)
}

func TestPipeline_ModelFailureSurfaces(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	boom := errors.New("boom")
	ctx := testContext(t)
	p, err := New(ctx, Config{
		Schedule: trainTest,
		Models: map[event.Phase]phase.Model{
			"train": func(context.Context, any) (any, error) { return nil, boom },
			"test":  func(context.Context, any) (any, error) { return "ok", nil },
		},
		Log: memory.New(),
	})
	require.NoError(t, err)
	require.NoError(t, p.Start(ctx))
	require.NoError(t, p.Publish(ctx, "train", 1))

	err = p.Drain(ctx, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestPipeline_AlreadyOrderedIsFatal(t *testing.T) {
	ctx := testContext(t)
	p, err := New(ctx, Config{Schedule: trainTest, Log: memory.New()})
	require.NoError(t, err)
	require.NoError(t, p.Start(ctx))

	bad := event.Event{Type: event.TypeAfterIteration, Phase: event.Phase("train").Unordered(), Iteration: 1}
	require.NoError(t, p.Bus().Publish(ctx, bad))

	err = p.Drain(ctx, 1)
	assert.ErrorIs(t, err, sequencer.ErrAlreadyOrdered)
}

func TestPipeline_Lifecycle(t *testing.T) {
	ctx := testContext(t)

	_, err := New(ctx, Config{Schedule: trainTest})
	assert.Error(t, err)
	_, err = New(ctx, Config{Schedule: sequencer.Schedule{{Phase: "a", Quota: 0}}, Log: memory.New()})
	assert.ErrorIs(t, err, sequencer.ErrInvalidSchedule)

	p, err := New(ctx, Config{Schedule: trainTest, Log: memory.New()})
	require.NoError(t, err)
	assert.ErrorIs(t, p.Drain(ctx, 0), ErrNotStarted)
	require.NoError(t, p.Start(ctx))
	assert.ErrorIs(t, p.Start(ctx), ErrStarted)
	assert.NoError(t, p.Close())
	assert.Equal(t, 0, p.Bus().Len())
}

func TestRerun_ReproducesRun(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ctx := testContext(t)
	store := memory.New()
	res, err := RunDemo(ctx, DemoConfig{Schedule: trainTest, Rounds: 6, Seed: 42, Log: store})
	require.NoError(t, err)

	fresh := NewXORModel()
	after, err := Rerun(ctx, store, res.GroupID, map[event.Phase]phase.Model{
		"train": fresh.Train,
		"test":  fresh.Test,
	})
	require.NoError(t, err)
	assert.Len(t, after, 18)
	assert.Equal(t, res.Accuracy, fresh.Accuracy())

	again := NewXORModel()
	_, err = Rerun(ctx, store, res.GroupID, map[event.Phase]phase.Model{
		"train": again.Train,
		"test":  again.Test,
	})
	require.NoError(t, err)
	assert.True(t, fresh.Snapshot().Equal(again.Snapshot()))
}

func TestRerun_FailingModelDoesNotStall(t *testing.T) {
	ctx := testContext(t)
	store := memory.New()
	res, err := RunDemo(ctx, DemoConfig{Schedule: trainTest, Rounds: 1, Log: store})
	require.NoError(t, err)

	boom := errors.New("boom")
	_, err = Rerun(ctx, store, res.GroupID, map[event.Phase]phase.Model{
		"train": func(context.Context, any) (any, error) { return nil, boom },
	})
	assert.ErrorIs(t, err, boom)
}

func TestXORModel(t *testing.T) {
	ctx := context.Background()
	m := NewXORModel()

	for range 3 {
		_, err := m.Train(ctx, Sample("s", 1, 0))
		require.NoError(t, err)
	}
	out, err := m.Test(ctx, Sample("t", 1, 0))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"prediction": int64(1), "correct": true}, out)

	out, err = m.Test(ctx, Sample("t", 1, 1))
	require.NoError(t, err)
	assert.Equal(t, int64(0), out.(map[string]any)["prediction"])
	assert.Equal(t, 1.0, m.Accuracy())

	_, err = m.Train(ctx, "not a sample")
	assert.ErrorIs(t, err, ErrBadSample)
	_, err = m.Train(ctx, map[string]any{"x": Sample("s", 0, 0)["x"], "y": int64(2)})
	assert.ErrorIs(t, err, ErrBadSample)

	snap := m.Snapshot()
	restored := NewXORModel()
	require.NoError(t, restored.Restore(snap))
	assert.True(t, restored.Snapshot().Equal(snap))
	assert.Error(t, restored.Restore(nil))

	assert.NotNil(t, m.ModelFor("eval_holdout"))
}
