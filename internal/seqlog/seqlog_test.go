// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package seqlog_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/ManuGH/phaselog/internal/bus"
	"github.com/ManuGH/phaselog/internal/codec"
	"github.com/ManuGH/phaselog/internal/event"
	"github.com/ManuGH/phaselog/internal/ndarray"
	"github.com/ManuGH/phaselog/internal/seqlog"
	"github.com/ManuGH/phaselog/internal/storage/memory"
	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *recorder) Publish(_ context.Context, ev event.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) snapshot() []event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event.Event(nil), r.events...)
}

// failingStore fails Append while fail is set.
type failingStore struct {
	*memory.Store
	mu   sync.Mutex
	fail error
}

func (f *failingStore) Append(ctx context.Context, rec seqlog.Record) error {
	f.mu.Lock()
	err := f.fail
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.Store.Append(ctx, rec)
}

func (f *failingStore) setFail(err error) {
	f.mu.Lock()
	f.fail = err
	f.mu.Unlock()
}

var arrayEqual = cmp.Comparer(func(a, b *ndarray.Array) bool { return a.Equal(b) })

func newWriter(t *testing.T, store seqlog.Store, opts ...seqlog.WriterOption) *seqlog.Writer {
	t.Helper()
	opts = append([]seqlog.WriterOption{seqlog.WithLogger(zerolog.Nop())}, opts...)
	w, err := seqlog.NewWriter(context.Background(), store, opts...)
	require.NoError(t, err)
	return w
}

func sequenceIDs(t *testing.T, store seqlog.Store, group string) []int64 {
	t.Helper()
	var ids []int64
	require.NoError(t, store.Scan(context.Background(), group, func(r seqlog.Record) error {
		ids = append(ids, r.SequenceID)
		return nil
	}))
	return ids
}

func TestNewGroupStartsAtZero(t *testing.T) {
	w := newWriter(t, memory.New())
	_, err := uuid.Parse(w.GroupID())
	require.NoError(t, err)
	assert.Zero(t, w.Next())
}

func TestResumeContinuesNumbering(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	w := newWriter(t, store)
	for i := 0; i < 3; i++ {
		require.NoError(t, w.Store(ctx, event.Data("train", i)))
	}

	resumed := newWriter(t, store, seqlog.WithGroupID(w.GroupID()))
	assert.Equal(t, int64(3), resumed.Next())
	for i := 3; i < 5; i++ {
		require.NoError(t, resumed.Store(ctx, event.Data("train", i)))
	}

	assert.Equal(t, []int64{0, 1, 2, 3, 4}, sequenceIDs(t, store, w.GroupID()))
}

func TestResumeUnknownGroupStartsAtZero(t *testing.T) {
	w := newWriter(t, memory.New(), seqlog.WithGroupID("fresh"))
	assert.Equal(t, "fresh", w.GroupID())
	assert.Zero(t, w.Next())
}

func TestResumeLookupFailure(t *testing.T) {
	store := memory.New()
	require.NoError(t, store.Close())
	_, err := seqlog.NewWriter(context.Background(), store, seqlog.WithGroupID("g"))
	require.Error(t, err)
}

func idEvent(id int) event.Event {
	grid, _ := ndarray.Zeros(ndarray.Float64, 2, 3)
	return event.Data("", map[string]any{"test_data": "test_value", "test_array": grid}).WithAttr("_id", id)
}

func TestTwoSessionsKeepIDsAligned(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	onlyData := seqlog.WithAccept(func(ev event.Event) bool { return ev.Type == event.TypeData })

	first := newWriter(t, store, onlyData)
	for _, id := range []int{0, 1} {
		require.NoError(t, first.Handle(ctx, idEvent(id)))
		require.NoError(t, first.Handle(ctx, event.Event{Type: event.TypeAfterIteration, Phase: "train"}))
	}

	second := newWriter(t, store, onlyData, seqlog.WithGroupID(first.GroupID()))
	for _, id := range []int{2, 3} {
		require.NoError(t, second.Handle(ctx, idEvent(id)))
	}

	got, err := seqlog.NewReader(store, first.GroupID()).Events(ctx)
	require.NoError(t, err)
	require.Len(t, got, 4)
	for i, ev := range got {
		id, ok := ev.Attr("_id")
		require.True(t, ok)
		assert.Equal(t, i, id)

		payload := ev.Payload.(map[string]any)
		arr, ok := payload["test_array"].(*ndarray.Array)
		require.True(t, ok, "array restored as %T", payload["test_array"])
		assert.Equal(t, []int{2, 3}, arr.Shape)
	}
	assert.Equal(t, []int64{0, 1, 2, 3}, sequenceIDs(t, store, first.GroupID()))
}

func TestReplayIsRepeatable(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	w := newWriter(t, store)
	require.NoError(t, w.Store(ctx, event.Data("train", 1.5)))
	require.NoError(t, w.Store(ctx, event.Event{
		Type: event.TypeAfterIteration, Phase: "train", Iteration: 1, Payload: int64(2), Output: "out", Model: "m",
	}))
	require.NoError(t, w.Store(ctx, event.Data("test", math.Inf(1))))

	rec := &recorder{}
	r := seqlog.NewReader(store, w.GroupID(), seqlog.WithReplayEmitter(rec), seqlog.WithReaderLogger(zerolog.Nop()))
	require.NoError(t, r.Replay(ctx))
	firstPass := rec.snapshot()
	require.NoError(t, r.Replay(ctx))
	all := rec.snapshot()

	require.Len(t, all, 6)
	if diff := cmp.Diff(firstPass, all[3:], arrayEqual); diff != "" {
		t.Fatalf("second replay differs (-first +second):\n%s", diff)
	}
	assert.Equal(t, 1.5, firstPass[0].Payload)
	assert.Equal(t, "out", firstPass[1].Output)
	assert.Equal(t, int64(1), firstPass[1].Iteration)
	assert.True(t, math.IsInf(firstPass[2].Payload.(float64), 1))
	assert.Equal(t, int64(3), w.Next(), "replay never allocates ids")
}

func TestUnrepresentableValueFallsBackToBinary(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	w := newWriter(t, store)

	in := event.Data("train", map[string]any{"loss": math.NaN(), "step": 7})
	require.NoError(t, w.Store(ctx, in))

	var encodings []seqlog.Encoding
	require.NoError(t, store.Scan(ctx, w.GroupID(), func(r seqlog.Record) error {
		encodings = append(encodings, r.Encoding)
		return nil
	}))
	assert.Equal(t, []seqlog.Encoding{seqlog.EncodingBinary}, encodings)

	got, err := seqlog.NewReader(store, w.GroupID()).Events(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	payload := got[0].Payload.(map[string]any)
	assert.True(t, math.IsNaN(payload["loss"].(float64)))
	assert.Equal(t, 7, payload["step"])
	assert.Equal(t, event.Phase("train"), got[0].Phase)
}

type observation struct {
	Features []float64
	Label    int
}

func TestArbitraryPayloadsAreStored(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	w := newWriter(t, store)

	payloads := []any{
		map[string]int{"a": 1},
		[]map[string]any{{"k": int32(2)}},
		map[string]int32{"b": 3},
		observation{Features: []float64{0.5, 1}, Label: 1},
		map[string]any{"loss": math.NaN(), "obs": observation{Label: 2}},
	}
	for _, p := range payloads {
		require.NoError(t, w.Store(ctx, event.Data("train", p)), "payload %T", p)
	}

	got, err := seqlog.NewReader(store, w.GroupID()).Events(ctx)
	require.NoError(t, err)
	require.Len(t, got, len(payloads))
	for i, ev := range got {
		assert.Equal(t, event.Phase("train"), ev.Phase)
		if i == len(payloads)-1 {
			m := ev.Payload.(map[string]any)
			assert.True(t, math.IsNaN(m["loss"].(float64)))
			assert.Equal(t, observation{Label: 2}, m["obs"])
			continue
		}
		if diff := cmp.Diff(payloads[i], ev.Payload); diff != "" {
			t.Errorf("payload %d mismatch (-want +got):\n%s", i, diff)
		}
	}
	assert.Equal(t, int64(len(payloads)), w.Next())
}

func TestPersistenceFailureDoesNotAdvance(t *testing.T) {
	store := &failingStore{Store: memory.New()}
	ctx := context.Background()
	rec := &recorder{}
	w := newWriter(t, store, seqlog.WithEmitter(rec))

	boom := errors.New("disk gone")
	store.setFail(boom)
	err := w.Store(ctx, event.Data("train", 1))
	require.ErrorIs(t, err, boom)
	assert.Zero(t, w.Next())
	assert.Empty(t, rec.snapshot(), "no confirmation for a failed append")

	store.setFail(nil)
	require.NoError(t, w.Store(ctx, event.Data("train", 1)))
	assert.Equal(t, []int64{0}, sequenceIDs(t, store, w.GroupID()))
}

func TestDuplicateFromSecondWriterSurfaces(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	a := newWriter(t, store, seqlog.WithGroupID("g"))
	b := newWriter(t, store, seqlog.WithGroupID("g"))

	require.NoError(t, a.Store(ctx, event.Data("", 1)))
	require.ErrorIs(t, b.Store(ctx, event.Data("", 2)), seqlog.ErrDuplicate)
	assert.Zero(t, b.Next())
}

func TestConfirmationsAndAccept(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	rec := &recorder{}
	w := newWriter(t, store, seqlog.WithEmitter(rec))

	assert.False(t, w.Accepts(event.StoreObject(1)))
	require.NoError(t, w.Handle(ctx, event.StoreObject(1)))
	assert.Zero(t, w.Next())

	in := event.Data("train", "x")
	require.NoError(t, w.Handle(ctx, in))
	got := rec.snapshot()
	require.Len(t, got, 1)
	assert.Equal(t, event.StoreObject(in), got[0])
}

func TestConcurrentStoresAreContiguous(t *testing.T) {
	store := memory.New()
	w := newWriter(t, store)

	const workers, each = 8, 25
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < each; j++ {
				assert.NoError(t, w.Store(context.Background(), event.Data("p", i*each+j)))
			}
		}(i)
	}
	wg.Wait()

	ids := sequenceIDs(t, store, w.GroupID())
	require.Len(t, ids, workers*each)
	for i, id := range ids {
		require.Equal(t, int64(i), id)
	}
}

func TestReaderStopsEarlyAndReportsCorruption(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	w := newWriter(t, store, seqlog.WithGroupID("g"))
	for i := 0; i < 3; i++ {
		require.NoError(t, w.Store(ctx, event.Data("", i)))
	}

	seen := 0
	for _, err := range seqlog.NewReader(store, "g").All(ctx) {
		require.NoError(t, err)
		seen++
		if seen == 2 {
			break
		}
	}
	assert.Equal(t, 2, seen)

	require.NoError(t, store.Append(ctx, seqlog.Record{GroupID: "g", SequenceID: 3, Encoding: "xml", Obj: []byte("<x/>")}))
	got, err := seqlog.NewReader(store, "g").Events(ctx)
	require.ErrorIs(t, err, codec.ErrCorrupt)
	assert.Len(t, got, 3)
}

func TestEntriesCarryStoredIDs(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	w := newWriter(t, store, seqlog.WithGroupID("g"))
	require.NoError(t, w.Store(ctx, event.Data("train", "a")))
	require.NoError(t, store.Append(ctx, seqlog.Record{
		GroupID: "g", SequenceID: 4, Encoding: seqlog.EncodingJSON,
		Obj: []byte(`{"type":"data","phase":"train","payload":"b"}`),
	}))

	var ids []int64
	var payloads []any
	for e, err := range seqlog.NewReader(store, "g").Entries(ctx) {
		require.NoError(t, err)
		ids = append(ids, e.SequenceID)
		payloads = append(payloads, e.Event.Payload)
	}
	assert.Equal(t, []int64{0, 4}, ids)
	assert.Equal(t, []any{"a", "b"}, payloads)

	resumed := newWriter(t, store, seqlog.WithGroupID("g"))
	assert.Equal(t, int64(5), resumed.Next())
}

func TestReplayRequiresEmitter(t *testing.T) {
	require.Error(t, seqlog.NewReader(memory.New(), "g").Replay(context.Background()))
}

func TestWriterAndReplayOnBus(t *testing.T) {
	b := bus.NewMemoryBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := memory.New()

	confirmations, err := b.Subscribe(ctx, "confirm", bus.OfType(event.TypeStoreObject))
	require.NoError(t, err)
	defer confirmations.Close()

	w := newWriter(t, store, seqlog.WithEmitter(b))
	wait, err := bus.Attach(ctx, b, "writer", w)
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, event.Data("train", "a")))
	require.NoError(t, b.Publish(ctx, event.Data("train", "b")))
	for i := 0; i < 2; i++ {
		<-confirmations.C()
	}
	assert.Equal(t, int64(2), w.Next(), "confirmations are not stored again")

	cancel()
	require.ErrorIs(t, wait(), context.Canceled)

	rec := &recorder{}
	require.NoError(t, seqlog.NewReader(store, w.GroupID(), seqlog.WithReplayEmitter(rec)).Replay(context.Background()))
	got := rec.snapshot()
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Payload)
	assert.Equal(t, "b", got[1].Payload)
}
