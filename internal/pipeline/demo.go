// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/ManuGH/phaselog/internal/event"
	"github.com/ManuGH/phaselog/internal/ndarray"
	"github.com/ManuGH/phaselog/internal/objstore"
	"github.com/ManuGH/phaselog/internal/phase"
	"github.com/ManuGH/phaselog/internal/seqlog"
	"github.com/ManuGH/phaselog/internal/sequencer"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// ModelObjectID is the object store id of the demo model snapshot.
const ModelObjectID = "model"

var ErrBadSample = errors.New("malformed sample")

// XORModel learns XOR by counting labels per input pair. Its state is a
// (2,2,2) int64 array: counts[a][b][y].
type XORModel struct {
	mu      sync.Mutex
	counts  *ndarray.Array
	tested  int
	correct int
}

func NewXORModel() *XORModel {
	counts, _ := ndarray.Zeros(ndarray.Int64, 2, 2, 2)
	return &XORModel{counts: counts}
}

// Sample builds one work item. The payload carries its own object id.
func Sample(id string, a, b int) map[string]any {
	x, _ := ndarray.FromInt64s([]int{2}, []int64{int64(a), int64(b)})
	return map[string]any{
		objstore.IDKey: id,
		"x":            x,
		"y":            int64(a ^ b),
	}
}

func parseSample(input any) (a, b, y int, err error) {
	m, ok := input.(map[string]any)
	if !ok {
		return 0, 0, 0, fmt.Errorf("%w: %T", ErrBadSample, input)
	}
	x, ok := m["x"].(*ndarray.Array)
	if !ok || x.Len() != 2 {
		return 0, 0, 0, fmt.Errorf("%w: x", ErrBadSample)
	}
	fa, _ := x.At(0)
	fb, _ := x.At(1)
	var label int64
	switch v := m["y"].(type) {
	case int64:
		label = v
	case int:
		label = int64(v)
	default:
		return 0, 0, 0, fmt.Errorf("%w: y %T", ErrBadSample, m["y"])
	}
	a, b, y = int(fa), int(fb), int(label)
	if a&^1 != 0 || b&^1 != 0 || y&^1 != 0 {
		return 0, 0, 0, fmt.Errorf("%w: values out of range", ErrBadSample)
	}
	return a, b, y, nil
}

// Train records the label of one sample.
func (m *XORModel) Train(_ context.Context, input any) (any, error) {
	a, b, y, err := parseSample(input)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n, _ := m.counts.At(a, b, y)
	if err := m.counts.Set(n+1, a, b, y); err != nil {
		return nil, err
	}
	return map[string]any{"seen": int64(n + 1)}, nil
}

// Test predicts the majority label seen for the sample's input.
func (m *XORModel) Test(_ context.Context, input any) (any, error) {
	a, b, y, err := parseSample(input)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	zero, _ := m.counts.At(a, b, 0)
	one, _ := m.counts.At(a, b, 1)
	prediction := 0
	if one > zero {
		prediction = 1
	}
	m.tested++
	if prediction == y {
		m.correct++
	}
	return map[string]any{
		"prediction": int64(prediction),
		"correct":    prediction == y,
	}, nil
}

// ModelFor returns Test for evaluation phases and Train otherwise.
func (m *XORModel) ModelFor(ph event.Phase) phase.Model {
	name := strings.ToLower(string(ph))
	if strings.Contains(name, "test") || strings.Contains(name, "eval") {
		return m.Test
	}
	return m.Train
}

// Accuracy is the share of correct test predictions so far.
func (m *XORModel) Accuracy() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tested == 0 {
		return 0
	}
	return float64(m.correct) / float64(m.tested)
}

// Snapshot copies the model state.
func (m *XORModel) Snapshot() *ndarray.Array {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts.Clone()
}

// Restore replaces the model state with a snapshot.
func (m *XORModel) Restore(a *ndarray.Array) error {
	if a == nil || a.DType != ndarray.Int64 || len(a.Shape) != 3 || a.Shape[0] != 2 || a.Shape[1] != 2 || a.Shape[2] != 2 {
		return fmt.Errorf("restore model: unexpected snapshot")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts = a.Clone()
	return nil
}

// DemoConfig configures RunDemo.
type DemoConfig struct {
	Schedule sequencer.Schedule
	// Rounds is the number of full rotations produced.
	Rounds  int
	Seed    uint64
	GroupID string
	Log     seqlog.Store
	Objects objstore.Backend
	Accept  func(event.Event) bool
	// Rate caps each producer at this many samples per second. Zero is unpaced.
	Rate float64
}

type DemoResult struct {
	GroupID  string
	Next     int64
	Accuracy float64
}

// RunDemo feeds Rounds rotations of XOR samples through a pipeline, one
// concurrent producer per phase, and stores the final model snapshot.
func RunDemo(ctx context.Context, cfg DemoConfig) (DemoResult, error) {
	if cfg.Rounds <= 0 {
		return DemoResult{}, fmt.Errorf("demo: rounds must be positive")
	}
	model := NewXORModel()
	models := make(map[event.Phase]phase.Model, len(cfg.Schedule))
	for _, slot := range cfg.Schedule {
		models[slot.Phase] = model.ModelFor(slot.Phase)
	}

	p, err := New(ctx, Config{
		Schedule:  cfg.Schedule,
		Models:    models,
		ModelName: "xor",
		Log:       cfg.Log,
		GroupID:   cfg.GroupID,
		Accept:    cfg.Accept,
		Objects:   cfg.Objects,
	})
	if err != nil {
		return DemoResult{}, err
	}
	if err := p.Start(ctx); err != nil {
		_ = p.Close()
		return DemoResult{}, err
	}

	var expected int64
	g, gctx := errgroup.WithContext(ctx)
	for i, slot := range cfg.Schedule {
		n := slot.Quota * cfg.Rounds
		expected += int64(n)
		rng := rand.New(rand.NewPCG(cfg.Seed, uint64(i)))
		limiter := rate.NewLimiter(rate.Inf, 1)
		if cfg.Rate > 0 {
			limiter = rate.NewLimiter(rate.Limit(cfg.Rate), 1)
		}
		g.Go(func() error {
			for j := range n {
				if err := limiter.Wait(gctx); err != nil {
					return err
				}
				id := fmt.Sprintf("%s-%d", slot.Phase, j)
				if err := p.Publish(gctx, slot.Phase, Sample(id, rng.IntN(2), rng.IntN(2))); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		_ = p.Close()
		return DemoResult{}, fmt.Errorf("demo: produce: %w", err)
	}

	if err := p.Drain(ctx, expected); err != nil {
		return DemoResult{}, fmt.Errorf("demo: %w", err)
	}
	if objects := p.Objects(); objects != nil {
		if err := objects.Put(ctx, ModelObjectID, model.Snapshot()); err != nil {
			return DemoResult{}, fmt.Errorf("demo: %w", err)
		}
	}
	return DemoResult{GroupID: p.GroupID(), Next: p.Next(), Accuracy: model.Accuracy()}, nil
}
