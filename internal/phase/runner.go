// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package phase drives one phase of repeated work (training, testing, ...)
// and reports every iteration on the bus.
package phase

import (
	"context"
	"fmt"
	"sync"

	"github.com/ManuGH/phaselog/internal/bus"
	"github.com/ManuGH/phaselog/internal/event"
	"github.com/ManuGH/phaselog/internal/log"
	"github.com/ManuGH/phaselog/internal/metrics"
	"github.com/ManuGH/phaselog/internal/telemetry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Model is the work function for one input.
type Model func(ctx context.Context, input any) (any, error)

// Runner processes the data events of a single phase one at a time and
// emits before_iteration / after_iteration around each.
type Runner struct {
	phase     event.Phase
	model     Model
	modelName string
	out       bus.Emitter
	logger    zerolog.Logger
	tracer    trace.Tracer

	mu        sync.Mutex
	iteration int64
}

// Option configures a Runner.
type Option func(*Runner)

// WithModelName sets the model reference carried on iteration events.
func WithModelName(name string) Option {
	return func(r *Runner) { r.modelName = name }
}

// WithLogger overrides the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithTracer overrides the tracer used for iteration spans.
func WithTracer(t trace.Tracer) Option {
	return func(r *Runner) { r.tracer = t }
}

// New returns a runner for phase. out receives the lifecycle events.
func New(phase event.Phase, model Model, out bus.Emitter, opts ...Option) *Runner {
	r := &Runner{
		phase:  phase,
		model:  model,
		out:    out,
		logger: log.WithComponent("phase"),
		tracer: telemetry.Tracer("phaselog.phase"),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With().Str(log.FieldPhase, string(phase)).Logger()
	return r
}

// Phase returns the phase this runner serves.
func (r *Runner) Phase() event.Phase { return r.phase }

// Iteration returns the number of iterations started so far.
func (r *Runner) Iteration() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.iteration
}

func (r *Runner) next() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.iteration++
	return r.iteration
}

// Process runs the model on input. A model error ends the call: it is
// returned as is and no after_iteration event is emitted.
func (r *Runner) Process(ctx context.Context, input any) (err error) {
	it := r.next()

	ctx, span := r.tracer.Start(ctx, "phase."+string(r.phase),
		trace.WithAttributes(telemetry.IterationAttributes(string(r.phase), it, r.modelName)...))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	before := event.Event{
		Type:      event.TypeBeforeIteration,
		Phase:     r.phase,
		Iteration: it,
		Payload:   input,
		Model:     r.modelName,
	}
	if err := r.out.Publish(ctx, before); err != nil {
		return fmt.Errorf("phase %q iteration %d: publish before_iteration: %w", r.phase, it, err)
	}

	r.logger.Debug().Int64(log.FieldIteration, it).Msg("phase iteration")

	output, err := r.model(ctx, input)
	if err != nil {
		metrics.IncRunnerIteration(string(r.phase), "error")
		span.SetAttributes(telemetry.ErrorAttributes("model")...)
		return fmt.Errorf("phase %q iteration %d: %w", r.phase, it, err)
	}
	metrics.IncRunnerIteration(string(r.phase), "ok")

	after := before
	after.Type = event.TypeAfterIteration
	after.Output = output
	if err := r.out.Publish(ctx, after); err != nil {
		return fmt.Errorf("phase %q iteration %d: publish after_iteration: %w", r.phase, it, err)
	}
	return nil
}

// Accepts matches data events of this runner's phase, exactly.
func (r *Runner) Accepts(ev event.Event) bool {
	return ev.Type == event.TypeData && ev.Phase == r.phase
}

// Handle feeds accepted events to Process and ignores everything else.
func (r *Runner) Handle(ctx context.Context, ev event.Event) error {
	if !r.Accepts(ev) {
		return nil
	}
	return r.Process(ctx, ev.Payload)
}

var _ bus.Listener = (*Runner)(nil)
