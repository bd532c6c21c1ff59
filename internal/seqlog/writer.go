// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package seqlog

import (
	"context"
	"fmt"
	"sync"

	"github.com/ManuGH/phaselog/internal/bus"
	"github.com/ManuGH/phaselog/internal/codec"
	"github.com/ManuGH/phaselog/internal/event"
	"github.com/ManuGH/phaselog/internal/log"
	"github.com/ManuGH/phaselog/internal/metrics"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "phaselog.seqlog"

func init() {
	codec.Register(event.Event{})
}

// Writer appends accepted events to a Store under one group.
type Writer struct {
	store   Store
	group   string
	accept  func(event.Event) bool
	encoder codec.Encoder
	emitter bus.Emitter
	logger  zerolog.Logger
	tracer  trace.Tracer

	mu   sync.Mutex
	next int64
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithGroupID resumes an existing group instead of allocating a new one.
func WithGroupID(id string) WriterOption {
	return func(w *Writer) { w.group = id }
}

// WithAccept sets the predicate selecting which events Handle stores.
func WithAccept(accept func(event.Event) bool) WriterOption {
	return func(w *Writer) { w.accept = accept }
}

// WithEncoder overrides the structured encoder.
func WithEncoder(enc codec.Encoder) WriterOption {
	return func(w *Writer) { w.encoder = enc }
}

// WithEmitter sets where store_object confirmations go.
func WithEmitter(e bus.Emitter) WriterOption {
	return func(w *Writer) { w.emitter = e }
}

// WithLogger overrides the component logger.
func WithLogger(l zerolog.Logger) WriterOption {
	return func(w *Writer) { w.logger = l }
}

// NewWriter opens a writer. With a group id the next sequence id continues
// after the highest one already stored; otherwise a fresh group starts at 0.
func NewWriter(ctx context.Context, store Store, opts ...WriterOption) (*Writer, error) {
	if store == nil {
		return nil, fmt.Errorf("seqlog: nil store")
	}
	w := &Writer{
		store:   store,
		accept:  func(event.Event) bool { return true },
		encoder: codec.Default,
		logger:  log.WithComponent("seqlog"),
		tracer:  otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(w)
	}

	if w.group == "" {
		w.group = uuid.NewString()
	} else {
		last, ok, err := store.Last(ctx, w.group)
		if err != nil {
			return nil, fmt.Errorf("seqlog: resume group %s: %w", w.group, err)
		}
		if ok {
			w.next = last + 1
		}
	}
	w.logger = w.logger.With().Str(log.FieldGroupID, w.group).Logger()
	w.logger.Debug().Int64(log.FieldSequenceID, w.next).Msg("sequence log writer opened")
	return w, nil
}

// GroupID returns the group this writer appends to.
func (w *Writer) GroupID() string { return w.group }

// Next returns the sequence id the next append will get.
func (w *Writer) Next() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.next
}

// Store persists ev under the next sequence id. Values without a structured
// form are stored with the binary encoding. A store failure is returned and
// the sequence id is left unchanged.
func (w *Writer) Store(ctx context.Context, ev event.Event) error {
	ctx, span := w.tracer.Start(ctx, "seqlog.Store", trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()

	rec, err := w.append(ctx, ev)
	span.SetAttributes(
		attribute.String(log.FieldGroupID, w.group),
		attribute.Int64(log.FieldSequenceID, rec.SequenceID),
		attribute.String(log.FieldEncoding, string(rec.Encoding)),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if w.emitter != nil {
		if err := w.emitter.Publish(ctx, event.StoreObject(ev)); err != nil {
			return fmt.Errorf("seqlog: publish store_object for %s/%d: %w", w.group, rec.SequenceID, err)
		}
	}
	return nil
}

func (w *Writer) append(ctx context.Context, ev event.Event) (Record, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	rec := Record{GroupID: w.group, SequenceID: w.next}
	enc, obj, err := w.encode(ev)
	if err != nil {
		metrics.SeqlogAppendErrorsTotal.Inc()
		return rec, fmt.Errorf("seqlog: encode %s/%d: %w", w.group, rec.SequenceID, err)
	}
	rec.Encoding, rec.Obj = enc, obj

	if err := w.store.Append(ctx, rec); err != nil {
		metrics.SeqlogAppendErrorsTotal.Inc()
		w.logger.Error().Err(err).Int64(log.FieldSequenceID, rec.SequenceID).Msg("sequence log append failed")
		return rec, fmt.Errorf("seqlog: append %s/%d: %w", w.group, rec.SequenceID, err)
	}
	w.next++
	metrics.IncSeqlogAppend(string(enc))
	return rec, nil
}

func (w *Writer) encode(ev event.Event) (Encoding, []byte, error) {
	obj, err := codec.Marshal(w.encoder, ev.Document())
	if err == nil {
		return EncodingJSON, obj, nil
	}
	if !codec.IsUnrepresentable(err) {
		return "", nil, err
	}

	w.logger.Debug().Err(err).Msg("structured encoding failed, storing binary")
	obj, err = codec.MarshalBinary(ev)
	if err != nil {
		return "", nil, err
	}
	return EncodingBinary, obj, nil
}

// Accepts applies the accept predicate. store_object confirmations are
// never accepted.
func (w *Writer) Accepts(ev event.Event) bool {
	return ev.Type != event.TypeStoreObject && w.accept(ev)
}

// Handle stores accepted events.
func (w *Writer) Handle(ctx context.Context, ev event.Event) error {
	if !w.Accepts(ev) {
		return nil
	}
	return w.Store(ctx, ev)
}

var _ bus.Listener = (*Writer)(nil)
