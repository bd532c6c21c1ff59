// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package seqlog

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/ManuGH/phaselog/internal/bus"
	"github.com/ManuGH/phaselog/internal/codec"
	"github.com/ManuGH/phaselog/internal/event"
	"github.com/ManuGH/phaselog/internal/log"
	"github.com/ManuGH/phaselog/internal/metrics"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// errStopIteration ends a Scan early when the consumer of All stops ranging.
var errStopIteration = errors.New("iteration stopped")

// Reader replays one group. It never allocates sequence ids.
type Reader struct {
	store   Store
	group   string
	decoder codec.Decoder
	emitter bus.Emitter
	logger  zerolog.Logger
	tracer  trace.Tracer
}

// ReaderOption configures a Reader.
type ReaderOption func(*Reader)

// WithDecoder overrides the structured decoder.
func WithDecoder(dec codec.Decoder) ReaderOption {
	return func(r *Reader) { r.decoder = dec }
}

// WithReplayEmitter sets where Replay publishes decoded events.
func WithReplayEmitter(e bus.Emitter) ReaderOption {
	return func(r *Reader) { r.emitter = e }
}

// WithReaderLogger overrides the component logger.
func WithReaderLogger(l zerolog.Logger) ReaderOption {
	return func(r *Reader) { r.logger = l }
}

// NewReader returns a reader for group.
func NewReader(store Store, group string, opts ...ReaderOption) *Reader {
	r := &Reader{
		store:   store,
		group:   group,
		decoder: codec.Default,
		logger:  log.WithComponent("seqlog"),
		tracer:  otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With().Str(log.FieldGroupID, group).Logger()
	return r
}

// GroupID returns the replayed group.
func (r *Reader) GroupID() string { return r.group }

// Entry is one decoded record.
type Entry struct {
	SequenceID int64
	Event      event.Event
}

// Entries yields the group's records in ascending sequence order, each with
// the sequence id it was stored under. Every call starts a fresh scan. The
// first error is yielded once and ends the sequence.
func (r *Reader) Entries(ctx context.Context) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		err := r.store.Scan(ctx, r.group, func(rec Record) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			ev, err := r.decode(rec)
			if err != nil {
				return err
			}
			if !yield(Entry{SequenceID: rec.SequenceID, Event: ev}, nil) {
				return errStopIteration
			}
			return nil
		})
		if err != nil && !errors.Is(err, errStopIteration) {
			yield(Entry{}, fmt.Errorf("seqlog: read group %s: %w", r.group, err))
		}
	}
}

// All is Entries without the sequence ids.
func (r *Reader) All(ctx context.Context) iter.Seq2[event.Event, error] {
	return func(yield func(event.Event, error) bool) {
		for e, err := range r.Entries(ctx) {
			if !yield(e.Event, err) {
				return
			}
		}
	}
}

// Events collects All into a slice.
func (r *Reader) Events(ctx context.Context) ([]event.Event, error) {
	var out []event.Event
	for ev, err := range r.All(ctx) {
		if err != nil {
			return out, err
		}
		out = append(out, ev)
	}
	return out, nil
}

// Replay publishes every stored event of the group, in order, before
// returning.
func (r *Reader) Replay(ctx context.Context) error {
	if r.emitter == nil {
		return fmt.Errorf("seqlog: replay group %s: no emitter", r.group)
	}
	ctx, span := r.tracer.Start(ctx, "seqlog.Replay")
	span.SetAttributes(attribute.String(log.FieldGroupID, r.group))
	defer span.End()

	var n int64
	for ev, err := range r.All(ctx) {
		if err == nil {
			err = r.emitter.Publish(ctx, ev)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		n++
		metrics.SeqlogReplayedTotal.Inc()
	}
	span.SetAttributes(attribute.Int64("replayed", n))
	r.logger.Debug().Int64("replayed", n).Msg("group replayed")
	return nil
}

func (r *Reader) decode(rec Record) (event.Event, error) {
	switch rec.Encoding {
	case EncodingBinary:
		v, err := codec.UnmarshalBinary(rec.Obj)
		if err != nil {
			return event.Event{}, fmt.Errorf("record %d: %w", rec.SequenceID, err)
		}
		ev, ok := v.(event.Event)
		if !ok {
			return event.Event{}, fmt.Errorf("record %d: %w: binary record holds %T", rec.SequenceID, codec.ErrCorrupt, v)
		}
		return ev, nil
	case EncodingJSON, "":
		v, err := codec.Unmarshal(r.decoder, rec.Obj)
		if err != nil {
			return event.Event{}, fmt.Errorf("record %d: %w", rec.SequenceID, err)
		}
		doc, ok := v.(map[string]any)
		if !ok {
			return event.Event{}, fmt.Errorf("record %d: %w: document is %T", rec.SequenceID, codec.ErrCorrupt, v)
		}
		ev, err := event.FromDocument(doc)
		if err != nil {
			return event.Event{}, fmt.Errorf("record %d: %w", rec.SequenceID, err)
		}
		return ev, nil
	default:
		return event.Event{}, fmt.Errorf("record %d: %w: unknown encoding %q", rec.SequenceID, codec.ErrCorrupt, rec.Encoding)
	}
}
