// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package objstore keeps the latest version of objects by id, so a mutated
// object can be restored later.
package objstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/ManuGH/phaselog/internal/bus"
	"github.com/ManuGH/phaselog/internal/codec"
	"github.com/ManuGH/phaselog/internal/event"
	"github.com/ManuGH/phaselog/internal/log"
	"github.com/ManuGH/phaselog/internal/metrics"
	"github.com/rs/zerolog"
)

// IDKey is the field naming an object's id.
const IDKey = "_id"

var (
	ErrNotFound = errors.New("object not found")
	ErrNoID     = errors.New("object has no id")
)

// Document is the stored form of one object.
type Document struct {
	Encoding codec.Format
	Obj      []byte
}

// Backend persists documents by id with replace-or-insert semantics.
type Backend interface {
	Replace(ctx context.Context, id string, doc Document) error
	Find(ctx context.Context, id string) (Document, bool, error)
}

// Identifier is implemented by objects that carry their own id.
type Identifier interface {
	ObjectID() string
}

type Store struct {
	backend Backend
	encoder codec.Encoder
	decoder codec.Decoder
	emitter bus.Emitter
	accept  func(event.Event) bool
	logger  zerolog.Logger
}

type Option func(*Store)

func WithCodec(c codec.Codec) Option {
	return func(s *Store) { s.encoder, s.decoder = c, c }
}

func WithEmitter(e bus.Emitter) Option {
	return func(s *Store) { s.emitter = e }
}

// WithAccept selects the events Handle stores. Defaults to data events.
func WithAccept(accept func(event.Event) bool) Option {
	return func(s *Store) { s.accept = accept }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

func New(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		encoder: codec.Default,
		decoder: codec.Default,
		accept:  func(ev event.Event) bool { return ev.Type == event.TypeData },
		logger:  log.WithComponent("objstore"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Put replaces the object stored under id, inserting it if absent.
func (s *Store) Put(ctx context.Context, id string, v any) error {
	if id == "" {
		return ErrNoID
	}
	doc := Document{Encoding: codec.FormatJSON}
	obj, err := codec.Marshal(s.encoder, v)
	if codec.IsUnrepresentable(err) {
		s.logger.Debug().Err(err).Str("id", id).Msg("structured encoding failed, storing binary")
		doc.Encoding = codec.FormatBinary
		obj, err = codec.MarshalBinary(v)
	}
	if err != nil {
		return fmt.Errorf("objstore: encode %s: %w", id, err)
	}
	doc.Obj = obj

	if err := s.backend.Replace(ctx, id, doc); err != nil {
		return fmt.Errorf("objstore: replace %s: %w", id, err)
	}
	metrics.IncObjectStorePut(string(doc.Encoding))

	if s.emitter != nil {
		if err := s.emitter.Publish(ctx, event.StoreObject(v)); err != nil {
			return fmt.Errorf("objstore: publish store_object for %s: %w", id, err)
		}
	}
	return nil
}

// Get restores the object stored under id.
func (s *Store) Get(ctx context.Context, id string) (any, error) {
	doc, ok, err := s.backend.Find(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("objstore: find %s: %w", id, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	switch doc.Encoding {
	case codec.FormatBinary:
		return codec.UnmarshalBinary(doc.Obj)
	default:
		return codec.Unmarshal(s.decoder, doc.Obj)
	}
}

// Accepts never matches store_object confirmations.
func (s *Store) Accepts(ev event.Event) bool {
	return ev.Type != event.TypeStoreObject && s.accept(ev)
}

// Handle stores the payload of an accepted event under its id.
func (s *Store) Handle(ctx context.Context, ev event.Event) error {
	if !s.Accepts(ev) {
		return nil
	}
	id, ok := ObjectID(ev)
	if !ok {
		return fmt.Errorf("objstore: %s event: %w", ev.Type, ErrNoID)
	}
	return s.Put(ctx, id, ev.Payload)
}

// ObjectID finds the id of the object carried by ev: the payload's own id
// first, then the event's _id attribute.
func ObjectID(ev event.Event) (string, bool) {
	switch p := ev.Payload.(type) {
	case Identifier:
		return p.ObjectID(), true
	case map[string]any:
		if v, ok := p[IDKey]; ok && v != nil {
			return fmt.Sprint(v), true
		}
	}
	if v, ok := ev.Attr(IDKey); ok && v != nil {
		return fmt.Sprint(v), true
	}
	return "", false
}

var _ bus.Listener = (*Store)(nil)
