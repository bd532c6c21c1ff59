// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package event

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Wire field names. These are part of the persisted format and must not change.
const (
	KeyType        = "type"
	KeyPhase       = "phase"
	KeyIteration   = "iteration"
	KeyPayload     = "payload"
	KeyModelInput  = "model_input"
	KeyModelOutput = "model_output"
	KeyData        = "data"
	KeyModel       = "model"
	KeyTimestamp   = "timestamp"
)

var reserved = map[string]struct{}{
	KeyType: {}, KeyPhase: {}, KeyIteration: {}, KeyPayload: {}, KeyModelInput: {},
	KeyModelOutput: {}, KeyData: {}, KeyModel: {}, KeyTimestamp: {},
}

// ErrMalformedDocument is returned when a document cannot be turned back into an event.
var ErrMalformedDocument = errors.New("malformed event document")

// Document maps the event to its wire form:
//
//	{type: "data", phase, payload}
//	{type: "before_iteration"|"after_iteration", phase, iteration, model_input, model_output?}
//	{type: "store_object", data}
//
// A missing phase is written as nil except on store_object. Attrs are flattened next to the
// reserved keys and never override them.
func (e Event) Document() map[string]any {
	doc := make(map[string]any, 4+len(e.Attrs))
	for k, v := range e.Attrs {
		if _, ok := reserved[k]; ok {
			continue
		}
		doc[k] = v
	}
	doc[KeyType] = string(e.Type)
	if e.Phase != "" {
		doc[KeyPhase] = string(e.Phase)
	} else if e.Type != TypeStoreObject {
		doc[KeyPhase] = nil
	}
	switch e.Type {
	case TypeBeforeIteration, TypeAfterIteration:
		doc[KeyIteration] = e.Iteration
		doc[KeyModelInput] = e.Payload
		if e.Type == TypeAfterIteration {
			doc[KeyModelOutput] = e.Output
		}
	case TypeStoreObject:
		doc[KeyData] = e.Payload
	default:
		if e.Payload != nil {
			doc[KeyPayload] = e.Payload
		}
	}
	if e.Model != "" {
		doc[KeyModel] = e.Model
	}
	if !e.Time.IsZero() {
		doc[KeyTimestamp] = e.Time.UTC().Format(time.RFC3339Nano)
	}
	return doc
}

// FromDocument is the inverse of Document. Numeric fields may arrive as any
// Go integer or float kind.
func FromDocument(doc map[string]any) (Event, error) {
	var e Event
	t, ok := doc[KeyType].(string)
	if !ok || t == "" {
		return e, fmt.Errorf("%w: missing %q", ErrMalformedDocument, KeyType)
	}
	e.Type = Type(t)

	switch p := doc[KeyPhase].(type) {
	case nil:
	case string:
		e.Phase = Phase(p)
	default:
		return e, fmt.Errorf("%w: phase is %T", ErrMalformedDocument, p)
	}

	switch e.Type {
	case TypeBeforeIteration, TypeAfterIteration:
		it, err := toInt64(doc[KeyIteration])
		if err != nil {
			return e, fmt.Errorf("%w: iteration: %v", ErrMalformedDocument, err)
		}
		e.Iteration = it
		e.Payload = doc[KeyModelInput]
		e.Output = doc[KeyModelOutput]
	case TypeStoreObject:
		e.Payload = doc[KeyData]
	default:
		e.Payload = doc[KeyPayload]
	}

	if m, ok := doc[KeyModel].(string); ok {
		e.Model = m
	}
	if ts, ok := doc[KeyTimestamp].(string); ok {
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return e, fmt.Errorf("%w: timestamp: %v", ErrMalformedDocument, err)
		}
		e.Time = parsed
	}

	for k, v := range doc {
		if _, ok := reserved[k]; ok {
			continue
		}
		if e.Attrs == nil {
			e.Attrs = make(map[string]any)
		}
		e.Attrs[k] = v
	}
	return e, nil
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint32:
		return int64(n), nil
	case uint64:
		if n > math.MaxInt64 {
			return 0, fmt.Errorf("%d overflows int64", n)
		}
		return int64(n), nil
	case float64:
		if n < -(1<<63) || n >= 1<<63 || n != math.Trunc(n) {
			return 0, fmt.Errorf("non-integral %v", n)
		}
		return int64(n), nil
	case nil:
		return 0, nil
	default:
		return 0, fmt.Errorf("unexpected %T", v)
	}
}
