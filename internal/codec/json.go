// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Marshal encodes v with enc and renders the structured form as JSON. Values
// JSON cannot carry (NaN, channels, ...) are reported as ErrUnrepresentable.
func Marshal(enc Encoder, v any) ([]byte, error) {
	if enc == nil {
		enc = Default
	}
	doc, err := enc.Encode(v)
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(doc)
	if err != nil {
		var typeErr *json.UnsupportedTypeError
		var valueErr *json.UnsupportedValueError
		if errors.As(err, &typeErr) || errors.As(err, &valueErr) {
			return nil, fmt.Errorf("%w: %v", ErrUnrepresentable, err)
		}
		return nil, err
	}
	return b, nil
}

// Unmarshal parses JSON produced by Marshal and decodes it with dec. Numbers
// are kept exact until the decoder picks int64 or float64.
func Unmarshal(dec Decoder, b []byte) (any, error) {
	if dec == nil {
		dec = Default
	}
	d := json.NewDecoder(bytes.NewReader(b))
	d.UseNumber()
	var doc any
	if err := d.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return dec.Decode(doc)
}

// IsUnrepresentable reports whether err means the structured path cannot
// carry a value and the binary fallback should be used.
func IsUnrepresentable(err error) bool {
	if errors.Is(err, ErrUnrepresentable) {
		return true
	}
	var typeErr *json.UnsupportedTypeError
	var valueErr *json.UnsupportedValueError
	return errors.As(err, &typeErr) || errors.As(err, &valueErr)
}
