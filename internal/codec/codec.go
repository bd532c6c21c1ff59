// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package codec maps in-memory values to a storage-safe structured form and
// back. Numeric arrays get a marker document, plain maps and slices recurse,
// and everything else is carried as opaque gob bytes.
package codec

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/ManuGH/phaselog/internal/ndarray"
)

// Marker keys of the structured form. These are part of the persisted format.
const (
	MarkerNDArray = "__ndarray__"
	KeyDType      = "dtype"
	KeyShape      = "shape"
	MarkerBinary  = "__binary__"
	MarkerScalar  = "__scalar__"
	KeyValue      = "value"
)

// Format tags how a stored blob was produced so readers can reverse it.
type Format string

const (
	FormatJSON   Format = "json"
	FormatBinary Format = "binary"
)

var (
	// ErrUnrepresentable is returned when a value has no structured form.
	// Callers fall back to the opaque binary encoding.
	ErrUnrepresentable = errors.New("value not representable in structured form")
	// ErrCorrupt is returned when a stored document cannot be decoded.
	ErrCorrupt = errors.New("corrupt encoded value")
)

// Encoder converts a value into its structured form.
type Encoder interface {
	Encode(v any) (any, error)
}

// Decoder reverses Encoder.
type Decoder interface {
	Decode(v any) (any, error)
}

// Codec is both halves.
type Codec interface {
	Encoder
	Decoder
}

// Default is the codec used when none is injected.
var Default Codec = defaultCodec{}

type defaultCodec struct{}

// Encode maps v recursively:
//   - *ndarray.Array becomes {__ndarray__: base64, dtype, shape};
//   - map[string]any and []any recurse;
//   - nil, bool, string, int64 and float64 stay scalars (floats keep a
//     decimal point so they decode as float64);
//   - other integer kinds and float32 become {__scalar__: kind, value};
//   - anything else becomes {__binary__: base64(gob)}.
func (defaultCodec) Encode(v any) (any, error) {
	switch x := v.(type) {
	case nil, bool, string, int64:
		return x, nil
	case int, int8, int16, int32, uint, uint8, uint16, uint32, uint64:
		return map[string]any{MarkerScalar: fmt.Sprintf("%T", x), KeyValue: x}, nil
	case float32:
		return map[string]any{MarkerScalar: "float32", KeyValue: encodeFloat(float64(x))}, nil
	case float64:
		return encodeFloat(x), nil
	case *ndarray.Array:
		if x == nil {
			return nil, nil
		}
		return encodeArray(x), nil
	case ndarray.Array:
		return encodeArray(&x), nil
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			enc, err := Default.Encode(item)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			out[k] = enc
		}
		return out, nil
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			enc, err := Default.Encode(item)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			out[i] = enc
		}
		return out, nil
	default:
		b, err := MarshalBinary(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %T: %v", ErrUnrepresentable, v, err)
		}
		return map[string]any{MarkerBinary: base64.StdEncoding.EncodeToString(b)}, nil
	}
}

// encodeFloat keeps non-finite values as float64 so the JSON step rejects
// them and the caller takes the binary path.
func encodeFloat(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return f
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return json.Number(s)
}

func encodeArray(a *ndarray.Array) map[string]any {
	shape := make([]any, len(a.Shape))
	for i, d := range a.Shape {
		shape[i] = int64(d)
	}
	return map[string]any{
		MarkerNDArray: base64.StdEncoding.EncodeToString(a.Data),
		KeyDType:      string(a.DType),
		KeyShape:      shape,
	}
}

// Decode is the inverse of Encode. Untagged integers come back as int64
// (uint64 when they do not fit) and untagged floats as float64.
func (defaultCodec) Decode(v any) (any, error) {
	switch x := v.(type) {
	case map[string]any:
		if raw, ok := x[MarkerNDArray]; ok {
			return decodeArray(raw, x[KeyDType], x[KeyShape])
		}
		if kind, ok := x[MarkerScalar]; ok && len(x) == 2 {
			return decodeScalar(kind, x[KeyValue])
		}
		if raw, ok := x[MarkerBinary]; ok && len(x) == 1 {
			s, ok := raw.(string)
			if !ok {
				return nil, fmt.Errorf("%w: %s is %T", ErrCorrupt, MarkerBinary, raw)
			}
			b, err := base64.StdEncoding.DecodeString(s)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
			}
			return UnmarshalBinary(b)
		}
		out := make(map[string]any, len(x))
		for k, item := range x {
			dec, err := Default.Decode(item)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			out[k] = dec
		}
		return out, nil
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			dec, err := Default.Decode(item)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			out[i] = dec
		}
		return out, nil
	case json.Number:
		return decodeNumber(x)
	default:
		return x, nil
	}
}

func decodeNumber(n json.Number) (any, error) {
	s := n.String()
	if !strings.ContainsAny(s, ".eE") {
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, nil
		}
		if u, err := strconv.ParseUint(s, 10, 64); err == nil {
			return u, nil
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: number %q", ErrCorrupt, s)
	}
	return f, nil
}

func decodeScalar(kind, raw any) (any, error) {
	k, ok := kind.(string)
	if !ok {
		return nil, fmt.Errorf("%w: %s is %T", ErrCorrupt, MarkerScalar, kind)
	}
	switch raw.(type) {
	case json.Number, int, int8, int16, int32, uint, uint8, uint16, uint32, uint64, float32:
	default:
		return nil, fmt.Errorf("%w: %s value is %T", ErrCorrupt, k, raw)
	}
	s := fmt.Sprint(raw)

	var (
		out any
		err error
	)
	switch k {
	case "int":
		var n int64
		n, err = strconv.ParseInt(s, 10, strconv.IntSize)
		out = int(n)
	case "int8":
		var n int64
		n, err = strconv.ParseInt(s, 10, 8)
		out = int8(n)
	case "int16":
		var n int64
		n, err = strconv.ParseInt(s, 10, 16)
		out = int16(n)
	case "int32":
		var n int64
		n, err = strconv.ParseInt(s, 10, 32)
		out = int32(n)
	case "uint":
		var n uint64
		n, err = strconv.ParseUint(s, 10, strconv.IntSize)
		out = uint(n)
	case "uint8":
		var n uint64
		n, err = strconv.ParseUint(s, 10, 8)
		out = uint8(n)
	case "uint16":
		var n uint64
		n, err = strconv.ParseUint(s, 10, 16)
		out = uint16(n)
	case "uint32":
		var n uint64
		n, err = strconv.ParseUint(s, 10, 32)
		out = uint32(n)
	case "uint64":
		out, err = strconv.ParseUint(s, 10, 64)
	case "float32":
		var f float64
		f, err = strconv.ParseFloat(s, 32)
		out = float32(f)
	default:
		return nil, fmt.Errorf("%w: unknown scalar kind %q", ErrCorrupt, k)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s %q: %v", ErrCorrupt, k, s, err)
	}
	return out, nil
}

func decodeArray(raw, dtype, shape any) (*ndarray.Array, error) {
	s, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("%w: %s is %T", ErrCorrupt, MarkerNDArray, raw)
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	dt, ok := dtype.(string)
	if !ok {
		return nil, fmt.Errorf("%w: dtype is %T", ErrCorrupt, dtype)
	}
	dims, ok := shape.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: shape is %T", ErrCorrupt, shape)
	}
	out := make([]int, len(dims))
	for i, d := range dims {
		n, err := toInt(d)
		if err != nil {
			return nil, fmt.Errorf("%w: shape[%d]: %v", ErrCorrupt, i, err)
		}
		out[i] = n
	}
	a, err := ndarray.New(ndarray.DType(dt), out, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return a, nil
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		return int(i), err
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("unexpected %T", v)
	}
}
