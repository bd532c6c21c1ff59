// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package ndarray is a minimal contiguous numeric buffer with a dtype and a
// shape. It only carries what the sequence log needs to persist model inputs
// and outputs; it does no arithmetic.
package ndarray

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"slices"
)

// DType names the element type. Values match the numpy dtype names so stored
// records stay readable by other tooling.
type DType string

const (
	Bool    DType = "bool"
	Int8    DType = "int8"
	Int16   DType = "int16"
	Int32   DType = "int32"
	Int64   DType = "int64"
	Uint8   DType = "uint8"
	Uint16  DType = "uint16"
	Uint32  DType = "uint32"
	Uint64  DType = "uint64"
	Float32 DType = "float32"
	Float64 DType = "float64"
)

var (
	ErrUnknownDType = errors.New("unknown dtype")
	ErrShape        = errors.New("shape mismatch")
	ErrIndex        = errors.New("index out of range")
)

// Size returns the element width in bytes.
func (d DType) Size() (int, error) {
	switch d {
	case Bool, Int8, Uint8:
		return 1, nil
	case Int16, Uint16:
		return 2, nil
	case Int32, Uint32, Float32:
		return 4, nil
	case Int64, Uint64, Float64:
		return 8, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownDType, string(d))
	}
}

// Array is a C-ordered, little-endian buffer.
type Array struct {
	DType DType
	Shape []int
	Data  []byte
}

func count(shape []int) (int, error) {
	n := 1
	for _, d := range shape {
		if d < 0 {
			return 0, fmt.Errorf("%w: negative dimension %d", ErrShape, d)
		}
		n *= d
	}
	return n, nil
}

// New wraps raw bytes. The length of data must match dtype and shape.
func New(dtype DType, shape []int, data []byte) (*Array, error) {
	size, err := dtype.Size()
	if err != nil {
		return nil, err
	}
	n, err := count(shape)
	if err != nil {
		return nil, err
	}
	if len(data) != n*size {
		return nil, fmt.Errorf("%w: %d bytes for %s%v", ErrShape, len(data), dtype, shape)
	}
	return &Array{DType: dtype, Shape: slices.Clone(shape), Data: data}, nil
}

// Zeros allocates a zero-filled array.
func Zeros(dtype DType, shape ...int) (*Array, error) {
	size, err := dtype.Size()
	if err != nil {
		return nil, err
	}
	n, err := count(shape)
	if err != nil {
		return nil, err
	}
	return &Array{DType: dtype, Shape: slices.Clone(shape), Data: make([]byte, n*size)}, nil
}

// FromFloat64s builds a float64 array from values in C order.
func FromFloat64s(shape []int, values []float64) (*Array, error) {
	a, err := Zeros(Float64, shape...)
	if err != nil {
		return nil, err
	}
	if len(values) != a.Len() {
		return nil, fmt.Errorf("%w: %d values for %v", ErrShape, len(values), shape)
	}
	for i, v := range values {
		binary.LittleEndian.PutUint64(a.Data[i*8:], math.Float64bits(v))
	}
	return a, nil
}

// FromInt64s builds an int64 array from values in C order.
func FromInt64s(shape []int, values []int64) (*Array, error) {
	a, err := Zeros(Int64, shape...)
	if err != nil {
		return nil, err
	}
	if len(values) != a.Len() {
		return nil, fmt.Errorf("%w: %d values for %v", ErrShape, len(values), shape)
	}
	for i, v := range values {
		binary.LittleEndian.PutUint64(a.Data[i*8:], uint64(v))
	}
	return a, nil
}

// Len returns the number of elements.
func (a *Array) Len() int {
	n, _ := count(a.Shape)
	return n
}

func (a *Array) offset(index []int) (int, error) {
	if len(index) != len(a.Shape) {
		return 0, fmt.Errorf("%w: %d indices for %d dimensions", ErrIndex, len(index), len(a.Shape))
	}
	off := 0
	for i, ix := range index {
		if ix < 0 || ix >= a.Shape[i] {
			return 0, fmt.Errorf("%w: %v in %v", ErrIndex, index, a.Shape)
		}
		off = off*a.Shape[i] + ix
	}
	return off, nil
}

// At returns the element at index converted to float64.
func (a *Array) At(index ...int) (float64, error) {
	off, err := a.offset(index)
	if err != nil {
		return 0, err
	}
	return a.get(off)
}

// Set stores v at index, converted to the array dtype.
func (a *Array) Set(v float64, index ...int) error {
	off, err := a.offset(index)
	if err != nil {
		return err
	}
	return a.put(off, v)
}

// Float64s returns all elements converted to float64.
func (a *Array) Float64s() ([]float64, error) {
	out := make([]float64, a.Len())
	for i := range out {
		v, err := a.get(i)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (a *Array) get(i int) (float64, error) {
	le := binary.LittleEndian
	switch a.DType {
	case Bool, Uint8:
		return float64(a.Data[i]), nil
	case Int8:
		return float64(int8(a.Data[i])), nil
	case Int16:
		return float64(int16(le.Uint16(a.Data[i*2:]))), nil
	case Uint16:
		return float64(le.Uint16(a.Data[i*2:])), nil
	case Int32:
		return float64(int32(le.Uint32(a.Data[i*4:]))), nil
	case Uint32:
		return float64(le.Uint32(a.Data[i*4:])), nil
	case Float32:
		return float64(math.Float32frombits(le.Uint32(a.Data[i*4:]))), nil
	case Int64:
		return float64(int64(le.Uint64(a.Data[i*8:]))), nil
	case Uint64:
		return float64(le.Uint64(a.Data[i*8:])), nil
	case Float64:
		return math.Float64frombits(le.Uint64(a.Data[i*8:])), nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownDType, string(a.DType))
	}
}

func (a *Array) put(i int, v float64) error {
	le := binary.LittleEndian
	switch a.DType {
	case Bool:
		if v != 0 {
			a.Data[i] = 1
		} else {
			a.Data[i] = 0
		}
	case Uint8:
		a.Data[i] = uint8(v)
	case Int8:
		a.Data[i] = uint8(int8(v))
	case Int16:
		le.PutUint16(a.Data[i*2:], uint16(int16(v)))
	case Uint16:
		le.PutUint16(a.Data[i*2:], uint16(v))
	case Int32:
		le.PutUint32(a.Data[i*4:], uint32(int32(v)))
	case Uint32:
		le.PutUint32(a.Data[i*4:], uint32(v))
	case Float32:
		le.PutUint32(a.Data[i*4:], math.Float32bits(float32(v)))
	case Int64:
		le.PutUint64(a.Data[i*8:], uint64(int64(v)))
	case Uint64:
		le.PutUint64(a.Data[i*8:], uint64(v))
	case Float64:
		le.PutUint64(a.Data[i*8:], math.Float64bits(v))
	default:
		return fmt.Errorf("%w: %q", ErrUnknownDType, string(a.DType))
	}
	return nil
}

// Clone returns a deep copy.
func (a *Array) Clone() *Array {
	return &Array{DType: a.DType, Shape: slices.Clone(a.Shape), Data: bytes.Clone(a.Data)}
}

// Equal reports whether both arrays have the same dtype, shape and bytes.
func (a *Array) Equal(b *Array) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.DType == b.DType && slices.Equal(a.Shape, b.Shape) && bytes.Equal(a.Data, b.Data)
}
