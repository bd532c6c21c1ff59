// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package codec

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ManuGH/phaselog/internal/ndarray"
)

// envelope lets gob carry a value of any registered concrete type.
type envelope struct {
	V any
}

// registered holds every type passed to gob by this package.
var registered sync.Map // reflect.Type -> struct{}

func init() {
	Register(map[string]any{})
	Register([]any{})
	Register(&ndarray.Array{})
	Register(time.Time{})
	Register(map[string]float64{})
	Register(map[string]int64{})
	Register(map[string]string{})
}

// Register makes a concrete type usable inside the opaque binary encoding.
// MarshalBinary registers the types it encodes on its own, and
// UnmarshalBinary resolves unnamed containers of builtin or registered
// types. A process decoding a named type it never encoded must Register it
// first. Types with unexported state should implement
// encoding.BinaryMarshaler or gob.GobEncoder.
func Register(v any) {
	if v == nil {
		return
	}
	register(reflect.TypeOf(v))
}

func register(t reflect.Type) {
	if _, done := registered.LoadOrStore(t, struct{}{}); done {
		return
	}
	defer func() {
		// gob panics when the type is already bound under another name; that
		// binding keeps serving.
		_ = recover()
	}()
	gob.Register(reflect.Zero(t).Interface())
}

// maxWalkDepth bounds registerValue on self-referencing values.
const maxWalkDepth = 64

// registerValue registers the dynamic types gob will meet behind interfaces
// anywhere inside v.
func registerValue(v reflect.Value, depth int) {
	if depth > maxWalkDepth || !v.IsValid() {
		return
	}
	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return
		}
		register(v.Elem().Type())
		registerValue(v.Elem(), depth+1)
	case reflect.Pointer:
		if !v.IsNil() {
			registerValue(v.Elem(), depth+1)
		}
	case reflect.Map:
		if !holdsInterfaces(v.Type()) {
			return
		}
		it := v.MapRange()
		for it.Next() {
			registerValue(it.Key(), depth+1)
			registerValue(it.Value(), depth+1)
		}
	case reflect.Slice, reflect.Array:
		if !holdsInterfaces(v.Type()) {
			return
		}
		for i := range v.Len() {
			registerValue(v.Index(i), depth+1)
		}
	case reflect.Struct:
		t := v.Type()
		for i := range t.NumField() {
			if t.Field(i).IsExported() {
				registerValue(v.Field(i), depth+1)
			}
		}
	}
}

// holdsInterfaces reports whether values of t can reach an interface value.
func holdsInterfaces(t reflect.Type) bool {
	return reaches(t, make(map[reflect.Type]bool))
}

func reaches(t reflect.Type, seen map[reflect.Type]bool) bool {
	if seen[t] {
		return false
	}
	seen[t] = true
	switch t.Kind() {
	case reflect.Interface:
		return true
	case reflect.Pointer, reflect.Slice, reflect.Array:
		return reaches(t.Elem(), seen)
	case reflect.Map:
		return reaches(t.Key(), seen) || reaches(t.Elem(), seen)
	case reflect.Struct:
		for i := range t.NumField() {
			if t.Field(i).IsExported() && reaches(t.Field(i).Type, seen) {
				return true
			}
		}
	}
	return false
}

// MarshalBinary is the opaque fallback. It handles any value gob can
// serialise, independent of its structure. Channels, functions and structs
// without exported state fail.
func MarshalBinary(v any) ([]byte, error) {
	if v != nil {
		register(reflect.TypeOf(v))
		registerValue(reflect.ValueOf(v), 0)
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(envelope{V: v}); err != nil {
		return nil, fmt.Errorf("binary encode %T: %w", v, err)
	}
	return buf.Bytes(), nil
}

// unregisteredPrefix starts the gob error for a type name the decoder
// cannot map to a Go type.
const unregisteredPrefix = "gob: name not registered for interface: "

// maxResolve bounds how many type names one decode may resolve.
const maxResolve = 32

// UnmarshalBinary reverses MarshalBinary.
func UnmarshalBinary(b []byte) (any, error) {
	for range maxResolve {
		var env envelope
		err := gob.NewDecoder(bytes.NewReader(b)).Decode(&env)
		if err == nil {
			return env.V, nil
		}
		name, ok := unregisteredName(err)
		if !ok {
			return nil, fmt.Errorf("%w: binary decode: %v", ErrCorrupt, err)
		}
		t, perr := parseType(name)
		if perr != nil {
			return nil, fmt.Errorf("%w: binary decode: type %s is not registered", ErrCorrupt, name)
		}
		register(t)
	}
	return nil, fmt.Errorf("%w: binary decode: too many unregistered types", ErrCorrupt)
}

func unregisteredName(err error) (string, bool) {
	rest, ok := strings.CutPrefix(err.Error(), unregisteredPrefix)
	if !ok {
		return "", false
	}
	name, uerr := strconv.Unquote(rest)
	if uerr != nil {
		return "", false
	}
	return name, true
}

var builtinTypes = map[string]reflect.Type{
	"bool":         reflect.TypeFor[bool](),
	"string":       reflect.TypeFor[string](),
	"int":          reflect.TypeFor[int](),
	"int8":         reflect.TypeFor[int8](),
	"int16":        reflect.TypeFor[int16](),
	"int32":        reflect.TypeFor[int32](),
	"int64":        reflect.TypeFor[int64](),
	"uint":         reflect.TypeFor[uint](),
	"uint8":        reflect.TypeFor[uint8](),
	"uint16":       reflect.TypeFor[uint16](),
	"uint32":       reflect.TypeFor[uint32](),
	"uint64":       reflect.TypeFor[uint64](),
	"uintptr":      reflect.TypeFor[uintptr](),
	"float32":      reflect.TypeFor[float32](),
	"float64":      reflect.TypeFor[float64](),
	"complex64":    reflect.TypeFor[complex64](),
	"complex128":   reflect.TypeFor[complex128](),
	"interface {}": reflect.TypeFor[any](),
}

// parseType rebuilds the type gob names s: builtins, registered types, and
// slices, arrays, maps and pointers of those.
func parseType(s string) (reflect.Type, error) {
	switch {
	case strings.HasPrefix(s, "[]"):
		elem, err := parseType(s[2:])
		if err != nil {
			return nil, err
		}
		return reflect.SliceOf(elem), nil
	case strings.HasPrefix(s, "*"):
		elem, err := parseType(s[1:])
		if err != nil {
			return nil, err
		}
		return reflect.PointerTo(elem), nil
	case strings.HasPrefix(s, "["):
		end := strings.IndexByte(s, ']')
		if end < 0 {
			return nil, fmt.Errorf("bad array type %q", s)
		}
		n, err := strconv.Atoi(s[1:end])
		if err != nil || n < 0 {
			return nil, fmt.Errorf("bad array length in %q", s)
		}
		elem, err := parseType(s[end+1:])
		if err != nil {
			return nil, err
		}
		return reflect.ArrayOf(n, elem), nil
	case strings.HasPrefix(s, "map["):
		end := closingBracket(s, len("map["))
		if end < 0 {
			return nil, fmt.Errorf("bad map type %q", s)
		}
		key, err := parseType(s[len("map["):end])
		if err != nil {
			return nil, err
		}
		if !key.Comparable() {
			return nil, fmt.Errorf("map key %s is not comparable", key)
		}
		elem, err := parseType(s[end+1:])
		if err != nil {
			return nil, err
		}
		return reflect.MapOf(key, elem), nil
	}
	if t, ok := builtinTypes[s]; ok {
		return t, nil
	}
	if t, ok := registeredType(s); ok {
		return t, nil
	}
	return nil, fmt.Errorf("unknown type %q", s)
}

// closingBracket returns the index of the ']' closing the '[' just before
// start, or -1.
func closingBracket(s string, start int) int {
	depth := 1
	for i := start; i < len(s); i++ {
		switch s[i] {
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// registeredType finds a registered type by its gob name or by the name it
// has inside a composite type string.
func registeredType(name string) (reflect.Type, bool) {
	var found reflect.Type
	registered.Range(func(k, _ any) bool {
		t := k.(reflect.Type)
		if t.String() == name || gobName(t) == name {
			found = t
			return false
		}
		return true
	})
	return found, found != nil
}

// gobName mirrors the name gob.Register binds t to.
func gobName(t reflect.Type) string {
	if t.Name() == "" {
		return t.String()
	}
	if t.PkgPath() == "" {
		return t.Name()
	}
	return t.PkgPath() + "." + t.Name()
}
