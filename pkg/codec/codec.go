// Package codec converts typed values to and from the text stored in a
// backend. JSON is the default; YAML and TOML are available for values that
// are edited by hand.
//
// Every encoder rejects cyclic values with ErrCyclic before handing them to
// the underlying library, so a self-referencing graph fails fast instead of
// recursing until the stack runs out.
package codec

import "errors"

// ErrCyclic reports that a value references itself through a pointer, map or
// slice and therefore has no finite text representation.
var ErrCyclic = errors.New("codec: value contains a cycle")

// Codec encodes and decodes values of type T.
type Codec[T any] interface {
	Encode(value T) (string, error)
	Decode(raw string) (T, error)
}

// Funcs adapts a pair of functions to Codec.
type Funcs[T any] struct {
	EncodeFunc func(T) (string, error)
	DecodeFunc func(string) (T, error)
}

// Encode implements Codec.
func (f Funcs[T]) Encode(value T) (string, error) {
	if f.EncodeFunc == nil {
		return "", errors.New("codec: encode func is nil")
	}
	return f.EncodeFunc(value)
}

// Decode implements Codec.
func (f Funcs[T]) Decode(raw string) (T, error) {
	if f.DecodeFunc == nil {
		var zero T
		return zero, errors.New("codec: decode func is nil")
	}
	return f.DecodeFunc(raw)
}
