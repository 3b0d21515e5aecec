// Package codec defines the explicit serialization schema of every task
// state and payload stored in a pool slot.
//
// A Schema derives a go-cty object type from a Go struct carrying `cty` field
// tags and moves values through that type with gocty and the cty msgpack
// encoding. Two task types only exchange bytes through schemas, never by
// reinterpreting each other's memory.
package codec

import (
	"fmt"
	"reflect"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"
	"github.com/zclconf/go-cty/cty/msgpack"
)

// Schema is the serialize/deserialize contract for values of type T.
type Schema[T any] struct {
	name string
	ty   cty.Type
}

// New derives a schema from the cty tags of T. A struct with no fields maps
// to the empty object.
func New[T any](name string) (*Schema[T], error) {
	ty, err := impliedType(reflect.TypeOf((*T)(nil)).Elem(), nil)
	if err != nil {
		return nil, fmt.Errorf("codec: schema %s: %w", name, err)
	}
	return &Schema[T]{name: name, ty: ty}, nil
}

// MustNew is like New but panics on a malformed Go type. Schemas are built
// at registration time, so a failure here is a programming error.
func MustNew[T any](name string) *Schema[T] {
	s, err := New[T](name)
	if err != nil {
		panic(err)
	}
	return s
}

// Name returns the schema name used in errors and logs.
func (s *Schema[T]) Name() string { return s.name }

// Type returns the cty type values are checked against.
func (s *Schema[T]) Type() cty.Type { return s.ty }

// Encode serializes v.
func (s *Schema[T]) Encode(v T) (b []byte, err error) {
	defer func() {
		// cty refuses some float values (NaN) by panicking.
		if r := recover(); r != nil {
			b, err = nil, fmt.Errorf("codec: encode %s: %v", s.name, r)
		}
	}()
	val, err := gocty.ToCtyValue(v, s.ty)
	if err != nil {
		return nil, fmt.Errorf("codec: encode %s: %w", s.name, err)
	}
	b, err = msgpack.Marshal(val, s.ty)
	if err != nil {
		return nil, fmt.Errorf("codec: encode %s: %w", s.name, err)
	}
	return b, nil
}

// Decode deserializes b. An empty buffer decodes to the zero value.
func (s *Schema[T]) Decode(b []byte) (T, error) {
	var out T
	if len(b) == 0 {
		return out, nil
	}
	val, err := msgpack.Unmarshal(b, s.ty)
	if err != nil {
		return out, fmt.Errorf("codec: decode %s: %w", s.name, err)
	}
	if err := gocty.FromCtyValue(val, &out); err != nil {
		return out, fmt.Errorf("codec: decode %s: %w", s.name, err)
	}
	return out, nil
}

// Value converts v to its cty representation, for logging and reporting.
func (s *Schema[T]) Value(v T) (cty.Value, error) {
	return gocty.ToCtyValue(v, s.ty)
}
