// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package types defines the types that can appear in the signature of a compiled entry function.
//
// The types follow the textual notation of the IR modules:
//
//   - MemRef: a strided buffer with a static rank, e.g. `memref<4x?xf32>`, where `?` marks a
//     dimension only known at runtime.
//   - AsyncToken: an asynchronous completion token without payload, `!async.token`.
//   - AsyncValue: an asynchronous value wrapping another type, e.g. `!async.value<memref<4xf32>>`.
//   - Scalar: a single element, e.g. `f32`. Scalars are parsed so they can be reported, but
//     compiled entry functions can't take or return them.
//
// The element types are github.com/gomlx/gopjrt/dtypes DType values.
package types

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
)

// Kind of Type.
type Kind int

const (
	KindInvalid Kind = iota
	KindScalar
	KindMemRef
	KindAsyncToken
	KindAsyncValue
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindMemRef:
		return "memref"
	case KindAsyncToken:
		return "async.token"
	case KindAsyncValue:
		return "async.value"
	default:
		return "invalid"
	}
}

// Type is implemented by MemRef, AsyncToken, AsyncValue and Scalar.
type Type interface {
	fmt.Stringer

	// Kind of the type.
	Kind() Kind

	// Equal returns whether both types are the same. Dynamic dimensions only match dynamic dimensions.
	Equal(other Type) bool
}

// Dynamic marks a dimension of a MemRef whose size is only known at runtime.
const Dynamic int64 = -1

// MemRef is the type of strided buffer with a static rank.
type MemRef struct {
	DType dtypes.DType

	// Dims holds one dimension per axis. Dynamic dimensions are set to Dynamic.
	Dims []int64
}

var _ Type = MemRef{}

// MakeMemRef returns a MemRef of the given dtype and dimensions. Use Dynamic for dimensions only known at runtime.
//
// It panics if a dimension is negative (and not Dynamic).
func MakeMemRef(dtype dtypes.DType, dims ...int64) MemRef {
	for _, dim := range dims {
		if dim < 0 && dim != Dynamic {
			exceptions.Panicf("types.MakeMemRef(%s, %v): invalid negative dimension", dtype, dims)
		}
	}
	return MemRef{DType: dtype, Dims: slices.Clone(dims)}
}

// Kind implements Type.
func (m MemRef) Kind() Kind { return KindMemRef }

// Rank is the number of axes.
func (m MemRef) Rank() int { return len(m.Dims) }

// IsDynamic returns whether the dimension of the given axis is only known at runtime.
func (m MemRef) IsDynamic(axis int) bool { return m.Dims[axis] == Dynamic }

// HasStaticShape returns whether all dimensions are known.
func (m MemRef) HasStaticShape() bool {
	return !slices.Contains(m.Dims, Dynamic)
}

// Equal implements Type.
func (m MemRef) Equal(other Type) bool {
	o, ok := other.(MemRef)
	return ok && m.DType == o.DType && slices.Equal(m.Dims, o.Dims)
}

// String implements fmt.Stringer, e.g.: `memref<4x?xf32>`.
func (m MemRef) String() string {
	var sb strings.Builder
	sb.WriteString("memref<")
	for _, dim := range m.Dims {
		if dim == Dynamic {
			sb.WriteString("?")
		} else {
			_, _ = fmt.Fprintf(&sb, "%d", dim)
		}
		sb.WriteString("x")
	}
	sb.WriteString(ElementTypeName(m.DType))
	sb.WriteString(">")
	return sb.String()
}

// AsyncToken is the type of asynchronous completion token: it carries no value, it only signals completion or failure.
type AsyncToken struct{}

var _ Type = AsyncToken{}

// Kind implements Type.
func (AsyncToken) Kind() Kind { return KindAsyncToken }

// Equal implements Type.
func (AsyncToken) Equal(other Type) bool {
	_, ok := other.(AsyncToken)
	return ok
}

// String implements fmt.Stringer.
func (AsyncToken) String() string { return "!async.token" }

// AsyncValue is the type of value that becomes available asynchronously.
type AsyncValue struct {
	Value Type
}

var _ Type = AsyncValue{}

// Kind implements Type.
func (AsyncValue) Kind() Kind { return KindAsyncValue }

// Equal implements Type.
func (a AsyncValue) Equal(other Type) bool {
	o, ok := other.(AsyncValue)
	return ok && a.Value.Equal(o.Value)
}

// String implements fmt.Stringer.
func (a AsyncValue) String() string { return fmt.Sprintf("!async.value<%s>", a.Value) }

// Scalar is the type of one element.
type Scalar struct {
	DType dtypes.DType
}

var _ Type = Scalar{}

// Kind implements Type.
func (Scalar) Kind() Kind { return KindScalar }

// Equal implements Type.
func (s Scalar) Equal(other Type) bool {
	o, ok := other.(Scalar)
	return ok && s.DType == o.DType
}

// String implements fmt.Stringer.
func (s Scalar) String() string { return ElementTypeName(s.DType) }

// FunctionType is the signature of a function: its operand and result types.
type FunctionType struct {
	Inputs  []Type
	Results []Type
}

// NumInputs returns the number of operands.
func (f FunctionType) NumInputs() int { return len(f.Inputs) }

// NumResults returns the number of results.
func (f FunctionType) NumResults() int { return len(f.Results) }

// Equal returns whether both signatures are the same.
func (f FunctionType) Equal(other FunctionType) bool {
	eq := func(a, b Type) bool { return a.Equal(b) }
	return slices.EqualFunc(f.Inputs, other.Inputs, eq) && slices.EqualFunc(f.Results, other.Results, eq)
}

// String implements fmt.Stringer, e.g.: `(memref<4xf32>) -> (memref<4xf32>, !async.token)`.
func (f FunctionType) String() string {
	return fmt.Sprintf("(%s) -> (%s)", joinTypes(f.Inputs), joinTypes(f.Results))
}

func joinTypes(list []Type) string {
	parts := make([]string, len(list))
	for ii, t := range list {
		parts[ii] = t.String()
	}
	return strings.Join(parts, ", ")
}
