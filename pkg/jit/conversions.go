// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package jit

import (
	"slices"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/jitrt/pkg/async"
	"github.com/gomlx/jitrt/pkg/core/tensors"
	"github.com/gomlx/jitrt/pkg/core/types"
	"github.com/pkg/errors"
)

// MaxResultRank is the largest rank of returned memrefs the built-in conversions support.
const MaxResultRank = 5

// DefaultResultElementTypes are the element types of returned memrefs the built-in conversions
// support when none are given.
var DefaultResultElementTypes = []dtypes.DType{dtypes.Float32}

// FloatResultElementTypes are all the floating point element types MemrefToFloat64s supports.
var FloatResultElementTypes = []dtypes.DType{dtypes.Float16, dtypes.Float32, dtypes.Float64}

// MemrefConverter constructs a result of type R from a returned memref with the given element type and rank.
// The rank and element type have already been checked when it is called.
type MemrefConverter[R any] func(dtype dtypes.DType, rank int, memref *MemrefDesc) (R, error)

// MemrefToDense wraps the returned memory in a *tensors.Dense, keeping its sizes and strides. No data is copied.
func MemrefToDense(dtype dtypes.DType, rank int, memref *MemrefDesc) (*tensors.Dense, error) {
	return tensors.FromMemory(dtype, memref.Data, memref.Offset, memref.Sizes[:rank], memref.Strides[:rank])
}

// MemrefToFloat64s copies the returned memory, in row-major order, to a flat []float64.
func MemrefToFloat64s(dtype dtypes.DType, rank int, memref *MemrefDesc) ([]float64, error) {
	dense, err := MemrefToDense(dtype, rank, memref)
	if err != nil {
		return nil, err
	}
	return dense.Float64s()
}

// checkMemrefResult checks that the returned memref type is supported.
func checkMemrefResult(memrefType types.MemRef, elementTypes []dtypes.DType) error {
	if !slices.Contains(elementTypes, memrefType.DType) {
		return errors.Wrapf(ErrUnsupportedResultElementType, "%s (supported: %v)", memrefType, elementTypes)
	}
	if memrefType.Rank() > MaxResultRank {
		return errors.Wrapf(ErrUnsupportedResultRank, "%s has rank %d, max supported is %d",
			memrefType, memrefType.Rank(), MaxResultRank)
	}
	return nil
}

// convertMemref dispatches on the rank of the returned memref.
func convertMemref[R any](convert MemrefConverter[R], elementTypes []dtypes.DType,
	memrefType types.MemRef, memref *MemrefDesc) (R, error) {
	var zero R
	if err := checkMemrefResult(memrefType, elementTypes); err != nil {
		return zero, err
	}
	if memref.Rank() != memrefType.Rank() || len(memref.Strides) != memrefType.Rank() {
		return zero, errors.Errorf("returned descriptor has %d sizes and %d strides for %s",
			len(memref.Sizes), len(memref.Strides), memrefType)
	}
	switch rank := memrefType.Rank(); rank {
	case 0, 1, 2, 3, 4, 5:
		return convert(memrefType.DType, rank, memref)
	default:
		return zero, errors.Wrapf(ErrUnsupportedResultRank, "rank %d", rank)
	}
}

// ReturnStridedMemref returns a conversion for memref results, using convert to build the result value.
// Only the given element types are supported, DefaultResultElementTypes if none are given.
func ReturnStridedMemref[R any](convert MemrefConverter[R], elementTypes ...dtypes.DType) ConversionFn {
	if len(elementTypes) == 0 {
		elementTypes = DefaultResultElementTypes
	}
	return func(results *Results, index int, t types.Type, slot ResultSlot) bool {
		memrefType, ok := t.(types.MemRef)
		if !ok {
			return false
		}
		memref, err := slot.Memref()
		if err != nil {
			results.EmitErrorAt(index, errors.WithMessagef(err, "result #%d", index))
			return true
		}
		value, err := convertMemref(convert, elementTypes, memrefType, memref)
		if err != nil {
			results.EmitErrorAt(index, errors.WithMessagef(err, "result #%d", index))
			return true
		}
		results.EmplaceAt(index, value)
		return true
	}
}

// ReturnAsyncStridedMemref returns a conversion for async memref results, using convert to build the result
// value once the async value is available. Only the given element types are supported,
// DefaultResultElementTypes if none are given.
//
// The element type and rank are checked immediately. Otherwise, the result is set to a placeholder
// resolved when the returned async value is: an upstream error is delivered as ErrUpstreamAsync.
func ReturnAsyncStridedMemref[R any](convert MemrefConverter[R], elementTypes ...dtypes.DType) ConversionFn {
	if len(elementTypes) == 0 {
		elementTypes = DefaultResultElementTypes
	}
	return func(results *Results, index int, t types.Type, slot ResultSlot) bool {
		asyncType, ok := t.(types.AsyncValue)
		if !ok {
			return false
		}
		memrefType, ok := asyncType.Value.(types.MemRef)
		if !ok {
			return false
		}
		if err := checkMemrefResult(memrefType, elementTypes); err != nil {
			results.EmitErrorAt(index, errors.WithMessagef(err, "result #%d", index))
			return true
		}
		src, err := slot.Async()
		if err != nil {
			results.EmitErrorAt(index, errors.WithMessagef(err, "result #%d", index))
			return true
		}
		dst := results.AllocateAt(index)
		src.AndThen(func() {
			value, err := src.Get()
			if err != nil {
				dst.SetError(withKind(ErrUpstreamAsync, err, "result #%d", index))
				return
			}
			memref, ok := value.(*MemrefDesc)
			if !ok {
				dst.SetError(errors.Errorf("result #%d: async value holds %T, not *jit.MemrefDesc", index, value))
				return
			}
			converted, err := convertMemref(convert, elementTypes, memrefType, memref)
			if err != nil {
				dst.SetError(errors.WithMessagef(err, "result #%d", index))
				return
			}
			dst.SetValue(converted)
		})
		return true
	}
}

// ReturnAsyncToken returns a conversion for async token results: the result is resolved to async.Chain{}
// when the token completes, or to an ErrUpstreamAsync error if it fails.
func ReturnAsyncToken() ConversionFn {
	return func(results *Results, index int, t types.Type, slot ResultSlot) bool {
		if _, ok := t.(types.AsyncToken); !ok {
			return false
		}
		src, err := slot.Async()
		if err != nil {
			results.EmitErrorAt(index, errors.WithMessagef(err, "result #%d", index))
			return true
		}
		dst := results.AllocateAt(index)
		src.AndThen(func() {
			if err := src.Err(); err != nil {
				dst.SetError(withKind(ErrUpstreamAsync, err, "result #%d", index))
				return
			}
			dst.SetValue(async.Chain{})
		})
		return true
	}
}

// ReturnMemrefAsDenseTensor returns memref results of float32 as *tensors.Dense, wrapping the returned memory.
func ReturnMemrefAsDenseTensor() ConversionFn {
	return ReturnStridedMemref(MemrefToDense)
}

// ReturnAsyncMemrefAsDenseTensor returns async memref results of float32 as *tensors.Dense, wrapping the
// returned memory.
func ReturnAsyncMemrefAsDenseTensor() ConversionFn {
	return ReturnAsyncStridedMemref(MemrefToDense)
}
