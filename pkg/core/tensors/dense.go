// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tensors implements Dense, a strided multidimensional array stored in host memory.
//
// Dense tensors are what the runtime hands to compiled kernels as operands and what it builds
// from the buffers kernels return. A Dense may own its memory or wrap memory allocated elsewhere
// (FromMemory), in which case no data is copied and the original sizes and strides are kept.
//
// There are a few ways to construct a Dense:
//
//   - New(dtype, alignment, dims...): zero-initialized, row-major, with the data aligned.
//   - FromFlat[T](flat, dims...): copies flat (row-major) into a new Dense.
//   - FromMemory(dtype, base, offset, sizes, strides): wraps existing memory, no copies.
package tensors

import (
	"fmt"
	"slices"
	"strings"
	"unsafe"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// DefaultAlignment of the data allocated by New and FromFlat.
const DefaultAlignment = 16

// Dense is a strided multidimensional array.
//
// Element (i_0, ..., i_{n-1}) is stored at element position offset + sum_k(i_k * strides[k]) of data.
type Dense struct {
	dtype   dtypes.DType
	dims    []int64
	strides []int64 // In elements, not bytes.
	offset  int64   // In elements, not bytes.

	// data starts at the base of the buffer and covers every addressable element.
	data []byte
}

// RowMajorStrides returns the strides of a contiguous row-major layout for the given dimensions.
func RowMajorStrides(dims []int64) []int64 {
	strides := make([]int64, len(dims))
	stride := int64(1)
	for axis := len(dims) - 1; axis >= 0; axis-- {
		strides[axis] = stride
		stride *= dims[axis]
	}
	return strides
}

// NumElements returns the product of the dimensions. It is 1 for scalars.
func NumElements(dims []int64) int64 {
	n := int64(1)
	for _, dim := range dims {
		n *= dim
	}
	return n
}

// AlignedBytes returns a zeroed byte slice of length n whose first element is aligned to alignment bytes.
// alignment must be a power of 2.
func AlignedBytes(n, alignment int) []byte {
	if alignment <= 1 {
		return make([]byte, n)
	}
	buf := make([]byte, n+alignment-1)
	if n == 0 {
		return buf[:0]
	}
	addr := uintptr(unsafe.Pointer(&buf[0]))
	shift := int((uintptr(alignment) - addr%uintptr(alignment)) % uintptr(alignment))
	return buf[shift : shift+n : shift+n]
}

// New returns a zero-initialized row-major Dense, with its data aligned to alignment bytes.
func New(dtype dtypes.DType, alignment int, dims ...int64) (*Dense, error) {
	for _, dim := range dims {
		if dim < 0 {
			return nil, errors.Errorf("tensors.New(%s, %v): negative dimension", dtype, dims)
		}
	}
	if dtype.Size() <= 0 {
		return nil, errors.Errorf("tensors.New(): dtype %s not supported", dtype)
	}
	return &Dense{
		dtype:   dtype,
		dims:    slices.Clone(dims),
		strides: RowMajorStrides(dims),
		data:    AlignedBytes(int(NumElements(dims))*dtype.Size(), alignment),
	}, nil
}

// FromFlat returns a new row-major Dense with a copy of flat. The number of elements in flat must
// match the dimensions.
func FromFlat[T dtypes.Supported](flat []T, dims ...int64) (*Dense, error) {
	dtype := dtypes.FromGenericsType[T]()
	if int64(len(flat)) != NumElements(dims) {
		return nil, errors.Errorf("tensors.FromFlat(): %d elements given for dimensions %v", len(flat), dims)
	}
	d, err := New(dtype, DefaultAlignment, dims...)
	if err != nil {
		return nil, err
	}
	if len(flat) > 0 {
		copy(d.data, unsafe.Slice((*byte)(unsafe.Pointer(&flat[0])), len(flat)*dtype.Size()))
	}
	return d, nil
}

// MustFromFlat is like FromFlat, but panics on error.
func MustFromFlat[T dtypes.Supported](flat []T, dims ...int64) *Dense {
	d, err := FromFlat(flat, dims...)
	if err != nil {
		panic(err)
	}
	return d
}

// FromMemory wraps the memory starting at base, without copying it.
// offset and strides are given in elements. Strides can be zero (broadcast) or negative, as long
// as no addressed element falls before base.
//
// The memory must remain valid while the returned Dense is in use. If it is Go memory, the
// returned Dense keeps it alive.
func FromMemory(dtype dtypes.DType, base unsafe.Pointer, offset int64, sizes, strides []int64) (*Dense, error) {
	if len(sizes) != len(strides) {
		return nil, errors.Errorf("tensors.FromMemory(): %d sizes and %d strides", len(sizes), len(strides))
	}
	elementSize := int64(dtype.Size())
	if elementSize <= 0 {
		return nil, errors.Errorf("tensors.FromMemory(): dtype %s not supported", dtype)
	}
	lo, hi := offset, offset
	empty := false
	for axis, size := range sizes {
		if size < 0 {
			return nil, errors.Errorf("tensors.FromMemory(): negative size %d for axis %d", size, axis)
		}
		if size == 0 {
			empty = true
			continue
		}
		reach := (size - 1) * strides[axis]
		if reach < 0 {
			lo += reach
		} else {
			hi += reach
		}
	}
	d := &Dense{
		dtype:   dtype,
		dims:    slices.Clone(sizes),
		strides: slices.Clone(strides),
		offset:  offset,
	}
	if empty {
		return d, nil
	}
	if lo < 0 {
		return nil, errors.Errorf("tensors.FromMemory(): offset %d, sizes %v and strides %v address memory before base",
			offset, sizes, strides)
	}
	if base == nil {
		return nil, errors.New("tensors.FromMemory(): nil base pointer for non-empty buffer")
	}
	d.data = unsafe.Slice((*byte)(base), (hi+1)*elementSize)
	return d, nil
}

// DType of the elements.
func (d *Dense) DType() dtypes.DType { return d.dtype }

// Rank is the number of axes.
func (d *Dense) Rank() int { return len(d.dims) }

// Dims returns the dimensions. It must not be modified.
func (d *Dense) Dims() []int64 { return d.dims }

// Strides returns the strides in elements. It must not be modified.
func (d *Dense) Strides() []int64 { return d.strides }

// Offset returns the offset, in elements, of the first element from the base of the data.
func (d *Dense) Offset() int64 { return d.offset }

// Size returns the number of elements.
func (d *Dense) Size() int64 { return NumElements(d.dims) }

// Base returns the pointer to the start of the buffer (before the offset is applied), or nil for empty tensors.
func (d *Dense) Base() unsafe.Pointer {
	if len(d.data) == 0 {
		return nil
	}
	return unsafe.Pointer(&d.data[0])
}

// Bytes returns the raw buffer, starting at Base. Elements are laid out according to the offset and strides.
func (d *Dense) Bytes() []byte { return d.data }

// IsContiguous returns whether the elements are stored in row-major order without gaps.
func (d *Dense) IsContiguous() bool {
	expected := RowMajorStrides(d.dims)
	for axis, dim := range d.dims {
		if dim > 1 && d.strides[axis] != expected[axis] {
			return false
		}
	}
	return true
}

// forEachPosition calls fn with the element position of each element, in row-major order.
func (d *Dense) forEachPosition(fn func(position int64)) {
	n := d.Size()
	if n == 0 {
		return
	}
	rank := len(d.dims)
	index := make([]int64, rank)
	position := d.offset
	for range n {
		fn(position)
		for axis := rank - 1; axis >= 0; axis-- {
			index[axis]++
			position += d.strides[axis]
			if index[axis] < d.dims[axis] {
				break
			}
			position -= index[axis] * d.strides[axis]
			index[axis] = 0
		}
	}
}

// CopyFlat returns a copy of the elements of d in row-major order. T must match d's dtype.
func CopyFlat[T dtypes.Supported](d *Dense) ([]T, error) {
	if dtype := dtypes.FromGenericsType[T](); dtype != d.dtype {
		var zero T
		return nil, errors.Errorf("tensors.CopyFlat[%T]() called for tensor of dtype %s", zero, d.dtype)
	}
	flat := make([]T, 0, d.Size())
	if d.Size() == 0 {
		return flat, nil
	}
	all := unsafe.Slice((*T)(unsafe.Pointer(&d.data[0])), len(d.data)/d.dtype.Size())
	d.forEachPosition(func(position int64) {
		flat = append(flat, all[position])
	})
	return flat, nil
}

// MustCopyFlat is like CopyFlat, but panics on error.
func MustCopyFlat[T dtypes.Supported](d *Dense) []T {
	flat, err := CopyFlat[T](d)
	if err != nil {
		panic(err)
	}
	return flat
}

// Float64s returns the elements in row-major order converted to float64.
// Only floating point dtypes (Float16, Float32 and Float64) are supported.
func (d *Dense) Float64s() ([]float64, error) {
	switch d.dtype {
	case dtypes.Float64:
		return CopyFlat[float64](d)
	case dtypes.Float32:
		flat, err := CopyFlat[float32](d)
		if err != nil {
			return nil, err
		}
		values := make([]float64, len(flat))
		for ii, v := range flat {
			values[ii] = float64(v)
		}
		return values, nil
	case dtypes.Float16:
		flat, err := CopyFlat[float16.Float16](d)
		if err != nil {
			return nil, err
		}
		values := make([]float64, len(flat))
		for ii, v := range flat {
			values[ii] = float64(v.Float32())
		}
		return values, nil
	default:
		return nil, errors.Errorf("tensors.Float64s() not supported for dtype %s", d.dtype)
	}
}

// SetFloat64s sets the elements of a floating point tensor, given in row-major order.
func (d *Dense) SetFloat64s(values []float64) error {
	if int64(len(values)) != d.Size() {
		return errors.Errorf("tensors.SetFloat64s(): %d values given for dimensions %v", len(values), d.dims)
	}
	if d.Size() == 0 {
		return nil
	}
	base := unsafe.Pointer(&d.data[0])
	next := 0
	switch d.dtype {
	case dtypes.Float64:
		all := unsafe.Slice((*float64)(base), len(d.data)/8)
		d.forEachPosition(func(p int64) { all[p] = values[next]; next++ })
	case dtypes.Float32:
		all := unsafe.Slice((*float32)(base), len(d.data)/4)
		d.forEachPosition(func(p int64) { all[p] = float32(values[next]); next++ })
	case dtypes.Float16:
		all := unsafe.Slice((*float16.Float16)(base), len(d.data)/2)
		d.forEachPosition(func(p int64) { all[p] = float16.Fromfloat32(float32(values[next])); next++ })
	default:
		return errors.Errorf("tensors.SetFloat64s() not supported for dtype %s", d.dtype)
	}
	return nil
}

// Fill sets every element of a floating point tensor to value.
func (d *Dense) Fill(value float64) error {
	if d.Size() == 0 {
		return nil
	}
	base := unsafe.Pointer(&d.data[0])
	switch d.dtype {
	case dtypes.Float64:
		all := unsafe.Slice((*float64)(base), len(d.data)/8)
		d.forEachPosition(func(p int64) { all[p] = value })
	case dtypes.Float32:
		all := unsafe.Slice((*float32)(base), len(d.data)/4)
		d.forEachPosition(func(p int64) { all[p] = float32(value) })
	case dtypes.Float16:
		all := unsafe.Slice((*float16.Float16)(base), len(d.data)/2)
		f16 := float16.Fromfloat32(float32(value))
		d.forEachPosition(func(p int64) { all[p] = f16 })
	default:
		return errors.Errorf("tensors.Fill() not supported for dtype %s", d.dtype)
	}
	return nil
}

// String implements fmt.Stringer. Floating point tensors list their values, others only their shape.
func (d *Dense) String() string {
	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "(%s)%v", d.dtype, d.dims)
	values, err := d.Float64s()
	if err != nil {
		return sb.String()
	}
	sb.WriteString(": [")
	for ii, v := range values {
		if ii > 0 {
			sb.WriteString(" ")
		}
		_, _ = fmt.Fprintf(&sb, "%g", v)
	}
	sb.WriteString("]")
	return sb.String()
}
