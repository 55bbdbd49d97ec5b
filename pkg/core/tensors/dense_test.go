// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"testing"
	"unsafe"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func TestAlignedBytes(t *testing.T) {
	for _, alignment := range []int{1, 2, 8, 16, 64} {
		for _, n := range []int{1, 3, 17, 100} {
			buf := AlignedBytes(n, alignment)
			require.Len(t, buf, n)
			assert.Zero(t, uintptr(unsafe.Pointer(&buf[0]))%uintptr(alignment),
				"n=%d, alignment=%d", n, alignment)
		}
	}
	assert.Len(t, AlignedBytes(0, 16), 0)
}

func TestNew(t *testing.T) {
	d, err := New(dtypes.Float32, 64, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 1}, d.Strides())
	assert.Equal(t, int64(6), d.Size())
	assert.Zero(t, uintptr(d.Base())%64)
	assert.True(t, d.IsContiguous())
	assert.Equal(t, []float32{0, 0, 0, 0, 0, 0}, MustCopyFlat[float32](d))

	_, err = New(dtypes.Float32, 16, 2, -1)
	require.Error(t, err)

	scalar, err := New(dtypes.Float64, 16)
	require.NoError(t, err)
	assert.Equal(t, 0, scalar.Rank())
	assert.Equal(t, int64(1), scalar.Size())
}

func TestFromFlat(t *testing.T) {
	d := MustFromFlat([]int32{1, 2, 3, 4, 5, 6}, 2, 3)
	assert.Equal(t, dtypes.Int32, d.DType())
	assert.Equal(t, []int64{2, 3}, d.Dims())
	assert.Equal(t, []int32{1, 2, 3, 4, 5, 6}, MustCopyFlat[int32](d))

	_, err := FromFlat([]int32{1, 2, 3}, 2, 2)
	require.Error(t, err)
	_, err = CopyFlat[float32](d)
	require.Error(t, err)
}

func TestFromMemory(t *testing.T) {
	backing := MustFromFlat([]float32{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}, 3, 4)

	// Transposed view, no copies.
	transposed, err := FromMemory(dtypes.Float32, backing.Base(), 0, []int64{4, 3}, []int64{1, 4})
	require.NoError(t, err)
	assert.False(t, transposed.IsContiguous())
	assert.Equal(t, backing.Base(), transposed.Base())
	assert.Equal(t, []float32{0, 4, 8, 1, 5, 9, 2, 6, 10, 3, 7, 11}, MustCopyFlat[float32](transposed))

	// Offset and reversed rows.
	reversed, err := FromMemory(dtypes.Float32, backing.Base(), 8, []int64{3, 2}, []int64{-4, 1})
	require.NoError(t, err)
	assert.Equal(t, []float32{8, 9, 4, 5, 0, 1}, MustCopyFlat[float32](reversed))

	// Broadcast with stride 0.
	broadcast, err := FromMemory(dtypes.Float32, backing.Base(), 1, []int64{2, 2}, []int64{0, 1})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 1, 2}, MustCopyFlat[float32](broadcast))

	// Writes through the view are visible in the backing tensor.
	require.NoError(t, transposed.Fill(7))
	assert.Equal(t, float32(7), MustCopyFlat[float32](backing)[11])

	_, err = FromMemory(dtypes.Float32, backing.Base(), 0, []int64{2, 2}, []int64{-1, 1})
	require.Error(t, err)
	_, err = FromMemory(dtypes.Float32, backing.Base(), 0, []int64{2}, []int64{1, 1})
	require.Error(t, err)

	empty, err := FromMemory(dtypes.Float32, nil, 0, []int64{0, 5}, []int64{5, 1})
	require.NoError(t, err)
	assert.Equal(t, int64(0), empty.Size())
	assert.Empty(t, MustCopyFlat[float32](empty))
}

func TestFloat64s(t *testing.T) {
	half := MustFromFlat([]float16.Float16{float16.Fromfloat32(0.5), float16.Fromfloat32(-2)}, 2)
	values, err := half.Float64s()
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, -2}, values)

	require.NoError(t, half.Fill(3))
	values, err = half.Float64s()
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 3}, values)

	require.NoError(t, half.SetFloat64s([]float64{0.25, 8}))
	values, err = half.Float64s()
	require.NoError(t, err)
	assert.Equal(t, []float64{0.25, 8}, values)
	require.Error(t, half.SetFloat64s([]float64{1}))

	_, err = MustFromFlat([]int64{1}, 1).Float64s()
	require.Error(t, err)
	assert.Contains(t, MustFromFlat([]float32{1, 2}, 2).String(), "[2]: [1 2]")
}
