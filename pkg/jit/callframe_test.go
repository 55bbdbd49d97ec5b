// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package jit

import (
	"testing"
	"unsafe"

	"github.com/gomlx/jitrt/pkg/core/tensors"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildCallFrame(t *testing.T) {
	sig := signature(
		[]string{"memref<2x?xf32>", "memref<3xf32>"},
		[]string{"memref<3xf32>", "!async.token"})
	layout, err := VerifyEntrypointSignature(sig)
	require.NoError(t, err)

	a := tensors.MustFromFlat([]float32{1, 2, 3, 4, 5, 6, 7, 8}, 2, 4)
	b := tensors.MustFromFlat([]float32{1, 2, 3}, 3)
	operands := []MemrefDesc{
		{Data: a.Base(), Offset: 0, Sizes: []int64{2, 4}, Strides: []int64{4, 1}},
		{Data: b.Base(), Offset: 1, Sizes: []int64{3}, Strides: []int64{1}},
	}
	frame, err := BuildCallFrame(sig, layout, operands)
	require.NoError(t, err)
	require.Len(t, frame.Args, (2+2*2)+(2+2*1)+2)

	descs, rest := unpackMemrefs(frame.Args, 2, 1)
	for ii, desc := range descs {
		assert.Equal(t, operands[ii].Data, desc.Data)
		assert.Equal(t, operands[ii].Offset, desc.Offset)
		assert.Equal(t, operands[ii].Sizes, desc.Sizes)
		assert.Equal(t, operands[ii].Strides, desc.Strides)
	}

	// Result slots point into the zeroed results buffer, at the layout offsets.
	require.Len(t, rest, 2)
	buffer := frame.ResultsBuffer()
	require.Len(t, buffer, layout.Size)
	for ii, slot := range rest {
		assert.Equal(t, unsafe.Pointer(&buffer[layout.Offsets[ii]]), slot)
		assert.Nil(t, *(*unsafe.Pointer)(slot))
	}
	for _, v := range buffer {
		assert.Zero(t, v)
	}

	// Functions without results have no results buffer.
	sig = signature([]string{"memref<3xf32>"}, nil)
	layout, err = VerifyEntrypointSignature(sig)
	require.NoError(t, err)
	assert.Zero(t, layout.Size)
	frame, err = BuildCallFrame(sig, layout, operands[1:])
	require.NoError(t, err)
	assert.Nil(t, frame.ResultsBuffer())
	assert.Len(t, frame.Args, 2+2*1)
}

func TestBuildCallFrame_Errors(t *testing.T) {
	sig := signature([]string{"memref<2x?xf32>", "memref<3xf32>"}, []string{"memref<3xf32>"})
	layout, err := VerifyEntrypointSignature(sig)
	require.NoError(t, err)
	good := func() []MemrefDesc {
		return []MemrefDesc{
			{Sizes: []int64{2, 7}, Strides: []int64{7, 1}},
			{Sizes: []int64{3}, Strides: []int64{1}},
		}
	}

	// Dynamic dimensions are not checked.
	_, err = BuildCallFrame(sig, layout, good())
	require.NoError(t, err)

	operands := append(good(), MemrefDesc{Sizes: []int64{3}, Strides: []int64{1}})
	frame, err := BuildCallFrame(sig, layout, operands)
	require.Error(t, err)
	assert.Nil(t, frame)
	assert.True(t, errors.Is(err, ErrOperandCountMismatch))
	assert.Contains(t, err.Error(), "expected 2 operands, got 3")

	operands = good()
	operands[1].Sizes = []int64{4}
	_, err = BuildCallFrame(sig, layout, operands)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOperandTypeMismatch))
	assert.Contains(t, err.Error(), "operand #1")

	// The first offending operand is reported.
	operands = good()
	operands[0].Sizes = []int64{2}
	operands[0].Strides = []int64{1}
	operands[1].Sizes = []int64{4}
	_, err = BuildCallFrame(sig, layout, operands)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "operand #0")

	operands = good()
	operands[0].Strides = []int64{1}
	_, err = BuildCallFrame(sig, layout, operands)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOperandTypeMismatch))
}

func TestConvertTensorToMemrefDesc(t *testing.T) {
	tensor := tensors.MustFromFlat([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	desc, err := ConvertTensorToMemrefDesc(parseType("memref<?x3xf32>"), tensor)
	require.NoError(t, err)
	assert.Equal(t, tensor.Base(), desc.Data)
	assert.Equal(t, []int64{2, 3}, desc.Sizes)
	assert.Equal(t, []int64{3, 1}, desc.Strides)

	_, err = ConvertTensorToMemrefDesc(parseType("memref<2x3xf64>"), tensor)
	assert.True(t, errors.Is(err, ErrOperandTypeMismatch))
	_, err = ConvertTensorToMemrefDesc(parseType("memref<3x3xf32>"), tensor)
	assert.True(t, errors.Is(err, ErrOperandTypeMismatch))
	_, err = ConvertTensorToMemrefDesc(parseType("!async.token"), tensor)
	assert.True(t, errors.Is(err, ErrOperandTypeMismatch))
}
