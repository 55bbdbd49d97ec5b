// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package jit

import (
	"unsafe"

	"github.com/gomlx/jitrt/pkg/core/types"
	"github.com/pkg/errors"
)

// CallFrame holds the arguments of one invocation of an entry function, and the buffer where it writes its results.
//
// Args holds, for each memref operand, pointers to its data pointer, offset, each size and each stride
// (2 + 2*rank slots), followed by one pointer per result into the results buffer.
//
// A CallFrame is built per invocation and never shared.
type CallFrame struct {
	Args []unsafe.Pointer

	// results backs the results buffer. Slots are pointer typed so the values the entry function
	// stores in them are visible to the garbage collector.
	results []unsafe.Pointer
	size    int

	// Storage the operand argument slots point into.
	dataPointers []unsafe.Pointer
	scalars      []int64
}

// ResultsBuffer returns the results buffer as raw bytes, with the size given by the layout.
func (f *CallFrame) ResultsBuffer() []byte {
	if f.size == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&f.results[0])), f.size)
}

// resultSlot returns the address of the result slot at the given offset in bytes.
func (f *CallFrame) resultSlot(offset int) unsafe.Pointer {
	return unsafe.Pointer(&f.results[offset/SlotSize])
}

// BuildCallFrame verifies the operands against the signature and packs them into a new CallFrame.
//
// Verification errors are positional and no frame is returned: the number of operands must match
// the signature (ErrOperandCountMismatch) and each operand must match its declared rank and static
// dimensions (ErrOperandTypeMismatch).
func BuildCallFrame(signature types.FunctionType, layout ResultsMemoryLayout, operands []MemrefDesc) (*CallFrame, error) {
	if len(operands) != signature.NumInputs() {
		return nil, errors.Wrapf(ErrOperandCountMismatch, "expected %d operands, got %d",
			signature.NumInputs(), len(operands))
	}
	numScalars := 0
	for ii := range operands {
		memrefType, ok := signature.Inputs[ii].(types.MemRef)
		if !ok {
			return nil, errors.Wrapf(ErrOperandTypeMismatch, "operand #%d: unsupported type %s",
				ii, signature.Inputs[ii])
		}
		if err := VerifyMemrefOperand(ii, memrefType, &operands[ii]); err != nil {
			return nil, err
		}
		numScalars += 1 + 2*operands[ii].Rank()
	}

	numResults := signature.NumResults()
	frame := &CallFrame{
		Args:         make([]unsafe.Pointer, 0, numScalars+len(operands)+numResults),
		results:      make([]unsafe.Pointer, layout.Size/SlotSize),
		size:         layout.Size,
		dataPointers: make([]unsafe.Pointer, len(operands)),
		scalars:      make([]int64, 0, numScalars),
	}
	for ii := range operands {
		desc := &operands[ii]
		frame.dataPointers[ii] = desc.Data
		frame.Args = append(frame.Args, unsafe.Pointer(&frame.dataPointers[ii]))
		frame.Args = frame.appendScalar(desc.Offset)
		for _, size := range desc.Sizes {
			frame.Args = frame.appendScalar(size)
		}
		for _, stride := range desc.Strides {
			frame.Args = frame.appendScalar(stride)
		}
	}
	for ii := range numResults {
		frame.Args = append(frame.Args, frame.resultSlot(layout.Offsets[ii]))
	}
	return frame, nil
}

// appendScalar stores value in the frame's scalar storage and returns Args with a pointer to it appended.
// scalars is preallocated with its final capacity, so the addresses stay valid.
func (f *CallFrame) appendScalar(value int64) []unsafe.Pointer {
	f.scalars = append(f.scalars, value)
	return append(f.Args, unsafe.Pointer(&f.scalars[len(f.scalars)-1]))
}
