// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package jit

import (
	"unsafe"

	"github.com/gomlx/jitrt/pkg/core/types"
	"github.com/pkg/errors"
)

// SlotSize is the size in bytes of each result slot: results are always returned by reference.
const SlotSize = int(unsafe.Sizeof(unsafe.Pointer(nil)))

// ResultsMemoryLayout describes the results buffer of an entry function.
type ResultsMemoryLayout struct {
	// HasAsyncResults is set if any result is an async token or an async value.
	HasAsyncResults bool

	// Size of the results buffer in bytes.
	Size int

	// Offsets in bytes of each result in the buffer.
	Offsets []int
}

// VerifyEntrypointSignature checks that the signature can be called through the packed calling convention,
// and returns the layout of its results buffer.
//
// Operands must be memrefs. Results must be memrefs, async tokens or async memrefs.
func VerifyEntrypointSignature(signature types.FunctionType) (ResultsMemoryLayout, error) {
	for ii, input := range signature.Inputs {
		if _, ok := input.(types.MemRef); !ok {
			return ResultsMemoryLayout{}, errors.Wrapf(ErrOperandTypeMismatch,
				"operand #%d: unsupported type %s, only memref operands are supported", ii, input)
		}
	}
	layout := ResultsMemoryLayout{Offsets: make([]int, 0, len(signature.Results))}
	for ii, result := range signature.Results {
		kind, ok := SlotKindFor(result)
		if !ok {
			return ResultsMemoryLayout{}, errors.Wrapf(ErrUnsupportedResultKind,
				"result #%d: unsupported type %s", ii, result)
		}
		if kind == SlotAsync {
			layout.HasAsyncResults = true
		}
		offset := alignTo(layout.Size, SlotSize)
		layout.Offsets = append(layout.Offsets, offset)
		layout.Size = offset + SlotSize
	}
	return layout, nil
}

// alignTo rounds n up to a multiple of alignment.
func alignTo(n, alignment int) int {
	return (n + alignment - 1) / alignment * alignment
}
