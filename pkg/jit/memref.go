// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package jit

import (
	"fmt"
	"slices"
	"unsafe"

	"github.com/gomlx/jitrt/pkg/async"
	"github.com/gomlx/jitrt/pkg/core/tensors"
	"github.com/gomlx/jitrt/pkg/core/types"
	"github.com/pkg/errors"
)

// MemrefDesc describes a strided buffer: the memory is not owned, it is borrowed from the caller.
//
// Offset and strides are in elements. len(Sizes) == len(Strides) == rank.
type MemrefDesc struct {
	Data    unsafe.Pointer
	Offset  int64
	Sizes   []int64
	Strides []int64
}

// Rank of the descriptor.
func (m *MemrefDesc) Rank() int { return len(m.Sizes) }

// String implements fmt.Stringer.
func (m *MemrefDesc) String() string {
	return fmt.Sprintf("MemrefDesc{data=%p, offset=%d, sizes=%v, strides=%v}", m.Data, m.Offset, m.Sizes, m.Strides)
}

// VerifyMemrefOperand checks that the descriptor of operand #index matches its declared type:
// same rank and, for the dimensions that are statically known, the same sizes.
func VerifyMemrefOperand(index int, memrefType types.MemRef, desc *MemrefDesc) error {
	if len(desc.Sizes) != len(desc.Strides) {
		return errors.Wrapf(ErrOperandTypeMismatch, "operand #%d: descriptor has %d sizes but %d strides",
			index, len(desc.Sizes), len(desc.Strides))
	}
	if desc.Rank() != memrefType.Rank() {
		return errors.Wrapf(ErrOperandTypeMismatch, "operand #%d: rank %d does not match declared type %s",
			index, desc.Rank(), memrefType)
	}
	for axis, dim := range memrefType.Dims {
		if dim != types.Dynamic && desc.Sizes[axis] != dim {
			return errors.Wrapf(ErrOperandTypeMismatch, "operand #%d: dimension %d of axis %d does not match declared type %s",
				index, desc.Sizes[axis], axis, memrefType)
		}
	}
	return nil
}

// ConvertTensorToMemrefDesc returns the descriptor of the tensor, after checking that its dtype, rank and static
// dimensions match t, which must be a memref type. The tensor memory is not copied.
func ConvertTensorToMemrefDesc(t types.Type, tensor *tensors.Dense) (MemrefDesc, error) {
	memrefType, ok := t.(types.MemRef)
	if !ok {
		return MemrefDesc{}, errors.Wrapf(ErrOperandTypeMismatch, "tensor operands can only be passed as memref, got %s", t)
	}
	if tensor.DType() != memrefType.DType {
		return MemrefDesc{}, errors.Wrapf(ErrOperandTypeMismatch, "tensor of dtype %s can't be passed as %s",
			tensor.DType(), memrefType)
	}
	desc := MemrefDesc{
		Data:    tensor.Base(),
		Offset:  tensor.Offset(),
		Sizes:   slices.Clone(tensor.Dims()),
		Strides: slices.Clone(tensor.Strides()),
	}
	if err := VerifyMemrefOperand(0, memrefType, &desc); err != nil {
		return MemrefDesc{}, errors.WithMessagef(err, "tensor with dims %v", tensor.Dims())
	}
	return desc, nil
}

// SlotKind is the kind of value stored in a result slot.
type SlotKind int

const (
	// SlotMemref holds a *MemrefDesc.
	SlotMemref SlotKind = iota + 1

	// SlotAsync holds an *async.Value. For async tokens it resolves to async.Chain,
	// for async memrefs to a *MemrefDesc.
	SlotAsync
)

// String implements fmt.Stringer.
func (k SlotKind) String() string {
	switch k {
	case SlotMemref:
		return "memref"
	case SlotAsync:
		return "async"
	default:
		return fmt.Sprintf("SlotKind(%d)", int(k))
	}
}

// SlotKindFor returns the kind of slot used to return a value of type t. It returns false for
// types that can't be returned.
func SlotKindFor(t types.Type) (SlotKind, bool) {
	switch tt := t.(type) {
	case types.MemRef:
		return SlotMemref, true
	case types.AsyncToken:
		return SlotAsync, true
	case types.AsyncValue:
		if _, ok := tt.Value.(types.MemRef); ok {
			return SlotAsync, true
		}
	}
	return 0, false
}

// ResultSlot is a typed reference to the value the entry function stored in one result slot.
type ResultSlot struct {
	kind SlotKind
	ptr  unsafe.Pointer
}

// NewResultSlot reads the value stored at slot, which must point to a pointer-sized slot in the results buffer.
func NewResultSlot(kind SlotKind, slot unsafe.Pointer) ResultSlot {
	return ResultSlot{kind: kind, ptr: *(*unsafe.Pointer)(slot)}
}

// Kind of value held in the slot.
func (s ResultSlot) Kind() SlotKind { return s.kind }

// IsEmpty returns whether the entry function left the slot unset.
func (s ResultSlot) IsEmpty() bool { return s.ptr == nil }

// Memref returns the descriptor held in the slot.
func (s ResultSlot) Memref() (*MemrefDesc, error) {
	if s.kind != SlotMemref {
		return nil, errors.Wrapf(ErrUnsupportedResultKind, "result slot holds %s, not memref", s.kind)
	}
	if s.ptr == nil {
		return nil, errors.New("result slot for memref was not set by the entry function")
	}
	return (*MemrefDesc)(s.ptr), nil
}

// Async returns the asynchronous value held in the slot.
func (s ResultSlot) Async() (*async.Value, error) {
	if s.kind != SlotAsync {
		return nil, errors.Wrapf(ErrUnsupportedResultKind, "result slot holds %s, not async", s.kind)
	}
	if s.ptr == nil {
		return nil, errors.New("result slot for async value was not set by the entry function")
	}
	return (*async.Value)(s.ptr), nil
}

// StoreMemref is used by compiled entry functions to return desc in the result slot.
func StoreMemref(slot unsafe.Pointer, desc *MemrefDesc) {
	*(*unsafe.Pointer)(slot) = unsafe.Pointer(desc)
}

// StoreAsync is used by compiled entry functions to return an async token or async memref in the result slot.
func StoreAsync(slot unsafe.Pointer, value *async.Value) {
	*(*unsafe.Pointer)(slot) = unsafe.Pointer(value)
}

// UnpackMemref is used by compiled entry functions to read one memref operand of the given rank from args.
// It returns the descriptor and the remaining args.
func UnpackMemref(args []unsafe.Pointer, rank int) (MemrefDesc, []unsafe.Pointer) {
	numSlots := 2 + 2*rank
	desc := MemrefDesc{
		Data:    *(*unsafe.Pointer)(args[0]),
		Offset:  *(*int64)(args[1]),
		Sizes:   make([]int64, rank),
		Strides: make([]int64, rank),
	}
	for axis := range rank {
		desc.Sizes[axis] = *(*int64)(args[2+axis])
		desc.Strides[axis] = *(*int64)(args[2+rank+axis])
	}
	return desc, args[numSlots:]
}
