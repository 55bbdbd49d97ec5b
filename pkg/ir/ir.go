// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package ir defines the textual modules compiled by the reference compiler, with a parser and a printer.
//
// A module holds functions, optionally wrapped in `module { ... }`. Each function body has one
// operation per line, and `//` starts a comment. Example:
//
//	func @add_one(%x: memref<4xf32>) -> memref<4xf32> {
//	  %one = memref.alloc() : memref<4xf32>
//	  linalg.fill %one, 1
//	  %0 = arith.addf %x, %one
//	  return %0
//	}
//
// Operations:
//
//   - `%r = memref.alloc() : T`: allocates a zeroed buffer of memref type T (with static dimensions).
//   - `%r = memref.alloc_like %x`: allocates a zeroed buffer with the type and sizes of %x.
//   - `linalg.fill %x, <float>`: sets every element of %x.
//   - `linalg.copy %src, %dst`: copies %src into %dst, which must have the same sizes.
//   - `%r = arith.addf %a, %b`, `%r = arith.mulf %a, %b`: element-wise, into a new buffer.
//   - `%t = async.execute`: an async token completed by a worker thread.
//   - `%v = async.value %x`: an async value resolved to %x by a worker thread.
//   - `%t = async.runtime.error "msg"`: an async token that fails with msg.
//   - `%v = async.runtime.error_value "msg" : T`: an async value of memref type T that fails with msg.
//   - `return %a, %b, ...`: must be the last operation.
package ir

import (
	"strings"

	"github.com/gomlx/jitrt/pkg/core/types"
)

// OpCode identifies an operation.
type OpCode string

// Operations.
const (
	OpAlloc           OpCode = "memref.alloc"
	OpAllocLike       OpCode = "memref.alloc_like"
	OpFill            OpCode = "linalg.fill"
	OpCopy            OpCode = "linalg.copy"
	OpAddF            OpCode = "arith.addf"
	OpMulF            OpCode = "arith.mulf"
	OpAsyncExecute    OpCode = "async.execute"
	OpAsyncValue      OpCode = "async.value"
	OpAsyncError      OpCode = "async.runtime.error"
	OpAsyncErrorValue OpCode = "async.runtime.error_value"
	OpReturn          OpCode = "return"
)

// Dialect of the operation: the prefix before the first ".". The return operation is part of the "func" dialect,
// which is always legal.
func (c OpCode) Dialect() string {
	if c == OpReturn {
		return "func"
	}
	dialect, _, _ := strings.Cut(string(c), ".")
	return dialect
}

// HasResult returns whether operations with this code define a value.
func (c OpCode) HasResult() bool {
	switch c {
	case OpFill, OpCopy, OpReturn:
		return false
	default:
		return true
	}
}

// IsPure returns whether the operation has no side effects other than defining its result: it can be
// removed if its result is not used.
func (c OpCode) IsPure() bool {
	switch c {
	case OpAlloc, OpAllocLike, OpAddF, OpMulF:
		return true
	default:
		return false
	}
}

// Module is a list of functions.
type Module struct {
	Funcs []*Func
}

// Func returns the function with the given name, or nil.
func (m *Module) Func(name string) *Func {
	for _, fn := range m.Funcs {
		if fn.Name == name {
			return fn
		}
	}
	return nil
}

// Arg is a function argument.
type Arg struct {
	Name string
	Type types.Type
}

// Func is a function definition.
type Func struct {
	Name    string
	Args    []Arg
	Results []types.Type
	Body    []*Op
	Line    int
}

// Signature returns the function type.
func (f *Func) Signature() types.FunctionType {
	sig := types.FunctionType{Results: f.Results}
	for _, arg := range f.Args {
		sig.Inputs = append(sig.Inputs, arg.Type)
	}
	return sig
}

// Op is one operation in a function body.
type Op struct {
	Code OpCode

	// Result is the name of the value defined by the operation, empty if none.
	Result string

	Operands []string

	// Type of memref.alloc and async.runtime.error_value.
	Type types.Type

	// Value of linalg.fill.
	Value float64

	// Message of async.runtime.error and async.runtime.error_value.
	Message string

	// Line in the source, starting at 1. 0 for operations not parsed.
	Line int
}
