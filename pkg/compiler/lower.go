// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package compiler

import (
	"slices"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/jitrt/pkg/async"
	"github.com/gomlx/jitrt/pkg/core/tensors"
	"github.com/gomlx/jitrt/pkg/core/types"
	"github.com/gomlx/jitrt/pkg/ir"
	"github.com/gomlx/jitrt/pkg/jit"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// value held by a register during the execution of a program.
type value struct {
	memref *jit.MemrefDesc
	async  *async.Value
}

// instruction executed on the registers of one invocation.
type instruction func(registers []value)

// program is a function lowered to a sequence of instructions over registers, one register per value.
type program struct {
	name         string
	alignment    int
	numRegisters int
	argRegisters []int
	argRanks     []int
	instructions []instruction
	results      []int
	resultKinds  []jit.SlotKind

	// queue runs the asynchronous work of the program, at most maxInFlight tasks at a time.
	// Work beyond that, or all work if queue is nil, runs inline.
	queue       jit.WorkQueue
	maxInFlight int32
	inFlight    atomic.Int32
	pending     sync.WaitGroup
	finalized   atomic.Bool
}

// Finalize implements jit.CompilationContext: it waits for the asynchronous work the program enqueued.
func (p *program) Finalize() {
	if p.finalized.Swap(true) {
		return
	}
	p.pending.Wait()
	klog.V(1).Infof("compiler: finalized program @%s", p.name)
}

// spawn runs work on the work queue, or inline if there is no queue or maxInFlight tasks of the
// program are already enqueued.
func (p *program) spawn(work func()) {
	if p.queue == nil {
		work()
		return
	}
	if p.inFlight.Add(1) > p.maxInFlight {
		p.inFlight.Add(-1)
		work()
		return
	}
	p.pending.Add(1)
	p.queue.EnqueueWork(func() {
		defer p.pending.Done()
		defer p.inFlight.Add(-1)
		work()
	})
}

// entry implements jit.EntryFunc.
func (p *program) entry(args []unsafe.Pointer) {
	if p.finalized.Load() {
		exceptions.Panicf("program @%s called after it was finalized", p.name)
	}
	registers := make([]value, p.numRegisters)
	for ii, rank := range p.argRanks {
		desc, rest := jit.UnpackMemref(args, rank)
		args = rest
		registers[p.argRegisters[ii]] = value{memref: &desc}
	}
	for _, instr := range p.instructions {
		instr(registers)
	}
	for ii, slot := range args {
		v := registers[p.results[ii]]
		switch p.resultKinds[ii] {
		case jit.SlotMemref:
			jit.StoreMemref(slot, v.memref)
		case jit.SlotAsync:
			jit.StoreAsync(slot, v.async)
		}
	}
}

// lower fn into a program. fn must have been verified, and env holds the type of each value.
func lower(fn *ir.Func, env map[string]types.Type, opts jit.Options, maxInFlight int) (*program, error) {
	p := &program{name: fn.Name, alignment: opts.Alignment, queue: opts.WorkQueue, maxInFlight: int32(maxInFlight)}
	registers := make(map[string]int, len(env))
	register := func(name string) int {
		if idx, found := registers[name]; found {
			return idx
		}
		registers[name] = p.numRegisters
		p.numRegisters++
		return registers[name]
	}

	for ii, arg := range fn.Args {
		m, ok := arg.Type.(types.MemRef)
		if !ok {
			return nil, errors.Wrapf(jit.ErrOperandTypeMismatch, "argument #%d (%%%s) of @%s has type %s, only memrefs are supported",
				ii, arg.Name, fn.Name, arg.Type)
		}
		p.argRegisters = append(p.argRegisters, register(arg.Name))
		p.argRanks = append(p.argRanks, m.Rank())
	}

	for _, op := range fn.Body {
		operands := make([]int, len(op.Operands))
		for ii, name := range op.Operands {
			operands[ii] = register(name)
		}
		if op.Code == ir.OpReturn {
			p.results = operands
			for ii, t := range fn.Results {
				kind, ok := jit.SlotKindFor(t)
				if !ok {
					return nil, errors.Wrapf(jit.ErrUnsupportedResultKind, "result #%d of @%s has type %s", ii, fn.Name, t)
				}
				p.resultKinds = append(p.resultKinds, kind)
			}
			continue
		}
		var result int
		if op.Result != "" {
			result = register(op.Result)
		}
		instr, err := p.lowerOp(op, env, operands, result)
		if err != nil {
			return nil, err
		}
		p.instructions = append(p.instructions, instr)
	}
	return p, nil
}

func (p *program) lowerOp(op *ir.Op, env map[string]types.Type, operands []int, result int) (instruction, error) {
	switch op.Code {
	case ir.OpAlloc:
		m := op.Type.(types.MemRef)
		return func(registers []value) {
			registers[result] = value{memref: p.alloc(m, m.Dims)}
		}, nil

	case ir.OpAllocLike:
		m := env[op.Operands[0]].(types.MemRef)
		return func(registers []value) {
			registers[result] = value{memref: p.alloc(m, registers[operands[0]].memref.Sizes)}
		}, nil

	case ir.OpFill:
		m := env[op.Operands[0]].(types.MemRef)
		fillValue := op.Value
		return func(registers []value) {
			must.M(dense(m, registers[operands[0]].memref).Fill(fillValue))
		}, nil

	case ir.OpCopy:
		src := env[op.Operands[0]].(types.MemRef)
		dst := env[op.Operands[1]].(types.MemRef)
		return func(registers []value) {
			srcDesc, dstDesc := registers[operands[0]].memref, registers[operands[1]].memref
			checkSameSizes(op, srcDesc, dstDesc)
			values := must.M1(dense(src, srcDesc).Float64s())
			must.M(dense(dst, dstDesc).SetFloat64s(values))
		}, nil

	case ir.OpAddF, ir.OpMulF:
		lhs := env[op.Operands[0]].(types.MemRef)
		rhs := env[op.Operands[1]].(types.MemRef)
		combine := func(a, b float64) float64 { return a + b }
		if op.Code == ir.OpMulF {
			combine = func(a, b float64) float64 { return a * b }
		}
		return func(registers []value) {
			lhsDesc, rhsDesc := registers[operands[0]].memref, registers[operands[1]].memref
			checkSameSizes(op, lhsDesc, rhsDesc)
			a := must.M1(dense(lhs, lhsDesc).Float64s())
			b := must.M1(dense(rhs, rhsDesc).Float64s())
			for ii := range a {
				a[ii] = combine(a[ii], b[ii])
			}
			out := p.alloc(lhs, lhsDesc.Sizes)
			must.M(dense(lhs, out).SetFloat64s(a))
			registers[result] = value{memref: out}
		}, nil

	case ir.OpAsyncExecute:
		return func(registers []value) {
			token := async.NewUnavailable()
			p.spawn(func() { token.SetValue(async.Chain{}) })
			registers[result] = value{async: token}
		}, nil

	case ir.OpAsyncValue:
		return func(registers []value) {
			desc := registers[operands[0]].memref
			v := async.NewUnavailable()
			p.spawn(func() { v.SetValue(desc) })
			registers[result] = value{async: v}
		}, nil

	case ir.OpAsyncError, ir.OpAsyncErrorValue:
		msg := op.Message
		return func(registers []value) {
			registers[result] = value{async: async.NewError(errors.New(msg))}
		}, nil
	}
	return nil, errors.Wrapf(jit.ErrCompilation, "line %d: can't lower %s", op.Line, op.Code)
}

// alloc returns the descriptor of a new zeroed row-major buffer, aligned as configured.
func (p *program) alloc(m types.MemRef, sizes []int64) *jit.MemrefDesc {
	buffer := must.M1(tensors.New(m.DType, p.alignment, sizes...))
	return &jit.MemrefDesc{
		Data:    buffer.Base(),
		Sizes:   slices.Clone(sizes),
		Strides: slices.Clone(buffer.Strides()),
	}
}

// dense wraps the memory of desc, without copying.
// Errors panic, and are reported by jit.Executable.Execute as errors of every result.
func dense(m types.MemRef, desc *jit.MemrefDesc) *tensors.Dense {
	return must.M1(tensors.FromMemory(m.DType, desc.Data, desc.Offset, desc.Sizes, desc.Strides))
}

func checkSameSizes(op *ir.Op, a, b *jit.MemrefDesc) {
	if !slices.Equal(a.Sizes, b.Sizes) {
		exceptions.Panicf("line %d: %s: operands have different sizes %v and %v", op.Line, op.Code, a.Sizes, b.Sizes)
	}
}
