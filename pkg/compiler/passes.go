// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package compiler

import (
	"slices"

	"github.com/gomlx/jitrt/pkg/core/types"
	"github.com/gomlx/jitrt/pkg/ir"
	"github.com/gomlx/jitrt/pkg/jit"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Pass transforms or checks a function in place.
type Pass func(fn *ir.Func, opts jit.Options) error

// Passes available to jit.Options.Pipeline, by name.
var Passes = map[string]Pass{
	"verify":       verifyPass,
	"canonicalize": canonicalizePass,
}

// runPipeline runs the passes listed in opts.Pipeline, in order.
func runPipeline(fn *ir.Func, opts jit.Options) error {
	for _, name := range opts.Pipeline {
		pass, found := Passes[name]
		if !found {
			return errors.Wrapf(jit.ErrCompilation, "unknown pass %q in pipeline %v", name, opts.Pipeline)
		}
		if name == "canonicalize" && opts.OptLevel == 0 {
			klog.V(2).Infof("compiler: skipping %q at optimization level 0", name)
			continue
		}
		if err := pass(fn, opts); err != nil {
			return errors.WithMessagef(err, "pass %q on @%s", name, fn.Name)
		}
	}
	return nil
}

// legalize rejects operations of dialects not listed in opts.Dialects.
func legalize(fn *ir.Func, opts jit.Options) error {
	for _, op := range fn.Body {
		dialect := op.Code.Dialect()
		if dialect != "func" && !slices.Contains(opts.Dialects, dialect) {
			return errors.Wrapf(jit.ErrCompilation, "line %d: %s: dialect %q is not legal (legal dialects: %v)",
				op.Line, op.Code, dialect, opts.Dialects)
		}
	}
	return nil
}

func verifyPass(fn *ir.Func, _ jit.Options) error {
	_, err := inferTypes(fn)
	return err
}

// canonicalizePass removes pure operations whose results are not used, until there are none left.
func canonicalizePass(fn *ir.Func, _ jit.Options) error {
	for {
		used := make(map[string]bool)
		for _, op := range fn.Body {
			for _, operand := range op.Operands {
				used[operand] = true
			}
		}
		before := len(fn.Body)
		fn.Body = slices.DeleteFunc(fn.Body, func(op *ir.Op) bool {
			return op.Code.IsPure() && !used[op.Result]
		})
		if len(fn.Body) == before {
			return nil
		}
		klog.V(2).Infof("compiler: canonicalize removed %d unused operations from @%s", before-len(fn.Body), fn.Name)
	}
}

// inferTypes checks the function and returns the type of each of its values.
//
// Values must be defined once, before they are used. Operand types must be accepted by the operation,
// and the function must end with a return of values compatible with the declared results.
func inferTypes(fn *ir.Func) (map[string]types.Type, error) {
	env := make(map[string]types.Type)
	define := func(op *ir.Op, name string, t types.Type) error {
		if _, found := env[name]; found {
			return errorAt(op, "value %%%s defined more than once", name)
		}
		env[name] = t
		return nil
	}
	for _, arg := range fn.Args {
		if err := define(&ir.Op{Line: fn.Line}, arg.Name, arg.Type); err != nil {
			return nil, err
		}
	}

	for ii, op := range fn.Body {
		operandTypes := make([]types.MemRef, 0, len(op.Operands))
		var operandAny []types.Type
		for _, operand := range op.Operands {
			t, found := env[operand]
			if !found {
				return nil, errorAt(op, "value %%%s used before definition", operand)
			}
			operandAny = append(operandAny, t)
			if m, ok := t.(types.MemRef); ok {
				operandTypes = append(operandTypes, m)
			} else if op.Code != ir.OpReturn {
				return nil, errorAt(op, "operand %%%s must be a memref, got %s", operand, t)
			}
		}

		var result types.Type
		switch op.Code {
		case ir.OpAlloc:
			m, ok := op.Type.(types.MemRef)
			if !ok || !m.HasStaticShape() {
				return nil, errorAt(op, "can only allocate memrefs with static shape, got %s", op.Type)
			}
			result = m
		case ir.OpAllocLike:
			result = operandTypes[0]
		case ir.OpFill:
			if !operandTypes[0].DType.IsFloat() {
				return nil, errorAt(op, "can only fill floating point memrefs, got %s", operandTypes[0])
			}
		case ir.OpCopy, ir.OpAddF, ir.OpMulF:
			merged, err := mergeMemRefs(operandTypes[0], operandTypes[1])
			if err != nil {
				return nil, errorAt(op, "%v", err)
			}
			if !merged.DType.IsFloat() {
				return nil, errorAt(op, "only floating point memrefs are supported, got %s", merged)
			}
			if op.Code != ir.OpCopy {
				result = merged
			}
		case ir.OpAsyncExecute, ir.OpAsyncError:
			result = types.AsyncToken{}
		case ir.OpAsyncValue:
			result = types.AsyncValue{Value: operandTypes[0]}
		case ir.OpAsyncErrorValue:
			if _, ok := op.Type.(types.MemRef); !ok {
				return nil, errorAt(op, "async values can only hold memrefs, got %s", op.Type)
			}
			result = types.AsyncValue{Value: op.Type}
		case ir.OpReturn:
			if ii != len(fn.Body)-1 {
				return nil, errorAt(op, "return must be the last operation")
			}
			if len(operandAny) != len(fn.Results) {
				return nil, errorAt(op, "returning %d values, @%s declares %d results",
					len(operandAny), fn.Name, len(fn.Results))
			}
			for jj, t := range operandAny {
				if !compatible(t, fn.Results[jj]) {
					return nil, errorAt(op, "returned value #%d has type %s, declared %s", jj, t, fn.Results[jj])
				}
			}
		default:
			return nil, errorAt(op, "unsupported operation %s", op.Code)
		}
		if result != nil {
			if err := define(op, op.Result, result); err != nil {
				return nil, err
			}
		}
	}
	if len(fn.Body) == 0 || fn.Body[len(fn.Body)-1].Code != ir.OpReturn {
		return nil, errors.Wrapf(jit.ErrCompilation, "line %d: @%s must end with return", fn.Line, fn.Name)
	}
	return env, nil
}

func errorAt(op *ir.Op, format string, args ...any) error {
	return errors.Wrapf(jit.ErrCompilation, "line %d: %s: "+format, append([]any{op.Line, op.Code}, args...)...)
}

// mergeMemRefs returns the most static memref type compatible with both a and b.
func mergeMemRefs(a, b types.MemRef) (types.MemRef, error) {
	if a.DType != b.DType || a.Rank() != b.Rank() {
		return types.MemRef{}, errors.Errorf("incompatible operands %s and %s", a, b)
	}
	merged := types.MemRef{DType: a.DType, Dims: slices.Clone(a.Dims)}
	for axis, dim := range b.Dims {
		switch {
		case dim == types.Dynamic:
		case merged.Dims[axis] == types.Dynamic:
			merged.Dims[axis] = dim
		case merged.Dims[axis] != dim:
			return types.MemRef{}, errors.Errorf("incompatible operands %s and %s", a, b)
		}
	}
	return merged, nil
}

// compatible returns whether a value of type actual can be returned as declared: dynamic dimensions
// of either side match anything.
func compatible(actual, declared types.Type) bool {
	switch d := declared.(type) {
	case types.MemRef:
		a, ok := actual.(types.MemRef)
		if !ok {
			return false
		}
		_, err := mergeMemRefs(a, d)
		return err == nil
	case types.AsyncValue:
		a, ok := actual.(types.AsyncValue)
		return ok && compatible(a.Value, d.Value)
	default:
		return actual.Equal(declared)
	}
}
