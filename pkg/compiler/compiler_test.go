// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package compiler

import (
	"testing"

	"github.com/gomlx/jitrt/pkg/async"
	"github.com/gomlx/jitrt/pkg/core/tensors"
	"github.com/gomlx/jitrt/pkg/host"
	"github.com/gomlx/jitrt/pkg/ir"
	"github.com/gomlx/jitrt/pkg/jit"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compile(t *testing.T, module, entrypoint string, opts jit.Options) *jit.Executable {
	t.Helper()
	opts.Compiler = Name
	exec, err := jit.Compile([]byte(module), entrypoint, opts)
	require.NoError(t, err)
	t.Cleanup(exec.Finalize)
	return exec
}

// execute runs exec with the given tensors as operands, and returns the results sink.
func execute(t *testing.T, exec *jit.Executable, operands ...*tensors.Dense) (*jit.Results, error) {
	t.Helper()
	descs := make([]jit.MemrefDesc, len(operands))
	for ii, operand := range operands {
		descs[ii] = must.M1(jit.ConvertTensorToMemrefDesc(exec.Signature().Inputs[ii], operand))
	}
	results := jit.NewResults(exec.NumResults())
	err := exec.Execute(descs, jit.NewDefaultReturnValueConverter(results), nil)
	return results, err
}

func TestCompile_Identity(t *testing.T) {
	exec := compile(t, `
func @identity(%a: memref<4x4xf32>) -> memref<4x4xf32> {
  return %a
}`, "identity", jit.DefaultOptions())
	assert.False(t, exec.IsAsync())

	flat := make([]float32, 16)
	for ii := range 4 {
		flat[ii*4+ii] = 1
	}
	input := tensors.MustFromFlat(flat, 4, 4)
	results, err := execute(t, exec, input)
	require.NoError(t, err)
	output, err := async.Get[*tensors.Dense](results.At(0))
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 4}, output.Dims())
	assert.Equal(t, flat, tensors.MustCopyFlat[float32](output))
}

func TestCompile_Arithmetic(t *testing.T) {
	exec := compile(t, `
func @axpy(%a: memref<?xf32>, %x: memref<?xf32>, %y: memref<?xf32>) -> memref<?xf32> {
  %0 = arith.mulf %a, %x
  %1 = arith.addf %0, %y
  %unused = memref.alloc_like %y
  return %1
}`, "axpy", jit.DefaultOptions())

	a := tensors.MustFromFlat([]float32{2, 2, 2}, 3)
	x := tensors.MustFromFlat([]float32{1, 2, 3}, 3)
	y := tensors.MustFromFlat([]float32{10, 20, 30}, 3)
	results, err := execute(t, exec, a, x, y)
	require.NoError(t, err)
	output, err := async.Get[*tensors.Dense](results.At(0))
	require.NoError(t, err)
	assert.Equal(t, []float32{12, 24, 36}, tensors.MustCopyFlat[float32](output))

	// Sizes of dynamic dimensions are checked at runtime.
	short := tensors.MustFromFlat([]float32{1, 2}, 2)
	results, err = execute(t, exec, a, short, y)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "different sizes")
	assert.Error(t, results.At(0).Err())
}

func TestCompile_AsyncToken(t *testing.T) {
	exec := compile(t, `
func @token() -> !async.token {
  %0 = async.execute
  return %0
}`, "token", jit.Options{NumWorkerThreads: 2, WorkQueue: host.NewHostContext(2)})
	assert.True(t, exec.IsAsync())
	results, err := execute(t, exec)
	require.NoError(t, err)
	_, err = async.Get[async.Chain](results.At(0))
	require.NoError(t, err)
}

// recordingQueue holds enqueued work until run is called.
type recordingQueue struct {
	work []func()
}

func (q *recordingQueue) EnqueueWork(work func()) { q.work = append(q.work, work) }

func (q *recordingQueue) run() {
	for _, work := range q.work {
		work()
	}
	q.work = nil
}

func TestCompile_WorkQueue(t *testing.T) {
	const module = `
func @tokens() -> (!async.token, !async.token, !async.token) {
  %0 = async.execute
  %1 = async.execute
  %2 = async.execute
  return %0, %1, %2
}`
	queue := &recordingQueue{}
	exec := compile(t, module, "tokens", jit.Options{NumWorkerThreads: 2, WorkQueue: queue})
	results, err := execute(t, exec)
	require.NoError(t, err)

	// Two tasks are enqueued, the third one exceeds NumWorkerThreads and runs inline.
	require.Len(t, queue.work, 2)
	assert.False(t, results.At(0).IsAvailable())
	assert.False(t, results.At(1).IsAvailable())
	assert.True(t, results.At(2).IsAvailable())
	queue.run()
	for ii := range 3 {
		_, err := async.Get[async.Chain](results.At(ii))
		require.NoError(t, err, "result #%d", ii)
	}

	// Without a work queue everything runs inline.
	exec = compile(t, module, "tokens", jit.DefaultOptions())
	results, err = execute(t, exec)
	require.NoError(t, err)
	for ii := range 3 {
		assert.True(t, results.At(ii).IsAvailable(), "result #%d", ii)
	}
}

func TestCompile_AsyncValues(t *testing.T) {
	exec := compile(t, `
func @values() -> (!async.value<memref<2xf32>>, !async.value<memref<2xf32>>, !async.token, memref<2xf32>) {
  %0 = memref.alloc() : memref<2xf32>
  linalg.fill %0, 2.5
  %1 = async.value %0
  %2 = async.runtime.error_value "no value" : memref<2xf32>
  %3 = async.runtime.error "no token"
  %4 = memref.alloc() : memref<2xf32>
  linalg.copy %0, %4
  return %1, %2, %3, %4
}`, "values", jit.DefaultOptions())
	results, err := execute(t, exec)
	require.NoError(t, err)

	output, err := async.Get[*tensors.Dense](results.At(0))
	require.NoError(t, err)
	assert.Equal(t, []float32{2.5, 2.5}, tensors.MustCopyFlat[float32](output))

	_, err = results.At(1).Await()
	assert.True(t, errors.Is(err, jit.ErrUpstreamAsync))
	assert.Contains(t, err.Error(), "no value")
	_, err = results.At(2).Await()
	assert.True(t, errors.Is(err, jit.ErrUpstreamAsync))
	assert.Contains(t, err.Error(), "no token")

	copied, err := async.Get[*tensors.Dense](results.At(3))
	require.NoError(t, err)
	assert.Equal(t, []float32{2.5, 2.5}, tensors.MustCopyFlat[float32](copied))
}

func TestCompile_Alignment(t *testing.T) {
	exec := compile(t, `
func @alloc() -> memref<3x5xf32> {
  %0 = memref.alloc() : memref<3x5xf32>
  return %0
}`, "alloc", jit.Options{Alignment: 256})
	results, err := execute(t, exec)
	require.NoError(t, err)
	output, err := async.Get[*tensors.Dense](results.At(0))
	require.NoError(t, err)
	assert.Zero(t, uintptr(output.Base())%256)
	assert.Equal(t, make([]float32, 15), tensors.MustCopyFlat[float32](output))
}

func TestCompile_Errors(t *testing.T) {
	const addModule = `
func @add(%a: memref<2xf32>, %b: memref<2xf32>) -> memref<2xf32> {
  %0 = arith.addf %a, %b
  return %0
}`
	for name, tc := range map[string]struct {
		module, entrypoint string
		opts               jit.Options
	}{
		"syntax":            {"func @f( {\n}\n", "f", jit.Options{}},
		"missing entry":     {addModule, "sub", jit.Options{}},
		"illegal dialect":   {addModule, "add", jit.Options{Dialects: []string{"memref", "async"}}},
		"unknown pass":      {addModule, "add", jit.Options{Pipeline: []string{"verify", "fuse"}}},
		"use before def":    {"func @f() -> memref<2xf32> {\n  return %0\n}\n", "f", jit.Options{}},
		"missing return":    {"func @f() {\n  %0 = async.execute\n}\n", "f", jit.Options{}},
		"wrong result type": {"func @f() -> memref<3xf32> {\n  %0 = memref.alloc() : memref<2xf32>\n  return %0\n}\n", "f", jit.Options{}},
		"wrong arity":       {"func @f() -> (!async.token, !async.token) {\n  %0 = async.execute\n  return %0\n}\n", "f", jit.Options{}},
		"integer fill":      {"func @f(%a: memref<2xi32>) {\n  linalg.fill %a, 1\n  return\n}\n", "f", jit.Options{}},
		"dynamic alloc":     {"func @f() {\n  %0 = memref.alloc() : memref<?xf32>\n  return\n}\n", "f", jit.Options{}},
		"redefinition":      {"func @f(%a: memref<2xf32>) {\n  %a = memref.alloc_like %a\n  return\n}\n", "f", jit.Options{}},
		"mismatched add":    {"func @f(%a: memref<2xf32>, %b: memref<3xf32>) {\n  %0 = arith.addf %a, %b\n  return\n}\n", "f", jit.Options{}},
	} {
		tc.opts.Compiler = Name
		_, err := jit.Compile([]byte(tc.module), tc.entrypoint, tc.opts)
		require.Error(t, err, "case %q", name)
		assert.True(t, errors.Is(err, jit.ErrCompilation), "case %q: %v", name, err)
	}

	_, err := jit.Compile([]byte("func @f(%a: f32) {\n  return\n}\n"), "f", jit.Options{Compiler: Name})
	require.Error(t, err)
	assert.True(t, errors.Is(err, jit.ErrCompilation))
	assert.True(t, errors.Is(err, jit.ErrOperandTypeMismatch))
}

func TestCanonicalize(t *testing.T) {
	module := must.M1(ir.Parse([]byte(`
func @f(%a: memref<2xf32>) -> memref<2xf32> {
  %0 = memref.alloc_like %a
  %1 = arith.addf %0, %a
  %2 = memref.alloc() : memref<2xf32>
  linalg.fill %2, 1
  return %a
}`)))
	fn := module.Func("f")

	// Optimization level 0 doesn't canonicalize.
	require.NoError(t, runPipeline(fn, jit.Options{Pipeline: jit.DefaultPipeline, OptLevel: 0}))
	assert.Len(t, fn.Body, 5)

	// %1 is unused, and then so is %0. %2 is used by the fill.
	require.NoError(t, runPipeline(fn, jit.Options{Pipeline: jit.DefaultPipeline, OptLevel: 2}))
	require.Len(t, fn.Body, 3)
	assert.Equal(t, ir.OpAlloc, fn.Body[0].Code)
	assert.Equal(t, ir.OpFill, fn.Body[1].Code)
	assert.Equal(t, ir.OpReturn, fn.Body[2].Code)
}

func TestFinalize(t *testing.T) {
	opts := jit.DefaultOptions()
	opts.Compiler = Name
	opts.WorkQueue = host.NewHostContext(2)
	exec, err := jit.Compile([]byte("func @f() -> !async.token {\n  %0 = async.execute\n  return %0\n}\n"), "f", opts)
	require.NoError(t, err)
	results, err := execute(t, exec)
	require.NoError(t, err)
	exec.Finalize()
	// Pending asynchronous work is done once finalized.
	assert.True(t, results.At(0).IsAvailable())

	results, err = execute(t, exec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "finalized")
	assert.Error(t, results.At(0).Err())
}
