// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package kernels exposes compilation and execution of JIT modules as runtime kernels operating on host
// tensors and asynchronous values.
//
// A Runtime compiles a CompilationUnit once per call site (and module content), caching the executable,
// and executes it on *tensors.Dense operands, returning one *async.Value per declared result.
package kernels

import (
	"runtime"

	"github.com/gomlx/jitrt/pkg/async"
	"github.com/gomlx/jitrt/pkg/core/tensors"
	"github.com/gomlx/jitrt/pkg/host"
	"github.com/gomlx/jitrt/pkg/jit"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// CompilationUnit is a module to compile, with the symbols it exports.
// Exactly one nested symbol is supported: the entry function.
type CompilationUnit struct {
	Module        []byte
	NestedSymbols []string
}

// EntryPoint returns the name of the entry function, or an ErrCompilation error if the unit doesn't
// export exactly one symbol.
func (u CompilationUnit) EntryPoint() (string, error) {
	if len(u.NestedSymbols) != 1 {
		return "", errors.Wrapf(jit.ErrCompilation, "compilation unit must export exactly one symbol, got %d (%v)",
			len(u.NestedSymbols), u.NestedSymbols)
	}
	return u.NestedSymbols[0], nil
}

// Runtime compiles and executes compilation units, caching executables.
type Runtime struct {
	cache   *jit.Cache
	options jit.Options

	// KeyByCallSiteOnly makes the cache key depend only on the call site of Compile, ignoring
	// the contents of the compilation unit. Different units compiled from the same call site then
	// share one executable.
	KeyByCallSiteOnly bool
}

// NewRuntime creates a Runtime that caches executables in cache and compiles with options.
// If cache is nil a new one is created. Use jit.DefaultOptions for the default optimization level:
// the zero jit.Options doesn't optimize.
func NewRuntime(cache *jit.Cache, options jit.Options) *Runtime {
	if cache == nil {
		cache = jit.NewCache()
	}
	return &Runtime{cache: cache, options: options}
}

// Cache used by the runtime.
func (r *Runtime) Cache() *jit.Cache { return r.cache }

// Key returns the cache key of unit compiled at execCtx's location.
func (r *Runtime) Key(unit CompilationUnit, execCtx *host.ExecutionContext) uint64 {
	location := uint64(execCtx.Location().Data)
	if r.KeyByCallSiteOnly {
		return location
	}
	var entrypoint string
	if len(unit.NestedSymbols) > 0 {
		entrypoint = unit.NestedSymbols[0]
	}
	return jit.CombineKeys(location, jit.Fingerprint(unit.Module, entrypoint))
}

// Compile returns the executable for unit, compiling it if it's not cached yet.
//
// Unless the runtime options set them, the compiled code enqueues its asynchronous work on the host of
// the request that compiles it, using as many worker threads as the host has. HostContext.Quiesce
// then waits for that work.
func (r *Runtime) Compile(unit CompilationUnit, execCtx *host.ExecutionContext) (*jit.Executable, error) {
	if err := execCtx.Request().CancelError(); err != nil {
		return nil, err
	}
	entrypoint, err := unit.EntryPoint()
	if err != nil {
		return nil, err
	}
	key := r.Key(unit, execCtx)
	return r.cache.GetOrCompile(key, func() (*jit.Executable, error) {
		opts := r.options
		if opts.WorkQueue == nil {
			opts.WorkQueue = execCtx.Host()
		}
		if opts.NumWorkerThreads == 0 {
			opts.NumWorkerThreads = execCtx.Host().NumWorkerThreads()
		}
		klog.V(1).Infof("kernels: compiling @%s for %s (request %s)", entrypoint, execCtx.Location(), execCtx.Request().ID())
		return jit.Compile(unit.Module, entrypoint, opts)
	})
}

// Execute exec with the given operands, and returns one async value per declared result.
//
// Results that hold buffers resolve to *tensors.Dense, tokens resolve to async.Chain. Failures are
// delivered as errors in the results: the returned error is only informative, and is the first error
// encountered. The operands are kept alive until every result is available.
func (r *Runtime) Execute(exec *jit.Executable, operands []*tensors.Dense, execCtx *host.ExecutionContext) ([]*async.Value, error) {
	results := jit.NewResults(exec.NumResults())
	if err := execCtx.Request().CancelError(); err != nil {
		jit.EmitErrors(results, err)
		return results.Values(), err
	}

	signature := exec.Signature()
	if len(operands) != signature.NumInputs() {
		err := errors.Wrapf(jit.ErrOperandCountMismatch, "calling %q: expected %d operands, got %d",
			exec.Name(), signature.NumInputs(), len(operands))
		jit.EmitErrors(results, err)
		return results.Values(), err
	}
	descs := make([]jit.MemrefDesc, len(operands))
	for ii, operand := range operands {
		desc, err := jit.ConvertTensorToMemrefDesc(signature.Inputs[ii], operand)
		if err != nil {
			err = errors.WithMessagef(err, "calling %q: operand #%d", exec.Name(), ii)
			jit.EmitErrors(results, err)
			return results.Values(), err
		}
		descs[ii] = desc
	}

	converter := jit.NewReturnValueConverter(results)
	converter.AddConversion(jit.ReturnMemrefAsDenseTensor())
	converter.AddConversion(jit.ReturnAsyncMemrefAsDenseTensor())
	converter.AddConversion(jit.ReturnAsyncToken())
	err := exec.Execute(descs, converter, execCtx)

	values := results.Values()
	async.RunWhenReady(values, func() {
		runtime.KeepAlive(operands)
	})
	return values, err
}
