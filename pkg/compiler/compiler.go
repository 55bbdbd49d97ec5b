// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package compiler implements the reference jit.Compiler for the textual modules of package ir.
//
// Functions are verified, optimized by the passes listed in jit.Options.Pipeline and lowered to a
// sequence of Go closures that follow the packed calling convention of jit.EntryFunc.
// Asynchronous operations run on jit.Options.WorkQueue, with at most jit.Options.NumWorkerThreads
// tasks of a program enqueued at a time; the rest, or all of them without a queue, run inline.
//
// Importing the package registers the compiler under the name "reference":
//
//	import _ "github.com/gomlx/jitrt/pkg/compiler"
package compiler

import (
	"runtime"

	"github.com/gomlx/jitrt/pkg/ir"
	"github.com/gomlx/jitrt/pkg/jit"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Name under which the compiler is registered.
const Name = "reference"

func init() {
	jit.RegisterCompiler(Name, New())
}

// Compiler implements jit.Compiler. It holds no state and is safe for concurrent use.
type Compiler struct{}

var _ jit.Compiler = (*Compiler)(nil)

// New returns a new reference Compiler.
func New() *Compiler {
	return &Compiler{}
}

// Compile implements jit.Compiler.
func (c *Compiler) Compile(module []byte, entrypoint string, opts jit.Options) (*jit.Compiled, error) {
	parsed, err := ir.Parse(module)
	if err != nil {
		return nil, errors.Wrapf(jit.ErrCompilation, "failed to parse module: %v", err)
	}
	fn := parsed.Func(entrypoint)
	if fn == nil {
		return nil, errors.Wrapf(jit.ErrCompilation, "entry point @%s not found in module", entrypoint)
	}
	if err := legalize(fn, opts); err != nil {
		return nil, err
	}
	if err := runPipeline(fn, opts); err != nil {
		return nil, err
	}
	env, err := inferTypes(fn)
	if err != nil {
		return nil, err
	}

	numWorkers := opts.NumWorkerThreads
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	prog, err := lower(fn, env, opts, numWorkers)
	if err != nil {
		return nil, err
	}
	klog.V(1).Infof("compiler: lowered @%s to %d instructions (%d registers, %d worker threads, work queue %t)",
		fn.Name, len(prog.instructions), prog.numRegisters, numWorkers, opts.WorkQueue != nil)
	return &jit.Compiled{
		Entry:     prog.entry,
		Signature: fn.Signature(),
		Context:   prog,
	}, nil
}
