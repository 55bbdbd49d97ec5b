// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package jit

import (
	"os"
	"sort"
	"unsafe"

	"github.com/gomlx/jitrt/pkg/core/types"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// EntryFunc is a compiled entry function. args is laid out as described in CallFrame: for each memref operand,
// pointers to its data pointer, offset, sizes and strides, followed by one pointer per result slot.
//
// Compiled code reads operands with UnpackMemref and writes results with StoreMemref and StoreAsync.
type EntryFunc func(args []unsafe.Pointer)

// CompilationContext owns the resources of a compiled module. The entry function is valid until Finalize is called.
type CompilationContext interface {
	Finalize()
}

// Compiled is the output of a Compiler.
type Compiled struct {
	Entry     EntryFunc
	Signature types.FunctionType
	Context   CompilationContext
}

// Compiler turns a serialized module into an entry function. Compile is called concurrently.
type Compiler interface {
	Compile(module []byte, entrypoint string, opts Options) (*Compiled, error)
}

var (
	registeredCompilers = make(map[string]Compiler)
	firstRegistered     string
)

// JITRT_COMPILER is the environment variable with the name of the default compiler.
const JITRT_COMPILER = "JITRT_COMPILER"

// RegisterCompiler with the given name. The first registered compiler is the default one, unless
// JITRT_COMPILER is set.
//
// To be safe, call RegisterCompiler during initialization of a package.
func RegisterCompiler(name string, compiler Compiler) {
	if len(registeredCompilers) == 0 {
		firstRegistered = name
	}
	registeredCompilers[name] = compiler
}

// RegisteredCompilers returns the names of the registered compilers, sorted.
func RegisteredCompilers() []string {
	names := make([]string, 0, len(registeredCompilers))
	for name := range registeredCompilers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// lookupCompiler returns the compiler with the given name, or the default one if name is empty.
func lookupCompiler(name string) (Compiler, error) {
	if len(registeredCompilers) == 0 {
		return nil, errors.Wrapf(ErrCompilation,
			`no registered compilers, maybe import the default one with import _ "github.com/gomlx/jitrt/pkg/compiler"?`)
	}
	if name == "" {
		if envName, found := os.LookupEnv(JITRT_COMPILER); found && envName != "" {
			name = envName
		} else {
			name = firstRegistered
		}
	}
	compiler, found := registeredCompilers[name]
	if !found {
		return nil, errors.Wrapf(ErrCompilation, "can't find compiler %q (registered: %v)", name, RegisteredCompilers())
	}
	return compiler, nil
}

// Compile module with the registered compiler selected by opts.Compiler, and returns the Executable
// for the entry point.
//
// All errors match ErrCompilation.
func Compile(module []byte, entrypoint string, opts Options) (*Executable, error) {
	compiler, err := lookupCompiler(opts.Compiler)
	if err != nil {
		return nil, err
	}
	return CompileWith(compiler, module, entrypoint, opts)
}

// CompileWith compiles module with the given compiler. See Compile.
func CompileWith(compiler Compiler, module []byte, entrypoint string, opts Options) (*Executable, error) {
	opts = opts.WithDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	compiled, err := compiler.Compile(module, entrypoint, opts)
	if err != nil {
		if errors.Is(err, ErrCompilation) {
			return nil, err
		}
		return nil, withKind(ErrCompilation, err, "entry point %q", entrypoint)
	}
	exec, err := NewExecutable(entrypoint, compiled)
	if err != nil {
		return nil, err
	}
	klog.V(1).Infof("jit: compiled %q (%s), %d bytes of module, signature %s",
		entrypoint, exec.ID(), len(module), exec.Signature())
	return exec, nil
}
