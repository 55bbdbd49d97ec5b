// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package jit bridges JIT-compiled entry functions and the asynchronous runtime.
//
// A module is compiled by a registered Compiler into an Executable. Executing it:
//
//  1. Builds a CallFrame from the operand descriptors (MemrefDesc), after verifying them
//     against the signature. On failure every result is set to the error and nothing runs.
//  2. Invokes the entry function with the packed arguments: it writes one pointer per result into
//     the results buffer, whose layout (ResultsMemoryLayout) is computed once at compile time.
//  3. Converts each result slot with a ReturnValueConverter, trying its conversions from the
//     most recently added. The built-in conversions return memrefs (of rank up to MaxResultRank),
//     async memrefs and async tokens.
//
// Compiled executables are kept in a Cache, keyed by an opaque integer chosen by the caller.
//
// Example:
//
//	exec, err := jit.Compile(module, "main", jit.DefaultOptions())
//	if err != nil { ... }
//	results := jit.NewResults(exec.NumResults())
//	err = exec.Execute(operands, jit.NewDefaultReturnValueConverter(results), nil)
package jit
