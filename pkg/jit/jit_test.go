// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package jit

import (
	"sync/atomic"
	"testing"
	"unsafe"

	"github.com/gomlx/jitrt/pkg/core/types"
	"github.com/stretchr/testify/require"
)

// countingContext counts calls to Finalize.
type countingContext struct {
	finalized atomic.Int32
}

func (c *countingContext) Finalize() { c.finalized.Add(1) }

// signature builds a FunctionType from the textual types.
func signature(inputs []string, results []string) types.FunctionType {
	var sig types.FunctionType
	for _, input := range inputs {
		sig.Inputs = append(sig.Inputs, types.MustParse(input))
	}
	for _, result := range results {
		sig.Results = append(sig.Results, types.MustParse(result))
	}
	return sig
}

func parseType(text string) types.Type { return types.MustParse(text) }

// newTestExecutable builds an Executable for entry, as if it had been compiled.
func newTestExecutable(t *testing.T, sig types.FunctionType, entry EntryFunc) (*Executable, *countingContext) {
	ctx := &countingContext{}
	exec, err := NewExecutable(t.Name(), &Compiled{Entry: entry, Signature: sig, Context: ctx})
	require.NoError(t, err)
	return exec, ctx
}

// unpackMemrefs reads operands of the given ranks and returns them with the remaining args (the result slots).
func unpackMemrefs(args []unsafe.Pointer, ranks ...int) ([]*MemrefDesc, []unsafe.Pointer) {
	descs := make([]*MemrefDesc, len(ranks))
	for ii, rank := range ranks {
		var desc MemrefDesc
		desc, args = UnpackMemref(args, rank)
		descs[ii] = &desc
	}
	return descs, args
}
