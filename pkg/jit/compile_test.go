// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package jit

import (
	"testing"
	"unsafe"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCompiler "compiles" any module to an identity function over memref<2xf32>, unless the entry point is
// named "fail" or "unsupported".
type fakeCompiler struct {
	lastOptions Options
	context     *countingContext
}

func (c *fakeCompiler) Compile(module []byte, entrypoint string, opts Options) (*Compiled, error) {
	c.lastOptions = opts
	c.context = &countingContext{}
	switch entrypoint {
	case "fail":
		return nil, errors.New("syntax error at line 1")
	case "unsupported":
		return &Compiled{
			Entry:     func([]unsafe.Pointer) {},
			Signature: signature([]string{"f32"}, nil),
			Context:   c.context,
		}, nil
	}
	return &Compiled{
		Entry:     identityEntry(1),
		Signature: signature([]string{"memref<2xf32>"}, []string{"memref<2xf32>"}),
		Context:   c.context,
	}, nil
}

func TestCompile(t *testing.T) {
	fake := &fakeCompiler{}
	RegisterCompiler("fake", fake)
	assert.Contains(t, RegisteredCompilers(), "fake")

	opts := Options{Compiler: "fake", NumWorkerThreads: 3}
	exec, err := Compile([]byte("module"), "main", opts)
	require.NoError(t, err)
	assert.Equal(t, "main", exec.Name())
	assert.Equal(t, DefaultAlignment, fake.lastOptions.Alignment, "defaults should be filled in")
	assert.Equal(t, 3, fake.lastOptions.NumWorkerThreads)
	assert.Equal(t, 1, exec.NumResults())
	exec.Finalize()
	assert.Equal(t, int32(1), fake.context.finalized.Load())

	_, err = Compile([]byte("module"), "fail", opts)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCompilation))
	assert.Contains(t, err.Error(), "syntax error")

	// Unsupported signatures are compilation errors, and the context is released.
	_, err = Compile([]byte("module"), "unsupported", opts)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCompilation))
	assert.True(t, errors.Is(err, ErrOperandTypeMismatch))
	assert.Equal(t, int32(1), fake.context.finalized.Load())

	_, err = Compile([]byte("module"), "main", Options{Compiler: "missing"})
	assert.True(t, errors.Is(err, ErrCompilation))

	_, err = Compile([]byte("module"), "main", Options{Compiler: "fake", Alignment: 12})
	assert.True(t, errors.Is(err, ErrCompilation))
}
