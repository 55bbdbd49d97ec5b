// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/gomlx/jitrt/pkg/core/tensors"
	"github.com/gomlx/jitrt/pkg/ir"
	"github.com/gomlx/jitrt/pkg/jit"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const twoFuncs = `
func @first(%a: memref<2x?xf32>, %b: memref<3xi32>) -> memref<2x?xf32> {
  return %a
}

func @second() {
  return
}
`

func TestSelectFunc(t *testing.T) {
	module := must.M1(ir.Parse([]byte(twoFuncs)))
	_, err := selectFunc(module, "")
	require.Error(t, err)
	fn, err := selectFunc(module, "second")
	require.NoError(t, err)
	assert.Equal(t, "second", fn.Name)
	_, err = selectFunc(module, "third")
	require.Error(t, err)

	single := must.M1(ir.Parse([]byte("func @only() {\n  return\n}\n")))
	fn, err = selectFunc(single, "")
	require.NoError(t, err)
	assert.Equal(t, "only", fn.Name)
}

func TestNewOperands(t *testing.T) {
	module := must.M1(ir.Parse([]byte(twoFuncs)))
	operands, err := newOperands(module.Func("first").Signature(), 32)
	require.NoError(t, err)
	require.Len(t, operands, 2)

	assert.Equal(t, []int64{2, *flagDynamicDim}, operands[0].Dims())
	assert.Zero(t, uintptr(operands[0].Base())%32)
	for _, v := range tensors.MustCopyFlat[float32](operands[0]) {
		assert.Equal(t, float32(*flagFill), v)
	}
	// Integer operands are left zeroed.
	assert.Equal(t, []int32{0, 0, 0}, tensors.MustCopyFlat[int32](operands[1]))
	assert.Equal(t, "12 B", bytesOf(operands[1]))
	assert.Equal(t, "abc", truncate("abc"))
}

func TestTruncate(t *testing.T) {
	ascii := strings.Repeat("x", 70)
	assert.Equal(t, strings.Repeat("x", 57)+"...", truncate(ascii))

	// Multi-byte characters are never split.
	accented := strings.Repeat("é", 70)
	got := truncate(accented)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, maxValueWidth, utf8.RuneCountInString(got))
	assert.Equal(t, strings.Repeat("é", 57)+"...", got)
	fits := strings.Repeat("é", maxValueWidth)
	assert.Equal(t, fits, truncate(fits))
}

func TestLoadOptions(t *testing.T) {
	opts, err := loadOptions("", "")
	require.NoError(t, err)
	assert.Equal(t, jit.DefaultOptions().OptLevel, opts.OptLevel)

	path := filepath.Join(t.TempDir(), "options.yaml")
	require.NoError(t, os.WriteFile(path, []byte("opt_level: 1\ncompiler: reference\n"), 0o644))
	opts, err = loadOptions(path, "other")
	require.NoError(t, err)
	assert.Equal(t, 1, opts.OptLevel)
	assert.Equal(t, "other", opts.Compiler)

	// Errors are returned, not panicked.
	_, err = loadOptions(filepath.Join(t.TempDir(), "missing.yaml"), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "-options")

	require.NoError(t, os.WriteFile(path, []byte("opt_levle: 1\n"), 0o644))
	_, err = loadOptions(path, "")
	require.Error(t, err)
}
