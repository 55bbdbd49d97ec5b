// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ir

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/jitrt/pkg/core/types"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Canonical(t *testing.T) {
	source, err := os.ReadFile(filepath.Join("testdata", "messy.mlir"))
	require.NoError(t, err)
	module, err := Parse(source)
	require.NoError(t, err)
	require.Len(t, module.Funcs, 2)

	main := module.Func("main")
	require.NotNil(t, main)
	assert.Equal(t, 3, main.Line)
	require.Len(t, main.Body, 11)
	assert.Equal(t, OpAlloc, main.Body[0].Code)
	assert.Equal(t, 1.5, main.Body[2].Value)
	assert.Equal(t, []string{"a", "1"}, main.Body[3].Operands)
	assert.Equal(t, `bad "value"`, main.Body[9].Message)
	assert.Equal(t, 15, main.Body[10].Line)
	assert.Equal(t,
		"(memref<4x4xf32>, memref<?xf32>) -> (memref<4x4xf32>, !async.token, !async.value<memref<4x4xf32>>)",
		main.Signature().String())
	assert.Nil(t, module.Func("missing"))

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "canonical", []byte(module.String()))

	// The canonical form parses back to itself.
	again, err := Parse([]byte(module.String()))
	require.NoError(t, err)
	assert.Equal(t, module.String(), again.String())
}

func TestParse_Errors(t *testing.T) {
	for name, source := range map[string]string{
		"unclosed function": "func @f() {\n  return\n",
		"unclosed module":   "module {\n",
		"op outside":        "%0 = memref.alloc() : memref<2xf32>\n",
		"unknown op":        "func @f() {\n  %0 = tensor.empty\n}\n",
		"missing result":    "func @f() {\n  arith.addf %a, %b\n}\n",
		"extra result":      "func @f() {\n  %0 = linalg.copy %a, %b\n}\n",
		"bad operand":       "func @f() {\n  %0 = arith.addf a, %b\n}\n",
		"bad fill value":    "func @f() {\n  linalg.fill %a, one\n}\n",
		"bad type":          "func @f(%a: memref<2xq7>) {\n}\n",
		"duplicate":         "func @f() {\n}\nfunc @f() {\n}\n",
		"unterminated":      "func @f() -> !async.token {\n  %0 = async.runtime.error \"oops\n}\n",
		"stray brace":       "}\n",
	} {
		_, err := Parse([]byte(source))
		assert.Error(t, err, "case %q", name)
	}

	_, err := Parse([]byte("func @f() {\n  return\n  %0 = async.exec\n}\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 3")
}

func TestOpCode(t *testing.T) {
	assert.Equal(t, "memref", OpAlloc.Dialect())
	assert.Equal(t, "async", OpAsyncErrorValue.Dialect())
	assert.Equal(t, "func", OpReturn.Dialect())
	assert.True(t, OpAddF.IsPure())
	assert.False(t, OpFill.IsPure())
	assert.False(t, OpCopy.HasResult())

	fn := &Func{Name: "f", Results: []types.Type{types.AsyncToken{}}}
	assert.Equal(t, "func @f() -> !async.token {\n}\n", fn.String())
}
