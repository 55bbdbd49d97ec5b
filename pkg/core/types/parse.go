// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package types

import (
	"strconv"
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// elementTypeNames maps the IR element type mnemonics to dtypes.
var elementTypeNames = map[string]dtypes.DType{
	"i1":   dtypes.Bool,
	"i8":   dtypes.Int8,
	"i16":  dtypes.Int16,
	"i32":  dtypes.Int32,
	"i64":  dtypes.Int64,
	"ui8":  dtypes.Uint8,
	"ui16": dtypes.Uint16,
	"ui32": dtypes.Uint32,
	"ui64": dtypes.Uint64,
	"f16":  dtypes.Float16,
	"f32":  dtypes.Float32,
	"f64":  dtypes.Float64,
}

// ElementTypeName returns the IR mnemonic for the dtype (e.g.: "f32" for dtypes.Float32).
// For dtypes without a mnemonic it returns the dtype name.
func ElementTypeName(dtype dtypes.DType) string {
	for name, dt := range elementTypeNames {
		if dt == dtype {
			return name
		}
	}
	return dtype.String()
}

// ParseElementType parses an IR element type mnemonic, e.g.: "f32".
func ParseElementType(name string) (dtypes.DType, error) {
	dtype, found := elementTypeNames[name]
	if !found {
		return dtypes.InvalidDType, errors.Errorf("unknown element type %q", name)
	}
	return dtype, nil
}

// Parse a type in its textual notation, e.g.: "memref<4x?xf32>", "!async.token",
// "!async.value<memref<4xf32>>" or "f32".
func Parse(text string) (Type, error) {
	text = strings.TrimSpace(text)
	switch {
	case text == "!async.token":
		return AsyncToken{}, nil

	case strings.HasPrefix(text, "!async.value<"):
		inner, err := angleBody(text, "!async.value<")
		if err != nil {
			return nil, err
		}
		value, err := Parse(inner)
		if err != nil {
			return nil, errors.WithMessagef(err, "in %q", text)
		}
		return AsyncValue{Value: value}, nil

	case strings.HasPrefix(text, "memref<"):
		return parseMemRef(text)

	default:
		dtype, err := ParseElementType(text)
		if err != nil {
			return nil, errors.Errorf("unknown type %q", text)
		}
		return Scalar{DType: dtype}, nil
	}
}

// MustParse is like Parse, but panics on error. Used mostly for tests and static definitions.
func MustParse(text string) Type {
	t, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return t
}

// angleBody returns the text between prefix and the closing '>', which must be the last character.
func angleBody(text, prefix string) (string, error) {
	if !strings.HasSuffix(text, ">") {
		return "", errors.Errorf("missing closing '>' in type %q", text)
	}
	return text[len(prefix) : len(text)-1], nil
}

func parseMemRef(text string) (Type, error) {
	body, err := angleBody(text, "memref<")
	if err != nil {
		return nil, err
	}
	parts := strings.Split(body, "x")
	dtype, err := ParseElementType(parts[len(parts)-1])
	if err != nil {
		return nil, errors.WithMessagef(err, "in %q", text)
	}
	dims := make([]int64, 0, len(parts)-1)
	for _, part := range parts[:len(parts)-1] {
		if part == "?" {
			dims = append(dims, Dynamic)
			continue
		}
		dim, err := strconv.ParseInt(part, 10, 64)
		if err != nil || dim < 0 {
			return nil, errors.Errorf("invalid dimension %q in %q", part, text)
		}
		dims = append(dims, dim)
	}
	return MemRef{DType: dtype, Dims: dims}, nil
}
