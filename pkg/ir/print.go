// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ir

import (
	"fmt"
	"io"
	"strconv"
	"strings"
)

// String returns the canonical textual form of the module, which Parse reads back.
func (m *Module) String() string {
	var sb strings.Builder
	_ = m.Write(&sb)
	return sb.String()
}

// Write the canonical textual form of the module to w.
func (m *Module) Write(w io.Writer) error {
	for ii, fn := range m.Funcs {
		if ii > 0 {
			if _, err := io.WriteString(w, "\n"); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(w, fn.String()); err != nil {
			return err
		}
	}
	return nil
}

// String returns the canonical textual form of the function.
func (f *Func) String() string {
	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "func @%s(", f.Name)
	for ii, arg := range f.Args {
		if ii > 0 {
			sb.WriteString(", ")
		}
		_, _ = fmt.Fprintf(&sb, "%%%s: %s", arg.Name, arg.Type)
	}
	sb.WriteString(")")
	switch len(f.Results) {
	case 0:
	case 1:
		_, _ = fmt.Fprintf(&sb, " -> %s", f.Results[0])
	default:
		sb.WriteString(" -> (")
		for ii, t := range f.Results {
			if ii > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(t.String())
		}
		sb.WriteString(")")
	}
	sb.WriteString(" {\n")
	for _, op := range f.Body {
		_, _ = fmt.Fprintf(&sb, "  %s\n", op)
	}
	sb.WriteString("}\n")
	return sb.String()
}

// String returns the canonical textual form of the operation.
func (op *Op) String() string {
	var sb strings.Builder
	if op.Result != "" {
		_, _ = fmt.Fprintf(&sb, "%%%s = ", op.Result)
	}
	sb.WriteString(string(op.Code))
	switch op.Code {
	case OpAlloc:
		_, _ = fmt.Fprintf(&sb, "() : %s", op.Type)
	case OpFill:
		_, _ = fmt.Fprintf(&sb, " %%%s, %s", op.Operands[0], strconv.FormatFloat(op.Value, 'g', -1, 64))
	case OpAsyncError:
		_, _ = fmt.Fprintf(&sb, " %s", strconv.Quote(op.Message))
	case OpAsyncErrorValue:
		_, _ = fmt.Fprintf(&sb, " %s : %s", strconv.Quote(op.Message), op.Type)
	default:
		for ii, operand := range op.Operands {
			if ii == 0 {
				sb.WriteString(" ")
			} else {
				sb.WriteString(", ")
			}
			sb.WriteString("%" + operand)
		}
	}
	return sb.String()
}
