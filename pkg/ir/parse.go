// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ir

import (
	"bufio"
	"bytes"
	"strconv"
	"strings"

	"github.com/gomlx/jitrt/pkg/core/types"
	"github.com/pkg/errors"
)

// Parse a module from its textual form.
func Parse(source []byte) (*Module, error) {
	p := &parser{}
	scanner := bufio.NewScanner(bytes.NewReader(source))
	for scanner.Scan() {
		p.lineNum++
		if err := p.parseLine(scanner.Text()); err != nil {
			return nil, errors.WithMessagef(err, "line %d", p.lineNum)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read module")
	}
	if p.fn != nil {
		return nil, errors.Errorf("function @%s (line %d) is not closed", p.fn.Name, p.fn.Line)
	}
	if p.inModule {
		return nil, errors.New("module is not closed")
	}
	return &p.module, nil
}

type parser struct {
	module   Module
	lineNum  int
	inModule bool
	fn       *Func
}

func (p *parser) parseLine(line string) error {
	line = strings.TrimSpace(stripComment(line))
	switch {
	case line == "":
		return nil
	case line == "module {":
		if p.inModule || p.fn != nil || len(p.module.Funcs) > 0 {
			return errors.New("unexpected module")
		}
		p.inModule = true
		return nil
	case line == "}":
		if p.fn != nil {
			p.module.Funcs = append(p.module.Funcs, p.fn)
			p.fn = nil
			return nil
		}
		if p.inModule {
			p.inModule = false
			return nil
		}
		return errors.New("unexpected '}'")
	case strings.HasPrefix(line, "func "):
		if p.fn != nil {
			return errors.Errorf("nested function definition inside @%s", p.fn.Name)
		}
		fn, err := parseFuncHeader(line)
		if err != nil {
			return err
		}
		if p.module.Func(fn.Name) != nil {
			return errors.Errorf("function @%s defined twice", fn.Name)
		}
		fn.Line = p.lineNum
		p.fn = fn
		return nil
	}
	if p.fn == nil {
		return errors.Errorf("operation outside of a function: %q", line)
	}
	op, err := parseOp(line)
	if err != nil {
		return err
	}
	op.Line = p.lineNum
	p.fn.Body = append(p.fn.Body, op)
	return nil
}

// stripComment removes a `//` comment, unless it is inside a quoted string.
func stripComment(line string) string {
	inQuotes := false
	for ii := 0; ii < len(line); ii++ {
		switch {
		case line[ii] == '\\' && inQuotes:
			ii++
		case line[ii] == '"':
			inQuotes = !inQuotes
		case !inQuotes && strings.HasPrefix(line[ii:], "//"):
			return line[:ii]
		}
	}
	return line
}

// parseFuncHeader parses `func @name(%a: T, ...) -> (T1, ...) {`.
func parseFuncHeader(line string) (*Func, error) {
	rest, ok := strings.CutSuffix(strings.TrimPrefix(line, "func "), "{")
	if !ok {
		return nil, errors.Errorf("function header must end with '{': %q", line)
	}
	rest = strings.TrimSpace(rest)
	if !strings.HasPrefix(rest, "@") {
		return nil, errors.Errorf("function name must start with '@': %q", line)
	}
	openIdx := strings.Index(rest, "(")
	closeIdx := strings.Index(rest, ")")
	if openIdx < 0 || closeIdx < openIdx {
		return nil, errors.Errorf("missing arguments list in %q", line)
	}
	fn := &Func{Name: rest[1:openIdx]}
	if !isIdentifier(fn.Name) {
		return nil, errors.Errorf("invalid function name %q", fn.Name)
	}
	for _, argText := range splitList(rest[openIdx+1 : closeIdx]) {
		name, typeText, found := strings.Cut(argText, ":")
		if !found {
			return nil, errors.Errorf("argument %q must be given as `%%name: type`", argText)
		}
		argName, err := parseValueName(strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}
		t, err := types.Parse(typeText)
		if err != nil {
			return nil, errors.WithMessagef(err, "argument %%%s", argName)
		}
		fn.Args = append(fn.Args, Arg{Name: argName, Type: t})
	}

	rest = strings.TrimSpace(rest[closeIdx+1:])
	if rest == "" {
		return fn, nil
	}
	resultsText, found := strings.CutPrefix(rest, "->")
	if !found {
		return nil, errors.Errorf("unexpected %q after arguments", rest)
	}
	resultsText = strings.TrimSpace(resultsText)
	if strings.HasPrefix(resultsText, "(") {
		inner, found := strings.CutSuffix(resultsText[1:], ")")
		if !found {
			return nil, errors.Errorf("missing ')' in results %q", resultsText)
		}
		resultsText = inner
	}
	for _, typeText := range splitList(resultsText) {
		t, err := types.Parse(typeText)
		if err != nil {
			return nil, errors.WithMessage(err, "in function results")
		}
		fn.Results = append(fn.Results, t)
	}
	return fn, nil
}

// splitList splits a comma separated list, trimming spaces. It returns nil for an empty list.
func splitList(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	parts := strings.Split(text, ",")
	for ii, part := range parts {
		parts[ii] = strings.TrimSpace(part)
	}
	return parts
}

func isIdentifier(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		if !(r == '_' || r == '.' || r == '$' || ('0' <= r && r <= '9') || ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z')) {
			return false
		}
	}
	return true
}

func parseValueName(text string) (string, error) {
	name, found := strings.CutPrefix(text, "%")
	if !found || !isIdentifier(name) {
		return "", errors.Errorf("invalid value name %q, values are written as %%name", text)
	}
	return name, nil
}

func parseOperands(text string, count int) ([]string, error) {
	parts := splitList(text)
	if len(parts) != count {
		return nil, errors.Errorf("expected %d operands, got %d in %q", count, len(parts), text)
	}
	operands := make([]string, count)
	for ii, part := range parts {
		name, err := parseValueName(part)
		if err != nil {
			return nil, err
		}
		operands[ii] = name
	}
	return operands, nil
}

// parseQuoted parses a leading quoted string, and returns it unquoted along with the remaining text.
func parseQuoted(text string) (string, string, error) {
	if !strings.HasPrefix(text, `"`) {
		return "", "", errors.Errorf("expected quoted message, got %q", text)
	}
	for ii := 1; ii < len(text); ii++ {
		switch text[ii] {
		case '\\':
			ii++
		case '"':
			msg, err := strconv.Unquote(text[:ii+1])
			if err != nil {
				return "", "", errors.Wrapf(err, "invalid quoted message %s", text[:ii+1])
			}
			return msg, strings.TrimSpace(text[ii+1:]), nil
		}
	}
	return "", "", errors.Errorf("unterminated quoted message %q", text)
}

// parseTypeSuffix parses `: T`.
func parseTypeSuffix(text string) (types.Type, error) {
	typeText, found := strings.CutPrefix(strings.TrimSpace(text), ":")
	if !found {
		return nil, errors.Errorf("expected `: type`, got %q", text)
	}
	return types.Parse(typeText)
}

func parseOp(line string) (*Op, error) {
	op := &Op{}
	if strings.HasPrefix(line, "%") {
		lhs, rhs, found := strings.Cut(line, "=")
		if !found {
			return nil, errors.Errorf("expected `%%name = operation`, got %q", line)
		}
		name, err := parseValueName(strings.TrimSpace(lhs))
		if err != nil {
			return nil, err
		}
		op.Result = name
		line = strings.TrimSpace(rhs)
	}

	codeText, args, _ := strings.Cut(line, " ")
	args = strings.TrimSpace(args)
	if strings.HasPrefix(codeText, string(OpAlloc)+"(") {
		// `memref.alloc()` is written without a space before the type.
		codeText, args = string(OpAlloc), strings.TrimSpace(strings.TrimPrefix(line, string(OpAlloc)))
	}
	op.Code = OpCode(codeText)
	if op.Code.HasResult() != (op.Result != "") {
		if op.Result == "" {
			return nil, errors.Errorf("%s defines a value, it must be written as `%%name = %s ...`", op.Code, op.Code)
		}
		return nil, errors.Errorf("%s doesn't define a value", op.Code)
	}

	var err error
	switch op.Code {
	case OpAlloc:
		rest, found := strings.CutPrefix(args, "()")
		if !found {
			return nil, errors.Errorf("expected `memref.alloc() : type`, got %q", line)
		}
		op.Type, err = parseTypeSuffix(rest)
	case OpAllocLike, OpAsyncValue:
		op.Operands, err = parseOperands(args, 1)
	case OpFill:
		operand, valueText, found := strings.Cut(args, ",")
		if !found {
			return nil, errors.Errorf("expected `linalg.fill %%x, value`, got %q", line)
		}
		if op.Operands, err = parseOperands(operand, 1); err != nil {
			return nil, err
		}
		op.Value, err = strconv.ParseFloat(strings.TrimSpace(valueText), 64)
		if err != nil {
			err = errors.Wrapf(err, "invalid fill value %q", valueText)
		}
	case OpCopy, OpAddF, OpMulF:
		op.Operands, err = parseOperands(args, 2)
	case OpAsyncExecute:
		if args != "" {
			err = errors.Errorf("%s takes no operands, got %q", op.Code, args)
		}
	case OpAsyncError:
		var rest string
		op.Message, rest, err = parseQuoted(args)
		if err == nil && rest != "" {
			err = errors.Errorf("unexpected %q after message", rest)
		}
	case OpAsyncErrorValue:
		var rest string
		op.Message, rest, err = parseQuoted(args)
		if err == nil {
			op.Type, err = parseTypeSuffix(rest)
		}
	case OpReturn:
		parts := splitList(args)
		op.Operands, err = parseOperands(args, len(parts))
	default:
		return nil, errors.Errorf("unknown operation %q", codeText)
	}
	if err != nil {
		return nil, errors.WithMessagef(err, "parsing %s", op.Code)
	}
	return op, nil
}
