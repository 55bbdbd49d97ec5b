// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package jit

import (
	"fmt"

	"github.com/gomlx/jitrt/pkg/host"
	"github.com/pkg/errors"
)

// Error kinds. Errors returned (or delivered as results) by this package wrap one of these, and can be
// checked with errors.Is.
var (
	// ErrCompilation is returned when a module can't be compiled, including when its entry function
	// signature is not supported.
	ErrCompilation = errors.New("compilation failed")

	// ErrOperandCountMismatch is returned when the number of operands doesn't match the signature.
	ErrOperandCountMismatch = errors.New("operand count mismatch")

	// ErrOperandTypeMismatch is returned when an operand doesn't match its declared type.
	ErrOperandTypeMismatch = errors.New("operand type mismatch")

	// ErrUnsupportedResultRank is returned for returned buffers with a rank larger than MaxResultRank.
	ErrUnsupportedResultRank = errors.New("unsupported returned memref rank")

	// ErrUnsupportedResultElementType is returned for returned buffers with an element type the conversion
	// doesn't support.
	ErrUnsupportedResultElementType = errors.New("unsupported returned memref element type")

	// ErrUnsupportedResultKind is returned when no conversion handles the type of result.
	ErrUnsupportedResultKind = errors.New("unsupported result type")

	// ErrUpstreamAsync is the kind of error delivered when an asynchronous value returned by the compiled
	// function resolved to an error. The upstream error is kept as its cause.
	ErrUpstreamAsync = errors.New("upstream asynchronous value failed")

	// ErrCancelled is the kind of error returned for cancelled requests.
	ErrCancelled = host.ErrCancelled
)

// kindError attaches an error kind to a cause that may already carry a different kind.
// errors.Is matches both the kind and anything in the cause chain.
type kindError struct {
	kind  error
	msg   string
	cause error
}

func withKind(kind, cause error, format string, args ...any) error {
	return &kindError{kind: kind, msg: fmt.Sprintf(format, args...), cause: cause}
}

func (e *kindError) Error() string {
	return e.kind.Error() + ": " + e.msg + ": " + e.cause.Error()
}

func (e *kindError) Is(target error) bool { return target == e.kind }

func (e *kindError) Unwrap() error { return e.cause }

// Cause implements the github.com/pkg/errors causer interface.
func (e *kindError) Cause() error { return e.cause }
