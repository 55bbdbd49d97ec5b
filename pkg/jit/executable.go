// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package jit

import (
	"fmt"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/jitrt/pkg/core/types"
	"github.com/gomlx/jitrt/pkg/host"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Executable is a compiled entry function, ready to be executed.
//
// It is immutable after construction and safe for concurrent calls to Execute, which are not serialized.
type Executable struct {
	id        uuid.UUID
	name      string
	context   CompilationContext
	entry     EntryFunc
	signature types.FunctionType
	layout    ResultsMemoryLayout

	finalizeOnce sync.Once
}

// NewExecutable verifies the signature of the compiled entry function and builds the Executable that
// takes ownership of its compilation context.
//
// If the signature is not supported, the compilation context is finalized and an ErrCompilation error is returned.
func NewExecutable(name string, compiled *Compiled) (*Executable, error) {
	layout, err := VerifyEntrypointSignature(compiled.Signature)
	if err != nil {
		if compiled.Context != nil {
			compiled.Context.Finalize()
		}
		return nil, withKind(ErrCompilation, err, "entry point %q has an unsupported signature %s",
			name, compiled.Signature)
	}
	return &Executable{
		id:        uuid.New(),
		name:      name,
		context:   compiled.Context,
		entry:     compiled.Entry,
		signature: compiled.Signature,
		layout:    layout,
	}, nil
}

// ID uniquely identifies this executable, used to correlate log messages.
func (e *Executable) ID() uuid.UUID { return e.id }

// Name of the entry function.
func (e *Executable) Name() string { return e.name }

// Signature of the entry function.
func (e *Executable) Signature() types.FunctionType { return e.signature }

// Layout of the results buffer.
func (e *Executable) Layout() ResultsMemoryLayout { return e.layout }

// IsAsync returns whether any of the results is asynchronous.
func (e *Executable) IsAsync() bool { return e.layout.HasAsyncResults }

// NumResults returns the number of declared results.
func (e *Executable) NumResults() int { return e.signature.NumResults() }

// String implements fmt.Stringer.
func (e *Executable) String() string {
	return fmt.Sprintf("Executable(%q %s)", e.name, e.signature)
}

// Finalize releases the compilation context. The Executable can't be used afterward.
// It is safe to call more than once.
func (e *Executable) Finalize() {
	e.finalizeOnce.Do(func() {
		klog.V(1).Infof("jit: finalizing %q (%s)", e.name, e.id)
		if e.context != nil {
			e.context.Finalize()
		}
	})
}

// InitializeCallFrame verifies the operands and builds the call frame for one invocation.
// See BuildCallFrame.
func (e *Executable) InitializeCallFrame(operands []MemrefDesc) (*CallFrame, error) {
	frame, err := BuildCallFrame(e.signature, e.layout, operands)
	if err != nil {
		return nil, errors.WithMessagef(err, "calling %q", e.name)
	}
	return frame, nil
}

// ReturnResults converts every result in the frame with converter, in declaration order.
//
// A conversion failure only affects its own result: the others are still converted.
// It returns the first conversion error, if any.
func (e *Executable) ReturnResults(converter *ReturnValueConverter, frame *CallFrame) error {
	var firstErr error
	for ii, t := range e.signature.Results {
		kind, _ := SlotKindFor(t)
		slot := NewResultSlot(kind, frame.resultSlot(e.layout.Offsets[ii]))
		if err := converter.ReturnValue(ii, t, slot); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Execute the entry function with the given operands: results are delivered through converter, one per
// declared result, even in case of failure.
//
// If execCtx is not nil and its request was cancelled, every result is set to an ErrCancelled error and the
// entry function is not invoked. The same happens if the operands don't match the signature, with the
// verification error. If the entry function panics, every result not yet set is set to the panic error.
//
// Operands must remain valid until every asynchronous result is available.
func (e *Executable) Execute(operands []MemrefDesc, converter *ReturnValueConverter, execCtx *host.ExecutionContext) error {
	if execCtx != nil {
		if err := execCtx.Request().CancelError(); err != nil {
			converter.EmitErrors(err)
			return err
		}
	}
	frame, err := e.InitializeCallFrame(operands)
	if err != nil {
		converter.EmitErrors(err)
		return err
	}
	if klog.V(2).Enabled() {
		klog.Infof("jit: executing %q (%s) with %d operands, %s of results",
			e.name, e.id, len(operands), humanize.Bytes(uint64(e.layout.Size)))
	}
	if exception := exceptions.Try(func() { e.entry(frame.Args) }); exception != nil {
		err, ok := exception.(error)
		if !ok {
			err = errors.Errorf("%v", exception)
		}
		err = errors.WithMessagef(err, "entry function %q panicked", e.name)
		converter.EmitErrors(err)
		return err
	}
	return e.ReturnResults(converter, frame)
}
