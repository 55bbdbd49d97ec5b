// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package host holds the runtime contexts kernels execute in: the HostContext (shared worker threads),
// the RequestContext (one per request, can be cancelled) and the ExecutionContext (a request plus
// the location of the call site).
package host

import (
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gomlx/jitrt/internal/workerspool"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ErrCancelled is returned (wrapped) by operations attempted on a cancelled request.
var ErrCancelled = errors.New("request cancelled")

// HostContext owns the worker threads shared by all requests.
type HostContext struct {
	pool *workerspool.Pool
}

// NewHostContext creates a HostContext with numWorkerThreads workers.
// If numWorkerThreads <= 0, it uses runtime.NumCPU().
func NewHostContext(numWorkerThreads int) *HostContext {
	if numWorkerThreads <= 0 {
		numWorkerThreads = runtime.NumCPU()
	}
	return &HostContext{pool: workerspool.New(numWorkerThreads)}
}

// NumWorkerThreads returns the number of worker threads of the host.
func (h *HostContext) NumWorkerThreads() int {
	return h.pool.MaxParallelism()
}

// EnqueueWork schedules work to run on one of the host's worker threads. It never blocks.
func (h *HostContext) EnqueueWork(work func()) {
	h.pool.Submit(work)
}

// Quiesce blocks until all enqueued work has finished.
func (h *HostContext) Quiesce() {
	h.pool.Wait()
}

// RequestContext identifies one request. It can be cancelled at any time, from any goroutine.
type RequestContext struct {
	id     uuid.UUID
	host   *HostContext
	cancel atomic.Pointer[error]
}

// NewRequestContext creates a new request running on host.
func NewRequestContext(host *HostContext) *RequestContext {
	return &RequestContext{id: uuid.New(), host: host}
}

// ID of the request.
func (r *RequestContext) ID() uuid.UUID { return r.id }

// Host of the request.
func (r *RequestContext) Host() *HostContext { return r.host }

// Cancel the request with the given reason. Only the first call has an effect.
func (r *RequestContext) Cancel(reason string) {
	err := errors.Wrapf(ErrCancelled, "request %s: %s", r.id, reason)
	if r.cancel.CompareAndSwap(nil, &err) {
		klog.V(1).Infof("request %s cancelled: %s", r.id, reason)
	}
}

// IsCancelled returns whether Cancel was called.
func (r *RequestContext) IsCancelled() bool {
	return r.cancel.Load() != nil
}

// CancelError returns the error the request was cancelled with, or nil if it was not cancelled.
// The returned error matches ErrCancelled with errors.Is.
func (r *RequestContext) CancelError() error {
	errPtr := r.cancel.Load()
	if errPtr == nil {
		return nil
	}
	return *errPtr
}

// Location identifies a call site. Two executions from the same call site have the same Location.
type Location struct {
	Data uintptr
}

// CallSite returns the Location of the caller, skipping skip extra frames (0 is the function calling CallSite).
func CallSite(skip int) Location {
	var pcs [1]uintptr
	if runtime.Callers(skip+2, pcs[:]) == 0 {
		return Location{}
	}
	return Location{Data: pcs[0]}
}

// String implements fmt.Stringer, resolving the location to a file and line when possible.
func (l Location) String() string {
	if l.Data == 0 {
		return "<unknown location>"
	}
	frames := runtime.CallersFrames([]uintptr{l.Data})
	frame, _ := frames.Next()
	if frame.File == "" {
		return fmt.Sprintf("<pc 0x%x>", l.Data)
	}
	return fmt.Sprintf("%s:%d", frame.File, frame.Line)
}

// ExecutionContext is the context of one kernel invocation: the request and the call site.
type ExecutionContext struct {
	request  *RequestContext
	location Location
}

// NewExecutionContext creates an ExecutionContext for request at the given location.
func NewExecutionContext(request *RequestContext, location Location) *ExecutionContext {
	return &ExecutionContext{request: request, location: location}
}

// Here creates an ExecutionContext for request, located at the caller's call site.
func Here(request *RequestContext) *ExecutionContext {
	return NewExecutionContext(request, CallSite(1))
}

// Request returns the request of the execution.
func (e *ExecutionContext) Request() *RequestContext { return e.request }

// Host returns the host of the request.
func (e *ExecutionContext) Host() *HostContext { return e.request.host }

// Location returns the call site of the execution.
func (e *ExecutionContext) Location() Location { return e.location }
