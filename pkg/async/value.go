// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package async implements the asynchronous values the runtime hands to its callers.
//
// A Value starts unavailable and is resolved exactly once, either to a concrete value or to an error.
// Continuations registered with AndThen run when it resolves (or immediately, if it already has).
//
// Chain is the payload of values that only signal completion, the equivalent of an async token.
package async

import (
	"fmt"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// Chain is the payload of an asynchronous value that carries no data: it only signals completion (or an error).
type Chain struct{}

// outcome a Value resolves to. err is nil for values resolved with SetValue.
type outcome struct {
	value any
	err   error
}

// Value is a placeholder for a value or an error that becomes available at some point in the future.
//
// It is safe for concurrent use.
type Value struct {
	// done is closed once the outcome is set, after which the outcome never changes and can be
	// read without holding mu.
	done    chan struct{}
	outcome outcome

	mu      sync.Mutex
	waiters []func()
}

// NewUnavailable returns a Value that is yet to be resolved with SetValue or SetError.
func NewUnavailable() *Value {
	return &Value{done: make(chan struct{})}
}

// NewAvailable returns a Value already resolved to value.
func NewAvailable(value any) *Value {
	v := NewUnavailable()
	v.SetValue(value)
	return v
}

// NewError returns a Value already resolved to the given error.
func NewError(err error) *Value {
	v := NewUnavailable()
	v.SetError(err)
	return v
}

// NewChain returns a Value already resolved to Chain{}, that is, completed.
func NewChain() *Value {
	return NewAvailable(Chain{})
}

// SetValue resolves v to value and runs its continuations.
//
// It panics if v was already resolved.
func (v *Value) SetValue(value any) {
	v.resolve(outcome{value: value})
}

// SetError resolves v to err and runs its continuations.
//
// It panics if v was already resolved, or if err is nil.
func (v *Value) SetError(err error) {
	if err == nil {
		exceptions.Panicf("async.Value.SetError(nil)")
	}
	v.resolve(outcome{err: err})
}

func (v *Value) resolve(o outcome) {
	v.mu.Lock()
	if v.IsAvailable() {
		v.mu.Unlock()
		exceptions.Panicf("async.Value resolved twice (previous state %s)", v.describe())
	}
	v.outcome = o
	close(v.done)
	waiters := v.waiters
	v.waiters = nil
	v.mu.Unlock()

	for _, fn := range waiters {
		fn()
	}
}

// AndThen runs fn once v is resolved. If v is already resolved, fn runs immediately in the caller's goroutine.
// Otherwise, it runs in the goroutine that resolves v.
func (v *Value) AndThen(fn func()) {
	v.mu.Lock()
	if !v.IsAvailable() {
		v.waiters = append(v.waiters, fn)
		v.mu.Unlock()
		return
	}
	v.mu.Unlock()
	fn()
}

// IsAvailable returns whether v has been resolved, either to a value or to an error.
func (v *Value) IsAvailable() bool {
	select {
	case <-v.done:
		return true
	default:
		return false
	}
}

// IsError returns whether v has been resolved to an error.
func (v *Value) IsError() bool {
	return v.IsAvailable() && v.outcome.err != nil
}

// Err returns the error v resolved to, or nil if it is not resolved or resolved to a value.
func (v *Value) Err() error {
	if !v.IsAvailable() {
		return nil
	}
	return v.outcome.err
}

// Get returns the value or the error v resolved to.
// It returns an error if v is not yet available: use Await to block.
func (v *Value) Get() (any, error) {
	if !v.IsAvailable() {
		return nil, errors.New("async.Value not yet available")
	}
	return v.outcome.value, v.outcome.err
}

// Done returns a channel that is closed when v is resolved.
func (v *Value) Done() <-chan struct{} {
	return v.done
}

// Await blocks until v is resolved and returns its value or error.
func (v *Value) Await() (any, error) {
	<-v.done
	return v.outcome.value, v.outcome.err
}

// String implements fmt.Stringer.
func (v *Value) String() string {
	return fmt.Sprintf("async.Value(%s)", v.describe())
}

func (v *Value) describe() string {
	switch {
	case !v.IsAvailable():
		return "unavailable"
	case v.outcome.err != nil:
		return fmt.Sprintf("error: %v", v.outcome.err)
	default:
		return fmt.Sprintf("%T", v.outcome.value)
	}
}

// Get awaits for v and returns its value cast to T.
// It returns an error if v resolved to an error or to a value of a different type.
func Get[T any](v *Value) (T, error) {
	var zero T
	value, err := v.Await()
	if err != nil {
		return zero, err
	}
	t, ok := value.(T)
	if !ok {
		return zero, errors.Errorf("async.Value holds %T, not %T", value, zero)
	}
	return t, nil
}

// RunWhenReady runs fn once all values are resolved, in the goroutine that resolves the last of them
// (or immediately if they are all available).
func RunWhenReady(values []*Value, fn func()) {
	if len(values) == 0 {
		fn()
		return
	}
	var (
		mu        sync.Mutex
		remaining = len(values)
	)
	for _, v := range values {
		v.AndThen(func() {
			mu.Lock()
			remaining--
			last := remaining == 0
			mu.Unlock()
			if last {
				fn()
			}
		})
	}
}
