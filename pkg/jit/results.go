// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package jit

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/jitrt/pkg/async"
)

// Results is the sink of the results of one execution: one asynchronous value per declared result.
//
// Each result is set exactly once, either to an available value, an error or a placeholder that the
// conversion resolves later.
type Results struct {
	values []*async.Value
}

// NewResults creates a sink for n results, all unset.
func NewResults(n int) *Results {
	return &Results{values: make([]*async.Value, n)}
}

// Len returns the number of results.
func (r *Results) Len() int { return len(r.values) }

// Values returns the results. Unset results are nil.
func (r *Results) Values() []*async.Value { return r.values }

// At returns result #index, or nil if it is not set.
func (r *Results) At(index int) *async.Value { return r.values[index] }

func (r *Results) set(index int, v *async.Value) {
	if r.values[index] != nil {
		exceptions.Panicf("jit.Results: result #%d set more than once", index)
	}
	r.values[index] = v
}

// AllocateAt sets result #index to a new unavailable placeholder and returns it.
func (r *Results) AllocateAt(index int) *async.Value {
	v := async.NewUnavailable()
	r.set(index, v)
	return v
}

// EmplaceAt sets result #index to the available value.
func (r *Results) EmplaceAt(index int, value any) {
	r.set(index, async.NewAvailable(value))
}

// EmitErrorAt sets result #index to err.
func (r *Results) EmitErrorAt(index int, err error) {
	r.set(index, async.NewError(err))
}

// EmitErrors sets every result not yet set to err.
func EmitErrors(results *Results, err error) {
	for ii, v := range results.values {
		if v == nil {
			results.values[ii] = async.NewError(err)
		}
	}
}
