// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package jit

import (
	"github.com/gomlx/jitrt/pkg/core/types"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ConversionFn converts the value in a result slot of type t into result #index of results.
//
// It returns false if it doesn't handle values of type t, in which case it must not touch results.
// If it returns true, it must have set result #index, possibly to an error or to a placeholder
// resolved later.
type ConversionFn func(results *Results, index int, t types.Type, slot ResultSlot) bool

// ReturnValueConverter converts the values returned by an entry function into results, trying
// an ordered list of conversions.
type ReturnValueConverter struct {
	results     *Results
	conversions []ConversionFn
}

// NewReturnValueConverter creates a converter with no conversions that outputs to results.
func NewReturnValueConverter(results *Results) *ReturnValueConverter {
	return &ReturnValueConverter{results: results}
}

// NewDefaultReturnValueConverter creates a converter that returns memrefs, async memrefs (of float32) and
// async tokens, as *tensors.Dense and async.Chain values.
func NewDefaultReturnValueConverter(results *Results) *ReturnValueConverter {
	c := NewReturnValueConverter(results)
	c.AddConversion(ReturnAsyncToken())
	c.AddConversion(ReturnAsyncMemrefAsDenseTensor())
	c.AddConversion(ReturnMemrefAsDenseTensor())
	return c
}

// Results returns the sink of the converter.
func (c *ReturnValueConverter) Results() *Results { return c.results }

// AddConversion adds a conversion. The most recently added conversion is tried first.
func (c *ReturnValueConverter) AddConversion(fn ConversionFn) {
	c.conversions = append([]ConversionFn{fn}, c.conversions...)
}

// ReturnValue converts result #index, of type t, from slot.
//
// It returns the error the result was set to, if the conversion itself failed. Upstream asynchronous
// failures (ErrUpstreamAsync) are only delivered in the result, even if already known. If no conversion
// handles t, or if the conversion handling it leaves it unset, the result is set to (and it returns) an
// ErrUnsupportedResultKind error.
func (c *ReturnValueConverter) ReturnValue(index int, t types.Type, slot ResultSlot) error {
	for _, fn := range c.conversions {
		if !fn(c.results, index, t, slot) {
			continue
		}
		v := c.results.At(index)
		if v == nil {
			err := errors.Wrapf(ErrUnsupportedResultKind,
				"result #%d of type %s: conversion reported it as handled but did not set it", index, t)
			klog.Warningf("jit: %v", err)
			c.results.EmitErrorAt(index, err)
			return err
		}
		if v.IsError() && !errors.Is(v.Err(), ErrUpstreamAsync) {
			return v.Err()
		}
		return nil
	}
	err := errors.Wrapf(ErrUnsupportedResultKind, "result #%d of type %s", index, t)
	klog.V(2).Infof("jit: %v", err)
	c.results.EmitErrorAt(index, err)
	return err
}

// EmitErrors sets every result not yet set to err.
func (c *ReturnValueConverter) EmitErrors(err error) {
	EmitErrors(c.results, err)
}
