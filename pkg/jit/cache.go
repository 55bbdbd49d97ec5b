// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package jit

import (
	"sync"

	"github.com/gomlx/jitrt/pkg/async"
	"k8s.io/klog/v2"
)

// Cache of compiled executables, keyed by an opaque integer.
//
// Compilation happens outside the cache lock: two callers missing the same key may both compile, but
// only the first executable inserted is retained and returned to both. There is no eviction: the
// owner calls Clear.
type Cache struct {
	mu      sync.Mutex
	entries map[uint64]*async.Value
}

// NewCache creates an empty Cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[uint64]*async.Value)}
}

// Find returns the handle to the executable for key, or nil if there is none.
// The handle resolves to an *Executable.
func (c *Cache) Find(key uint64) *async.Value {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[key]
}

// Insert exec under key and returns the handle to the retained executable for key.
//
// If there was already an executable for key, it is kept and exec is finalized.
func (c *Cache) Insert(key uint64, exec *Executable) *async.Value {
	c.mu.Lock()
	existing, found := c.entries[key]
	if !found {
		handle := async.NewAvailable(exec)
		c.entries[key] = handle
		c.mu.Unlock()
		klog.V(1).Infof("jit: cached %q (%s) under key 0x%x", exec.Name(), exec.ID(), key)
		return handle
	}
	c.mu.Unlock()
	klog.Warningf("jit: %q compiled concurrently for key 0x%x, discarding duplicate %s", exec.Name(), key, exec.ID())
	exec.Finalize()
	return existing
}

// GetOrCompile returns the executable for key, compiling it with compileFn (outside the lock) and inserting
// it if it is not in the cache. Compilation errors are not cached.
func (c *Cache) GetOrCompile(key uint64, compileFn func() (*Executable, error)) (*Executable, error) {
	handle := c.Find(key)
	if handle == nil {
		exec, err := compileFn()
		if err != nil {
			return nil, err
		}
		handle = c.Insert(key, exec)
	}
	return async.Get[*Executable](handle)
}

// Len returns the number of cached executables.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear removes all entries, and finalizes their executables.
// Executables handed out before must no longer be used.
func (c *Cache) Clear() {
	c.mu.Lock()
	entries := c.entries
	c.entries = make(map[uint64]*async.Value)
	c.mu.Unlock()
	for _, handle := range entries {
		handle.AndThen(func() {
			if exec, err := async.Get[*Executable](handle); err == nil {
				exec.Finalize()
			}
		})
	}
}
