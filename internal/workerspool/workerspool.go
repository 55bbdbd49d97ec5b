// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package workerspool runs tasks on goroutines with a soft limit on parallelism.
//
// It is used by the host context to run asynchronous work and by compiled kernels to
// resolve the asynchronous values they return.
package workerspool

import (
	"runtime"
	"sync"
)

// Pool of workers.
//
// Tasks submitted when all workers are busy are queued (in FIFO order) and started as soon as
// a worker becomes available, so Submit never blocks the caller.
type Pool struct {
	// maxParallelism is the limit of tasks running at the same time.
	// If 0 tasks are run inline, if negative parallelism is unlimited.
	maxParallelism int

	mu         sync.Mutex
	idle       sync.Cond // Broadcast whenever numRunning and pending drop to zero.
	numRunning int
	pending    []func()
}

// New returns a new Pool with the given maxParallelism.
//
// If maxParallelism is 0, tasks are run inline by Submit.
// If maxParallelism is negative, parallelism is unlimited.
func New(maxParallelism int) *Pool {
	p := &Pool{maxParallelism: maxParallelism}
	p.idle = sync.Cond{L: &p.mu}
	return p
}

// NewDefault returns a Pool with parallelism set to runtime.NumCPU().
func NewDefault() *Pool {
	return New(runtime.NumCPU())
}

// MaxParallelism returns the limit of tasks running concurrently. See New.
func (p *Pool) MaxParallelism() int {
	return p.maxParallelism
}

// IsEnabled returns whether parallelism is enabled (maxParallelism is != 0)
func (p *Pool) IsEnabled() bool {
	return p.maxParallelism != 0
}

// IsUnlimited returns whether parallelism is unlimited (maxParallelism < 0)
func (p *Pool) IsUnlimited() bool {
	return p.maxParallelism < 0
}

// lockedIsFull returns whether all available workers are in use.
//
// It must be called with Pool.mu acquired.
func (p *Pool) lockedIsFull() bool {
	if p.maxParallelism < 0 {
		return false
	}
	return p.numRunning >= p.maxParallelism
}

// Submit schedules task to run.
//
// If parallelism is disabled (maxParallelism is 0) the task is run inline, and Submit only
// returns when it is finished.
func (p *Pool) Submit(task func()) {
	if !p.IsEnabled() {
		task()
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lockedIsFull() {
		p.pending = append(p.pending, task)
		return
	}
	p.lockedRunTaskInGoroutine(task)
}

// lockedRunTaskInGoroutine runs the task and, once it finishes, any pending tasks on the same goroutine.
//
// It must be called with Pool.mu acquired.
func (p *Pool) lockedRunTaskInGoroutine(task func()) {
	p.numRunning++
	go func() {
		for task != nil {
			task()
			p.mu.Lock()
			task = nil
			if len(p.pending) > 0 {
				task = p.pending[0]
				p.pending[0] = nil
				p.pending = p.pending[1:]
			} else {
				p.numRunning--
				if p.numRunning == 0 {
					p.idle.Broadcast()
				}
			}
			p.mu.Unlock()
		}
	}()
}

// NumRunning returns the number of tasks currently running.
func (p *Pool) NumRunning() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.numRunning
}

// Wait blocks until there are no running or pending tasks.
func (p *Pool) Wait() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.numRunning > 0 || len(p.pending) > 0 {
		p.idle.Wait()
	}
}
