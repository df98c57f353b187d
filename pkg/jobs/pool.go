// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package jobs

import (
	"sync"
)

// Pool runs tasks in goroutines, at most maxParallelism at a time. Tasks submitted while the pool is
// full are queued and started in submission order.
type Pool struct {
	maxParallelism int
	mu             sync.Mutex
	numRunning     int
	queue          []func()
	wg             sync.WaitGroup
}

// NewPool returns a Pool running at most maxParallelism tasks at a time.
// If maxParallelism < 0, parallelism is unlimited, and if it is 0 it is set to 1.
func NewPool(maxParallelism int) *Pool {
	p := &Pool{maxParallelism: max(maxParallelism, 1)}
	if maxParallelism < 0 {
		p.maxParallelism = -1
	}
	return p
}

// MaxParallelism returns the maximum number of tasks running concurrently, or -1 if unlimited.
func (p *Pool) MaxParallelism() int { return p.maxParallelism }

// IsUnlimited returns whether parallelism is unlimited.
func (p *Pool) IsUnlimited() bool { return p.maxParallelism < 0 }

// lockedIsFull returns whether all workers are in use.
//
// It must be called with Pool.mu acquired.
func (p *Pool) lockedIsFull() bool {
	if p.IsUnlimited() {
		return false
	}
	return p.numRunning >= p.maxParallelism
}

// Submit queues the task to run as soon as a worker is available, and returns immediately.
func (p *Pool) Submit(task func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.wg.Add(1)
	p.queue = append(p.queue, task)
	p.lockedStartQueued()
}

// Running returns the number of tasks currently running.
func (p *Pool) Running() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.numRunning
}

// Queued returns the number of tasks waiting for a worker.
func (p *Pool) Queued() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Wait blocks until all submitted or started tasks have finished.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// lockedStartQueued starts queued tasks while there are free workers.
//
// It must be called with Pool.mu acquired.
func (p *Pool) lockedStartQueued() {
	for len(p.queue) > 0 && !p.lockedIsFull() {
		task := p.queue[0]
		p.queue[0] = nil
		p.queue = p.queue[1:]
		p.lockedRunTaskInGoroutine(task)
	}
}

// lockedRunTaskInGoroutine and keep tabs on numRunning.
//
// It must be called with Pool.mu acquired.
func (p *Pool) lockedRunTaskInGoroutine(task func()) {
	p.numRunning++
	go func() {
		defer p.wg.Done()
		defer func() {
			p.mu.Lock()
			p.numRunning--
			p.lockedStartQueued()
			p.mu.Unlock()
		}()
		task()
	}()
}
