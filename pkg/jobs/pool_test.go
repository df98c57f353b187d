// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package jobs

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolMaxParallelism(t *testing.T) {
	const maxParallelism, numTasks = 3, 20
	pool := NewPool(maxParallelism)
	var running, maxRunning atomic.Int32
	for range numTasks {
		pool.Submit(func() {
			n := running.Add(1)
			for {
				m := maxRunning.Load()
				if n <= m || maxRunning.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			running.Add(-1)
		})
	}
	pool.Wait()
	assert.LessOrEqual(t, maxRunning.Load(), int32(maxParallelism))
	assert.Equal(t, int32(0), running.Load())
	assert.Equal(t, 0, pool.Queued())
}

func TestPoolOrder(t *testing.T) {
	pool := NewPool(1)
	var mu sync.Mutex
	var order []int
	release := make(chan struct{})
	pool.Submit(func() { <-release })
	for ii := range 5 {
		pool.Submit(func() {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, ii)
		})
	}
	assert.Equal(t, 1, pool.Running())
	assert.Equal(t, 5, pool.Queued())
	close(release)
	pool.Wait()
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
	assert.Equal(t, 0, pool.Running())
	assert.Equal(t, 0, pool.Queued())
}

func TestPoolParallelism(t *testing.T) {
	pool := NewPool(0)
	require.Equal(t, 1, pool.MaxParallelism())
	require.False(t, pool.IsUnlimited())

	unlimited := NewPool(-1)
	require.True(t, unlimited.IsUnlimited())
	require.Equal(t, -1, unlimited.MaxParallelism())
	release := make(chan struct{})
	var count atomic.Int32
	for range 10 {
		unlimited.Submit(func() {
			<-release
			count.Add(1)
		})
	}
	assert.Equal(t, 10, unlimited.Running(), "all tasks should start at once")
	assert.Equal(t, 0, unlimited.Queued())
	close(release)
	unlimited.Wait()
	assert.Equal(t, int32(10), count.Load())
}
