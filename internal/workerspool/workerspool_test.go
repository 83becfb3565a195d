package workerspool

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_StartIfAvailable(t *testing.T) {
	pool := New(2)
	release := make(chan struct{})
	var wg sync.WaitGroup
	var count atomic.Int32
	for range 2 {
		wg.Add(1)
		require.True(t, pool.StartIfAvailable(func() {
			defer wg.Done()
			<-release
			count.Add(1)
		}))
	}
	// Pool is full.
	assert.False(t, pool.StartIfAvailable(func() {}))
	assert.Equal(t, 2, pool.NumRunning())

	// A sleeping worker frees one slot.
	pool.WorkerIsAsleep()
	wg.Add(1)
	require.True(t, pool.StartIfAvailable(func() {
		defer wg.Done()
		count.Add(1)
	}))
	pool.WorkerRestarted()

	close(release)
	wg.Wait()
	assert.Equal(t, int32(3), count.Load())
	assert.Eventually(t, func() bool { return pool.NumRunning() == 0 }, time.Second, time.Millisecond)
}

func TestPool_Disabled(t *testing.T) {
	for _, pool := range []*Pool{nil, New(0)} {
		assert.False(t, pool.IsEnabled())
		assert.False(t, pool.StartIfAvailable(func() {}))

		// RunOrStart runs inline.
		var wg sync.WaitGroup
		ran := false
		wg.Add(1)
		pool.RunOrStart(&wg, func() { ran = true })
		assert.True(t, ran)
		wg.Wait()

		ran = false
		pool.WaitToStart(func() { ran = true })
		assert.True(t, ran)
	}
}

func TestPool_Unlimited(t *testing.T) {
	pool := New(-1)
	assert.True(t, pool.IsUnlimited())
	const numTasks = 20
	var wg sync.WaitGroup
	var started atomic.Int32
	release := make(chan struct{})
	for range numTasks {
		wg.Add(1)
		pool.RunOrStart(&wg, func() {
			started.Add(1)
			<-release
		})
	}
	assert.Eventually(t, func() bool { return started.Load() == numTasks }, time.Second, time.Millisecond)
	close(release)
	wg.Wait()
}

func TestPool_WaitToStart(t *testing.T) {
	pool := New(1)
	var wg sync.WaitGroup
	var maxConcurrent, current atomic.Int32
	for range 5 {
		wg.Add(1)
		pool.WaitToStart(func() {
			defer wg.Done()
			c := current.Add(1)
			for {
				m := maxConcurrent.Load()
				if c <= m || maxConcurrent.CompareAndSwap(m, c) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			current.Add(-1)
		})
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxConcurrent.Load())
}
