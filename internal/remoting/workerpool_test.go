package remoting

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmxmxh/janus/pkg/common"
	errs "github.com/nmxmxh/janus/pkg/errors"
)

func poolURL(params map[string]string) *common.URL {
	return common.NewURL("dubbo", "127.0.0.1", 20880, "svc", params)
}

func TestWorkerPool_Fixed(t *testing.T) {
	pool, err := NewWorkerPool(poolURL(map[string]string{
		common.ThreadpoolKey: "fixed",
		common.ThreadsKey:    "4",
		common.QueuesKey:     "8",
	}))
	require.NoError(t, err)
	defer pool.Shutdown()

	// 4 workers plus 8 queue slots: a burst of 12 blocking tasks must all
	// be accepted no matter how fast workers dequeue, and the 13th rejected.
	release := make(chan struct{})
	var ran int64
	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		require.NoError(t, pool.Submit(func() {
			<-release
			atomic.AddInt64(&ran, 1)
			wg.Done()
		}), "submit %d is within capacity", i)
	}
	assert.ErrorIs(t, pool.Submit(func() {}), errs.ErrLimitExceeded)
	close(release)
	wg.Wait()
	assert.Equal(t, int64(12), atomic.LoadInt64(&ran))
}

func TestWorkerPool_FixedRejectsWhenExhausted(t *testing.T) {
	pool, err := NewWorkerPool(poolURL(map[string]string{
		common.ThreadpoolKey: "fixed",
		common.ThreadsKey:    "1",
		common.QueuesKey:     "0",
	}))
	require.NoError(t, err)
	defer pool.Shutdown()

	block := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, pool.Submit(func() { close(started); <-block }))
	<-started

	// single worker busy, zero queue: next submit must reject
	err = pool.Submit(func() {})
	assert.ErrorIs(t, err, errs.ErrLimitExceeded)
	close(block)
}

func TestWorkerPool_EagerGrowsBeforeQueueing(t *testing.T) {
	pool, err := NewWorkerPool(poolURL(map[string]string{
		common.ThreadpoolKey:  "eager",
		common.CorethreadsKey: "1",
		common.ThreadsKey:     "4",
		common.QueuesKey:      "64",
	}))
	require.NoError(t, err)
	defer pool.Shutdown()

	block := make(chan struct{})
	var running int64
	var peak int64
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		require.NoError(t, pool.Submit(func() {
			n := atomic.AddInt64(&running, 1)
			for {
				p := atomic.LoadInt64(&peak)
				if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
					break
				}
			}
			<-block
			atomic.AddInt64(&running, -1)
			wg.Done()
		}))
		// let the spawned worker pick the task up before the next submit
		time.Sleep(20 * time.Millisecond)
	}
	close(block)
	wg.Wait()
	assert.Equal(t, int64(4), atomic.LoadInt64(&peak), "eager pool should grow to max before queueing")
}

func TestWorkerPool_Cached(t *testing.T) {
	pool, err := NewWorkerPool(poolURL(map[string]string{common.ThreadpoolKey: "cached"}))
	require.NoError(t, err)

	var wg sync.WaitGroup
	var ran int64
	for i := 0; i < 50; i++ {
		wg.Add(1)
		require.NoError(t, pool.Submit(func() {
			atomic.AddInt64(&ran, 1)
			wg.Done()
		}))
	}
	wg.Wait()
	pool.Shutdown()
	assert.Equal(t, int64(50), atomic.LoadInt64(&ran))
	assert.Error(t, pool.Submit(func() {}))
}
