package remoting

import (
	"sync"
	"sync/atomic"

	"github.com/nmxmxh/janus/pkg/common"
	errs "github.com/nmxmxh/janus/pkg/errors"
)

// WorkerPool executes handler callbacks off the I/O goroutines. Submit never
// blocks: a pool that cannot take the task returns ErrLimitExceeded.
type WorkerPool interface {
	Submit(task func()) error
	Shutdown()
}

func init() {
	SetWorkerPoolFactory("fixed", func(url *common.URL) WorkerPool {
		threads := int(url.ParamInt(common.ThreadsKey, common.DefaultThreads))
		queues := int(url.ParamInt(common.QueuesKey, common.DefaultQueues))
		return newBoundedPool(threads, threads, queues, false)
	})
	SetWorkerPoolFactory("cached", func(_ *common.URL) WorkerPool {
		return &cachedPool{}
	})
	SetWorkerPoolFactory("limited", func(url *common.URL) WorkerPool {
		core := int(url.ParamInt(common.CorethreadsKey, 0))
		threads := int(url.ParamInt(common.ThreadsKey, common.DefaultThreads))
		queues := int(url.ParamInt(common.QueuesKey, common.DefaultQueues))
		return newBoundedPool(core, threads, queues, false)
	})
	SetWorkerPoolFactory("eager", func(url *common.URL) WorkerPool {
		core := int(url.ParamInt(common.CorethreadsKey, 0))
		threads := int(url.ParamInt(common.ThreadsKey, common.DefaultThreads))
		queues := int(url.ParamInt(common.QueuesKey, 128))
		return newBoundedPool(core, threads, queues, true)
	})
}

// cachedPool runs every task on its own goroutine. The runtime recycles
// them; there is nothing to bound.
type cachedPool struct {
	wg     sync.WaitGroup
	closed atomic.Bool
}

func (p *cachedPool) Submit(task func()) error {
	if p.closed.Load() {
		return errs.Limitf("worker pool shut down")
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		task()
	}()
	return nil
}

func (p *cachedPool) Shutdown() {
	if p.closed.CompareAndSwap(false, true) {
		p.wg.Wait()
	}
}

// boundedPool grows from core up to max workers and queues beyond that.
// With eager=true it grows to max before queueing whenever a worker is busy;
// otherwise it queues first and grows only once the queue backlog is full.
// Capacity is accounted explicitly: up to max running plus queues waiting
// tasks are in flight at once, regardless of how quickly workers dequeue.
type boundedPool struct {
	core     int
	max      int
	queues   int
	capacity int // max running plus queues waiting
	queue    chan func()
	eager    bool
	closed   atomic.Bool

	inflight int64
	active   int64

	mu      sync.Mutex
	workers int
}

func newBoundedPool(core, max, queues int, eager bool) *boundedPool {
	if max < 1 {
		max = 1
	}
	if core < 1 {
		core = 1
	}
	if core > max {
		core = max
	}
	p := &boundedPool{
		core:     core,
		max:      max,
		queues:   queues,
		capacity: max + queues,
		// the buffer covers the full capacity so an accepted task never
		// blocks the submitter
		queue: make(chan func(), max+queues),
		eager: eager,
	}
	p.mu.Lock()
	for i := 0; i < core; i++ {
		p.spawnLocked()
	}
	p.mu.Unlock()
	return p
}

func (p *boundedPool) spawnLocked() {
	p.workers++
	go func() {
		for task := range p.queue {
			atomic.AddInt64(&p.active, 1)
			task()
			atomic.AddInt64(&p.active, -1)
			atomic.AddInt64(&p.inflight, -1)
		}
	}()
}

func (p *boundedPool) Submit(task func()) error {
	if p.closed.Load() {
		return errs.Limitf("worker pool shut down")
	}
	if atomic.AddInt64(&p.inflight, 1) > int64(p.capacity) {
		atomic.AddInt64(&p.inflight, -1)
		return errs.Limitf("worker pool exhausted: %d tasks in flight", p.capacity)
	}
	p.mu.Lock()
	if p.workers < p.max {
		if p.eager {
			if atomic.LoadInt64(&p.active) >= int64(p.workers) {
				p.spawnLocked()
			}
		} else if atomic.LoadInt64(&p.inflight)-atomic.LoadInt64(&p.active) > int64(p.queues) {
			p.spawnLocked()
		}
	}
	p.mu.Unlock()
	p.queue <- task
	return nil
}

func (p *boundedPool) Shutdown() {
	if p.closed.CompareAndSwap(false, true) {
		close(p.queue)
	}
}
