package exchange

import (
	"context"
	"sync"
	"time"

	errs "github.com/nmxmxh/janus/pkg/errors"
)

// Future is a one-shot slot for the response to a two-way request.
// Completion sets either a response or an error, wakes every waiter and runs
// listeners; later completions are dropped.
type Future struct {
	id      int64
	created time.Time
	done    chan struct{}

	mu        sync.Mutex
	resp      *Response
	err       error
	completed bool
	listeners []func(*Response, error)
}

// ID returns the request id this future is bound to.
func (f *Future) ID() int64 { return f.id }

// Done returns a channel closed on completion.
func (f *Future) Done() <-chan struct{} { return f.done }

func (f *Future) complete(resp *Response, err error) bool {
	f.mu.Lock()
	if f.completed {
		f.mu.Unlock()
		return false
	}
	f.completed = true
	f.resp, f.err = resp, err
	listeners := f.listeners
	f.listeners = nil
	f.mu.Unlock()
	close(f.done)
	for _, l := range listeners {
		l(resp, err)
	}
	return true
}

// AddListener runs fn on completion. If the future is already complete, fn
// runs inline on the calling goroutine.
func (f *Future) AddListener(fn func(*Response, error)) {
	f.mu.Lock()
	if !f.completed {
		f.listeners = append(f.listeners, fn)
		f.mu.Unlock()
		return
	}
	resp, err := f.resp, f.err
	f.mu.Unlock()
	fn(resp, err)
}

// Result returns the outcome after Done is closed.
func (f *Future) Result() (*Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resp, f.err
}

// pendingTable maps open request ids to futures. Matching is by id equality
// over the open window, so id wraparound correlates correctly.
type pendingTable struct {
	m sync.Map // int64 -> *Future
}

func (p *pendingTable) add(id int64) *Future {
	f := &Future{id: id, created: time.Now(), done: make(chan struct{})}
	p.m.Store(id, f)
	return f
}

// receive completes the matching future and removes it. Unmatched (late or
// cancelled) responses report false and are dropped by the caller.
func (p *pendingTable) receive(resp *Response) bool {
	v, ok := p.m.LoadAndDelete(resp.ID)
	if !ok {
		return false
	}
	f := v.(*Future)
	if err := resp.Err(); err != nil {
		return f.complete(nil, err)
	}
	return f.complete(resp, nil)
}

// fail completes one pending future with err.
func (p *pendingTable) fail(id int64, err error) {
	if v, ok := p.m.LoadAndDelete(id); ok {
		v.(*Future).complete(nil, err)
	}
}

// failAll completes every pending future with err. Used when the connection
// carrying them is lost.
func (p *pendingTable) failAll(err error) {
	p.m.Range(func(k, v interface{}) bool {
		p.m.Delete(k)
		v.(*Future).complete(nil, err)
		return true
	})
}

// Cancel completes the future with ErrCancelled and removes the pending
// entry; a late response for the id is dropped.
func (p *pendingTable) cancel(id int64) {
	p.fail(id, errs.ErrCancelled)
}

// await blocks until completion, timeout or ctx cancellation. On timeout the
// future completes with ErrTimeout and the entry is removed, so a late
// response is dropped.
func (p *pendingTable) await(ctx context.Context, f *Future, timeout time.Duration) (*Response, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-f.done:
		return f.Result()
	case <-timer.C:
		err := errs.Timeoutf("waiting server response timeout %s, request id %d", timeout, f.id)
		p.fail(f.id, err)
		return f.Result()
	case <-ctx.Done():
		p.fail(f.id, errs.Wrap(errs.ErrCancelled, ctx.Err().Error()))
		return f.Result()
	}
}
