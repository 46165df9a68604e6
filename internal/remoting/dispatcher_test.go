package remoting

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmxmxh/janus/pkg/common"
)

type fakeChannel struct{}

func (fakeChannel) Send(interface{}) error { return nil }
func (fakeChannel) RemoteAddr() string     { return "peer:1" }
func (fakeChannel) LocalAddr() string      { return "local:1" }
func (fakeChannel) IsConnected() bool      { return true }
func (fakeChannel) LastRead() time.Time    { return time.Time{} }
func (fakeChannel) LastWrite() time.Time   { return time.Time{} }
func (fakeChannel) Close()                 {}

type recordingHandler struct {
	mu     sync.Mutex
	events []string
	wg     sync.WaitGroup
}

func (h *recordingHandler) record(ev string) {
	h.mu.Lock()
	h.events = append(h.events, ev)
	h.mu.Unlock()
	h.wg.Done()
}

func (h *recordingHandler) Connected(Channel)               { h.record("connected") }
func (h *recordingHandler) Disconnected(Channel)            { h.record("disconnected") }
func (h *recordingHandler) Sent(Channel, interface{})       { h.record("sent") }
func (h *recordingHandler) Received(_ Channel, m interface{}) {
	h.record(fmt.Sprintf("received:%v", m))
}
func (h *recordingHandler) Caught(Channel, error) { h.record("caught") }

type request bool

func (r request) IsRequest() bool { return bool(r) }

func TestDispatcher_Direct(t *testing.T) {
	h := &recordingHandler{}
	d, err := GetDispatcher(common.NewURL("dubbo", "h", 1, "s", map[string]string{common.DispatcherKey: "direct"}))
	require.NoError(t, err)

	wrapped := d.Dispatch(h, nil)
	h.wg.Add(1)
	wrapped.Received(fakeChannel{}, "m")
	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Equal(t, []string{"received:m"}, h.events, "direct runs on the calling goroutine")
}

func TestDispatcher_All(t *testing.T) {
	h := &recordingHandler{}
	d, err := GetDispatcher(common.NewURL("dubbo", "h", 1, "s", nil))
	require.NoError(t, err)

	pool, err := NewWorkerPool(common.NewURL("dubbo", "h", 1, "s", map[string]string{
		common.ThreadpoolKey: "cached",
	}))
	require.NoError(t, err)
	defer pool.Shutdown()

	wrapped := d.Dispatch(h, pool)
	h.wg.Add(3)
	wrapped.Connected(fakeChannel{})
	wrapped.Received(fakeChannel{}, "m")
	wrapped.Disconnected(fakeChannel{})
	h.wg.Wait()

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Len(t, h.events, 3)
}

func TestDispatcher_ExecutionOnlyPoolsRequests(t *testing.T) {
	h := &recordingHandler{}
	d, err := GetDispatcher(common.NewURL("dubbo", "h", 1, "s", map[string]string{common.DispatcherKey: "execution"}))
	require.NoError(t, err)

	// a pool that always rejects proves responses bypass it
	wrapped := d.Dispatch(h, rejectPool{})

	h.wg.Add(1)
	wrapped.Received(fakeChannel{}, request(false)) // response: inline, pool unused
	h.wg.Wait()

	h.wg.Add(1) // the Caught callback
	wrapped.Received(fakeChannel{}, request(true)) // request: pool rejects -> Caught
	h.wg.Wait()

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Contains(t, h.events, "caught")
}

type rejectPool struct{}

func (rejectPool) Submit(func()) error { return assert.AnError }
func (rejectPool) Shutdown()           {}

func TestDispatcher_ConnectionOrdered(t *testing.T) {
	h := &recordingHandler{}
	d, err := GetDispatcher(common.NewURL("dubbo", "h", 1, "s", map[string]string{common.DispatcherKey: "connection"}))
	require.NoError(t, err)

	pool, err := NewWorkerPool(common.NewURL("dubbo", "h", 1, "s", map[string]string{
		common.ThreadpoolKey: "cached",
	}))
	require.NoError(t, err)
	defer pool.Shutdown()

	wrapped := d.Dispatch(h, pool)
	h.wg.Add(20)
	for i := 0; i < 10; i++ {
		wrapped.Connected(fakeChannel{})
		wrapped.Disconnected(fakeChannel{})
	}
	h.wg.Wait()

	h.mu.Lock()
	defer h.mu.Unlock()
	for i := 0; i < 20; i += 2 {
		assert.Equal(t, "connected", h.events[i], "connect/disconnect order must be preserved")
		assert.Equal(t, "disconnected", h.events[i+1])
	}
}
