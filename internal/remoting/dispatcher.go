package remoting

import "sync"

// Dispatcher decides which channel events leave the I/O goroutine for the
// worker pool. Strategies mirror the classic thread models: all, direct,
// message, execution, connection.
type Dispatcher interface {
	Dispatch(handler ChannelHandler, pool WorkerPool) ChannelHandler
}

// RequestMessage marks messages that are inbound requests; the execution
// dispatcher moves only those to the pool.
type RequestMessage interface {
	IsRequest() bool
}

func init() {
	SetDispatcher("all", func() Dispatcher { return dispatcherFunc(dispatchAll) })
	SetDispatcher("direct", func() Dispatcher { return dispatcherFunc(dispatchDirect) })
	SetDispatcher("message", func() Dispatcher { return dispatcherFunc(dispatchMessage) })
	SetDispatcher("execution", func() Dispatcher { return dispatcherFunc(dispatchExecution) })
	SetDispatcher("connection", func() Dispatcher { return dispatchConnectionOrdered })
}

type dispatcherFunc func(handler ChannelHandler, pool WorkerPool) ChannelHandler

func (f dispatcherFunc) Dispatch(h ChannelHandler, p WorkerPool) ChannelHandler { return f(h, p) }

type pooledHandler struct {
	ChannelHandler
	pool WorkerPool

	onConnected    bool
	onDisconnected bool
	onReceived     bool
	onCaught       bool
	requestsOnly   bool
}

func (h *pooledHandler) submit(ch Channel, msg interface{}, task func()) {
	if err := h.pool.Submit(task); err != nil {
		if rj, ok := h.ChannelHandler.(RejectedHandler); ok {
			rj.Rejected(ch, msg, err)
			return
		}
		h.ChannelHandler.Caught(ch, err)
	}
}

func (h *pooledHandler) Connected(ch Channel) {
	if h.onConnected {
		h.submit(ch, nil, func() { h.ChannelHandler.Connected(ch) })
		return
	}
	h.ChannelHandler.Connected(ch)
}

func (h *pooledHandler) Disconnected(ch Channel) {
	if h.onDisconnected {
		h.submit(ch, nil, func() { h.ChannelHandler.Disconnected(ch) })
		return
	}
	h.ChannelHandler.Disconnected(ch)
}

func (h *pooledHandler) Received(ch Channel, msg interface{}) {
	pooled := h.onReceived
	if pooled && h.requestsOnly {
		req, ok := msg.(RequestMessage)
		pooled = ok && req.IsRequest()
	}
	if pooled {
		h.submit(ch, msg, func() { h.ChannelHandler.Received(ch, msg) })
		return
	}
	h.ChannelHandler.Received(ch, msg)
}

func (h *pooledHandler) Caught(ch Channel, err error) {
	if h.onCaught {
		h.submit(ch, nil, func() { h.ChannelHandler.Caught(ch, err) })
		return
	}
	h.ChannelHandler.Caught(ch, err)
}

func dispatchAll(handler ChannelHandler, pool WorkerPool) ChannelHandler {
	return &pooledHandler{
		ChannelHandler: handler, pool: pool,
		onConnected: true, onDisconnected: true, onReceived: true, onCaught: true,
	}
}

func dispatchDirect(handler ChannelHandler, _ WorkerPool) ChannelHandler {
	return handler
}

func dispatchMessage(handler ChannelHandler, pool WorkerPool) ChannelHandler {
	return &pooledHandler{ChannelHandler: handler, pool: pool, onReceived: true}
}

func dispatchExecution(handler ChannelHandler, pool WorkerPool) ChannelHandler {
	return &pooledHandler{ChannelHandler: handler, pool: pool, onReceived: true, requestsOnly: true}
}

// connectionOrderedHandler funnels connect/disconnect events through one
// queue so their order is preserved while messages still use the pool.
type connectionOrderedHandler struct {
	*pooledHandler
	mu    sync.Mutex
	queue []func()
	busy  bool
}

var dispatchConnectionOrdered Dispatcher = dispatcherFunc(
	func(handler ChannelHandler, pool WorkerPool) ChannelHandler {
		return &connectionOrderedHandler{
			pooledHandler: &pooledHandler{ChannelHandler: handler, pool: pool, onReceived: true, onCaught: true},
		}
	})

func (h *connectionOrderedHandler) enqueue(ev func()) {
	h.mu.Lock()
	h.queue = append(h.queue, ev)
	if h.busy {
		h.mu.Unlock()
		return
	}
	h.busy = true
	h.mu.Unlock()
	go h.drain()
}

func (h *connectionOrderedHandler) drain() {
	for {
		h.mu.Lock()
		if len(h.queue) == 0 {
			h.busy = false
			h.mu.Unlock()
			return
		}
		ev := h.queue[0]
		h.queue = h.queue[1:]
		h.mu.Unlock()
		ev()
	}
}

func (h *connectionOrderedHandler) Connected(ch Channel) {
	h.enqueue(func() { h.ChannelHandler.Connected(ch) })
}

func (h *connectionOrderedHandler) Disconnected(ch Channel) {
	h.enqueue(func() { h.ChannelHandler.Disconnected(ch) })
}
