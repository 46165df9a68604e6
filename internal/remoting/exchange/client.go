package exchange

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/nmxmxh/janus/internal/remoting"
	"github.com/nmxmxh/janus/pkg/common"
	errs "github.com/nmxmxh/janus/pkg/errors"
	"github.com/nmxmxh/janus/pkg/logger"
)

// Client is the consumer side of the exchange: it allocates request ids,
// tracks pending futures, sends heartbeats when the connection goes idle and
// reconnects when the server stops answering.
type Client struct {
	url       *common.URL
	log       *zap.Logger
	conn      remoting.Client
	pending   pendingTable
	ids       atomic.Int64
	heartbeat time.Duration
	quit      chan struct{}
	closed    atomic.Bool
}

// Connect dials url and starts the heartbeat loop.
func Connect(url *common.URL, log *zap.Logger) (*Client, error) {
	if log == nil {
		log = logger.Default()
	}
	c := &Client{
		url:       url,
		log:       log,
		heartbeat: time.Duration(url.ParamInt(common.HeartbeatKey, common.DefaultHeartbeat)) * time.Millisecond,
		quit:      make(chan struct{}),
	}
	tr, err := remoting.GetTransporter(url)
	if err != nil {
		return nil, err
	}
	conn, err := tr.Connect(url, &clientHandler{c: c})
	if err != nil {
		return nil, err
	}
	c.conn = conn
	go c.heartbeatLoop()
	return c, nil
}

// URL returns the address this client dialed.
func (c *Client) URL() *common.URL { return c.url }

// IsConnected reports whether the underlying channel is up.
func (c *Client) IsConnected() bool {
	return !c.closed.Load() && c.conn.IsConnected()
}

func (c *Client) nextID() int64 { return c.ids.Add(1) }

// Request sends a two-way request and blocks for the response, bounded by
// timeout and ctx.
func (c *Client) Request(ctx context.Context, data interface{}, timeout time.Duration) (*Response, error) {
	f, err := c.AsyncRequest(data)
	if err != nil {
		return nil, err
	}
	return c.pending.await(ctx, f, timeout)
}

// AsyncRequest sends a two-way request and returns its future.
func (c *Client) AsyncRequest(data interface{}) (*Future, error) {
	if c.closed.Load() {
		return nil, errs.Networkf("client for %s closed", c.url.Address())
	}
	req := &Request{ID: c.nextID(), TwoWay: true, Data: data}
	f := c.pending.add(req.ID)
	if err := c.conn.Send(req); err != nil {
		c.pending.fail(req.ID, errs.Networkf("send request %d: %v", req.ID, err))
		_, ferr := f.Result()
		return nil, ferr
	}
	return f, nil
}

// Oneway sends a request with no id reserved and no future registered.
// Failure surfaces only as a transport error on this connection.
func (c *Client) Oneway(data interface{}) error {
	if c.closed.Load() {
		return errs.Networkf("client for %s closed", c.url.Address())
	}
	if err := c.conn.Send(&Request{TwoWay: false, Data: data}); err != nil {
		return errs.Networkf("oneway send: %v", err)
	}
	return nil
}

// Cancel completes f with ErrCancelled; the late response will be dropped.
func (c *Client) Cancel(f *Future) {
	c.pending.cancel(f.ID())
}

// Close stops the heartbeat loop, fails every pending future and closes the
// connection. Idempotent.
func (c *Client) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	close(c.quit)
	c.pending.failAll(errs.Networkf("client for %s closed", c.url.Address()))
	c.conn.Close()
}

func (c *Client) heartbeatLoop() {
	if c.heartbeat <= 0 {
		return
	}
	tick := c.heartbeat / 4
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-c.quit:
			return
		case now := <-t.C:
			idleRead := now.Sub(c.conn.LastRead())
			idleWrite := now.Sub(c.conn.LastWrite())
			if idleRead >= 3*c.heartbeat {
				c.log.Warn("no reads within three heartbeats, reconnecting",
					zap.String("address", c.url.Address()),
					zap.Duration("idle", idleRead))
				c.pending.failAll(errs.Networkf("connection to %s idle for %s", c.url.Address(), idleRead))
				if err := c.conn.Reconnect(); err != nil {
					c.log.Warn("reconnect failed", zap.String("address", c.url.Address()), zap.Error(err))
				}
				continue
			}
			if idleRead >= c.heartbeat || idleWrite >= c.heartbeat {
				if err := c.conn.Send(NewHeartbeatRequest(c.nextID())); err != nil {
					c.log.Warn("heartbeat send failed", zap.String("address", c.url.Address()), zap.Error(err))
				}
			}
		}
	}
}

// clientHandler receives transport events for one exchange client.
type clientHandler struct {
	c *Client
}

func (h *clientHandler) Connected(remoting.Channel) {}

func (h *clientHandler) Disconnected(remoting.Channel) {
	h.c.pending.failAll(errs.Networkf("connection to %s lost", h.c.url.Address()))
}

func (h *clientHandler) Sent(remoting.Channel, interface{}) {}

func (h *clientHandler) Received(ch remoting.Channel, msg interface{}) {
	switch m := msg.(type) {
	case *Response:
		if m.Event {
			return // heartbeat ack; the transport already refreshed LastRead
		}
		if !h.c.pending.receive(m) {
			h.c.log.Debug("dropping late or cancelled response", zap.Int64("id", m.ID))
		}
	case *Request:
		if m.Event && m.TwoWay {
			if err := ch.Send(NewHeartbeatResponse(m.ID)); err != nil {
				h.c.log.Warn("heartbeat reply failed", zap.Error(err))
			}
		}
	default:
		h.c.log.Warn("unexpected message on client channel", zap.Any("message", msg))
	}
}

func (h *clientHandler) Caught(_ remoting.Channel, err error) {
	h.c.pending.failAll(errs.Networkf("transport error on %s: %v", h.c.url.Address(), err))
}
