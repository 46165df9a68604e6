// Package ws is an alternative transporter carrying the same framed messages
// as tcp inside websocket binary messages. It exists for peers that can only
// speak through HTTP infrastructure.
package ws

import (
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/nmxmxh/janus/internal/remoting"
	"github.com/nmxmxh/janus/pkg/buffer"
	"github.com/nmxmxh/janus/pkg/common"
	errs "github.com/nmxmxh/janus/pkg/errors"
	"github.com/nmxmxh/janus/pkg/logger"
)

func init() {
	remoting.SetTransporter("ws", func() remoting.Transporter { return &transporter{} })
}

type transporter struct{}

func (t *transporter) Bind(url *common.URL, handler remoting.ChannelHandler) (remoting.Server, error) {
	codec, err := remoting.GetCodec(url)
	if err != nil {
		return nil, err
	}
	host := url.Host
	if url.ParamBool(common.AnyhostKey, false) {
		host = "0.0.0.0"
	}
	ln, err := net.Listen("tcp", net.JoinHostPort(host, portString(url.Port)))
	if err != nil {
		return nil, errs.Networkf("bind %s: %v", url.Address(), err)
	}
	s := &server{
		url:     url,
		ln:      ln,
		codec:   codec,
		handler: handler,
		log:     logger.Default(),
	}
	s.bound.Store(true)
	s.httpSrv = &http.Server{Handler: s}
	go func() {
		if serr := s.httpSrv.Serve(ln); serr != nil && s.bound.Load() {
			s.log.Warn("websocket server stopped", zap.Error(serr))
		}
	}()
	return s, nil
}

func (t *transporter) Connect(url *common.URL, handler remoting.ChannelHandler) (remoting.Client, error) {
	codec, err := remoting.GetCodec(url)
	if err != nil {
		return nil, err
	}
	c := &client{
		url:     url,
		codec:   codec,
		handler: handler,
		log:     logger.Default(),
		timeout: time.Duration(url.ParamInt(common.ConnectTimeoutKey, common.DefaultConnectTimeout)) * time.Millisecond,
	}
	if err := c.dial(); err != nil {
		return nil, err
	}
	return c, nil
}

func portString(p int) string {
	if p <= 0 {
		return "0"
	}
	b := make([]byte, 0, 5)
	for p > 0 {
		b = append([]byte{byte('0' + p%10)}, b...)
		p /= 10
	}
	return string(b)
}

// channel is one websocket connection. Every binary message carries whole
// frames; partial frames never split across messages on the write side, but
// the read side tolerates them anyway.
type channel struct {
	conn    *websocket.Conn
	codec   remoting.Codec
	handler remoting.ChannelHandler
	log     *zap.Logger

	writeMu   sync.Mutex
	lastRead  atomic.Int64
	lastWrite atomic.Int64
	closed    atomic.Bool
}

func newChannel(conn *websocket.Conn, codec remoting.Codec, handler remoting.ChannelHandler, log *zap.Logger) *channel {
	ch := &channel{conn: conn, codec: codec, handler: handler, log: log}
	now := time.Now().UnixNano()
	ch.lastRead.Store(now)
	ch.lastWrite.Store(now)
	return ch
}

func (ch *channel) Send(msg interface{}) error {
	if ch.closed.Load() {
		return errs.Networkf("channel to %s closed", ch.RemoteAddr())
	}
	buf := buffer.NewDynamic(1024)
	if err := ch.codec.Encode(buf, msg); err != nil {
		return err
	}
	ch.writeMu.Lock()
	err := ch.conn.WriteMessage(websocket.BinaryMessage, buf.Readable())
	ch.writeMu.Unlock()
	if err != nil {
		werr := errs.Networkf("write to %s: %v", ch.RemoteAddr(), err)
		ch.handler.Caught(ch, werr)
		return werr
	}
	ch.lastWrite.Store(time.Now().UnixNano())
	ch.handler.Sent(ch, msg)
	return nil
}

func (ch *channel) RemoteAddr() string {
	if addr := ch.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

func (ch *channel) LocalAddr() string {
	if addr := ch.conn.LocalAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

func (ch *channel) IsConnected() bool { return !ch.closed.Load() }

func (ch *channel) LastRead() time.Time { return time.Unix(0, ch.lastRead.Load()) }

func (ch *channel) LastWrite() time.Time { return time.Unix(0, ch.lastWrite.Load()) }

func (ch *channel) Close() {
	if ch.closed.CompareAndSwap(false, true) {
		_ = ch.conn.Close()
	}
}

func (ch *channel) readLoop() {
	defer ch.handler.Disconnected(ch)
	buf := buffer.NewDynamic(4096)
	for {
		kind, data, err := ch.conn.ReadMessage()
		if err != nil {
			if !ch.closed.Load() {
				ch.handler.Caught(ch, errs.Networkf("read from %s: %v", ch.RemoteAddr(), err))
			}
			ch.Close()
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		ch.lastRead.Store(time.Now().UnixNano())
		if _, werr := buf.Write(data); werr != nil {
			ch.handler.Caught(ch, werr)
			ch.Close()
			return
		}
		for buf.ReadableBytes() > 0 {
			msg, derr := ch.codec.Decode(buf)
			if derr == remoting.ErrNeedMoreInput {
				break
			}
			if derr != nil {
				ch.handler.Caught(ch, derr)
				if errs.KindOf(derr) == errs.ErrSerialization {
					continue
				}
				ch.Close()
				return
			}
			ch.handler.Received(ch, msg)
		}
		buf.DiscardReadBytes()
	}
}

type client struct {
	url     *common.URL
	codec   remoting.Codec
	handler remoting.ChannelHandler
	log     *zap.Logger
	timeout time.Duration

	mu sync.RWMutex
	ch *channel
}

func (c *client) dial() error {
	dialer := websocket.Dialer{HandshakeTimeout: c.timeout}
	conn, _, err := dialer.Dial("ws://"+c.url.Address()+"/", nil)
	if err != nil {
		return errs.Networkf("connect ws://%s: %v", c.url.Address(), err)
	}
	ch := newChannel(conn, c.codec, c.handler, c.log)
	c.mu.Lock()
	c.ch = ch
	c.mu.Unlock()
	c.handler.Connected(ch)
	go ch.readLoop()
	return nil
}

func (c *client) current() *channel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ch
}

func (c *client) URL() *common.URL { return c.url }

func (c *client) Send(msg interface{}) error { return c.current().Send(msg) }

func (c *client) RemoteAddr() string { return c.current().RemoteAddr() }

func (c *client) LocalAddr() string { return c.current().LocalAddr() }

func (c *client) IsConnected() bool { return c.current().IsConnected() }

func (c *client) LastRead() time.Time { return c.current().LastRead() }

func (c *client) LastWrite() time.Time { return c.current().LastWrite() }

func (c *client) Close() { c.current().Close() }

func (c *client) Reconnect() error {
	c.current().Close()
	return c.dial()
}

type server struct {
	url      *common.URL
	ln       net.Listener
	httpSrv  *http.Server
	codec    remoting.Codec
	handler  remoting.ChannelHandler
	log      *zap.Logger
	upgrader websocket.Upgrader

	channels sync.Map // *channel -> struct{}
	bound    atomic.Bool
}

// ServeHTTP upgrades inbound connections and runs their read loops.
func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	ch := newChannel(conn, s.codec, s.handler, s.log)
	s.channels.Store(ch, struct{}{})
	s.handler.Connected(ch)
	go func() {
		ch.readLoop()
		s.channels.Delete(ch)
	}()
}

func (s *server) URL() *common.URL { return s.url }

func (s *server) IsBound() bool { return s.bound.Load() }

func (s *server) Channels() []remoting.Channel {
	var out []remoting.Channel
	s.channels.Range(func(k, _ interface{}) bool {
		out = append(out, k.(*channel))
		return true
	})
	return out
}

func (s *server) Close() {
	if !s.bound.CompareAndSwap(true, false) {
		return
	}
	_ = s.httpSrv.Close()
	s.channels.Range(func(k, _ interface{}) bool {
		k.(*channel).Close()
		return true
	})
}
