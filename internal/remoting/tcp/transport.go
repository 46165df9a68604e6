// Package tcp is the default transporter: length-framed messages over plain
// TCP connections, one read goroutine per channel and locked writes.
package tcp

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/nmxmxh/janus/internal/remoting"
	"github.com/nmxmxh/janus/pkg/buffer"
	"github.com/nmxmxh/janus/pkg/common"
	errs "github.com/nmxmxh/janus/pkg/errors"
	"github.com/nmxmxh/janus/pkg/logger"
)

func init() {
	remoting.SetTransporter("tcp", func() remoting.Transporter { return &transporter{} })
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
	ln, err := net.Listen("tcp", net.JoinHostPort(host, itoa(url.Port)))
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
	go s.acceptLoop()
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

func itoa(n int) string {
	if n <= 0 {
		return "0"
	}
	var b [8]byte
	i := len(b)
	for n > 0 {
		i--
		b[i] = byte('0' + n%10)
		n /= 10
	}
	return string(b[i:])
}

// channel is one TCP connection with codec framing.
type channel struct {
	conn    net.Conn
	codec   remoting.Codec
	handler remoting.ChannelHandler
	log     *zap.Logger

	writeMu   sync.Mutex
	lastRead  atomic.Int64 // unix nanos
	lastWrite atomic.Int64
	closed    atomic.Bool
}

func newChannel(conn net.Conn, codec remoting.Codec, handler remoting.ChannelHandler, log *zap.Logger) *channel {
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
	_, err := ch.conn.Write(buf.Readable())
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

// readLoop feeds inbound bytes through the codec until the connection dies.
// Decode errors that are not frame-incomplete are surfaced via Caught; the
// connection survives serialization errors because the codec consumes the
// broken frame.
func (ch *channel) readLoop() {
	defer ch.handler.Disconnected(ch)
	buf := buffer.NewDynamic(4096)
	chunk := make([]byte, 4096)
	for {
		n, err := ch.conn.Read(chunk)
		if n > 0 {
			ch.lastRead.Store(time.Now().UnixNano())
			if _, werr := buf.Write(chunk[:n]); werr != nil {
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
						continue // frame consumed, connection kept
					}
					ch.Close()
					return
				}
				ch.handler.Received(ch, msg)
			}
			buf.DiscardReadBytes()
		}
		if err != nil {
			if !ch.closed.Load() {
				ch.handler.Caught(ch, errs.Networkf("read from %s: %v", ch.RemoteAddr(), err))
			}
			ch.Close()
			return
		}
	}
}

// client dials and owns one channel, replacing it on Reconnect.
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
	conn, err := net.DialTimeout("tcp", c.url.Address(), c.timeout)
	if err != nil {
		return errs.Networkf("connect %s: %v", c.url.Address(), err)
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

// server accepts connections and tracks live channels for the idle sweeper.
type server struct {
	url     *common.URL
	ln      net.Listener
	codec   remoting.Codec
	handler remoting.ChannelHandler
	log     *zap.Logger

	channels sync.Map // *channel -> struct{}
	bound    atomic.Bool
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
	_ = s.ln.Close()
	s.channels.Range(func(k, _ interface{}) bool {
		k.(*channel).Close()
		return true
	})
}

func (s *server) acceptLoop() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if s.bound.Load() {
				s.log.Warn("accept failed", zap.String("address", s.url.Address()), zap.Error(err))
				continue
			}
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
}
