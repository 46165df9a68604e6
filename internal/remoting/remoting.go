// Package remoting defines the transport abstraction: channels, servers,
// clients, codecs, event dispatchers and worker pools. Transports move opaque
// framed messages; the exchange layer above them gives the frames
// request/response meaning.
package remoting

import (
	"errors"
	"time"

	"github.com/nmxmxh/janus/pkg/buffer"
	"github.com/nmxmxh/janus/pkg/common"
	"github.com/nmxmxh/janus/pkg/extension"
)

// ErrNeedMoreInput is returned by Codec.Decode when the buffer does not yet
// hold a complete frame. The transport keeps the bytes and retries after the
// next read.
var ErrNeedMoreInput = errors.New("remoting: incomplete frame")

// Channel is one established connection. Sends are fire-and-forget at this
// layer; correlation lives in the exchange layer.
type Channel interface {
	// Send encodes msg with the channel's codec and writes it out.
	Send(msg interface{}) error
	// RemoteAddr returns the peer address.
	RemoteAddr() string
	// LocalAddr returns the local address.
	LocalAddr() string
	// IsConnected reports whether the channel can still send.
	IsConnected() bool
	// LastRead returns the time of the last inbound frame.
	LastRead() time.Time
	// LastWrite returns the time of the last outbound frame.
	LastWrite() time.Time
	// Close tears the connection down. Idempotent.
	Close()
}

// ChannelHandler receives connection events. The dispatcher decides which of
// them run on the I/O goroutine and which move to the worker pool.
type ChannelHandler interface {
	Connected(ch Channel)
	Disconnected(ch Channel)
	Sent(ch Channel, msg interface{})
	Received(ch Channel, msg interface{})
	Caught(ch Channel, err error)
}

// RejectedHandler is implemented by handlers that want to observe messages
// the worker pool refused, with the message still in hand (for example to
// answer a two-way request with a pool-exhausted status).
type RejectedHandler interface {
	Rejected(ch Channel, msg interface{}, err error)
}

// Server is a bound listening endpoint.
type Server interface {
	URL() *common.URL
	IsBound() bool
	// Channels snapshots the currently connected channels.
	Channels() []Channel
	Close()
}

// Client is a connected endpoint. A client is also the channel to its peer.
type Client interface {
	Channel
	URL() *common.URL
	// Reconnect drops the current connection and dials again.
	Reconnect() error
}

// Codec translates between frames and messages over an index-separated
// buffer. Decode returns ErrNeedMoreInput on a partial frame, leaving the
// reader index untouched.
type Codec interface {
	Encode(buf *buffer.Buffer, msg interface{}) error
	Decode(buf *buffer.Buffer) (interface{}, error)
}

// Transporter binds servers and dials clients.
type Transporter interface {
	Bind(url *common.URL, handler ChannelHandler) (Server, error)
	Connect(url *common.URL, handler ChannelHandler) (Client, error)
}

// Extension points owned by this package.
var (
	transporters = extension.NewPoint("transporter", "tcp")
	codecs       = extension.NewPoint("codec", "dubbo")
	dispatchers  = extension.NewPoint("dispatcher", "all")
	workerPools  = extension.NewPoint("threadpool", "fixed")
)

// SetTransporter registers a transporter implementation.
func SetTransporter(name string, factory func() Transporter) {
	transporters.Register(name, func() interface{} { return factory() })
}

// GetTransporter resolves the transporter chosen by url[transporter].
func GetTransporter(url *common.URL) (Transporter, error) {
	inst, err := transporters.Adaptive(url, common.TransporterKey)
	if err != nil {
		return nil, err
	}
	return inst.(Transporter), nil
}

// SetCodec registers a wire codec.
func SetCodec(name string, factory func() Codec) {
	codecs.Register(name, func() interface{} { return factory() })
}

// GetCodec resolves the codec chosen by url[codec].
func GetCodec(url *common.URL) (Codec, error) {
	inst, err := codecs.Adaptive(url, common.CodecKey)
	if err != nil {
		return nil, err
	}
	return inst.(Codec), nil
}

// SetDispatcher registers an event dispatch strategy.
func SetDispatcher(name string, factory func() Dispatcher) {
	dispatchers.Register(name, func() interface{} { return factory() })
}

// GetDispatcher resolves the dispatcher chosen by url[dispatcher].
func GetDispatcher(url *common.URL) (Dispatcher, error) {
	inst, err := dispatchers.Adaptive(url, common.DispatcherKey)
	if err != nil {
		return nil, err
	}
	return inst.(Dispatcher), nil
}

// SetWorkerPoolFactory registers a worker pool flavor.
func SetWorkerPoolFactory(name string, factory func(url *common.URL) WorkerPool) {
	workerPools.Register(name, func() interface{} { return workerPoolFactory(factory) })
}

type workerPoolFactory func(url *common.URL) WorkerPool

// NewWorkerPool builds the worker pool flavor chosen by url[threadpool].
func NewWorkerPool(url *common.URL) (WorkerPool, error) {
	inst, err := workerPools.Adaptive(url, common.ThreadpoolKey)
	if err != nil {
		return nil, err
	}
	return inst.(workerPoolFactory)(url), nil
}
