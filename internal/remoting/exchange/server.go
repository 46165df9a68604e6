package exchange

import (
	"time"

	"go.uber.org/zap"

	"github.com/nmxmxh/janus/internal/remoting"
	"github.com/nmxmxh/janus/pkg/common"
	errs "github.com/nmxmxh/janus/pkg/errors"
	"github.com/nmxmxh/janus/pkg/logger"
)

// Handler answers inbound requests on the provider side.
type Handler interface {
	Reply(ch remoting.Channel, req *Request) (interface{}, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ch remoting.Channel, req *Request) (interface{}, error)

// Reply implements Handler.
func (f HandlerFunc) Reply(ch remoting.Channel, req *Request) (interface{}, error) { return f(ch, req) }

// Server is the provider side of the exchange: it dispatches requests to the
// worker pool, answers two-way requests, mirrors heartbeats and closes
// connections idle for three heartbeat periods.
type Server struct {
	url       *common.URL
	log       *zap.Logger
	srv       remoting.Server
	pool      remoting.WorkerPool
	heartbeat time.Duration
	quit      chan struct{}
}

// Bind opens a server on url.Host:url.Port, wiring the dispatcher and worker
// pool chosen by the URL.
func Bind(url *common.URL, handler Handler, log *zap.Logger) (*Server, error) {
	if log == nil {
		log = logger.Default()
	}
	pool, err := remoting.NewWorkerPool(url)
	if err != nil {
		return nil, err
	}
	disp, err := remoting.GetDispatcher(url)
	if err != nil {
		pool.Shutdown()
		return nil, err
	}
	tr, err := remoting.GetTransporter(url)
	if err != nil {
		pool.Shutdown()
		return nil, err
	}
	s := &Server{
		url:       url,
		log:       log,
		pool:      pool,
		heartbeat: time.Duration(url.ParamInt(common.HeartbeatKey, common.DefaultHeartbeat)) * time.Millisecond,
		quit:      make(chan struct{}),
	}
	srv, err := tr.Bind(url, disp.Dispatch(&serverHandler{s: s, reply: handler}, pool))
	if err != nil {
		pool.Shutdown()
		return nil, err
	}
	s.srv = srv
	go s.idleLoop()
	return s, nil
}

// URL returns the bound address.
func (s *Server) URL() *common.URL { return s.url }

// IsBound reports whether the listener is still open.
func (s *Server) IsBound() bool { return s.srv.IsBound() }

// Close stops the idle sweeper, the listener and the worker pool.
func (s *Server) Close() {
	select {
	case <-s.quit:
		return
	default:
	}
	close(s.quit)
	s.srv.Close()
	s.pool.Shutdown()
}

func (s *Server) idleLoop() {
	if s.heartbeat <= 0 {
		return
	}
	tick := s.heartbeat / 4
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-s.quit:
			return
		case now := <-t.C:
			for _, ch := range s.srv.Channels() {
				idle := now.Sub(ch.LastRead())
				if w := now.Sub(ch.LastWrite()); w < idle {
					idle = w
				}
				if idle >= 3*s.heartbeat {
					s.log.Warn("closing idle channel",
						zap.String("remote", ch.RemoteAddr()),
						zap.Duration("idle", idle))
					ch.Close()
				}
			}
		}
	}
}

// serverHandler turns transport events into Reply calls.
type serverHandler struct {
	s     *Server
	reply Handler
}

func (h *serverHandler) Connected(remoting.Channel)    {}
func (h *serverHandler) Disconnected(remoting.Channel) {}
func (h *serverHandler) Sent(remoting.Channel, interface{}) {}

func (h *serverHandler) Received(ch remoting.Channel, msg interface{}) {
	req, ok := msg.(*Request)
	if !ok {
		h.s.log.Warn("unexpected message on server channel", zap.Any("message", msg))
		return
	}
	if req.Event {
		if req.TwoWay {
			if err := ch.Send(NewHeartbeatResponse(req.ID)); err != nil {
				h.s.log.Warn("heartbeat reply failed", zap.Error(err))
			}
		}
		return
	}
	result, err := h.reply.Reply(ch, req)
	if !req.TwoWay {
		if err != nil {
			h.s.log.Warn("oneway invocation failed", zap.Int64("id", req.ID), zap.Error(err))
		}
		return
	}
	resp := &Response{ID: req.ID, Status: StatusOK, Data: result}
	if err != nil {
		resp.Status = statusOf(err)
		resp.ErrorMsg = err.Error()
		resp.Data = nil
	}
	if serr := ch.Send(resp); serr != nil {
		h.s.log.Warn("response send failed", zap.Int64("id", req.ID), zap.Error(serr))
	}
}

func (h *serverHandler) Caught(ch remoting.Channel, err error) {
	h.s.log.Warn("transport error on server channel",
		zap.String("remote", ch.RemoteAddr()), zap.Error(err))
}

// Rejected answers requests the worker pool refused with the exhausted
// status so the caller fails fast instead of timing out.
func (h *serverHandler) Rejected(ch remoting.Channel, msg interface{}, err error) {
	req, ok := msg.(*Request)
	if !ok || !req.TwoWay {
		return
	}
	resp := &Response{ID: req.ID, Status: StatusThreadpoolExhausted, ErrorMsg: err.Error()}
	if serr := ch.Send(resp); serr != nil {
		h.s.log.Warn("exhausted response send failed", zap.Int64("id", req.ID), zap.Error(serr))
	}
}

func statusOf(err error) byte {
	switch errs.KindOf(err) {
	case errs.ErrForbidden:
		return StatusServiceNotFound
	case errs.ErrSerialization:
		return StatusBadRequest
	case errs.ErrLimitExceeded:
		return StatusThreadpoolExhausted
	case errs.ErrTimeout:
		return StatusServerTimeout
	case errs.ErrBiz:
		return StatusServiceError
	default:
		return StatusServerError
	}
}
