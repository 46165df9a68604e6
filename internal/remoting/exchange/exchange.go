// Package exchange layers request/response semantics over a transport:
// monotonic ids, a pending-future table, timeouts, cancellation and
// heartbeats. It knows nothing about invocation bodies; those stay opaque.
package exchange

import (
	errs "github.com/nmxmxh/janus/pkg/errors"
)

// Response status codes carried on the wire.
const (
	StatusOK                  byte = 20
	StatusClientTimeout       byte = 30
	StatusServerTimeout       byte = 31
	StatusBadRequest          byte = 40
	StatusBadResponse         byte = 50
	StatusServiceNotFound     byte = 60
	StatusServiceError        byte = 70
	StatusServerError         byte = 80
	StatusClientError         byte = 90
	StatusThreadpoolExhausted byte = 100
)

// Request is one outbound frame. Two-way requests reserve an id and a
// future; oneway and event frames are fire-and-forget.
type Request struct {
	ID      int64
	Version string
	TwoWay  bool
	Event   bool
	Data    interface{}
}

// IsRequest marks Request for the execution dispatcher.
func (r *Request) IsRequest() bool { return true }

// Response is one inbound frame correlated by id.
type Response struct {
	ID       int64
	Status   byte
	Event    bool
	Data     interface{}
	ErrorMsg string
}

// IsRequest marks Response as not-a-request for the execution dispatcher.
func (r *Response) IsRequest() bool { return false }

// OK reports a successful status.
func (r *Response) OK() bool { return r.Status == StatusOK }

// Err maps a non-OK status to its stable error kind.
func (r *Response) Err() error {
	switch r.Status {
	case StatusOK:
		return nil
	case StatusClientTimeout, StatusServerTimeout:
		return errs.Timeoutf("status %d: %s", r.Status, r.ErrorMsg)
	case StatusBadRequest, StatusBadResponse:
		return errs.Serializationf("status %d: %s", r.Status, r.ErrorMsg)
	case StatusServiceNotFound:
		return errs.Forbiddenf("service not found: %s", r.ErrorMsg)
	case StatusServiceError:
		return errs.Bizf("%s", r.ErrorMsg)
	case StatusThreadpoolExhausted:
		return errs.Limitf("server thread pool exhausted: %s", r.ErrorMsg)
	default:
		return errs.Wrap(errs.ErrUnknown, r.ErrorMsg)
	}
}

// NewHeartbeatRequest builds a two-way event frame with a nil body.
func NewHeartbeatRequest(id int64) *Request {
	return &Request{ID: id, TwoWay: true, Event: true}
}

// NewHeartbeatResponse mirrors a heartbeat request's id.
func NewHeartbeatResponse(id int64) *Response {
	return &Response{ID: id, Status: StatusOK, Event: true}
}
