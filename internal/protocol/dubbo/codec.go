// Package dubbo implements the default wire protocol: a 16-byte framed codec
// compatible with the dubbo header layout, and the Protocol that exports
// services over it and refers remote ones.
package dubbo

import (
	"encoding/binary"

	"github.com/nmxmxh/janus/internal/protocol"
	"github.com/nmxmxh/janus/internal/remoting"
	"github.com/nmxmxh/janus/internal/remoting/exchange"
	"github.com/nmxmxh/janus/internal/serialize"
	"github.com/nmxmxh/janus/pkg/buffer"
	"github.com/nmxmxh/janus/pkg/common"
	errs "github.com/nmxmxh/janus/pkg/errors"
)

// Frame layout: magic(2) flags(1) status(1) id(8) bodylen(4), then the body.
const (
	headerLength = 16
	magicHigh    = 0xda
	magicLow     = 0xbb

	flagRequest = 0x80
	flagTwoWay  = 0x40
	flagEvent   = 0x20
	maskSerial  = 0x1f

	protocolVersion = "2.0.2"
)

func init() {
	remoting.SetCodec("dubbo", func() remoting.Codec {
		return &Codec{Payload: common.DefaultPayload, Serialization: common.DefaultSerialization}
	})
}

// RequestPayload is the decoded body of an inbound invocation request.
type RequestPayload struct {
	Path        string
	Version     string
	Method      string
	TypesDesc   string
	Args        []interface{}
	Attachments map[string]string
}

// Codec frames exchange requests and responses. Encode picks the
// serialization by name; Decode picks it from the id bits in the header, so
// both peers need not agree out of band beyond the URL.
type Codec struct {
	// Payload bounds the body length; larger frames decode to a
	// serialization error with the connection kept.
	Payload int64
	// Serialization names the default body encoding for outbound frames.
	Serialization string
}

// Encode implements remoting.Codec.
func (c *Codec) Encode(buf *buffer.Buffer, msg interface{}) error {
	switch m := msg.(type) {
	case *exchange.Request:
		return c.encodeRequest(buf, m)
	case *exchange.Response:
		return c.encodeResponse(buf, m)
	default:
		return errs.Serializationf("cannot encode %T", msg)
	}
}

func (c *Codec) serialization() (serialize.Serialization, error) {
	name := c.Serialization
	if name == "" {
		name = common.DefaultSerialization
	}
	return serialize.Get(name)
}

func (c *Codec) encodeRequest(buf *buffer.Buffer, req *exchange.Request) error {
	ser, err := c.serialization()
	if err != nil {
		return err
	}
	flags := byte(flagRequest) | ser.ID()
	if req.TwoWay {
		flags |= flagTwoWay
	}
	if req.Event {
		flags |= flagEvent
	}

	out := ser.NewOutput()
	if req.Event {
		if err := out.WriteObject(nil); err != nil {
			return err
		}
	} else {
		p, ok := req.Data.(*RequestPayload)
		if !ok {
			return errs.Serializationf("request body must be *RequestPayload, got %T", req.Data)
		}
		for _, v := range []interface{}{protocolVersion, p.Path, p.Version, p.Method, p.TypesDesc} {
			if err := out.WriteObject(v); err != nil {
				return err
			}
		}
		for _, a := range p.Args {
			if err := out.WriteObject(a); err != nil {
				return err
			}
		}
		if err := out.WriteObject(p.Attachments); err != nil {
			return err
		}
	}
	return c.writeFrame(buf, flags, 0, req.ID, out.Bytes())
}

// Response body variants on an OK status.
const (
	responseWithException byte = 0
	responseValue         byte = 1
	responseNullValue     byte = 2
)

func (c *Codec) encodeResponse(buf *buffer.Buffer, resp *exchange.Response) error {
	ser, err := c.serialization()
	if err != nil {
		return err
	}
	flags := ser.ID()
	if resp.Event {
		flags |= flagEvent
	}

	out := ser.NewOutput()
	switch {
	case resp.Event:
		if err := out.WriteObject(nil); err != nil {
			return err
		}
	case resp.Status != exchange.StatusOK:
		if err := out.WriteObject(resp.ErrorMsg); err != nil {
			return err
		}
	case resp.Data == nil:
		if err := out.WriteObject(int32(responseNullValue)); err != nil {
			return err
		}
	default:
		if err := out.WriteObject(int32(responseValue)); err != nil {
			return err
		}
		if err := out.WriteObject(resp.Data); err != nil {
			return err
		}
	}
	return c.writeFrame(buf, flags, resp.Status, resp.ID, out.Bytes())
}

func (c *Codec) writeFrame(buf *buffer.Buffer, flags, status byte, id int64, body []byte) error {
	var header [headerLength]byte
	header[0] = magicHigh
	header[1] = magicLow
	header[2] = flags
	header[3] = status
	binary.BigEndian.PutUint64(header[4:12], uint64(id))
	binary.BigEndian.PutUint32(header[12:16], uint32(len(body)))
	if _, err := buf.Write(header[:]); err != nil {
		return err
	}
	_, err := buf.Write(body)
	return err
}

// Decode implements remoting.Codec. It leaves the reader index untouched
// until a complete frame is buffered.
func (c *Codec) Decode(buf *buffer.Buffer) (interface{}, error) {
	if buf.ReadableBytes() < headerLength {
		return nil, remoting.ErrNeedMoreInput
	}
	buf.MarkReaderIndex()
	header, err := buf.ReadBytes(headerLength)
	if err != nil {
		return nil, err
	}
	if header[0] != magicHigh || header[1] != magicLow {
		return nil, errs.Networkf("bad magic 0x%02x%02x", header[0], header[1])
	}
	bodyLen := int(binary.BigEndian.Uint32(header[12:16]))
	if buf.ReadableBytes() < bodyLen {
		if err := buf.ResetReaderIndex(); err != nil {
			return nil, err
		}
		return nil, remoting.ErrNeedMoreInput
	}
	body, err := buf.ReadBytes(bodyLen)
	if err != nil {
		return nil, err
	}

	flags := header[2]
	id := int64(binary.BigEndian.Uint64(header[4:12]))

	limit := c.Payload
	if limit <= 0 {
		limit = common.DefaultPayload
	}
	if int64(bodyLen) > limit {
		// Frame consumed; the connection survives.
		return nil, errs.Serializationf("body length %d exceeds payload limit %d", bodyLen, limit)
	}

	ser, err := serialize.GetByID(flags & maskSerial)
	if err != nil {
		return nil, err
	}
	if flags&flagRequest != 0 {
		return c.decodeRequest(ser, flags, id, body)
	}
	return c.decodeResponse(ser, flags, header[3], id, body)
}

func (c *Codec) decodeRequest(ser serialize.Serialization, flags byte, id int64, body []byte) (*exchange.Request, error) {
	req := &exchange.Request{
		ID:     id,
		TwoWay: flags&flagTwoWay != 0,
		Event:  flags&flagEvent != 0,
	}
	if req.Event {
		return req, nil
	}
	in := ser.NewInput(body)
	if v, err := in.ReadObject(); err != nil {
		return nil, err
	} else {
		req.Version = serialize.ToString(v)
	}
	p := &RequestPayload{}
	fields := []*string{&p.Path, &p.Version, &p.Method, &p.TypesDesc}
	for _, f := range fields {
		v, err := in.ReadObject()
		if err != nil {
			return nil, err
		}
		*f = serialize.ToString(v)
	}
	for range protocol.SplitDesc(p.TypesDesc) {
		v, err := in.ReadObject()
		if err != nil {
			return nil, err
		}
		p.Args = append(p.Args, v)
	}
	v, err := in.ReadObject()
	if err != nil {
		return nil, err
	}
	p.Attachments = serialize.ToStringMap(v)
	req.Data = p
	return req, nil
}

func (c *Codec) decodeResponse(ser serialize.Serialization, flags, status byte, id int64, body []byte) (*exchange.Response, error) {
	resp := &exchange.Response{
		ID:     id,
		Status: status,
		Event:  flags&flagEvent != 0,
	}
	if resp.Event {
		return resp, nil
	}
	in := ser.NewInput(body)
	if status != exchange.StatusOK {
		v, err := in.ReadObject()
		if err != nil {
			return nil, err
		}
		resp.ErrorMsg = serialize.ToString(v)
		return resp, nil
	}
	v, err := in.ReadObject()
	if err != nil {
		return nil, err
	}
	variant, ok := toInt(v)
	if !ok {
		return nil, errs.Serializationf("bad response variant %T", v)
	}
	switch byte(variant) {
	case responseNullValue:
	case responseValue:
		if resp.Data, err = in.ReadObject(); err != nil {
			return nil, err
		}
	case responseWithException:
		ex, err := in.ReadObject()
		if err != nil {
			return nil, err
		}
		resp.Status = exchange.StatusServiceError
		resp.ErrorMsg = serialize.ToString(ex)
	default:
		return nil, errs.Serializationf("unknown response variant %d", variant)
	}
	return resp, nil
}

func toInt(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}
