package dubbo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmxmxh/janus/internal/remoting"
	"github.com/nmxmxh/janus/internal/remoting/exchange"
	"github.com/nmxmxh/janus/pkg/buffer"
	"github.com/nmxmxh/janus/pkg/common"
	errs "github.com/nmxmxh/janus/pkg/errors"
)

func newCodec() *Codec {
	return &Codec{Payload: common.DefaultPayload, Serialization: "hessian2"}
}

func TestCodec_IsTheDefaultWireCodec(t *testing.T) {
	url := common.NewURL(common.DubboProtocol, "127.0.0.1", 20880, "com.acme.Hello", nil)
	c, err := remoting.GetCodec(url)
	require.NoError(t, err, "urls naming no codec fall back to dubbo")
	assert.IsType(t, &Codec{}, c)
}

func TestCodec_RequestRoundTrip(t *testing.T) {
	c := newCodec()
	buf := buffer.NewDynamic(512)

	req := &exchange.Request{
		ID:     42,
		TwoWay: true,
		Data: &RequestPayload{
			Path:      "com.acme.Hello",
			Version:   "1.0.0",
			Method:    "greet",
			TypesDesc: "Ljava/lang/String;",
			Args:      []interface{}{"ada"},
			Attachments: map[string]string{
				common.InterfaceKey: "com.acme.Hello",
				common.GroupKey:     "g1",
			},
		},
	}
	require.NoError(t, c.Encode(buf, req))

	decoded, err := c.Decode(buf)
	require.NoError(t, err)
	got, ok := decoded.(*exchange.Request)
	require.True(t, ok)
	assert.Equal(t, int64(42), got.ID)
	assert.True(t, got.TwoWay)
	assert.False(t, got.Event)

	p, ok := got.Data.(*RequestPayload)
	require.True(t, ok)
	assert.Equal(t, "com.acme.Hello", p.Path)
	assert.Equal(t, "1.0.0", p.Version)
	assert.Equal(t, "greet", p.Method)
	assert.Equal(t, "Ljava/lang/String;", p.TypesDesc)
	require.Len(t, p.Args, 1)
	assert.Equal(t, "ada", p.Args[0])
	assert.Equal(t, "g1", p.Attachments[common.GroupKey])
	assert.Equal(t, 0, buf.ReadableBytes(), "frame fully consumed")
}

func TestCodec_ResponseRoundTrip(t *testing.T) {
	c := newCodec()
	buf := buffer.NewDynamic(512)

	require.NoError(t, c.Encode(buf, &exchange.Response{ID: 7, Status: exchange.StatusOK, Data: "pong"}))
	decoded, err := c.Decode(buf)
	require.NoError(t, err)
	resp := decoded.(*exchange.Response)
	assert.Equal(t, int64(7), resp.ID)
	assert.True(t, resp.OK())
	assert.Equal(t, "pong", resp.Data)
}

func TestCodec_NullAndErrorResponses(t *testing.T) {
	c := newCodec()
	buf := buffer.NewDynamic(512)

	require.NoError(t, c.Encode(buf, &exchange.Response{ID: 1, Status: exchange.StatusOK}))
	decoded, err := c.Decode(buf)
	require.NoError(t, err)
	assert.Nil(t, decoded.(*exchange.Response).Data)

	require.NoError(t, c.Encode(buf, &exchange.Response{
		ID: 2, Status: exchange.StatusServiceError, ErrorMsg: "no such user",
	}))
	decoded, err = c.Decode(buf)
	require.NoError(t, err)
	resp := decoded.(*exchange.Response)
	assert.False(t, resp.OK())
	assert.ErrorIs(t, resp.Err(), errs.ErrBiz)
	assert.Contains(t, resp.ErrorMsg, "no such user")
}

func TestCodec_HeartbeatEvent(t *testing.T) {
	c := newCodec()
	buf := buffer.NewDynamic(512)

	require.NoError(t, c.Encode(buf, exchange.NewHeartbeatRequest(9)))
	decoded, err := c.Decode(buf)
	require.NoError(t, err)
	req := decoded.(*exchange.Request)
	assert.True(t, req.Event)
	assert.True(t, req.TwoWay)
	assert.Equal(t, int64(9), req.ID)
}

func TestCodec_IncompleteFrame(t *testing.T) {
	c := newCodec()
	whole := buffer.NewDynamic(512)
	require.NoError(t, c.Encode(whole, &exchange.Response{ID: 3, Status: exchange.StatusOK, Data: "x"}))
	raw, err := whole.ReadBytes(whole.ReadableBytes())
	require.NoError(t, err)

	buf := buffer.NewDynamic(512)

	// header alone is not enough
	_, err = buf.Write(raw[:headerLength-4])
	require.NoError(t, err)
	_, derr := c.Decode(buf)
	assert.ErrorIs(t, derr, remoting.ErrNeedMoreInput)

	// header plus a truncated body still reports need-more and keeps the
	// reader index at the frame start
	_, err = buf.Write(raw[headerLength-4 : len(raw)-1])
	require.NoError(t, err)
	_, derr = c.Decode(buf)
	assert.ErrorIs(t, derr, remoting.ErrNeedMoreInput)

	// last byte completes the frame
	_, err = buf.Write(raw[len(raw)-1:])
	require.NoError(t, err)
	decoded, derr := c.Decode(buf)
	require.NoError(t, derr)
	assert.Equal(t, "x", decoded.(*exchange.Response).Data)
}

func TestCodec_BadMagic(t *testing.T) {
	c := newCodec()
	buf := buffer.NewDynamic(512)
	_, err := buf.Write(make([]byte, headerLength))
	require.NoError(t, err)

	_, derr := c.Decode(buf)
	assert.ErrorIs(t, derr, errs.ErrNetwork)
}

func TestCodec_PayloadLimitKeepsConnection(t *testing.T) {
	big := newCodec()
	buf := buffer.NewDynamic(512)
	require.NoError(t, big.Encode(buf, &exchange.Request{
		ID:     5,
		TwoWay: true,
		Data: &RequestPayload{
			Path:      "com.acme.Hello",
			Method:    "greet",
			TypesDesc: "Ljava/lang/String;",
			Args:      []interface{}{string(make([]byte, 256))},
		},
	}))
	// second frame behind the oversized one
	require.NoError(t, big.Encode(buf, exchange.NewHeartbeatRequest(6)))

	small := &Codec{Payload: 64, Serialization: "hessian2"}
	_, derr := small.Decode(buf)
	assert.ErrorIs(t, derr, errs.ErrSerialization)

	// the oversized frame was consumed; the next one decodes
	decoded, derr := small.Decode(buf)
	require.NoError(t, derr)
	assert.Equal(t, int64(6), decoded.(*exchange.Request).ID)
}
