package protocol

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmxmxh/janus/pkg/common"
	errs "github.com/nmxmxh/janus/pkg/errors"
)

func TestRPCInvocation_Clone(t *testing.T) {
	inv := NewInvocation("greet", []string{"Ljava/lang/String;"}, []interface{}{"x"})
	inv.SetAttachment("trace", "t1")

	c := inv.Clone()
	c.SetAttachment("hop", "1")

	assert.Equal(t, "t1", c.Attachment("trace"))
	assert.Empty(t, inv.Attachment("hop"), "clone attachments must not leak back")
	assert.Equal(t, inv.MethodName(), c.MethodName())
	assert.Equal(t, inv.Arguments(), c.Arguments())
}

func TestRPCResult_Exclusive(t *testing.T) {
	ok := NewResult("v")
	assert.Equal(t, "v", ok.Value())
	assert.NoError(t, ok.Error())

	bad := NewErrorResult(errs.ErrForbidden)
	assert.Nil(t, bad.Value())
	assert.ErrorIs(t, bad.Error(), errs.ErrForbidden)
}

func TestBaseInvoker_DestroyIdempotent(t *testing.T) {
	inv := NewBaseInvoker(common.MustParseURL("dubbo://127.0.0.1:20880/com.acme.Hello"))
	assert.True(t, inv.IsAvailable())

	inv.Destroy()
	assert.False(t, inv.IsAvailable())
	res := inv.Invoke(context.Background(), NewInvocation("greet", nil, nil))
	assert.ErrorIs(t, res.Error(), errs.ErrDestroyed)

	// second destroy leaves no additional side effects
	inv.Destroy()
	assert.False(t, inv.IsAvailable())
}

func TestStatusCounters(t *testing.T) {
	ResetStatus()
	url := common.MustParseURL("dubbo://10.0.0.1:20880/com.acme.Hello")

	BeginCount(url, "greet")
	assert.Equal(t, int64(1), GetMethodStatus(url, "greet").Active())
	assert.Equal(t, int64(1), GetURLStatus(url).Active())

	EndCount(url, "greet", 12, true)
	s := GetMethodStatus(url, "greet")
	assert.Equal(t, int64(0), s.Active())
	assert.Equal(t, int64(1), s.Total())
	assert.Equal(t, int64(0), s.Failed())
	assert.Equal(t, int64(12), s.SucceededElapsed())

	BeginCount(url, "greet")
	EndCount(url, "greet", 7, false)
	assert.Equal(t, int64(1), s.Failed())
	assert.Equal(t, int64(7), s.FailedElapsed())
	assert.Equal(t, int64(2), GetURLStatus(url).Total())
}

func TestProtocolExtensionPoint(t *testing.T) {
	_, err := GetProtocol("no-such-protocol")
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrNoExtension)
}
