package injvm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmxmxh/janus/internal/protocol"
	"github.com/nmxmxh/janus/pkg/common"
	errs "github.com/nmxmxh/janus/pkg/errors"
)

type echoInvoker struct {
	*protocol.BaseInvoker
}

func (e *echoInvoker) Invoke(_ context.Context, inv protocol.Invocation) protocol.Result {
	return protocol.NewResult("echo:" + inv.MethodName())
}

func serviceURL() *common.URL {
	return common.MustParseURL("injvm://127.0.0.1:0/com.acme.Echo?interface=com.acme.Echo")
}

func TestInjvm_ExportThenRefer(t *testing.T) {
	p := NewProtocol()
	t.Cleanup(p.Destroy)
	_, err := p.Export(&echoInvoker{BaseInvoker: protocol.NewBaseInvoker(serviceURL())})
	require.NoError(t, err)

	invoker, err := p.Refer(serviceURL())
	require.NoError(t, err)
	assert.True(t, invoker.IsAvailable())

	res := invoker.Invoke(context.Background(), protocol.NewInvocation("greet", nil, nil))
	require.NoError(t, res.Error())
	assert.Equal(t, "echo:greet", res.Value())
}

func TestInjvm_ReferBeforeExport(t *testing.T) {
	p := NewProtocol()
	t.Cleanup(p.Destroy)

	invoker, err := p.Refer(serviceURL())
	require.NoError(t, err)
	assert.False(t, invoker.IsAvailable(), "nothing exported yet")

	res := invoker.Invoke(context.Background(), protocol.NewInvocation("greet", nil, nil))
	assert.ErrorIs(t, res.Error(), errs.ErrForbidden)

	// the table is consulted per call, so a late export heals the reference
	_, err = p.Export(&echoInvoker{BaseInvoker: protocol.NewBaseInvoker(serviceURL())})
	require.NoError(t, err)
	res = invoker.Invoke(context.Background(), protocol.NewInvocation("greet", nil, nil))
	assert.NoError(t, res.Error())
}

func TestInjvm_UnexportWithdraws(t *testing.T) {
	p := NewProtocol()
	t.Cleanup(p.Destroy)
	exp, err := p.Export(&echoInvoker{BaseInvoker: protocol.NewBaseInvoker(serviceURL())})
	require.NoError(t, err)

	invoker, err := p.Refer(serviceURL())
	require.NoError(t, err)
	require.True(t, invoker.IsAvailable())

	exp.Unexport()
	exp.Unexport()
	assert.False(t, invoker.IsAvailable())
}

func TestInjvm_DestroyedInvokerRefuses(t *testing.T) {
	p := NewProtocol()
	t.Cleanup(p.Destroy)
	_, err := p.Export(&echoInvoker{BaseInvoker: protocol.NewBaseInvoker(serviceURL())})
	require.NoError(t, err)

	invoker, err := p.Refer(serviceURL())
	require.NoError(t, err)
	invoker.Destroy()
	res := invoker.Invoke(context.Background(), protocol.NewInvocation("greet", nil, nil))
	assert.ErrorIs(t, res.Error(), errs.ErrDestroyed)
}
