package dubbo

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmxmxh/janus/internal/protocol"
	"github.com/nmxmxh/janus/pkg/common"
	errs "github.com/nmxmxh/janus/pkg/errors"
)

// greeterInvoker answers greet, fails lookup and counts oneway pings.
type greeterInvoker struct {
	*protocol.BaseInvoker
	pings atomic.Int32
}

func (g *greeterInvoker) Invoke(_ context.Context, inv protocol.Invocation) protocol.Result {
	switch inv.MethodName() {
	case "greet":
		return protocol.NewResult(fmt.Sprintf("hello %v", inv.Arguments()[0]))
	case "ping":
		g.pings.Add(1)
		return protocol.NewResult(nil)
	default:
		return protocol.NewErrorResult(errs.Bizf("no such entry: %s", inv.MethodName()))
	}
}

func exportGreeter(t *testing.T) (*Protocol, *greeterInvoker, *common.URL) {
	t.Helper()
	port, err := common.FreePort("127.0.0.1")
	require.NoError(t, err)
	url := common.NewURL(common.DubboProtocol, "127.0.0.1", port, "com.acme.Greeter",
		map[string]string{common.InterfaceKey: "com.acme.Greeter"})

	p := NewProtocol()
	t.Cleanup(p.Destroy)
	g := &greeterInvoker{BaseInvoker: protocol.NewBaseInvoker(url)}
	exp, err := p.Export(g)
	require.NoError(t, err)
	t.Cleanup(exp.Unexport)
	return p, g, url
}

func TestProtocol_RoundTripOverTCP(t *testing.T) {
	p, _, url := exportGreeter(t)

	invoker, err := p.Refer(url)
	require.NoError(t, err)
	t.Cleanup(invoker.Destroy)
	require.True(t, invoker.IsAvailable())

	inv := protocol.NewInvocation("greet",
		[]string{"Ljava/lang/String;"}, []interface{}{"world"})
	res := invoker.Invoke(context.Background(), inv)
	require.NoError(t, res.Error())
	assert.Equal(t, "hello world", res.Value())
}

func TestProtocol_RemoteErrorKeepsKind(t *testing.T) {
	p, _, url := exportGreeter(t)

	invoker, err := p.Refer(url)
	require.NoError(t, err)
	t.Cleanup(invoker.Destroy)

	res := invoker.Invoke(context.Background(), protocol.NewInvocation("lookup", nil, nil))
	require.Error(t, res.Error())
	assert.ErrorIs(t, res.Error(), errs.ErrBiz, "a provider failure crosses the wire as biz")
	assert.Contains(t, res.Error().Error(), "no such entry")
}

func TestProtocol_OnewaySkipsResponse(t *testing.T) {
	p, g, url := exportGreeter(t)

	invoker, err := p.Refer(url)
	require.NoError(t, err)
	t.Cleanup(invoker.Destroy)

	inv := protocol.NewInvocation("ping", nil, nil)
	inv.SetAttachment(common.OnewayKey, "true")
	res := invoker.Invoke(context.Background(), inv)
	require.NoError(t, res.Error())
	assert.Nil(t, res.Value())

	assert.Eventually(t, func() bool {
		return g.pings.Load() == 1
	}, 2*time.Second, 10*time.Millisecond, "the fire-and-forget call still lands")
}

func TestProtocol_ClientsSharePerAddress(t *testing.T) {
	p, _, url := exportGreeter(t)

	a, err := p.Refer(url)
	require.NoError(t, err)
	b, err := p.Refer(url)
	require.NoError(t, err)

	p.mu.Lock()
	assert.Len(t, p.clients, 1, "one connection per remote address")
	p.mu.Unlock()

	a.Destroy()
	b.Destroy()
	p.mu.Lock()
	assert.Empty(t, p.clients, "last reference closes the shared client")
	p.mu.Unlock()
}

func TestProtocol_UnexportedServiceRefused(t *testing.T) {
	p, _, url := exportGreeter(t)

	other := common.NewURL(common.DubboProtocol, url.Host, url.Port, "com.acme.Missing",
		map[string]string{common.InterfaceKey: "com.acme.Missing"})
	invoker, err := p.Refer(other)
	require.NoError(t, err)
	t.Cleanup(invoker.Destroy)

	res := invoker.Invoke(context.Background(), protocol.NewInvocation("greet", nil, nil))
	assert.ErrorIs(t, res.Error(), errs.ErrForbidden)
}
