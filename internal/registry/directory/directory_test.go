package directory

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmxmxh/janus/internal/protocol"
	_ "github.com/nmxmxh/janus/internal/protocol/injvm"
	"github.com/nmxmxh/janus/internal/registry"
	"github.com/nmxmxh/janus/internal/registry/static"
	"github.com/nmxmxh/janus/pkg/common"
)

func newTestDirectory(t *testing.T) (*Directory, registry.Registry) {
	t.Helper()
	regURL := common.MustParseURL("static://127.0.0.1:0?file=" +
		filepath.Join(t.TempDir(), "registry.cache"))
	reg, err := static.New(regURL)
	require.NoError(t, err)
	t.Cleanup(reg.Destroy)

	sub := common.MustParseURL("consumer://127.0.0.1/com.acme.Hello" +
		"?interface=com.acme.Hello&category=providers,configurators,routers&side=consumer")
	dir, err := New(sub, reg)
	require.NoError(t, err)
	t.Cleanup(dir.Destroy)
	return dir, reg
}

func provider(addr string) *common.URL {
	return common.MustParseURL("injvm://" + addr +
		"/com.acme.Hello?interface=com.acme.Hello&category=providers")
}

func greetCall() protocol.Invocation {
	return protocol.NewInvocation("greet", nil, nil)
}

func TestDirectory_TracksProviderSet(t *testing.T) {
	dir, reg := newTestDirectory(t)
	assert.Empty(t, dir.List(greetCall()))

	require.NoError(t, reg.Register(provider("10.0.0.1:20880")))
	invokers := dir.List(greetCall())
	require.Len(t, invokers, 1)
	assert.Equal(t, "10.0.0.1:20880", invokers[0].URL().Address())

	require.NoError(t, reg.Register(provider("10.0.0.2:20880")))
	assert.Len(t, dir.List(greetCall()), 2)
}

func TestDirectory_UnregisterDestroysVanishedInvoker(t *testing.T) {
	dir, reg := newTestDirectory(t)
	a := provider("10.0.0.1:20880")
	b := provider("10.0.0.2:20880")
	require.NoError(t, reg.Register(a))
	require.NoError(t, reg.Register(b))

	invokers := dir.List(greetCall())
	require.Len(t, invokers, 2)
	var removed, kept interface {
		URL() *common.URL
		IsAvailable() bool
	}
	for _, inv := range invokers {
		if inv.URL().Address() == "10.0.0.1:20880" {
			removed = inv
		} else {
			kept = inv
		}
	}

	require.NoError(t, reg.Unregister(a))
	left := dir.List(greetCall())
	require.Len(t, left, 1)
	assert.Equal(t, "10.0.0.2:20880", left[0].URL().Address())
	assert.Same(t, kept, left[0], "surviving invoker is kept, not re-referred")
	_ = removed
}

func TestDirectory_EmptyNotificationClearsProviders(t *testing.T) {
	dir, reg := newTestDirectory(t)
	a := provider("10.0.0.1:20880")
	require.NoError(t, reg.Register(a))
	require.Len(t, dir.List(greetCall()), 1)

	require.NoError(t, reg.Unregister(a))
	assert.Empty(t, dir.List(greetCall()))
	assert.False(t, dir.IsAvailable())
}

func TestDirectory_ConfiguratorOverridesParameters(t *testing.T) {
	dir, reg := newTestDirectory(t)
	require.NoError(t, reg.Register(provider("10.0.0.1:20880")))
	require.Len(t, dir.List(greetCall()), 1)
	assert.Equal(t, int64(common.DefaultTimeout), dir.List(greetCall())[0].URL().ParamInt(common.TimeoutKey, common.DefaultTimeout))

	override := common.MustParseURL("override://0.0.0.0/com.acme.Hello" +
		"?interface=com.acme.Hello&category=configurators&timeout=7000")
	require.NoError(t, reg.Register(override))

	invokers := dir.List(greetCall())
	require.Len(t, invokers, 1)
	assert.Equal(t, int64(7000), invokers[0].URL().ParamInt(common.TimeoutKey, 0))
}

func TestDirectory_DisabledProviderExcluded(t *testing.T) {
	dir, reg := newTestDirectory(t)
	disabled := common.MustParseURL("injvm://10.0.0.3:20880/com.acme.Hello" +
		"?interface=com.acme.Hello&category=providers&enabled=false")
	require.NoError(t, reg.Register(disabled))
	assert.Empty(t, dir.List(greetCall()))
}

func TestDirectory_ConditionRouterNarrowsCandidates(t *testing.T) {
	dir, reg := newTestDirectory(t)
	require.NoError(t, reg.Register(provider("10.0.0.1:20880")))
	require.NoError(t, reg.Register(provider("10.0.0.2:20880")))
	require.Len(t, dir.List(greetCall()), 2)

	rule := "true => host == \"10.0.0.1\""
	router := common.NewURL("condition", "0.0.0.0", 0, "com.acme.Hello", map[string]string{
		common.InterfaceKey: "com.acme.Hello",
		common.CategoryKey:  common.RoutersCategory,
		common.RuleKey:      rule,
		common.ForceKey:     "true",
	})
	require.NoError(t, reg.Register(router))

	invokers := dir.List(greetCall())
	require.Len(t, invokers, 1)
	assert.Equal(t, "10.0.0.1", invokers[0].URL().Host)
}

func TestDirectory_DestroyIdempotent(t *testing.T) {
	dir, reg := newTestDirectory(t)
	require.NoError(t, reg.Register(provider("10.0.0.1:20880")))
	require.Len(t, dir.List(greetCall()), 1)

	dir.Destroy()
	assert.Empty(t, dir.List(greetCall()))
	dir.Destroy()
	assert.False(t, dir.IsAvailable())
}
