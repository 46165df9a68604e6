package static

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmxmxh/janus/internal/registry"
	"github.com/nmxmxh/janus/pkg/common"
)

type recordingListener struct {
	mu            sync.Mutex
	notifications [][]*common.URL
}

func (l *recordingListener) Notify(urls []*common.URL) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.notifications = append(l.notifications, urls)
}

func (l *recordingListener) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.notifications)
}

func (l *recordingListener) last() []*common.URL {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.notifications) == 0 {
		return nil
	}
	return l.notifications[len(l.notifications)-1]
}

func newTestRegistry(t *testing.T) registry.Registry {
	t.Helper()
	url := common.MustParseURL("static://127.0.0.1:0?file=" +
		filepath.Join(t.TempDir(), "registry.cache"))
	reg, err := New(url)
	require.NoError(t, err)
	t.Cleanup(reg.Destroy)
	return reg
}

func providerURL(addr string) *common.URL {
	return common.MustParseURL("dubbo://" + addr +
		"/com.acme.Hello?interface=com.acme.Hello&category=providers")
}

func subscribeURL(categories string) *common.URL {
	return common.MustParseURL(
		"consumer://127.0.0.1/com.acme.Hello?interface=com.acme.Hello&category=" + categories)
}

func TestStatic_SubscribeDeliversInitialFullState(t *testing.T) {
	reg := newTestRegistry(t)
	require.NoError(t, reg.Register(providerURL("10.0.0.1:20880")))

	l := &recordingListener{}
	require.NoError(t, reg.Subscribe(subscribeURL("providers"), l))
	require.Equal(t, 1, l.count(), "one full notification on subscribe")
	urls := l.last()
	require.Len(t, urls, 1)
	assert.Equal(t, "10.0.0.1:20880", urls[0].Address())
}

func TestStatic_SubscribeEmptyCategoryStillNotifies(t *testing.T) {
	reg := newTestRegistry(t)
	l := &recordingListener{}
	require.NoError(t, reg.Subscribe(subscribeURL("providers"), l))
	require.Equal(t, 1, l.count())
	assert.True(t, registry.IsEmpty(l.last()), "empty state travels as an empty:// url")
}

func TestStatic_RegisterAfterSubscribePushesFullState(t *testing.T) {
	reg := newTestRegistry(t)
	l := &recordingListener{}
	require.NoError(t, reg.Subscribe(subscribeURL("providers"), l))

	require.NoError(t, reg.Register(providerURL("10.0.0.1:20880")))
	require.NoError(t, reg.Register(providerURL("10.0.0.2:20880")))
	require.Equal(t, 3, l.count(), "initial empty plus one per change")

	urls := l.last()
	assert.Len(t, urls, 2, "each notification carries the complete state, not a delta")
}

func TestStatic_UnregisterNotifiesRemainingState(t *testing.T) {
	reg := newTestRegistry(t)
	a := providerURL("10.0.0.1:20880")
	b := providerURL("10.0.0.2:20880")
	require.NoError(t, reg.Register(a))
	require.NoError(t, reg.Register(b))

	l := &recordingListener{}
	require.NoError(t, reg.Subscribe(subscribeURL("providers"), l))

	require.NoError(t, reg.Unregister(a))
	urls := l.last()
	require.Len(t, urls, 1)
	assert.Equal(t, "10.0.0.2:20880", urls[0].Address())

	require.NoError(t, reg.Unregister(b))
	assert.True(t, registry.IsEmpty(l.last()), "last provider gone means explicit empty state")
}

func TestStatic_CategoriesAreIndependent(t *testing.T) {
	reg := newTestRegistry(t)
	router := common.MustParseURL(
		"condition://0.0.0.0/com.acme.Hello?interface=com.acme.Hello&category=routers&rule=x")
	require.NoError(t, reg.Register(router))

	l := &recordingListener{}
	require.NoError(t, reg.Subscribe(subscribeURL("providers,routers"), l))
	require.Equal(t, 2, l.count(), "one notification per subscribed category")

	var sawEmptyProviders, sawRouter bool
	for _, urls := range l.notifications {
		if registry.IsEmpty(urls) && urls[0].Category() == common.ProvidersCategory {
			sawEmptyProviders = true
		}
		if len(urls) == 1 && urls[0].Category() == common.RoutersCategory && urls[0].Protocol == "condition" {
			sawRouter = true
		}
	}
	assert.True(t, sawEmptyProviders)
	assert.True(t, sawRouter)
}

func TestStatic_Lookup(t *testing.T) {
	reg := newTestRegistry(t)
	require.NoError(t, reg.Register(providerURL("10.0.0.1:20880")))

	urls, err := reg.Lookup(subscribeURL("providers"))
	require.NoError(t, err)
	require.Len(t, urls, 1)
	assert.Equal(t, "10.0.0.1:20880", urls[0].Address())
}

func TestStatic_FactoryCachesPerAddress(t *testing.T) {
	f := &registry.BaseFactory{New: New}
	url := common.MustParseURL("static://127.0.0.1:1?file=" +
		filepath.Join(t.TempDir(), "c.cache"))
	r1, err := f.GetRegistry(url)
	require.NoError(t, err)
	r2, err := f.GetRegistry(url)
	require.NoError(t, err)
	assert.Same(t, r1, r2)

	other, err := f.GetRegistry(common.MustParseURL("static://127.0.0.1:2?file=" +
		filepath.Join(t.TempDir(), "d.cache")))
	require.NoError(t, err)
	assert.NotSame(t, r1, other)
	f.DestroyAll()
}
