// Package registry defines the service discovery plane: the Registry
// contract every backend honors, the failure-tolerant base that retries
// failed operations in the background, the full-state notification helpers
// and the local disk cache consulted when the backend is unreachable.
package registry

import (
	"sync"

	"github.com/nmxmxh/janus/pkg/common"
	"github.com/nmxmxh/janus/pkg/extension"
)

// NotifyListener receives full-state notifications. The URL set per category
// is always the complete current state, never a delta; listeners replace
// their cached view wholesale.
type NotifyListener interface {
	Notify(urls []*common.URL)
}

// NotifyFunc adapts a function to NotifyListener. The returned listener is
// comparable, so the same value can be passed to Subscribe and later to
// Unsubscribe.
func NotifyFunc(fn func(urls []*common.URL)) NotifyListener {
	return &funcListener{fn: fn}
}

type funcListener struct {
	fn func(urls []*common.URL)
}

func (f *funcListener) Notify(urls []*common.URL) { f.fn(urls) }

// Registry is the contract consumed by the rest of the framework. Provider
// URLs register ephemeral by default; URLs with dynamic=false persist across
// backend session loss.
type Registry interface {
	// URL returns the registry's own address.
	URL() *common.URL
	// Register publishes url. With check=false on the registry URL,
	// failures are swallowed and retried in the background.
	Register(url *common.URL) error
	// Unregister withdraws url and fires no notification.
	Unregister(url *common.URL) error
	// Subscribe delivers one full notification per subscribed category
	// immediately (empty state encoded as a single empty:// URL), then on
	// every change. Delivery per subscribe URL is serialized.
	Subscribe(url *common.URL, listener NotifyListener) error
	// Unsubscribe detaches listener.
	Unsubscribe(url *common.URL, listener NotifyListener) error
	// Lookup returns the current state for url's service key, from the
	// local cache when the backend is unreachable.
	Lookup(url *common.URL) ([]*common.URL, error)
	// IsAvailable reports whether the backend connection is up.
	IsAvailable() bool
	// Destroy unregisters everything this client registered and closes
	// the backend connection. Idempotent.
	Destroy()
}

// Factory builds registries, one cached instance per registry address.
type Factory interface {
	GetRegistry(url *common.URL) (Registry, error)
}

var point = extension.NewPoint("registry", "")

// SetFactory registers a registry backend under its protocol name.
func SetFactory(name string, factory func() Factory) {
	point.Register(name, func() interface{} { return factory() })
}

// GetRegistry resolves the backend named by url.Protocol and returns the
// cached registry for url's address.
func GetRegistry(url *common.URL) (Registry, error) {
	inst, err := point.Adaptive(url)
	if err != nil {
		return nil, err
	}
	return inst.(Factory).GetRegistry(url)
}

// DestroyAll destroys every registry built so far. The shutdown hook calls
// this before destroying protocols so consumers stop seeing endpoints first.
func DestroyAll() {
	for _, inst := range point.Instantiated() {
		if f, ok := inst.(interface{ DestroyAll() }); ok {
			f.DestroyAll()
		}
	}
	point.Reset()
}

// BaseFactory caches registries per address. Backends embed it and supply
// the constructor.
type BaseFactory struct {
	New func(url *common.URL) (Registry, error)

	mu         sync.Mutex
	registries map[string]Registry
}

// GetRegistry implements Factory.
func (f *BaseFactory) GetRegistry(url *common.URL) (Registry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.registries == nil {
		f.registries = map[string]Registry{}
	}
	key := url.Protocol + "://" + url.Address()
	if r, ok := f.registries[key]; ok && r.IsAvailable() {
		return r, nil
	}
	r, err := f.New(url)
	if err != nil {
		return nil, err
	}
	f.registries[key] = r
	return r, nil
}

// DestroyAll destroys every cached registry.
func (f *BaseFactory) DestroyAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key, r := range f.registries {
		r.Destroy()
		delete(f.registries, key)
	}
}

// EmptyURL encodes "no URLs in this category" as a single URL with the empty
// protocol, so a notification always carries at least one entry per category.
func EmptyURL(subscribe *common.URL, category string) *common.URL {
	u := subscribe.SetProtocol(common.EmptyProtocol)
	return u.AddParam(common.CategoryKey, category)
}

// IsEmpty reports whether urls encodes the empty state.
func IsEmpty(urls []*common.URL) bool {
	return len(urls) == 0 || (len(urls) == 1 && urls[0].Protocol == common.EmptyProtocol)
}

// SubscribedCategories returns the categories a subscribe URL asked for.
// A "*" entry (or none) means all four.
func SubscribedCategories(url *common.URL) []string {
	raw := url.Param(common.CategoryKey, common.ProvidersCategory)
	cats := common.SplitCommaList(raw)
	for _, c := range cats {
		if c == common.AnyCategory {
			return []string{
				common.ProvidersCategory, common.ConsumersCategory,
				common.RoutersCategory, common.ConfiguratorsCategory,
			}
		}
	}
	return cats
}
