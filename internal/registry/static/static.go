// Package static is an in-memory registry backend. It honors the whole
// notification contract without any remote coordination service, which makes
// it the backend of choice for tests and single-process setups.
package static

import (
	"sync"

	"github.com/nmxmxh/janus/internal/registry"
	"github.com/nmxmxh/janus/pkg/common"
)

func init() {
	registry.SetFactory("static", func() registry.Factory {
		return &registry.BaseFactory{New: New}
	})
}

// New builds a static registry for url.
func New(url *common.URL) (registry.Registry, error) {
	b := &backend{
		entries:    map[string]map[string]*common.URL{},
		subscribed: map[string]*common.URL{},
	}
	f := registry.NewFailback(url, b, registry.NewCache(url))
	b.notify = f
	return &staticRegistry{Failback: f}, nil
}

type staticRegistry struct {
	*registry.Failback
}

// backend keeps full state per (service key, category) and pushes it to the
// failback layer on every change.
type backend struct {
	notify *registry.Failback

	mu         sync.Mutex
	entries    map[string]map[string]*common.URL // serviceKey/category -> url string -> url
	subscribed map[string]*common.URL            // serviceKey -> subscribe url
	closed     bool
}

func entryKey(u *common.URL) string { return u.ServiceKey() + "/" + u.Category() }

func (b *backend) DoRegister(url *common.URL) error {
	b.mu.Lock()
	key := entryKey(url)
	set, ok := b.entries[key]
	if !ok {
		set = map[string]*common.URL{}
		b.entries[key] = set
	}
	set[url.String()] = url
	sub := b.subscribed[url.ServiceKey()]
	state := snapshot(set)
	b.mu.Unlock()
	if sub != nil && categoryWanted(sub, url.Category()) {
		b.notify.NotifyCategory(sub, url.Category(), state)
	}
	return nil
}

func (b *backend) DoUnregister(url *common.URL) error {
	b.mu.Lock()
	key := entryKey(url)
	if set, ok := b.entries[key]; ok {
		delete(set, url.String())
	}
	sub := b.subscribed[url.ServiceKey()]
	state := snapshot(b.entries[key])
	b.mu.Unlock()
	if sub != nil && categoryWanted(sub, url.Category()) {
		b.notify.NotifyCategory(sub, url.Category(), state)
	}
	return nil
}

func (b *backend) DoSubscribe(url *common.URL) error {
	b.mu.Lock()
	b.subscribed[url.ServiceKey()] = url
	states := map[string][]*common.URL{}
	for _, category := range registry.SubscribedCategories(url) {
		states[category] = snapshot(b.entries[url.ServiceKey()+"/"+category])
	}
	b.mu.Unlock()
	// One full notification per subscribed category, empty included.
	for category, state := range states {
		b.notify.NotifyCategory(url, category, state)
	}
	return nil
}

func (b *backend) DoUnsubscribe(url *common.URL) error {
	b.mu.Lock()
	delete(b.subscribed, url.ServiceKey())
	b.mu.Unlock()
	return nil
}

func (b *backend) DoLookup(url *common.URL) ([]*common.URL, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*common.URL
	for _, category := range registry.SubscribedCategories(url) {
		out = append(out, snapshot(b.entries[url.ServiceKey()+"/"+category])...)
	}
	return out, nil
}

func (b *backend) IsAvailable() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.closed
}

func (b *backend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}

func snapshot(set map[string]*common.URL) []*common.URL {
	out := make([]*common.URL, 0, len(set))
	for _, u := range set {
		out = append(out, u)
	}
	return out
}

func categoryWanted(sub *common.URL, category string) bool {
	for _, c := range registry.SubscribedCategories(sub) {
		if c == category {
			return true
		}
	}
	return false
}
