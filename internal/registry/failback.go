package registry

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/nmxmxh/janus/pkg/common"
	"github.com/nmxmxh/janus/pkg/logger"
)

// Backend is the thin surface a concrete registry implements. The Failback
// wrapper around it owns retries, caching, notification fan-out and
// reconnect recovery.
type Backend interface {
	DoRegister(url *common.URL) error
	DoUnregister(url *common.URL) error
	// DoSubscribe installs backend watches for url's service key. The
	// backend reports state through NotifyCategory, including the initial
	// full state per subscribed category.
	DoSubscribe(url *common.URL) error
	DoUnsubscribe(url *common.URL) error
	DoLookup(url *common.URL) ([]*common.URL, error)
	IsAvailable() bool
	Close()
}

// subscription holds the listener set for one subscribe URL. deliverMu
// serializes notifications per subscribe URL; across different subscribe
// URLs there is no ordering guarantee.
type subscription struct {
	url       *common.URL
	mu        sync.Mutex
	listeners map[NotifyListener]struct{}

	deliverMu sync.Mutex
	last      map[string][]*common.URL // category -> full state
}

func (s *subscription) addListener(l NotifyListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners[l] = struct{}{}
}

func (s *subscription) removeListener(l NotifyListener) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.listeners, l)
	return len(s.listeners)
}

func (s *subscription) snapshot() []NotifyListener {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]NotifyListener, 0, len(s.listeners))
	for l := range s.listeners {
		out = append(out, l)
	}
	return out
}

// Failback is the failure-tolerant registry base. Failed registers,
// unregisters and subscribes land in retry sets replayed by a periodic
// timer; a disk cache keeps the last known state for startup with the
// backend down.
type Failback struct {
	url     *common.URL
	log     *zap.Logger
	backend Backend
	cache   *Cache
	timer   *cron.Cron

	registered sync.Map // url string -> *common.URL

	subMu sync.Mutex
	subs  map[string]*subscription // subscribe url string -> subscription

	failMu           sync.Mutex
	failedRegister   map[string]*common.URL
	failedUnregister map[string]*common.URL
	failedSubscribe  map[string]*common.URL

	destroyed atomic.Bool
}

// NewFailback wires a backend into the failure-tolerant base. The retry
// period comes from url[retry.period] in milliseconds.
func NewFailback(url *common.URL, backend Backend, cache *Cache) *Failback {
	f := &Failback{
		url:              url,
		log:              logger.Default(),
		backend:          backend,
		cache:            cache,
		subs:             map[string]*subscription{},
		failedRegister:   map[string]*common.URL{},
		failedUnregister: map[string]*common.URL{},
		failedSubscribe:  map[string]*common.URL{},
	}
	period := url.ParamInt(common.RetryPeriodKey, common.DefaultRetryPeriod)
	f.timer = cron.New()
	if _, err := f.timer.AddFunc(fmt.Sprintf("@every %dms", period), f.retry); err != nil {
		f.log.Warn("retry timer schedule failed", zap.Error(err))
	}
	f.timer.Start()
	return f
}

// URL implements Registry.
func (f *Failback) URL() *common.URL { return f.url }

// IsAvailable implements Registry.
func (f *Failback) IsAvailable() bool {
	return !f.destroyed.Load() && f.backend.IsAvailable()
}

func (f *Failback) checkOn(url *common.URL) bool {
	return url.ParamBool(common.CheckKey, f.url.ParamBool(common.CheckKey, true))
}

// Register implements Registry.
func (f *Failback) Register(url *common.URL) error {
	f.registered.Store(url.String(), url)
	if err := f.backend.DoRegister(url); err != nil {
		if f.checkOn(url) {
			f.registered.Delete(url.String())
			return err
		}
		f.log.Warn("register failed, will retry",
			zap.String("url", url.String()), zap.Error(err))
		f.failMu.Lock()
		f.failedRegister[url.String()] = url
		f.failMu.Unlock()
	}
	return nil
}

// Unregister implements Registry. It removes the URL from the retry set as
// well, so a failed register is not replayed after its unregister.
func (f *Failback) Unregister(url *common.URL) error {
	key := url.String()
	f.registered.Delete(key)
	f.failMu.Lock()
	delete(f.failedRegister, key)
	f.failMu.Unlock()
	if err := f.backend.DoUnregister(url); err != nil {
		if f.checkOn(url) {
			return err
		}
		f.log.Warn("unregister failed, will retry",
			zap.String("url", key), zap.Error(err))
		f.failMu.Lock()
		f.failedUnregister[key] = url
		f.failMu.Unlock()
	}
	return nil
}

func (f *Failback) subscription(url *common.URL, create bool) *subscription {
	f.subMu.Lock()
	defer f.subMu.Unlock()
	key := url.ServiceKey() + "?" + url.Param(common.CategoryKey, common.ProvidersCategory)
	sub, ok := f.subs[key]
	if !ok && create {
		sub = &subscription{
			url:       url,
			listeners: map[NotifyListener]struct{}{},
			last:      map[string][]*common.URL{},
		}
		f.subs[key] = sub
	}
	return sub
}

// Subscribe implements Registry. When the backend is down and check=false,
// the cached state is delivered and the subscription retried in background.
func (f *Failback) Subscribe(url *common.URL, listener NotifyListener) error {
	sub := f.subscription(url, true)
	sub.addListener(listener)
	if err := f.backend.DoSubscribe(url); err != nil {
		if f.checkOn(url) {
			sub.removeListener(listener)
			return err
		}
		f.log.Warn("subscribe failed, delivering cache and retrying",
			zap.String("service", url.ServiceKey()), zap.Error(err))
		f.failMu.Lock()
		f.failedSubscribe[url.String()] = url
		f.failMu.Unlock()
		if cached := f.cache.Get(url.ServiceKey()); len(cached) > 0 {
			f.deliver(sub, []NotifyListener{listener}, groupByCategory(url, cached))
		}
	}
	return nil
}

// Unsubscribe implements Registry.
func (f *Failback) Unsubscribe(url *common.URL, listener NotifyListener) error {
	sub := f.subscription(url, false)
	if sub == nil {
		return nil
	}
	if sub.removeListener(listener) == 0 {
		return f.backend.DoUnsubscribe(url)
	}
	return nil
}

// Lookup implements Registry, answering from cache when the backend fails.
func (f *Failback) Lookup(url *common.URL) ([]*common.URL, error) {
	urls, err := f.backend.DoLookup(url)
	if err != nil {
		if cached := f.cache.Get(url.ServiceKey()); cached != nil {
			f.log.Warn("lookup failed, answering from cache",
				zap.String("service", url.ServiceKey()), zap.Error(err))
			return cached, nil
		}
		return nil, err
	}
	return urls, nil
}

// NotifyCategory delivers the full state of one category for a subscribe
// URL. Backends call it on the initial fetch and on every watch event.
func (f *Failback) NotifyCategory(url *common.URL, category string, urls []*common.URL) {
	sub := f.subscription(url, false)
	if sub == nil {
		return
	}
	if len(urls) == 0 {
		urls = []*common.URL{EmptyURL(url, category)}
	}
	f.deliver(sub, sub.snapshot(), map[string][]*common.URL{category: urls})
}

// deliver pushes per-category full states to listeners, serialized per
// subscribe URL, and refreshes the disk cache.
func (f *Failback) deliver(sub *subscription, listeners []NotifyListener, byCategory map[string][]*common.URL) {
	sub.deliverMu.Lock()
	defer sub.deliverMu.Unlock()
	var flat []*common.URL
	for category, urls := range byCategory {
		sub.last[category] = urls
	}
	for _, urls := range sub.last {
		flat = append(flat, urls...)
	}
	f.cache.Update(sub.url.ServiceKey(), flat)
	for category, urls := range byCategory {
		for _, l := range listeners {
			f.notifyOne(sub, category, l, urls)
		}
	}
}

func (f *Failback) notifyOne(sub *subscription, category string, l NotifyListener, urls []*common.URL) {
	defer func() {
		if r := recover(); r != nil {
			f.log.Warn("notify listener panicked",
				zap.String("service", sub.url.ServiceKey()),
				zap.String("category", category),
				zap.Any("panic", r))
		}
	}()
	l.Notify(urls)
}

// Recover replays registrations and subscriptions after a backend
// reconnect; re-subscribing makes the backend deliver a fresh full state.
func (f *Failback) Recover() {
	f.registered.Range(func(_, v interface{}) bool {
		url := v.(*common.URL)
		if err := f.backend.DoRegister(url); err != nil {
			f.failMu.Lock()
			f.failedRegister[url.String()] = url
			f.failMu.Unlock()
		}
		return true
	})
	f.subMu.Lock()
	subs := make([]*subscription, 0, len(f.subs))
	for _, sub := range f.subs {
		subs = append(subs, sub)
	}
	f.subMu.Unlock()
	for _, sub := range subs {
		if err := f.backend.DoSubscribe(sub.url); err != nil {
			f.failMu.Lock()
			f.failedSubscribe[sub.url.String()] = sub.url
			f.failMu.Unlock()
		}
	}
}

// retry replays every failed operation once.
func (f *Failback) retry() {
	if f.destroyed.Load() {
		return
	}
	f.failMu.Lock()
	registers := copyURLs(f.failedRegister)
	unregisters := copyURLs(f.failedUnregister)
	subscribes := copyURLs(f.failedSubscribe)
	f.failMu.Unlock()

	for key, url := range registers {
		if _, still := f.registered.Load(key); !still {
			f.dropFailed(f.failedRegister, key)
			continue
		}
		if err := f.backend.DoRegister(url); err == nil {
			f.dropFailed(f.failedRegister, key)
		}
	}
	for key, url := range unregisters {
		if err := f.backend.DoUnregister(url); err == nil {
			f.dropFailed(f.failedUnregister, key)
		}
	}
	for key, url := range subscribes {
		if err := f.backend.DoSubscribe(url); err == nil {
			f.dropFailed(f.failedSubscribe, key)
		}
	}
}

func (f *Failback) dropFailed(set map[string]*common.URL, key string) {
	f.failMu.Lock()
	delete(set, key)
	f.failMu.Unlock()
}

func copyURLs(m map[string]*common.URL) map[string]*common.URL {
	out := make(map[string]*common.URL, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Destroy implements Registry: best-effort unregister of everything this
// client registered, then backend shutdown. Idempotent.
func (f *Failback) Destroy() {
	if !f.destroyed.CompareAndSwap(false, true) {
		return
	}
	ctx := f.timer.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
	}
	f.registered.Range(func(_, v interface{}) bool {
		if err := f.backend.DoUnregister(v.(*common.URL)); err != nil {
			f.log.Warn("unregister on destroy failed", zap.Error(err))
		}
		return true
	})
	f.backend.Close()
	if f.cache != nil {
		f.cache.Close()
	}
}

// groupByCategory buckets URLs by their category parameter, restricted to
// the categories the subscribe URL asked for.
func groupByCategory(subscribe *common.URL, urls []*common.URL) map[string][]*common.URL {
	wanted := map[string]bool{}
	for _, c := range SubscribedCategories(subscribe) {
		wanted[c] = true
	}
	out := map[string][]*common.URL{}
	for _, u := range urls {
		c := u.Category()
		if wanted[c] {
			out[c] = append(out[c], u)
		}
	}
	return out
}
