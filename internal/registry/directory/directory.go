// Package directory keeps a live invoker set in sync with registry
// notifications: provider URLs diff into referred and destroyed invokers,
// configurator URLs rewrite provider parameters before refer, router URLs
// rebuild the routing chain.
package directory

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/nmxmxh/janus/internal/cluster"
	"github.com/nmxmxh/janus/internal/protocol"
	"github.com/nmxmxh/janus/internal/registry"
	"github.com/nmxmxh/janus/pkg/common"
	"github.com/nmxmxh/janus/pkg/logger"
)

// Directory subscribes to a service key and mirrors the registry's provider
// set as invokers. Readers get copy-on-write snapshots; notifications
// mutate under one lock.
type Directory struct {
	url *common.URL
	reg registry.Registry
	log *zap.Logger

	snapshot atomic.Value // []protocol.Invoker

	mu            sync.Mutex
	invokers      map[string]protocol.Invoker // provider url string -> invoker
	providerURLs  []*common.URL
	configurators []*configurator
	routers       []cluster.Router

	destroyed atomic.Bool
}

// New builds a directory for the consumer URL and subscribes it. The
// subscribe URL's category list decides which partitions flow in.
func New(url *common.URL, reg registry.Registry) (*Directory, error) {
	d := &Directory{
		url:      url,
		reg:      reg,
		log:      logger.Default(),
		invokers: map[string]protocol.Invoker{},
	}
	d.snapshot.Store([]protocol.Invoker{})
	if err := reg.Subscribe(url, d); err != nil {
		return nil, err
	}
	return d, nil
}

// URL implements cluster.Directory.
func (d *Directory) URL() *common.URL { return d.url }

// IsAvailable implements cluster.Directory.
func (d *Directory) IsAvailable() bool {
	if d.destroyed.Load() {
		return false
	}
	for _, inv := range d.snapshot.Load().([]protocol.Invoker) {
		if inv.IsAvailable() {
			return true
		}
	}
	return false
}

// List implements cluster.Directory.
func (d *Directory) List(inv protocol.Invocation) []protocol.Invoker {
	invokers := d.snapshot.Load().([]protocol.Invoker)
	d.mu.Lock()
	routers := d.routers
	d.mu.Unlock()
	return cluster.ApplyRouters(routers, invokers, d.url, inv)
}

// Notify implements registry.NotifyListener. Each call carries the full
// state of one or more categories; the bucketing below tolerates both.
func (d *Directory) Notify(urls []*common.URL) {
	if d.destroyed.Load() {
		return
	}
	buckets := map[string][]*common.URL{}
	for _, u := range urls {
		category := u.Category()
		if u.Protocol == common.EmptyProtocol {
			// Presence of the empty URL pins the category to empty state.
			if _, ok := buckets[category]; !ok {
				buckets[category] = nil
			}
			continue
		}
		buckets[category] = append(buckets[category], u)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	refreshProviders := false
	if routerURLs, ok := buckets[common.RoutersCategory]; ok {
		d.routers = d.buildRouters(routerURLs)
	}
	if confURLs, ok := buckets[common.ConfiguratorsCategory]; ok {
		d.configurators = buildConfigurators(confURLs)
		refreshProviders = true
	}
	if providerURLs, ok := buckets[common.ProvidersCategory]; ok {
		d.providerURLs = providerURLs
		refreshProviders = true
	}
	if refreshProviders {
		d.refreshLocked()
	}
}

func (d *Directory) buildRouters(urls []*common.URL) []cluster.Router {
	out := make([]cluster.Router, 0, len(urls))
	for _, u := range urls {
		r, err := cluster.NewRouter(u)
		if err != nil {
			d.log.Warn("dropping unbuildable router",
				zap.String("url", u.String()), zap.Error(err))
			continue
		}
		out = append(out, r)
	}
	cluster.SortRouters(out)
	return out
}

// refreshLocked diffs the configured provider URLs against the current
// invoker map: new URLs are referred, vanished ones destroyed, surviving
// ones kept untouched so in-flight calls never see a swap.
func (d *Directory) refreshLocked() {
	next := map[string]protocol.Invoker{}
	for _, raw := range d.providerURLs {
		merged := applyConfigurators(d.configurators, d.mergeConsumerParams(raw))
		if !merged.ParamBool(common.EnabledKey, true) {
			continue
		}
		key := merged.String()
		if existing, ok := d.invokers[key]; ok {
			next[key] = existing
			delete(d.invokers, key)
			continue
		}
		proto, err := protocol.GetProtocol(merged.Protocol)
		if err != nil {
			d.log.Warn("no protocol for provider url",
				zap.String("url", key), zap.Error(err))
			continue
		}
		invoker, err := proto.Refer(merged)
		if err != nil {
			d.log.Warn("refer failed",
				zap.String("url", key), zap.Error(err))
			continue
		}
		next[key] = invoker
	}
	// whatever is left in the old map has no URL anymore
	for key, invoker := range d.invokers {
		d.log.Info("destroying vanished provider", zap.String("url", key))
		invoker.Destroy()
	}
	d.invokers = next

	snapshot := make([]protocol.Invoker, 0, len(next))
	for _, invoker := range next {
		snapshot = append(snapshot, invoker)
	}
	d.snapshot.Store(snapshot)
}

// mergeConsumerParams layers the consumer's own tuning onto a provider URL
// so method options like timeout and retries follow the reference config.
func (d *Directory) mergeConsumerParams(provider *common.URL) *common.URL {
	merged := provider
	for _, key := range []string{
		common.TimeoutKey, common.RetriesKey, common.LoadBalanceKey,
		common.ClusterKey, common.StickyKey, common.SerializationKey,
	} {
		if v := d.url.Param(key, ""); v != "" {
			merged = merged.AddParam(key, v)
		}
	}
	if ts := provider.Param(common.TimestampKey, ""); ts != "" {
		merged = merged.AddParam(common.RemoteTimestampKey, ts)
	}
	return merged.AddParam(common.CheckKey, "false")
}

// Destroy implements cluster.Directory: unsubscribe, then destroy every
// invoker. Idempotent.
func (d *Directory) Destroy() {
	if !d.destroyed.CompareAndSwap(false, true) {
		return
	}
	if err := d.reg.Unsubscribe(d.url, d); err != nil {
		d.log.Warn("unsubscribe on destroy failed", zap.Error(err))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for key, invoker := range d.invokers {
		invoker.Destroy()
		delete(d.invokers, key)
	}
	d.snapshot.Store([]protocol.Invoker{})
}
