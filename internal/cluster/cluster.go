// Package cluster turns a dynamic set of invokers into one. A Directory
// produces the current candidates, routers narrow them per invocation, a
// load balancer picks one and the cluster policy decides what a failure
// means: retry elsewhere, surface, swallow, queue, fan out.
package cluster

import (
	"context"
	"sync"

	"github.com/nmxmxh/janus/internal/protocol"
	"github.com/nmxmxh/janus/pkg/common"
	errs "github.com/nmxmxh/janus/pkg/errors"
	"github.com/nmxmxh/janus/pkg/extension"
)

// Directory is the consumer-side view of a service: the invokers currently
// eligible for an invocation. Implementations return a consistent snapshot;
// callers never mutate the slice.
type Directory interface {
	URL() *common.URL
	List(inv protocol.Invocation) []protocol.Invoker
	IsAvailable() bool
	Destroy()
}

// Cluster wraps a directory into a single invoker implementing one failure
// policy.
type Cluster interface {
	Join(dir Directory) protocol.Invoker
}

var clusters = extension.NewPoint("cluster", common.DefaultCluster)

// SetCluster registers a failure policy under name.
func SetCluster(name string, factory func() Cluster) {
	clusters.Register(name, func() interface{} { return factory() })
}

// GetCluster resolves the policy chosen by url[cluster].
func GetCluster(url *common.URL) (Cluster, error) {
	inst, err := clusters.Adaptive(url, common.ClusterKey)
	if err != nil {
		return nil, err
	}
	return inst.(Cluster), nil
}

// Join wraps dir with the policy its URL names.
func Join(dir Directory) (protocol.Invoker, error) {
	c, err := GetCluster(dir.URL())
	if err != nil {
		return nil, err
	}
	return c.Join(dir), nil
}

// StaticDirectory serves a fixed invoker list; direct-URL references use it.
type StaticDirectory struct {
	url      *common.URL
	invokers []protocol.Invoker
	routers  []Router
	mu       sync.Mutex
	dead     bool
}

// NewStaticDirectory builds a directory over a fixed list. The URL of the
// first invoker doubles as the directory URL.
func NewStaticDirectory(url *common.URL, invokers []protocol.Invoker) *StaticDirectory {
	if url == nil && len(invokers) > 0 {
		url = invokers[0].URL()
	}
	return &StaticDirectory{url: url, invokers: invokers}
}

// SetRouters installs the router chain applied on List.
func (d *StaticDirectory) SetRouters(routers []Router) {
	d.mu.Lock()
	d.routers = routers
	d.mu.Unlock()
}

// URL implements Directory.
func (d *StaticDirectory) URL() *common.URL { return d.url }

// List implements Directory.
func (d *StaticDirectory) List(inv protocol.Invocation) []protocol.Invoker {
	d.mu.Lock()
	invokers, routers := d.invokers, d.routers
	d.mu.Unlock()
	return ApplyRouters(routers, invokers, d.url, inv)
}

// IsAvailable implements Directory.
func (d *StaticDirectory) IsAvailable() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dead {
		return false
	}
	for _, inv := range d.invokers {
		if inv.IsAvailable() {
			return true
		}
	}
	return false
}

// Destroy implements Directory.
func (d *StaticDirectory) Destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dead {
		return
	}
	d.dead = true
	for _, inv := range d.invokers {
		inv.Destroy()
	}
	d.invokers = nil
}

// base carries the selection plumbing shared by every cluster policy:
// directory listing, load-balancer resolution, sticky handling and
// avoidance of already-tried invokers.
type base struct {
	directory Directory

	stickyMu sync.Mutex
	sticky   protocol.Invoker
}

func (b *base) URL() *common.URL { return b.directory.URL() }

func (b *base) Service() string { return b.directory.URL().Service() }

func (b *base) IsAvailable() bool { return b.directory.IsAvailable() }

func (b *base) Destroy() { b.directory.Destroy() }

// list returns the routed candidates, Forbidden when none remain.
func (b *base) list(inv protocol.Invocation) ([]protocol.Invoker, error) {
	invokers := b.directory.List(inv)
	if len(invokers) == 0 {
		return nil, errs.Forbiddenf("no provider available for %s from directory %s",
			b.directory.URL().ServiceKey(), b.directory.URL().String())
	}
	return invokers, nil
}

func (b *base) loadBalance(invokers []protocol.Invoker, inv protocol.Invocation) (LoadBalance, error) {
	url := b.directory.URL()
	name := url.MethodParam(inv.MethodName(), common.LoadBalanceKey, common.DefaultLoadBalance)
	return GetLoadBalance(name)
}

// doSelect picks one invoker, preferring the sticky one when configured,
// then asking the load balancer while steering away from the selected
// (already tried) set.
func (b *base) doSelect(lb LoadBalance, inv protocol.Invocation, invokers, selected []protocol.Invoker) protocol.Invoker {
	if len(invokers) == 1 {
		return invokers[0]
	}
	url := b.directory.URL()
	if url.MethodParam(inv.MethodName(), common.StickyKey, "") == "true" {
		b.stickyMu.Lock()
		sticky := b.sticky
		b.stickyMu.Unlock()
		if sticky != nil && sticky.IsAvailable() && !containsInvoker(selected, sticky) && containsInvoker(invokers, sticky) {
			return sticky
		}
	}

	picked := lb.Select(invokers, url, inv)
	if picked == nil || containsInvoker(selected, picked) || !picked.IsAvailable() {
		if re := b.reselect(lb, inv, invokers, selected); re != nil {
			picked = re
		}
	}
	if picked != nil && url.MethodParam(inv.MethodName(), common.StickyKey, "") == "true" {
		b.stickyMu.Lock()
		b.sticky = picked
		b.stickyMu.Unlock()
	}
	return picked
}

// reselect retries the balancer over candidates not yet tried, then falls
// back to anything available in the selected set.
func (b *base) reselect(lb LoadBalance, inv protocol.Invocation, invokers, selected []protocol.Invoker) protocol.Invoker {
	candidates := make([]protocol.Invoker, 0, len(invokers))
	for _, i := range invokers {
		if i.IsAvailable() && !containsInvoker(selected, i) {
			candidates = append(candidates, i)
		}
	}
	if len(candidates) > 0 {
		return lb.Select(candidates, b.directory.URL(), inv)
	}
	for _, i := range selected {
		if i.IsAvailable() {
			return i
		}
	}
	return nil
}

// cloneForAttempt gives each retry a fresh invocation so attachments set by
// a prior attempt's filters do not leak into the next.
func cloneForAttempt(inv protocol.Invocation) protocol.Invocation {
	if c, ok := inv.(*protocol.RPCInvocation); ok {
		return c.Clone()
	}
	return inv
}

func containsInvoker(list []protocol.Invoker, target protocol.Invoker) bool {
	for _, i := range list {
		if i == target {
			return true
		}
	}
	return false
}

func invokeOn(ctx context.Context, invoker protocol.Invoker, inv protocol.Invocation) protocol.Result {
	inv.SetInvoker(invoker)
	return invoker.Invoke(ctx, inv)
}
