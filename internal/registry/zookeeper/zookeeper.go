// Package zookeeper backs the registry with a ZooKeeper ensemble. The key
// layout is /<root>/<serviceKey>/<category>/<url-encoded URL>; provider
// entries are ephemeral so they vanish with the session, router and
// configurator entries persist.
package zookeeper

import (
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-zookeeper/zk"
	"go.uber.org/zap"

	"github.com/nmxmxh/janus/internal/registry"
	"github.com/nmxmxh/janus/pkg/common"
	errs "github.com/nmxmxh/janus/pkg/errors"
	"github.com/nmxmxh/janus/pkg/logger"
)

func init() {
	registry.SetFactory("zookeeper", func() registry.Factory {
		return &registry.BaseFactory{New: New}
	})
}

// New connects to the ensemble addressed by url (plus url[backup] peers) and
// wires the connection into the failback base.
func New(url *common.URL) (registry.Registry, error) {
	servers := []string{url.Address()}
	for _, b := range common.SplitCommaList(url.Param(common.BackupKey, "")) {
		servers = append(servers, b)
	}
	session := time.Duration(url.ParamInt(common.SessionTimeoutKey, common.DefaultSessionTimeout)) * time.Millisecond

	conn, events, err := zk.Connect(servers, session, zk.WithLogInfo(false))
	if err != nil {
		return nil, errs.Networkf("zookeeper connect %v: %v", servers, err)
	}
	b := &backend{
		conn:     conn,
		root:     "/" + url.Param(common.GroupKey, "dubbo"),
		log:      logger.Default(),
		quit:     make(chan struct{}),
		watchers: map[string]chan struct{}{},
	}
	f := registry.NewFailback(url, b, registry.NewCache(url))
	b.notify = f
	go b.sessionLoop(events)
	return &zkRegistry{Failback: f}, nil
}

type zkRegistry struct {
	*registry.Failback
}

type backend struct {
	conn   *zk.Conn
	root   string
	log    *zap.Logger
	notify *registry.Failback
	quit   chan struct{}

	mu       sync.Mutex
	watchers map[string]chan struct{} // category path -> stop channel
	closed   bool
}

// sessionLoop restores state after session loss. ZooKeeper reconnects the
// transport itself; what does not survive an expired session are ephemeral
// nodes and watches, so those are replayed through Recover.
func (b *backend) sessionLoop(events <-chan zk.Event) {
	expired := false
	for {
		select {
		case <-b.quit:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Type != zk.EventSession {
				continue
			}
			switch ev.State {
			case zk.StateExpired, zk.StateDisconnected:
				expired = true
			case zk.StateHasSession:
				if expired {
					expired = false
					b.log.Info("zookeeper session restored, recovering registrations")
					b.notify.Recover()
				}
			}
		}
	}
}

func (b *backend) pathOf(u *common.URL) string {
	return b.root + "/" + u.ServiceKey() + "/" + u.Category() + "/" + u.Encode()
}

func (b *backend) categoryPath(sub *common.URL, category string) string {
	return b.root + "/" + sub.ServiceKey() + "/" + category
}

// ensurePath creates every missing parent as a persistent node.
func (b *backend) ensurePath(path string) error {
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	cur := ""
	for _, p := range parts {
		cur += "/" + p
		_, err := b.conn.Create(cur, nil, 0, zk.WorldACL(zk.PermAll))
		if err != nil && err != zk.ErrNodeExists {
			return errs.Networkf("zookeeper create %s: %v", cur, err)
		}
	}
	return nil
}

func (b *backend) DoRegister(url *common.URL) error {
	dir := b.categoryPath(url, url.Category())
	if err := b.ensurePath(dir); err != nil {
		return err
	}
	var flags int32
	if url.ParamBool(common.DynamicKey, true) {
		flags = zk.FlagEphemeral
	}
	_, err := b.conn.Create(b.pathOf(url), nil, flags, zk.WorldACL(zk.PermAll))
	if err == zk.ErrNodeExists {
		return nil
	}
	if err != nil {
		return errs.Networkf("zookeeper register %s: %v", url.ServiceKey(), err)
	}
	return nil
}

func (b *backend) DoUnregister(url *common.URL) error {
	err := b.conn.Delete(b.pathOf(url), -1)
	if err != nil && err != zk.ErrNoNode {
		return errs.Networkf("zookeeper unregister %s: %v", url.ServiceKey(), err)
	}
	return nil
}

// DoSubscribe installs one child watcher per subscribed category. Each
// watcher pushes the full decoded child set on start and on every change.
func (b *backend) DoSubscribe(url *common.URL) error {
	for _, category := range registry.SubscribedCategories(url) {
		path := b.categoryPath(url, category)
		if err := b.ensurePath(path); err != nil {
			return err
		}
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return errs.Networkf("zookeeper registry closed")
		}
		if old, ok := b.watchers[path]; ok {
			close(old) // re-subscribe replaces the watcher and refetches
		}
		stop := make(chan struct{})
		b.watchers[path] = stop
		b.mu.Unlock()
		go b.watchCategory(url, category, path, stop)
	}
	return nil
}

func (b *backend) watchCategory(sub *common.URL, category, path string, stop chan struct{}) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.MaxInterval = 30 * time.Second
	policy.MaxElapsedTime = 0 // retry until unsubscribed
	for {
		select {
		case <-stop:
			return
		case <-b.quit:
			return
		default:
		}
		children, _, events, err := b.conn.ChildrenW(path)
		if err != nil {
			wait := policy.NextBackOff()
			b.log.Warn("zookeeper watch failed, backing off",
				zap.String("path", path), zap.Duration("backoff", wait), zap.Error(err))
			select {
			case <-time.After(wait):
				continue
			case <-stop:
				return
			case <-b.quit:
				return
			}
		}
		policy.Reset()
		b.notify.NotifyCategory(sub, category, b.decodeChildren(children))
		select {
		case <-events:
		case <-stop:
			return
		case <-b.quit:
			return
		}
	}
}

func (b *backend) decodeChildren(children []string) []*common.URL {
	out := make([]*common.URL, 0, len(children))
	for _, c := range children {
		u, err := common.DecodeURL(c)
		if err != nil {
			b.log.Warn("dropping undecodable registry entry",
				zap.String("child", c), zap.Error(err))
			continue
		}
		out = append(out, u)
	}
	return out
}

func (b *backend) DoUnsubscribe(url *common.URL) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, category := range registry.SubscribedCategories(url) {
		path := b.categoryPath(url, category)
		if stop, ok := b.watchers[path]; ok {
			close(stop)
			delete(b.watchers, path)
		}
	}
	return nil
}

func (b *backend) DoLookup(url *common.URL) ([]*common.URL, error) {
	var out []*common.URL
	for _, category := range registry.SubscribedCategories(url) {
		children, _, err := b.conn.Children(b.categoryPath(url, category))
		if err == zk.ErrNoNode {
			continue
		}
		if err != nil {
			return nil, errs.Networkf("zookeeper lookup %s: %v", url.ServiceKey(), err)
		}
		out = append(out, b.decodeChildren(children)...)
	}
	return out, nil
}

func (b *backend) IsAvailable() bool {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	return !closed && b.conn.State() == zk.StateHasSession
}

func (b *backend) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for path, stop := range b.watchers {
		close(stop)
		delete(b.watchers, path)
	}
	b.mu.Unlock()
	close(b.quit)
	b.conn.Close()
}
