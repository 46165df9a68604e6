// Package redis backs the registry with a Redis instance. State lives in
// one hash per (service key, category); fields are full URLs and values are
// expiry timestamps refreshed by the publisher, so crashed providers age out
// even though Redis has no sessions. Change events travel over pub/sub, with
// a periodic full fetch as the safety net.
package redis

import (
	"context"
	"strconv"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nmxmxh/janus/internal/registry"
	"github.com/nmxmxh/janus/pkg/common"
	errs "github.com/nmxmxh/janus/pkg/errors"
	"github.com/nmxmxh/janus/pkg/logger"
)

func init() {
	registry.SetFactory("redis", func() registry.Factory {
		return &registry.BaseFactory{New: New}
	})
}

const (
	registerEvent   = "register"
	unregisterEvent = "unregister"
	opTimeout       = 3 * time.Second
)

// New connects to the Redis instance addressed by url.
func New(url *common.URL) (registry.Registry, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     url.Address(),
		Username: url.Username,
		Password: url.Password,
	})
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errs.Networkf("redis connect %s: %v", url.Address(), err)
	}
	b := &backend{
		client:   client,
		root:     "/" + url.Param(common.GroupKey, "dubbo"),
		expire:   time.Duration(url.ParamInt(common.SessionTimeoutKey, common.DefaultSessionTimeout)) * time.Millisecond,
		log:      logger.Default(),
		quit:     make(chan struct{}),
		entries:  map[string]*common.URL{},
		watchers: map[string]chan struct{}{},
	}
	f := registry.NewFailback(url, b, registry.NewCache(url))
	b.notify = f
	go b.refreshLoop()
	return &redisRegistry{Failback: f}, nil
}

type redisRegistry struct {
	*registry.Failback
}

type backend struct {
	client *goredis.Client
	root   string
	expire time.Duration
	log    *zap.Logger
	notify *registry.Failback
	quit   chan struct{}

	mu       sync.Mutex
	entries  map[string]*common.URL   // registered url string -> url
	watchers map[string]chan struct{} // service key -> stop channel
	closed   bool
}

func (b *backend) hashKey(serviceKey, category string) string {
	return b.root + "/" + serviceKey + "/" + category
}

func (b *backend) eventChannel(serviceKey string) string {
	return b.root + "/" + serviceKey
}

func (b *backend) DoRegister(url *common.URL) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	expiry := time.Now().Add(b.expire).UnixMilli()
	key := b.hashKey(url.ServiceKey(), url.Category())
	if err := b.client.HSet(ctx, key, url.String(), strconv.FormatInt(expiry, 10)).Err(); err != nil {
		return errs.Networkf("redis register %s: %v", url.ServiceKey(), err)
	}
	b.mu.Lock()
	b.entries[url.String()] = url
	b.mu.Unlock()
	b.client.Publish(ctx, b.eventChannel(url.ServiceKey()), registerEvent)
	return nil
}

func (b *backend) DoUnregister(url *common.URL) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	b.mu.Lock()
	delete(b.entries, url.String())
	b.mu.Unlock()
	key := b.hashKey(url.ServiceKey(), url.Category())
	if err := b.client.HDel(ctx, key, url.String()).Err(); err != nil {
		return errs.Networkf("redis unregister %s: %v", url.ServiceKey(), err)
	}
	b.client.Publish(ctx, b.eventChannel(url.ServiceKey()), unregisterEvent)
	return nil
}

// refreshLoop extends the expiry of everything this process registered, at
// half the expiry period so one missed beat does not drop an entry.
func (b *backend) refreshLoop() {
	t := time.NewTicker(b.expire / 2)
	defer t.Stop()
	for {
		select {
		case <-b.quit:
			return
		case <-t.C:
			b.mu.Lock()
			urls := make([]*common.URL, 0, len(b.entries))
			for _, u := range b.entries {
				urls = append(urls, u)
			}
			b.mu.Unlock()
			for _, u := range urls {
				if err := b.DoRegister(u); err != nil {
					b.log.Warn("redis expiry refresh failed",
						zap.String("url", u.String()), zap.Error(err))
				}
			}
		}
	}
}

func (b *backend) DoSubscribe(url *common.URL) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return errs.Networkf("redis registry closed")
	}
	if old, ok := b.watchers[url.ServiceKey()]; ok {
		close(old)
	}
	stop := make(chan struct{})
	b.watchers[url.ServiceKey()] = stop
	b.mu.Unlock()
	go b.watch(url, stop)
	return nil
}

// watch delivers the initial full state, then refetches on every pub/sub
// event and once per expiry period regardless.
func (b *backend) watch(sub *common.URL, stop chan struct{}) {
	ps := b.client.Subscribe(context.Background(), b.eventChannel(sub.ServiceKey()))
	defer func() { _ = ps.Close() }()

	b.fetchAndNotify(sub)
	t := time.NewTicker(b.expire)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-b.quit:
			return
		case <-t.C:
			b.fetchAndNotify(sub)
		case _, ok := <-ps.Channel():
			if !ok {
				return
			}
			b.fetchAndNotify(sub)
		}
	}
}

func (b *backend) fetchAndNotify(sub *common.URL) {
	for _, category := range registry.SubscribedCategories(sub) {
		urls, err := b.fetchCategory(sub.ServiceKey(), category)
		if err != nil {
			b.log.Warn("redis fetch failed",
				zap.String("service", sub.ServiceKey()),
				zap.String("category", category), zap.Error(err))
			continue
		}
		b.notify.NotifyCategory(sub, category, urls)
	}
}

// fetchCategory reads one hash, dropping entries whose expiry has passed.
func (b *backend) fetchCategory(serviceKey, category string) ([]*common.URL, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	fields, err := b.client.HGetAll(ctx, b.hashKey(serviceKey, category)).Result()
	if err != nil {
		return nil, errs.Networkf("redis hgetall: %v", err)
	}
	now := time.Now().UnixMilli()
	out := make([]*common.URL, 0, len(fields))
	for raw, expiry := range fields {
		if ts, perr := strconv.ParseInt(expiry, 10, 64); perr == nil && ts < now {
			continue
		}
		u, perr := common.ParseURL(raw)
		if perr != nil {
			b.log.Warn("dropping unparsable registry entry",
				zap.String("url", raw), zap.Error(perr))
			continue
		}
		out = append(out, u)
	}
	return out, nil
}

func (b *backend) DoUnsubscribe(url *common.URL) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if stop, ok := b.watchers[url.ServiceKey()]; ok {
		close(stop)
		delete(b.watchers, url.ServiceKey())
	}
	return nil
}

func (b *backend) DoLookup(url *common.URL) ([]*common.URL, error) {
	var out []*common.URL
	for _, category := range registry.SubscribedCategories(url) {
		urls, err := b.fetchCategory(url.ServiceKey(), category)
		if err != nil {
			return nil, err
		}
		out = append(out, urls...)
	}
	return out, nil
}

func (b *backend) IsAvailable() bool {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return b.client.Ping(ctx).Err() == nil
}

func (b *backend) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for key, stop := range b.watchers {
		close(stop)
		delete(b.watchers, key)
	}
	b.mu.Unlock()
	close(b.quit)
	_ = b.client.Close()
}
