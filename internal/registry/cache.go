package registry

import (
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/nmxmxh/janus/pkg/common"
	"github.com/nmxmxh/janus/pkg/json"
	"github.com/nmxmxh/janus/pkg/logger"
)

// Cache persists the last full state per service key so a consumer can come
// up and answer lookups while the backend is unreachable. Writes happen on a
// background goroutine via write-temp-then-rename, so readers never observe
// a torn file.
type Cache struct {
	path string
	log  *zap.Logger

	mu      sync.RWMutex
	entries map[string][]string // service key -> full url strings

	writeMu sync.Mutex
	flushes sync.WaitGroup
}

// NewCache loads (or creates) the cache file for one registry. The path
// comes from url[file], defaulting under the user cache directory keyed by
// the registry address.
func NewCache(url *common.URL) *Cache {
	path := url.Param(common.FileKey, "")
	if path == "" {
		dir, err := os.UserCacheDir()
		if err != nil {
			dir = os.TempDir()
		}
		path = filepath.Join(dir, "janus", "registry-"+url.Host+"-"+url.Param(common.ApplicationKey, "default")+".cache")
	}
	c := &Cache{path: path, log: logger.Default(), entries: map[string][]string{}}
	c.load()
	return c
}

func (c *Cache) load() {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return // first run, nothing cached yet
	}
	entries := map[string][]string{}
	if err := json.Unmarshal(data, &entries); err != nil {
		c.log.Warn("registry cache unreadable, starting empty",
			zap.String("path", c.path), zap.Error(err))
		return
	}
	c.mu.Lock()
	c.entries = entries
	c.mu.Unlock()
}

// Get returns the cached state for a service key, nil when unknown.
func (c *Cache) Get(serviceKey string) []*common.URL {
	c.mu.RLock()
	raw, ok := c.entries[serviceKey]
	c.mu.RUnlock()
	if !ok {
		return nil
	}
	out := make([]*common.URL, 0, len(raw))
	for _, s := range raw {
		u, err := common.ParseURL(s)
		if err != nil {
			c.log.Warn("dropping unparsable cached url",
				zap.String("url", s), zap.Error(err))
			continue
		}
		out = append(out, u)
	}
	return out
}

// Update replaces the cached state for a service key and schedules an
// asynchronous flush.
func (c *Cache) Update(serviceKey string, urls []*common.URL) {
	raw := make([]string, 0, len(urls))
	for _, u := range urls {
		raw = append(raw, u.String())
	}
	c.mu.Lock()
	c.entries[serviceKey] = raw
	c.mu.Unlock()
	c.flushes.Add(1)
	go func() {
		defer c.flushes.Done()
		c.flush()
	}()
}

// Close waits for every scheduled flush and writes the final state out, so
// no background write lands after the owner shut down.
func (c *Cache) Close() {
	c.flushes.Wait()
	c.flush()
}

func (c *Cache) flush() {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.mu.RLock()
	data, err := json.Marshal(c.entries)
	c.mu.RUnlock()
	if err != nil {
		c.log.Warn("registry cache marshal failed", zap.Error(err))
		return
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		c.log.Warn("registry cache dir create failed", zap.Error(err))
		return
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		c.log.Warn("registry cache write failed", zap.Error(err))
		return
	}
	if err := os.Rename(tmp, c.path); err != nil {
		c.log.Warn("registry cache rename failed", zap.Error(err))
	}
}
