// Package cache implements the engine's time-bounded URL response
// cache: entries expire on read, never served stale. The backing
// store is a size-bounded LRU (so a long-running headless session
// can't grow the cache without limit) layered with the spec's actual
// contract: an entry present in the LRU is still invalid once its
// deadline has passed, and reading an expired entry removes it.
package cache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

// defaultCapacity bounds how many distinct URLs the LRU will retain
// regardless of TTL; a single headless session rarely needs more.
const defaultCapacity = 4096

type entry struct {
	response string
	expireAt time.Time
}

// Cache is a time-bounded mapping from request key (URL, including any
// encoded GET form body) to cached response text.
type Cache struct {
	mu    sync.Mutex
	store *lru.Cache
	now   func() time.Time
}

// New creates a Cache with the default capacity.
func New() *Cache {
	store, err := lru.New(defaultCapacity)
	if err != nil {
		// lru.New only errors on a non-positive size, which defaultCapacity
		// never is; a panic here would indicate a programming mistake.
		panic(err)
	}
	return &Cache{store: store, now: time.Now}
}

// Put stores response under key with a time-to-live of ttlMs milliseconds.
func (c *Cache) Put(key, response string, ttlMs int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store.Add(key, entry{
		response: response,
		expireAt: c.now().Add(time.Duration(ttlMs) * time.Millisecond),
	})
}

// Get returns the cached response for key and true, unless no entry
// exists or the entry's deadline has passed — in which case an expired
// entry is evicted and ("", false) is returned.
func (c *Cache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	raw, ok := c.store.Get(key)
	if !ok {
		return "", false
	}
	e := raw.(entry)
	if !c.now().Before(e.expireAt) {
		c.store.Remove(key)
		return "", false
	}
	return e.response, true
}

// Delete removes key unconditionally.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store.Remove(key)
}

// Len returns the number of entries currently retained, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Len()
}
