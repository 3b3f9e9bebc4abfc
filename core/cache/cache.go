// Package cache provides LRU caching for database pages.
package cache

import (
	"container/list"
	"sync"
	"sync/atomic"
)

// Cache is a generic LRU cache interface.
type Cache[K comparable, V any] interface {
	// Get retrieves a value from the cache.
	Get(key K) (V, bool)

	// Put stores a value in the cache.
	Put(key K, value V)

	// Remove removes a value from the cache.
	Remove(key K)

	// Clear removes all entries from the cache.
	Clear()

	// Len returns the number of entries in the cache.
	Len() int

	// Stats returns cache statistics.
	Stats() Stats
}

// Stats contains cache statistics.
type Stats struct {
	Hits       int64
	Misses     int64
	Evictions  int64
	Size       int
	MaxSize    int
	TotalBytes int64
}

// Config contains cache configuration options.
type Config struct {
	// MaxSize is the maximum number of entries (0 = unlimited).
	MaxSize int

	// OnEvict is called when an entry is evicted. It runs with the cache
	// lock held and must not call back into the cache.
	OnEvict func(key, value interface{})
}

// DefaultConfig returns a default cache configuration.
func DefaultConfig() Config {
	return Config{
		MaxSize: 100,
		OnEvict: nil,
	}
}

// entry represents a cache entry.
type entry[K comparable, V any] struct {
	key   K
	value V
}

// lruCache is a thread-safe LRU cache implementation.
type lruCache[K comparable, V any] struct {
	mu        sync.RWMutex
	config    Config
	entries   map[K]*list.Element
	evictList *list.List
	stats     Stats
}

// NewLRUCache creates a new LRU cache with the given configuration.
func NewLRUCache[K comparable, V any](config Config) Cache[K, V] {
	return newLRU[K, V](config)
}

func newLRU[K comparable, V any](config Config) *lruCache[K, V] {
	if config.MaxSize < 0 {
		config.MaxSize = 0
	}

	return &lruCache[K, V]{
		config:    config,
		entries:   make(map[K]*list.Element),
		evictList: list.New(),
	}
}

// Get retrieves a value from the cache.
func (c *lruCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ent, ok := c.entries[key]
	if !ok {
		c.stats.Misses++
		var zero V
		return zero, false
	}

	e := ent.Value.(*entry[K, V])

	// Move to front (most recently used)
	c.evictList.MoveToFront(ent)
	c.stats.Hits++
	return e.value, true
}

// Put stores a value in the cache.
func (c *lruCache[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Check if entry already exists
	if ent, ok := c.entries[key]; ok {
		c.evictList.MoveToFront(ent)
		ent.Value.(*entry[K, V]).value = value
		return
	}

	// Add new entry
	ent := c.evictList.PushFront(&entry[K, V]{key: key, value: value})
	c.entries[key] = ent

	// Evict oldest entry if necessary
	if c.config.MaxSize > 0 && c.evictList.Len() > c.config.MaxSize {
		c.removeOldest()
	}
}

// Remove removes a value from the cache.
func (c *lruCache[K, V]) Remove(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ent, ok := c.entries[key]; ok {
		c.removeElement(ent)
	}
}

// Clear removes all entries from the cache.
func (c *lruCache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[K]*list.Element)
	c.evictList.Init()
	c.stats.Size = 0
}

// Len returns the number of entries in the cache.
func (c *lruCache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.evictList.Len()
}

// Stats returns cache statistics.
func (c *lruCache[K, V]) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := c.stats
	s.Size = c.evictList.Len()
	s.MaxSize = c.config.MaxSize
	return s
}

// peek returns a value without touching recency or statistics.
func (c *lruCache[K, V]) peek(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if ent, ok := c.entries[key]; ok {
		return ent.Value.(*entry[K, V]).value, true
	}
	var zero V
	return zero, false
}

// evictOldest removes the least recently used entry. It reports false when
// the cache is empty.
func (c *lruCache[K, V]) evictOldest() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removeOldest()
}

// removeOldest removes the oldest entry from the cache.
func (c *lruCache[K, V]) removeOldest() bool {
	ent := c.evictList.Back()
	if ent == nil {
		return false
	}
	c.removeElement(ent)
	c.stats.Evictions++
	return true
}

// removeElement removes an element from the cache.
func (c *lruCache[K, V]) removeElement(ent *list.Element) {
	c.evictList.Remove(ent)
	e := ent.Value.(*entry[K, V])
	delete(c.entries, e.key)

	if c.config.OnEvict != nil {
		c.config.OnEvict(e.key, e.value)
	}
}

// PageCache caches raw database pages by page number.
type PageCache struct {
	*BoundedCache[uint32, []byte]
}

// NewPageCache creates a page cache holding at most maxPages pages of
// pageSize bytes.
func NewPageCache(pageSize, maxPages int) *PageCache {
	config := DefaultConfig()
	config.MaxSize = maxPages
	var maxBytes int64
	if maxPages > 0 {
		maxBytes = int64(pageSize) * int64(maxPages)
	}
	return &PageCache{
		BoundedCache: NewBoundedCache[uint32, []byte](config, maxBytes, func(p []byte) int64 {
			return int64(len(p))
		}),
	}
}

// BoundedCache is an LRU cache with byte size limits.
type BoundedCache[K comparable, V any] struct {
	cache       *lruCache[K, V]
	mu          sync.Mutex
	maxBytes    int64
	currentSize atomic.Int64
	sizeFunc    func(V) int64
}

// NewBoundedCache creates a new cache with both entry count and byte size limits.
func NewBoundedCache[K comparable, V any](config Config, maxBytes int64, sizeFunc func(V) int64) *BoundedCache[K, V] {
	c := &BoundedCache[K, V]{
		maxBytes: maxBytes,
		sizeFunc: sizeFunc,
	}
	onEvict := config.OnEvict
	config.OnEvict = func(key, value interface{}) {
		c.currentSize.Add(-sizeFunc(value.(V)))
		if onEvict != nil {
			onEvict(key, value)
		}
	}
	c.cache = newLRU[K, V](config)
	return c
}

// Get retrieves a value from the cache.
func (c *BoundedCache[K, V]) Get(key K) (V, bool) {
	return c.cache.Get(key)
}

// Put stores a value in the cache, evicting least recently used entries
// until it fits within the byte limit.
func (c *BoundedCache[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	size := c.sizeFunc(value)
	if c.maxBytes > 0 && size > c.maxBytes {
		// Value is too large to cache
		return
	}

	if old, ok := c.cache.peek(key); ok {
		c.currentSize.Add(-c.sizeFunc(old))
	}
	c.cache.Put(key, value)
	c.currentSize.Add(size)

	if c.maxBytes > 0 {
		for c.currentSize.Load() > c.maxBytes {
			if !c.cache.evictOldest() {
				break
			}
		}
	}
}

// Remove removes a value from the cache.
func (c *BoundedCache[K, V]) Remove(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Remove(key)
}

// Clear removes all entries from the cache.
func (c *BoundedCache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache.Clear()
	c.currentSize.Store(0)
}

// Len returns the number of entries in the cache.
func (c *BoundedCache[K, V]) Len() int {
	return c.cache.Len()
}

// Stats returns cache statistics including byte size information.
func (c *BoundedCache[K, V]) Stats() Stats {
	stats := c.cache.Stats()
	stats.TotalBytes = c.currentSize.Load()
	return stats
}
