// Package cache provides an in-memory LRU for synthesized audio
// payloads, so repeated fragments skip the synthesis round-trip.
package cache

import (
	"container/list"
	"sync"
)

// DefaultCapacity bounds the cache at 8 MiB of audio.
const DefaultCapacity = 8 << 20

// Cache is a byte-bounded LRU keyed by fragment text.
type Cache struct {
	mu       sync.Mutex
	capacity int64
	size     int64
	items    map[string]*list.Element
	eviction *list.List

	hits   int64
	misses int64
}

type entry struct {
	key   string
	value []byte
}

// New creates a cache holding up to capacity bytes. A non-positive
// capacity selects DefaultCapacity.
func New(capacity int64) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		capacity: capacity,
		items:    make(map[string]*list.Element),
		eviction: list.New(),
	}
}

// Get returns the cached payload for key, marking it recently used.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false
	}
	c.eviction.MoveToFront(elem)
	c.hits++
	return elem.Value.(*entry).value, true
}

// Put stores a payload, evicting least-recently-used entries to make
// room. Payloads larger than the whole cache are not stored.
func (c *Cache) Put(key string, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	valueSize := int64(len(value))
	if valueSize > c.capacity {
		return
	}

	if elem, ok := c.items[key]; ok {
		c.eviction.MoveToFront(elem)
		e := elem.Value.(*entry)
		c.size += valueSize - int64(len(e.value))
		e.value = value
		return
	}

	for c.size+valueSize > c.capacity && c.eviction.Len() > 0 {
		oldest := c.eviction.Back()
		e := oldest.Value.(*entry)
		c.eviction.Remove(oldest)
		delete(c.items, e.key)
		c.size -= int64(len(e.value))
	}

	c.items[key] = c.eviction.PushFront(&entry{key: key, value: value})
	c.size += valueSize
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Size returns the cached bytes.
func (c *Cache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Stats returns hit and miss counts.
func (c *Cache) Stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// Purge empties the cache.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.eviction.Init()
	c.size = 0
}
