package cache

import (
	"container/list"
	"sync"
	"time"
)

// LRUCache is a session-scoped store with TTL and size-based eviction.
type LRUCache[T any] struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration
	items   map[string]*list.Element
	lru     *list.List
	onEvict func(key string, value T)
	now     func() time.Time
}

type cacheItem[T any] struct {
	key       string
	data      T
	expiresAt time.Time
}

// NewLRUCache creates a new LRU cache with TTL
func NewLRUCache[T any](maxSize int, ttl time.Duration) *LRUCache[T] {
	if maxSize < 1 {
		maxSize = 1
	}
	return &LRUCache[T]{
		maxSize: maxSize,
		ttl:     ttl,
		items:   make(map[string]*list.Element),
		lru:     list.New(),
		now:     time.Now,
	}
}

// OnEvict registers fn to run for every entry that leaves the cache through
// expiry, capacity eviction or Delete. fn runs after the cache lock is released.
func (c *LRUCache[T]) OnEvict(fn func(key string, value T)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEvict = fn
}

// Get retrieves a value from the cache
func (c *LRUCache[T]) Get(key string) (T, bool) {
	c.mu.Lock()

	var zero T
	elem, exists := c.items[key]
	if !exists {
		c.mu.Unlock()
		return zero, false
	}

	item := elem.Value.(*cacheItem[T])
	if c.now().After(item.expiresAt) {
		c.removeElement(elem)
		c.mu.Unlock()
		c.evicted(item)
		return zero, false
	}

	c.lru.MoveToFront(elem)
	c.mu.Unlock()
	return item.data, true
}

// Set stores a value in the cache
func (c *LRUCache[T]) Set(key string, data T) {
	c.mu.Lock()
	dropped := c.insertLocked(key, data)
	c.mu.Unlock()

	if dropped != nil {
		c.evicted(dropped)
	}
}

// GetOrCreate returns the live value for key, creating and storing it with
// create when absent or expired. The second result reports whether the value
// was created. create runs with the cache locked and must not call back into it.
func (c *LRUCache[T]) GetOrCreate(key string, create func() T) (T, bool) {
	c.mu.Lock()

	var expired *cacheItem[T]
	if elem, exists := c.items[key]; exists {
		item := elem.Value.(*cacheItem[T])
		if !c.now().After(item.expiresAt) {
			c.lru.MoveToFront(elem)
			c.mu.Unlock()
			return item.data, false
		}
		c.removeElement(elem)
		expired = item
	}

	v := create()
	dropped := c.insertLocked(key, v)
	c.mu.Unlock()

	if expired != nil {
		c.evicted(expired)
	}
	if dropped != nil {
		c.evicted(dropped)
	}
	return v, true
}

// insertLocked stores data under key and returns the entry evicted for
// capacity, if any.
func (c *LRUCache[T]) insertLocked(key string, data T) *cacheItem[T] {
	item := &cacheItem[T]{
		key:       key,
		data:      data,
		expiresAt: c.now().Add(c.ttl),
	}

	if elem, exists := c.items[key]; exists {
		elem.Value = item
		c.lru.MoveToFront(elem)
		return nil
	}

	c.items[key] = c.lru.PushFront(item)

	if c.lru.Len() > c.maxSize {
		if oldest := c.lru.Back(); oldest != nil {
			dropped := oldest.Value.(*cacheItem[T])
			c.removeElement(oldest)
			return dropped
		}
	}
	return nil
}

// Delete removes a key from the cache
func (c *LRUCache[T]) Delete(key string) {
	c.mu.Lock()
	elem, exists := c.items[key]
	if !exists {
		c.mu.Unlock()
		return
	}
	item := elem.Value.(*cacheItem[T])
	c.removeElement(elem)
	c.mu.Unlock()

	c.evicted(item)
}

func (c *LRUCache[T]) removeElement(elem *list.Element) {
	item := elem.Value.(*cacheItem[T])
	delete(c.items, item.key)
	c.lru.Remove(elem)
}

func (c *LRUCache[T]) evicted(item *cacheItem[T]) {
	c.mu.Lock()
	fn := c.onEvict
	c.mu.Unlock()
	if fn != nil {
		fn(item.key, item.data)
	}
}

// CleanExpired removes all expired entries and returns count of removed items
func (c *LRUCache[T]) CleanExpired() int {
	c.mu.Lock()

	now := c.now()
	var removed []*cacheItem[T]
	for elem := c.lru.Front(); elem != nil; {
		next := elem.Next()
		item := elem.Value.(*cacheItem[T])
		if now.After(item.expiresAt) {
			c.removeElement(elem)
			removed = append(removed, item)
		}
		elem = next
	}
	c.mu.Unlock()

	for _, item := range removed {
		c.evicted(item)
	}
	return len(removed)
}

// Size returns the current number of items in the cache
func (c *LRUCache[T]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
