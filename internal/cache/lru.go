package cache

import (
	"container/list"
	"sync"
	"time"
)

// LRUCache is a size-bounded map whose entries also expire after a fixed
// TTL. Reads refresh recency but not expiry.
type LRUCache[T any] struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration
	index   map[string]*list.Element
	order   *list.List // front is most recently used
	now     func() time.Time
}

type entry[T any] struct {
	key     string
	value   T
	expires time.Time
}

var _ Cache[int] = (*LRUCache[int])(nil)

// NewLRUCache returns an empty cache. maxSize below one is treated as one.
func NewLRUCache[T any](maxSize int, ttl time.Duration) *LRUCache[T] {
	if maxSize < 1 {
		maxSize = 1
	}
	return &LRUCache[T]{
		maxSize: maxSize,
		ttl:     ttl,
		index:   make(map[string]*list.Element, maxSize),
		order:   list.New(),
		now:     time.Now,
	}
}

// WithClock replaces the time source used for expiry.
func (c *LRUCache[T]) WithClock(now func() time.Time) *LRUCache[T] {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
	return c
}

// TTL is the lifetime given to every entry.
func (c *LRUCache[T]) TTL() time.Duration { return c.ttl }

func (c *LRUCache[T]) Get(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.index[key]
	if !ok {
		var zero T
		return zero, false
	}
	e := el.Value.(*entry[T])
	if c.expired(e) {
		c.drop(el)
		var zero T
		return zero, false
	}
	c.order.MoveToFront(el)
	return e.value, true
}

// Set stores value under key, evicting the least recently used entry when
// the cache is full. Overwriting restarts the TTL.
func (c *LRUCache[T]) Set(key string, value T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := &entry[T]{key: key, value: value, expires: c.now().Add(c.ttl)}
	if el, ok := c.index[key]; ok {
		el.Value = e
		c.order.MoveToFront(el)
		return
	}
	c.index[key] = c.order.PushFront(e)
	for c.order.Len() > c.maxSize {
		c.drop(c.order.Back())
	}
}

func (c *LRUCache[T]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.index[key]; ok {
		c.drop(el)
	}
}

// CleanExpired removes expired entries and reports how many went.
func (c *LRUCache[T]) CleanExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		if c.expired(el.Value.(*entry[T])) {
			c.drop(el)
			removed++
		}
		el = prev
	}
	return removed
}

func (c *LRUCache[T]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.index)
}

func (c *LRUCache[T]) expired(e *entry[T]) bool {
	return c.now().After(e.expires)
}

func (c *LRUCache[T]) drop(el *list.Element) {
	delete(c.index, el.Value.(*entry[T]).key)
	c.order.Remove(el)
}
