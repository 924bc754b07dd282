// Package cache provides the in-memory lookup cache used by the store.
package cache

import (
	"container/list"
	"context"
	"strings"
	"sync"
	"time"
)

// Config holds the cache configuration.
type Config struct {
	// DefaultTTL is applied by Set. Zero falls back to 10 minutes.
	DefaultTTL time.Duration
	// MaxItems caps the number of entries; the least recently used entry is evicted first.
	MaxItems int
	// OnEviction is called when an entry is evicted or expires.
	OnEviction func(key string, value any)
}

// Cache is an LRU cache with TTL support, safe for concurrent use.
type Cache struct {
	config Config
	mu     sync.Mutex
	items  map[string]*entry
	order  *list.List
}

type entry struct {
	key       string
	value     any
	expiresAt time.Time
	element   *list.Element
}

// New creates a new cache.
func New(config Config) *Cache {
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = 10 * time.Minute
	}
	if config.MaxItems <= 0 {
		config.MaxItems = 1000
	}
	return &Cache{
		config: config,
		items:  make(map[string]*entry),
		order:  list.New(),
	}
}

// Get retrieves a value from the cache.
func (c *Cache) Get(_ context.Context, key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		c.removeEntry(e, true)
		return nil, false
	}
	c.order.MoveToFront(e.element)
	return e.value, true
}

// Set stores a value with the default TTL.
func (c *Cache) Set(ctx context.Context, key string, value any) {
	c.SetWithTTL(ctx, key, value, c.config.DefaultTTL)
}

// SetWithTTL stores a value with a custom TTL.
func (c *Cache) SetWithTTL(_ context.Context, key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.config.DefaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.items[key]; ok {
		e.value = value
		e.expiresAt = time.Now().Add(ttl)
		c.order.MoveToFront(e.element)
		return
	}

	for len(c.items) >= c.config.MaxItems {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.removeEntry(oldest.Value.(*entry), true)
	}

	e := &entry{key: key, value: value, expiresAt: time.Now().Add(ttl)}
	e.element = c.order.PushFront(e)
	c.items[key] = e
}

// Delete removes a single key.
func (c *Cache) Delete(_ context.Context, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.items[key]; ok {
		c.removeEntry(e, false)
	}
}

// Invalidate removes entries matching the pattern.
// A trailing * matches by prefix (e.g. "conversation:*"); anything else is an exact key.
// Returns the number of removed entries.
func (c *Cache) Invalidate(_ context.Context, pattern string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !strings.HasSuffix(pattern, "*") {
		if e, ok := c.items[pattern]; ok {
			c.removeEntry(e, false)
			return 1
		}
		return 0
	}

	prefix := strings.TrimSuffix(pattern, "*")
	count := 0
	for key, e := range c.items {
		if strings.HasPrefix(key, prefix) {
			c.removeEntry(e, false)
			count++
		}
	}
	return count
}

// Clear removes all entries.
func (c *Cache) Clear(_ context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*entry)
	c.order.Init()
}

// Size returns the number of entries, including expired ones not yet collected.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// removeEntry must be called with the lock held.
func (c *Cache) removeEntry(e *entry, evicted bool) {
	c.order.Remove(e.element)
	delete(c.items, e.key)
	if evicted && c.config.OnEviction != nil {
		c.config.OnEviction(e.key, e.value)
	}
}
