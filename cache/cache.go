package cache

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Disposable is implemented by cached values that hold releasable
// resources (file handles, connections). The cache calls Dispose exactly
// once, when the value is overwritten, deleted, or the cache closes.
type Disposable interface {
	Dispose()
}

// childSuffix is the reserved key suffix under which nested child caches
// are scoped. Children live in their own map, so plain entries can never
// collide with a child's scope key.
const childSuffix = "._child"

// ResultCache is a keyed store of computed step outputs.
type ResultCache struct {
	mu       sync.RWMutex
	entries  map[string]any
	children map[string]*ResultCache
	closed   bool
	logger   *zap.Logger
}

// New creates an empty result cache.
func New(logger *zap.Logger) *ResultCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResultCache{
		entries:  make(map[string]any),
		children: make(map[string]*ResultCache),
		logger:   logger.With(zap.String("component", "result_cache")),
	}
}

// Get returns the cached value for key.
func (c *ResultCache) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, false
	}
	v, ok := c.entries[key]
	return v, ok
}

// Set stores a value under key, disposing any previous value first.
func (c *ResultCache) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	if old, ok := c.entries[key]; ok {
		dispose(old)
	}
	c.entries[key] = value
}

// Delete removes and disposes the value under key, along with the child
// cache scoped to it, if any.
func (c *ResultCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	if old, ok := c.entries[key]; ok {
		dispose(old)
		delete(c.entries, key)
	}
	if child, ok := c.children[key+childSuffix]; ok {
		child.Close()
		delete(c.children, key+childSuffix)
	}
}

// Child returns the nested cache scoped to key, creating it if absent.
func (c *ResultCache) Child(key string) *ResultCache {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return New(c.logger)
	}
	childKey := key + childSuffix
	child, ok := c.children[childKey]
	if !ok {
		child = New(c.logger)
		c.children[childKey] = child
	}
	return child
}

// Rename moves the entry and child cache from old to new, preserving the
// cached value. It reports whether an entry or child existed under old.
func (c *ResultCache) Rename(old, new string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || old == new {
		return false
	}
	moved := false
	if v, ok := c.entries[old]; ok {
		if prev, exists := c.entries[new]; exists {
			dispose(prev)
		}
		c.entries[new] = v
		delete(c.entries, old)
		moved = true
	}
	if child, ok := c.children[old+childSuffix]; ok {
		if prev, exists := c.children[new+childSuffix]; exists {
			prev.Close()
		}
		c.children[new+childSuffix] = child
		delete(c.children, old+childSuffix)
		moved = true
	}
	return moved
}

// Keys returns the cached keys in sorted order.
func (c *ResultCache) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of direct entries.
func (c *ResultCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close disposes every directly and transitively held value and clears
// the store. Close is idempotent.
func (c *ResultCache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true

	for key, v := range c.entries {
		dispose(v)
		delete(c.entries, key)
	}
	for key, child := range c.children {
		child.Close()
		delete(c.children, key)
	}
	c.logger.Debug("result cache closed")
}

// dispose releases a value if it (or the values inside an output map)
// exposes a disposal hook.
func dispose(v any) {
	switch val := v.(type) {
	case Disposable:
		val.Dispose()
	case map[string]any:
		for _, inner := range val {
			if d, ok := inner.(Disposable); ok {
				d.Dispose()
			}
		}
	}
}
