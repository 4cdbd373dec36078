package query

import "sync"

// Cache is a tenant-scoped advisory cache for embedding results, subgraph
// snapshots, and other recomputable intermediates. Keys are content hashes;
// a miss must always be safely recomputable. Entries never cross tenants
// and can be dropped wholesale with Clear.
type Cache struct {
	mu      sync.RWMutex
	tenants map[string]map[string]any
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{tenants: make(map[string]map[string]any)}
}

// Get returns the cached value for the tenant and key, if any.
func (c *Cache) Get(tenant, key string) (any, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	entries, ok := c.tenants[tenant]
	if !ok {
		return nil, false
	}
	v, ok := entries[key]
	return v, ok
}

// Set stores a value for the tenant and key.
func (c *Cache) Set(tenant, key string, value any) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, ok := c.tenants[tenant]
	if !ok {
		entries = make(map[string]any)
		c.tenants[tenant] = entries
	}
	entries[key] = value
}

// Clear drops every cached entry for the tenant.
func (c *Cache) Clear(tenant string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tenants, tenant)
}
