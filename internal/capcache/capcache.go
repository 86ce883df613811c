// Package capcache is a small TTL cache of capability validations, used by
// the HTTP layer so repeated validate calls for the same endpoint do not
// hammer the upstream WMS. The core fetch/parse path stays uncached.
package capcache

import (
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/metatierrascol/wms-compositor/internal/wms"
)

const (
	DefaultSize = 64
	DefaultTTL  = 5 * time.Minute
)

type Cache struct {
	lru *expirable.LRU[string, wms.Validation]
}

func New(size int, ttl time.Duration) *Cache {
	if size <= 0 {
		size = DefaultSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{lru: expirable.NewLRU[string, wms.Validation](size, nil, ttl)}
}

func key(baseURL string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(baseURL))
}

func (c *Cache) Get(baseURL string) (wms.Validation, bool) {
	return c.lru.Get(key(baseURL))
}

// Put caches a validation. Failed validations are not cached, so a service
// that comes back up is picked up on the next call.
func (c *Cache) Put(baseURL string, v wms.Validation) {
	if !v.Valid {
		return
	}
	c.lru.Add(key(baseURL), v)
}

// Invalidate drops the cached validation for one endpoint.
func (c *Cache) Invalidate(baseURL string) {
	c.lru.Remove(key(baseURL))
}

// Purge empties the cache.
func (c *Cache) Purge() {
	c.lru.Purge()
}
