package route

import (
	"fmt"
	"net/netip"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the number of destinations remembered when no size is
// configured.
const DefaultCacheSize = 99999

// Cache remembers destinations that are known to need the upstream proxy.
//
// Entries never expire; they are only dropped when the cache is full and a
// new destination is marked, least recently used first. Each call holds the
// cache lock for a single map operation.
type Cache struct {
	lru *lru.Cache[netip.AddrPort, struct{}]
}

// NewCache returns a Cache holding at most size destinations.
func NewCache(size int) (*Cache, error) {
	c, err := lru.New[netip.AddrPort, struct{}](size)
	if err != nil {
		return nil, fmt.Errorf("destination cache: %w", err)
	}
	return &Cache{lru: c}, nil
}

// Contains reports whether dst has been marked. A hit refreshes dst's
// recency.
func (c *Cache) Contains(dst netip.AddrPort) bool {
	_, ok := c.lru.Get(key(dst))
	return ok
}

// Mark records that dst needs the proxy. Marking an already cached
// destination only refreshes its recency.
func (c *Cache) Mark(dst netip.AddrPort) {
	c.lru.Add(key(dst), struct{}{})
}

// Len returns the number of cached destinations.
func (c *Cache) Len() int {
	return c.lru.Len()
}

// key normalizes v4-mapped v6 addresses so a destination has one entry.
func key(dst netip.AddrPort) netip.AddrPort {
	return netip.AddrPortFrom(dst.Addr().Unmap(), dst.Port())
}
