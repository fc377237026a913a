// Package route decides, per destination, whether a connection is attempted
// directly or sent straight to the upstream proxy.
package route

import (
	"net/netip"
	"time"

	"github.com/die-net/autoproxy/internal/config"
)

// Kind is the path chosen for a connection.
type Kind int

const (
	// Direct connects to the destination, falling back to the proxy if the
	// attempt outlives Decision.Timeout.
	Direct Kind = iota
	// ProxyOnly connects through the upstream proxy without a direct
	// attempt.
	ProxyOnly
)

func (k Kind) String() string {
	switch k {
	case Direct:
		return "direct"
	case ProxyOnly:
		return "proxy"
	default:
		return "unknown"
	}
}

// Decision is the outcome of Context.Decide.
type Decision struct {
	Kind Kind
	// Timeout bounds a Direct attempt. Zero means no deadline.
	Timeout time.Duration
}

// Context combines the immutable configuration with the shared destination
// cache. A single Context is shared by all connections.
type Context struct {
	cfg   *config.Config
	cache *Cache
}

// NewContext returns a Context over cfg and cache. cfg must not be modified
// afterwards.
func NewContext(cfg *config.Config, cache *Cache) *Context {
	return &Context{cfg: cfg, cache: cache}
}

// Decide picks the path for dst. It never blocks on I/O.
func (c *Context) Decide(dst netip.AddrPort) Decision {
	if !c.cfg.AutoProxy {
		return Decision{Kind: ProxyOnly}
	}
	if c.cache.Contains(dst) {
		return Decision{Kind: ProxyOnly}
	}
	return Decision{Kind: Direct, Timeout: c.cfg.Timeout}
}

// Mark records that dst needs the proxy, so later connections skip the direct
// attempt.
func (c *Context) Mark(dst netip.AddrPort) {
	c.cache.Mark(dst)
}

// ProxyAddr returns the upstream proxy address.
func (c *Context) ProxyAddr() netip.AddrPort {
	return c.cfg.Proxy
}

// ProxyType returns the upstream proxy protocol.
func (c *Context) ProxyType() config.ProxyType {
	return c.cfg.ProxyType
}

// CacheLen returns the number of destinations currently marked.
func (c *Context) CacheLen() int {
	return c.cache.Len()
}
