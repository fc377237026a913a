// Package router routes intercepted connections to their original
// destination, either directly or through the upstream proxy.
//
// Each accepted connection moves through a fixed sequence of stages:
//
//	routing → connecting direct ──────────────────────────┐
//	             │ (deadline elapsed: mark, fall back)    │
//	             ▼                                        ▼
//	          connecting proxy → handshaking ─────────→ relaying
//
// A direct attempt whose deadline elapses is not a failure. The destination
// is remembered as needing the proxy and the connection continues on the
// proxy path. Every other failure ends that connection only.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"

	"github.com/die-net/autoproxy/internal/dialer"
	"github.com/die-net/autoproxy/internal/metrics"
	"github.com/die-net/autoproxy/internal/proxy"
	"github.com/die-net/autoproxy/internal/route"
)

// ErrNoDestination is returned when the original destination of an accepted
// connection cannot be recovered.
var ErrNoDestination = errors.New("original destination unavailable")

// Stage identifies where in the routing sequence a connection is.
type Stage int

const (
	StageRouting Stage = iota
	StageConnectingDirect
	StageConnectingProxy
	StageHandshaking
	StageRelaying
)

func (s Stage) String() string {
	switch s {
	case StageRouting:
		return "routing"
	case StageConnectingDirect:
		return "connect-direct"
	case StageConnectingProxy:
		return "connect-proxy"
	case StageHandshaking:
		return "handshake"
	case StageRelaying:
		return "relay"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// Path is the way a connection reached its destination.
type Path int

const (
	// PathNone means no upstream connection was established.
	PathNone Path = iota
	PathDirect
	PathProxy
	// PathFallback is the proxy path taken after a direct attempt timed out.
	PathFallback
)

func (p Path) String() string {
	switch p {
	case PathDirect:
		return "direct"
	case PathProxy:
		return "proxy"
	case PathFallback:
		return "fallback"
	default:
		return "none"
	}
}

// Error is a connection-scoped routing failure.
type Error struct {
	Stage Stage
	// Dst is the zero AddrPort when the destination was never resolved.
	Dst netip.AddrPort
	Err error
}

func (e *Error) Error() string {
	if !e.Dst.IsValid() {
		return fmt.Sprintf("%s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Stage, e.Dst, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Resolver recovers the original destination of a redirected connection.
type Resolver func(net.Conn) (netip.AddrPort, bool)

// Config wires a Router to its collaborators.
type Config struct {
	Context *route.Context
	Resolve Resolver
	// Direct opens connections to destinations. It must not impose a
	// deadline of its own: expiry of the routing timeout is what triggers
	// the fallback.
	Direct dialer.ContextDialer
	// Proxy opens connections to the upstream proxy.
	Proxy      dialer.ContextDialer
	Handshaker dialer.Handshaker
	Logger     *slog.Logger
}

// Router runs the per-connection routing sequence. It is safe for concurrent
// use; all shared state lives in the route.Context.
type Router struct {
	ctx       *route.Context
	resolve   Resolver
	direct    dialer.ContextDialer
	proxy     dialer.ContextDialer
	handshake dialer.Handshaker
	log       *slog.Logger
}

func New(cfg Config) *Router {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		ctx:       cfg.Context,
		resolve:   cfg.Resolve,
		direct:    cfg.Direct,
		proxy:     cfg.Proxy,
		handshake: cfg.Handshaker,
		log:       log,
	}
}

// Result describes a routed connection. On failure it holds whatever was
// known when the connection ended.
type Result struct {
	Dst   netip.AddrPort
	Path  Path
	Stats proxy.Stats
}

// Route takes ownership of client, connects it to its original destination,
// and relays until both directions finish. client is closed before Route
// returns.
//
// Failures are returned as *Error. A relay failure still reports the bytes
// forwarded before it.
func (r *Router) Route(ctx context.Context, client net.Conn) (Result, error) {
	var res Result

	dst, ok := r.resolve(client)
	if !ok {
		_ = client.Close()
		return res, &Error{Stage: StageRouting, Err: ErrNoDestination}
	}
	dst = netip.AddrPortFrom(dst.Addr().Unmap(), dst.Port())
	res.Dst = dst

	up, path, err := r.connect(ctx, dst)
	if err != nil {
		_ = client.Close()
		return res, err
	}
	res.Path = path

	r.log.Debug("relaying", "dst", dst, "path", path)
	res.Stats, err = proxy.Relay(client, up)
	if err != nil {
		return res, &Error{Stage: StageRelaying, Dst: dst, Err: err}
	}
	return res, nil
}

// connect establishes the upstream side for dst according to the routing
// decision, falling back to the proxy when a direct attempt times out.
func (r *Router) connect(ctx context.Context, dst netip.AddrPort) (net.Conn, Path, error) {
	dec := r.ctx.Decide(dst)
	if dec.Kind == route.ProxyOnly {
		up, err := r.tunnel(ctx, dst)
		return up, PathProxy, err
	}

	r.log.Debug("connecting direct", "dst", dst, "timeout", dec.Timeout)
	a, err := dialer.DialBounded(ctx, r.direct, "tcp", dst.String(), dec.Timeout)
	if err != nil {
		return nil, PathNone, &Error{Stage: StageConnectingDirect, Dst: dst, Err: err}
	}
	if !a.Elapsed {
		return a.Conn, PathDirect, nil
	}

	r.ctx.Mark(dst)
	metrics.DirectFallbacks.Inc()
	r.log.Debug("direct connect timed out, falling back to proxy", "dst", dst, "timeout", dec.Timeout)

	up, err := r.tunnel(ctx, dst)
	return up, PathFallback, err
}

// tunnel opens a fresh connection to the upstream proxy and asks it for a
// tunnel to dst.
func (r *Router) tunnel(ctx context.Context, dst netip.AddrPort) (net.Conn, error) {
	proxyAddr := r.ctx.ProxyAddr()

	r.log.Debug("connecting proxy", "dst", dst, "proxy", proxyAddr)
	c, err := r.proxy.DialContext(ctx, "tcp", proxyAddr.String())
	if err != nil {
		return nil, &Error{Stage: StageConnectingProxy, Dst: dst, Err: err}
	}

	r.log.Debug("handshaking", "dst", dst, "proxy", proxyAddr)
	up, err := r.handshake.Handshake(ctx, c, dst.String())
	if err != nil {
		_ = c.Close()
		return nil, &Error{Stage: StageHandshaking, Dst: dst, Err: err}
	}
	return up, nil
}
