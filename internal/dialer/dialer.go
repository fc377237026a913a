package dialer

import (
	"context"
	"fmt"
	"net"

	"github.com/die-net/autoproxy/internal/config"
)

// ContextDialer mirrors net.Dialer's DialContext.
type ContextDialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Handshaker asks an upstream proxy, reached over conn, to open a tunnel to
// target ("ip:port"). On success the returned net.Conn carries the tunneled
// stream; it may be conn itself or a wrapper around it. On failure conn is
// left open for the caller to close.
type Handshaker interface {
	Handshake(ctx context.Context, conn net.Conn, target string) (net.Conn, error)
}

// NewHandshaker returns the Handshaker for proxy type pt.
func NewHandshaker(pt config.ProxyType) (Handshaker, error) {
	switch pt {
	case config.ProxyTypeSOCKS5:
		return SOCKS5Handshaker{}, nil
	case config.ProxyTypeHTTP:
		return HTTPConnectHandshaker{}, nil
	default:
		return nil, fmt.Errorf("unsupported proxy type: %q", pt)
	}
}

// closeOnCancel closes conn if ctx is canceled before the returned stop
// function is called, unblocking any in-flight handshake I/O.
func closeOnCancel(ctx context.Context, conn net.Conn) (stop func() bool) {
	return context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
}
