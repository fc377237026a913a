package dialer

import (
	"context"
	"fmt"
	"net"

	"github.com/die-net/autoproxy/internal/socks5"
)

// SOCKS5Handshaker opens tunnels with a no-auth SOCKS5 CONNECT request.
type SOCKS5Handshaker struct{}

func (SOCKS5Handshaker) Handshake(ctx context.Context, conn net.Conn, target string) (net.Conn, error) {
	stop := closeOnCancel(ctx, conn)
	defer stop()

	if err := socks5.ClientDial(conn, target); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("socks5 handshake %s: %w", target, ctx.Err())
		}
		return nil, fmt.Errorf("socks5 handshake %s: %w", target, err)
	}
	return conn, nil
}
