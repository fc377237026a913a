package testutil

import (
	"context"
	"io"
	"net"
	"testing"

	"github.com/die-net/autoproxy/internal/socks5"
)

// SOCKS5Upstream is a minimal no-auth SOCKS5 proxy for tests. Every CONNECT
// target is reported on Requests before the proxy dials it.
type SOCKS5Upstream struct {
	net.Listener
	Requests chan string
}

// StartSOCKS5Upstream serves SOCKS5 on a loopback port until ctx ends or the
// test finishes.
func StartSOCKS5Upstream(t *testing.T, ctx context.Context) *SOCKS5Upstream {
	t.Helper()

	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	u := &SOCKS5Upstream{Listener: ln, Requests: make(chan string, 16)}
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go u.handle(ctx, c)
		}
	}()
	return u
}

func (u *SOCKS5Upstream) handle(ctx context.Context, c net.Conn) {
	defer c.Close()

	if err := socks5.ServerNegotiate(c); err != nil {
		return
	}
	req, err := socks5.ServerReadRequest(c)
	if err != nil {
		return
	}
	if req.Cmd != socks5.CmdConnect {
		_ = socks5.WriteFailureReply(c, socks5.RepCommandNotSupported, req.Atyp)
		return
	}

	target := req.Address()
	select {
	case u.Requests <- target:
	default:
	}

	d := net.Dialer{}
	dst, err := d.DialContext(ctx, "tcp", target)
	if err != nil {
		_ = socks5.WriteFailureReply(c, socks5.RepHostUnreachable, req.Atyp)
		return
	}
	defer dst.Close()

	if err := socks5.WriteSuccessReply(c, dst.LocalAddr()); err != nil {
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = io.Copy(dst, c)
		_ = dst.(*net.TCPConn).CloseWrite()
	}()
	_, _ = io.Copy(c, dst)
	_ = c.(*net.TCPConn).CloseWrite()
	<-done
}
