package testutil

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"
	"testing"
)

// HTTPConnectUpstream is a minimal HTTP CONNECT proxy for tests. Every
// CONNECT target is reported on Requests before the proxy dials it.
type HTTPConnectUpstream struct {
	net.Listener
	Requests chan string
	// Greeting is sent in the same write as the 200 response, as if the
	// destination had spoken first.
	Greeting string
}

// StartHTTPConnectUpstream serves HTTP CONNECT on a loopback port until ctx
// ends or the test finishes.
func StartHTTPConnectUpstream(t *testing.T, ctx context.Context, greeting string) *HTTPConnectUpstream {
	t.Helper()

	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	u := &HTTPConnectUpstream{Listener: ln, Requests: make(chan string, 16), Greeting: greeting}
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

func (u *HTTPConnectUpstream) handle(ctx context.Context, c net.Conn) {
	defer c.Close()

	br := bufio.NewReader(c)
	req, err := http.ReadRequest(br)
	if err != nil {
		return
	}
	if req.Method != http.MethodConnect {
		_, _ = io.WriteString(c, "HTTP/1.1 405 Method Not Allowed\r\nContent-Length: 0\r\n\r\n")
		return
	}

	select {
	case u.Requests <- req.Host:
	default:
	}

	d := net.Dialer{}
	dst, err := d.DialContext(ctx, "tcp", req.Host)
	if err != nil {
		_, _ = io.WriteString(c, "HTTP/1.1 502 Bad Gateway\r\nContent-Length: 0\r\n\r\n")
		return
	}
	defer dst.Close()

	if _, err := io.WriteString(c, "HTTP/1.1 200 Connection Established\r\n\r\n"+u.Greeting); err != nil {
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = io.Copy(dst, br)
		_ = dst.(*net.TCPConn).CloseWrite()
	}()
	_, _ = io.Copy(c, dst)
	_ = c.(*net.TCPConn).CloseWrite()
	<-done
}
