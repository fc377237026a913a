package dialer

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
)

// HTTPConnectHandshaker opens tunnels with an HTTP/1.1 CONNECT request.
type HTTPConnectHandshaker struct{}

func (HTTPConnectHandshaker) Handshake(ctx context.Context, conn net.Conn, target string) (net.Conn, error) {
	stop := closeOnCancel(ctx, conn)
	defer stop()

	req := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: target},
		Host:   target,
		Header: make(http.Header),
	}

	if err := req.Write(conn); err != nil {
		return nil, fmt.Errorf("http connect %s write: %w", target, err)
	}

	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, req)
	if err != nil {
		return nil, fmt.Errorf("http connect %s read: %w", target, err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("http connect %s failed: %s", target, resp.Status)
	}

	// The proxy may have sent tunnel bytes along with its response.
	if br.Buffered() > 0 {
		return &bufferedConn{Conn: conn, r: br}, nil
	}
	return conn, nil
}

// bufferedConn drains bytes read ahead during the handshake before reading
// from the underlying connection.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *bufferedConn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}

// CloseWrite half-closes the underlying connection when it supports it.
func (c *bufferedConn) CloseWrite() error {
	if cw, ok := c.Conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return nil
}
