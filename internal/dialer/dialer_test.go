package dialer

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/die-net/autoproxy/internal/config"
	"github.com/die-net/autoproxy/internal/socks5"
	"github.com/die-net/autoproxy/internal/testutil"
)

func TestNewHandshaker(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		pt       config.ProxyType
		wantType any
		wantErr  bool
	}{
		{name: "socks5", pt: config.ProxyTypeSOCKS5, wantType: SOCKS5Handshaker{}},
		{name: "http", pt: config.ProxyTypeHTTP, wantType: HTTPConnectHandshaker{}},
		{name: "unknown", pt: "socks4", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := NewHandshaker(tt.pt)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err=%v wantErr=%v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got, want := reflect.TypeOf(h), reflect.TypeOf(tt.wantType); got != want {
				t.Fatalf("got %s want %s", got, want)
			}
		})
	}
}

// closedAddr returns a loopback address nothing is listening on.
func closedAddr(t *testing.T) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}

func TestDialBounded(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	echoLn := testutil.StartEchoTCPServer(t, ctx)
	echoAddr := echoLn.Addr().String()
	const hole = "192.0.2.1:80"

	d := &testutil.RecordingDialer{BlackHole: map[string]bool{hole: true}}

	t.Run("connects within deadline", func(t *testing.T) {
		a, err := DialBounded(ctx, d, "tcp", echoAddr, time.Second)
		if err != nil {
			t.Fatal(err)
		}
		if a.Elapsed || a.Conn == nil {
			t.Fatalf("attempt=%+v", a)
		}
		defer a.Conn.Close()
		testutil.AssertEcho(t, a.Conn, a.Conn, []byte("hello"))
	})

	t.Run("no deadline", func(t *testing.T) {
		a, err := DialBounded(ctx, d, "tcp", echoAddr, 0)
		if err != nil {
			t.Fatal(err)
		}
		if a.Elapsed || a.Conn == nil {
			t.Fatalf("attempt=%+v", a)
		}
		_ = a.Conn.Close()
	})

	t.Run("deadline elapses", func(t *testing.T) {
		const timeout = 100 * time.Millisecond
		start := time.Now()
		a, err := DialBounded(ctx, d, "tcp", hole, timeout)
		if err != nil {
			t.Fatalf("elapsed deadline reported as error: %v", err)
		}
		if !a.Elapsed || a.Conn != nil {
			t.Fatalf("attempt=%+v", a)
		}
		if elapsed := time.Since(start); elapsed < timeout {
			t.Fatalf("returned after %s, before the %s deadline", elapsed, timeout)
		}
	})

	t.Run("refused is an error", func(t *testing.T) {
		addr := closedAddr(t)
		a, err := DialBounded(ctx, NewDirectDialer(Config{}), "tcp", addr, time.Second)
		if err == nil {
			_ = a.Conn.Close()
			t.Fatal("expected error")
		}
		if a.Elapsed {
			t.Fatal("refusal reported as elapsed")
		}
		if n := strings.Count(err.Error(), addr); n != 1 {
			t.Fatalf("address named %d times in %q", n, err)
		}
	})

	t.Run("parent cancel is an error", func(t *testing.T) {
		cctx, ccancel := context.WithCancel(ctx)
		ccancel()
		a, err := DialBounded(cctx, d, "tcp", hole, time.Second)
		if err == nil {
			t.Fatal("expected error")
		}
		if a.Elapsed {
			t.Fatal("cancellation reported as elapsed")
		}
	})
}

func TestSOCKS5HandshakerTunnel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	echoLn := testutil.StartEchoTCPServer(t, ctx)
	up := testutil.StartSOCKS5Upstream(t, ctx)

	c, err := NewDirectDialer(Config{}).DialContext(ctx, "tcp", up.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	tunnel, err := SOCKS5Handshaker{}.Handshake(ctx, c, echoLn.Addr().String())
	if err != nil {
		t.Fatal(err)
	}

	if got := <-up.Requests; got != echoLn.Addr().String() {
		t.Fatalf("proxy asked for %q want %q", got, echoLn.Addr().String())
	}
	testutil.AssertEcho(t, tunnel, tunnel, []byte("hello"))
}

func TestSOCKS5HandshakerRefused(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	upLn, waitUp := testutil.StartSingleAcceptServer(t, ctx, func(c net.Conn) {
		if err := socks5.ServerNegotiate(c); err != nil {
			return
		}
		req, err := socks5.ServerReadRequest(c)
		if err != nil {
			return
		}
		_ = socks5.WriteFailureReply(c, socks5.RepConnectionRefused, req.Atyp)
	})

	c, err := NewDirectDialer(Config{}).DialContext(ctx, "tcp", upLn.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	_, err = SOCKS5Handshaker{}.Handshake(ctx, c, "127.0.0.1:1")
	if !errors.Is(err, socks5.ErrRefused) {
		t.Fatalf("err=%v want ErrRefused", err)
	}

	waitUp()
}

func TestSOCKS5HandshakerContextCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// An upstream that accepts but never answers.
	upLn, waitUp := testutil.StartSingleAcceptServer(t, ctx, func(c net.Conn) {
		_, _ = io.Copy(io.Discard, c)
	})

	c, err := NewDirectDialer(Config{}).DialContext(ctx, "tcp", upLn.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	hctx, hcancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer hcancel()

	if _, err := (SOCKS5Handshaker{}).Handshake(hctx, c, "127.0.0.1:1"); err == nil {
		t.Fatal("expected error")
	}

	waitUp()
}

func TestHTTPConnectHandshaker(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	const target = "198.51.100.7:443"
	gotTarget := make(chan string, 1)

	upLn, waitUp := testutil.StartSingleAcceptServer(t, ctx, func(c net.Conn) {
		br := bufio.NewReader(c)
		req, err := http.ReadRequest(br)
		if err != nil {
			return
		}
		gotTarget <- req.Host
		// Tunnel bytes arrive in the same segment as the response.
		_, _ = io.WriteString(c, "HTTP/1.1 200 Connection Established\r\n\r\nwelcome")
		_, _ = io.Copy(c, br)
	})

	c, err := NewDirectDialer(Config{}).DialContext(ctx, "tcp", upLn.Addr().String())
	if err != nil {
		t.Fatal(err)
	}

	tunnel, err := HTTPConnectHandshaker{}.Handshake(ctx, c, target)
	if err != nil {
		t.Fatal(err)
	}
	if got := <-gotTarget; got != target {
		t.Fatalf("CONNECT host=%q want %q", got, target)
	}

	buf := make([]byte, len("welcome"))
	if _, err := io.ReadFull(tunnel, buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "welcome" {
		t.Fatalf("got %q", buf)
	}
	testutil.AssertEcho(t, tunnel, tunnel, []byte("ping"))

	if cw, ok := tunnel.(interface{ CloseWrite() error }); !ok {
		t.Fatal("tunnel does not support CloseWrite")
	} else if err := cw.CloseWrite(); err != nil {
		t.Fatal(err)
	}
	_ = tunnel.Close()

	waitUp()
}

func TestHTTPConnectHandshakerRejected(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	upLn, waitUp := testutil.StartSingleAcceptServer(t, ctx, func(c net.Conn) {
		if _, err := http.ReadRequest(bufio.NewReader(c)); err != nil {
			return
		}
		_, _ = io.WriteString(c, "HTTP/1.1 403 Forbidden\r\nContent-Length: 0\r\n\r\n")
	})

	c, err := NewDirectDialer(Config{}).DialContext(ctx, "tcp", upLn.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if _, err := (HTTPConnectHandshaker{}).Handshake(ctx, c, "198.51.100.7:443"); err == nil {
		t.Fatal("expected error")
	}

	waitUp()
}
