package proxy

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"syscall"

	"golang.org/x/sync/errgroup"
)

// Stats counts the bytes forwarded in each direction of a relayed connection.
type Stats struct {
	ClientToUpstream int64
	UpstreamToClient int64
}

// closeWriter is implemented by *net.TCPConn and *net.UnixConn.
type closeWriter interface {
	CloseWrite() error
}

// Relay copies client→upstream and upstream→client concurrently until both
// directions have reached end of stream or failed.
//
// When a direction's source is exhausted, the write side of its destination
// is shut down so the peer sees EOF, while the opposite direction keeps
// running. Relay owns both connections and closes them before returning.
//
// The first error from either direction is returned along with the byte
// counts accumulated so far.
func Relay(client, upstream net.Conn) (Stats, error) {
	var (
		st Stats
		g  errgroup.Group
	)

	var closeOnce sync.Once
	closeBoth := func() {
		closeOnce.Do(func() {
			_ = client.Close()
			_ = upstream.Close()
		})
	}
	defer closeBoth()

	g.Go(func() error {
		n, err := pipe(upstream, client)
		st.ClientToUpstream = n
		if err != nil {
			return fmt.Errorf("client to upstream: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		n, err := pipe(client, upstream)
		st.UpstreamToClient = n
		if err != nil {
			return fmt.Errorf("upstream to client: %w", err)
		}
		return nil
	})

	err := g.Wait()
	return st, err
}

// pipe copies src to dst, then half-closes dst.
func pipe(dst, src net.Conn) (int64, error) {
	n, err := io.Copy(dst, src)

	// Signal EOF to dst's peer even after a failure so the other direction
	// can wind down instead of waiting on a peer that never hangs up.
	if cerr := closeWrite(dst); err == nil && cerr != nil && !peerGone(cerr) {
		err = fmt.Errorf("shutdown: %w", cerr)
	}
	return n, err
}

// peerGone reports shutdown errors that only mean the peer already
// disconnected.
func peerGone(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, syscall.ENOTCONN)
}

func closeWrite(c net.Conn) error {
	if cw, ok := c.(closeWriter); ok {
		return cw.CloseWrite()
	}
	return nil
}
