//go:build linux

package tproxy

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/die-net/autoproxy/internal/proxy"
)

// IsSupported is true on TPROXY-supporting OSes.
const IsSupported = true

// ListenTransparentTCP listens on addr and enables IP_TRANSPARENT so the
// socket can accept connections for foreign addresses (typical TPROXY setup).
// Accepted connections carry their original destination as the local
// address; use LocalDst with them.
//
// This requires CAP_NET_ADMIN. Note: you still need appropriate
// iptables/nft rules.
func ListenTransparentTCP(ctx context.Context, addr netip.AddrPort, keepAliveConfig net.KeepAliveConfig) (net.Listener, error) {
	lc := net.ListenConfig{Control: func(network, _ string, c syscall.RawConn) error {
		var ctrlErr error
		err := c.Control(func(fd uintptr) {
			if network == "tcp6" {
				ctrlErr = unix.SetsockoptInt(int(fd), unix.SOL_IPV6, unix.IPV6_TRANSPARENT, 1)
			} else {
				ctrlErr = unix.SetsockoptInt(int(fd), unix.SOL_IP, unix.IP_TRANSPARENT, 1)
			}
		})
		if err != nil {
			return err
		}
		return ctrlErr
	}}
	ln, err := lc.Listen(ctx, "tcp", addr.String())
	if err != nil {
		return nil, fmt.Errorf("listen tproxy %s: %w", addr, err)
	}
	return &proxy.KeepAliveListener{Listener: ln, KeepAliveConfig: keepAliveConfig}, nil
}

// OriginalDst returns the pre-NAT destination of a TCP connection that a
// REDIRECT rule sent to this listener.
//
// A connection made to the listener itself, without redirection, reports its
// own local address; it is rejected so that it cannot be routed back to us.
func OriginalDst(c net.Conn) (netip.AddrPort, bool) {
	tc, ok := c.(*net.TCPConn)
	if !ok {
		return netip.AddrPort{}, false
	}
	local, ok := LocalDst(c)
	if !ok {
		return netip.AddrPort{}, false
	}
	rc, err := tc.SyscallConn()
	if err != nil {
		return netip.AddrPort{}, false
	}

	var (
		dst   netip.AddrPort
		okRet bool
	)
	err = rc.Control(func(fd uintptr) {
		if local.Addr().Is4() {
			dst, okRet = originalDst4(int(fd))
		} else {
			dst, okRet = originalDst6(int(fd))
		}
	})
	if err != nil || !okRet || dst == local {
		return netip.AddrPort{}, false
	}
	return dst, true
}

func originalDst4(fd int) (netip.AddrPort, bool) {
	// The kernel fills a struct sockaddr_in; IPv6Mreq is a convenient
	// 16-byte buffer of the same size.
	mreq, err := unix.GetsockoptIPv6Mreq(fd, unix.SOL_IP, unix.SO_ORIGINAL_DST)
	if err != nil {
		return netip.AddrPort{}, false
	}
	raw := mreq.Multiaddr
	if family := *(*uint16)(unsafe.Pointer(&raw[0])); family != unix.AF_INET {
		return netip.AddrPort{}, false
	}
	port := uint16(raw[2])<<8 | uint16(raw[3])
	addr := netip.AddrFrom4([4]byte{raw[4], raw[5], raw[6], raw[7]})
	return netip.AddrPortFrom(addr, port), true
}

func originalDst6(fd int) (netip.AddrPort, bool) {
	// The kernel fills a struct sockaddr_in6, which is the leading member
	// of IPv6MTUInfo.
	info, err := unix.GetsockoptIPv6MTUInfo(fd, unix.SOL_IPV6, unix.IP6T_SO_ORIGINAL_DST)
	if err != nil {
		return netip.AddrPort{}, false
	}
	sa := info.Addr
	if sa.Family != unix.AF_INET6 {
		return netip.AddrPort{}, false
	}
	pb := (*[2]byte)(unsafe.Pointer(&sa.Port))
	port := uint16(pb[0])<<8 | uint16(pb[1])
	addr := netip.AddrFrom16(sa.Addr).Unmap()
	return netip.AddrPortFrom(addr, port), true
}
