package tproxy

import (
	"net"
	"net/netip"
)

// LocalDst returns the local address of an accepted TCP connection. For
// sockets accepted by a transparent listener, or redirected by firewalls that
// preserve the destination, this is the original destination.
func LocalDst(c net.Conn) (netip.AddrPort, bool) {
	tc, ok := c.(*net.TCPConn)
	if !ok {
		return netip.AddrPort{}, false
	}
	la, ok := tc.LocalAddr().(*net.TCPAddr)
	if !ok {
		return netip.AddrPort{}, false
	}
	ap := la.AddrPort()
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port()), ap.IsValid()
}
