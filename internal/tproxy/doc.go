// Package tproxy recovers the original destination of connections that
// packet-filter rules redirected to the local listener, and provides
// transparent listeners for setups that keep the destination address on the
// socket.
//
// On Linux, OriginalDst reads the pre-NAT destination recorded by conntrack
// via SO_ORIGINAL_DST (IPv4) or IP6T_SO_ORIGINAL_DST (IPv6); this is what
// iptables/nftables REDIRECT rules need. ListenTransparentTCP sets
// IP_TRANSPARENT for TPROXY rules, where the accepted socket's local address
// is the original destination (see LocalDst).
//
// On FreeBSD (IPFW fwd, PF rdr-to) and OpenBSD (PF rdr-to), the accepted
// socket's local address is the original destination, so OriginalDst is
// LocalDst. Their transparent listeners set IP_BINDANY and SO_BINDANY
// respectively. A connection made straight to the listener is therefore
// indistinguishable from a redirected one there, and routes back to the
// listener itself; keep such listeners off addresses clients can reach
// directly.
//
// On other platforms, the listener and original-destination lookup are stubbed
// out and return errors.
package tproxy
