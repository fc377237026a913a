// Package socks5 provides the small SOCKS5 handshake used to open tunnels
// through the upstream proxy.
//
// It wraps the low-level protocol types in github.com/txthinking/socks5. The
// client side performs no-auth negotiation and a CONNECT request; the server
// side helpers exist so tests can stand up an upstream proxy.
package socks5
