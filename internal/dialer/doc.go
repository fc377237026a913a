// Package dialer provides the outbound side of the redirector.
//
// It opens TCP connections (directly, or bounded by a deadline whose expiry
// is reported as an outcome rather than an error) and performs the tunnel
// handshake spoken to the upstream proxy (SOCKS5 or HTTP CONNECT).
package dialer
