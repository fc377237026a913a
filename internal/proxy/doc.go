// Package proxy holds the connection plumbing shared by the redirector: the
// full-duplex Relay with half-close propagation and byte accounting, and the
// keepalive-applying TCP listener.
package proxy
