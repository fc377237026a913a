//go:build !linux && !freebsd && !openbsd

package tproxy

import (
	"context"
	"errors"
	"net"
	"net/netip"
)

// IsSupported is false where no original-destination lookup exists.
const IsSupported = false

func ListenTransparentTCP(_ context.Context, _ netip.AddrPort, _ net.KeepAliveConfig) (net.Listener, error) {
	return nil, errors.New("transparent proxy is not supported on this platform")
}

func OriginalDst(_ net.Conn) (netip.AddrPort, bool) {
	return netip.AddrPort{}, false
}
