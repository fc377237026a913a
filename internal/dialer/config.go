package dialer

import (
	"net"
	"time"
)

type Config struct {
	// DialTimeout is an OS-level bound on TCP connect. Zero leaves it to
	// the kernel.
	DialTimeout time.Duration
	KeepAlive   net.KeepAliveConfig
}
