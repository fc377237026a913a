package dialer

import (
	"context"
	"errors"
	"net"
	"time"
)

type directDialer struct {
	cfg Config
}

// NewDirectDialer returns a ContextDialer that connects straight to the
// requested address and applies cfg.KeepAlive to the resulting connection.
func NewDirectDialer(cfg Config) ContextDialer {
	return &directDialer{cfg: cfg}
}

func (f *directDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	dd := net.Dialer{Timeout: f.cfg.DialTimeout, KeepAliveConfig: f.cfg.KeepAlive}

	// *net.OpError already names the operation and address.
	return dd.DialContext(ctx, network, address)
}

// Attempt is the result of DialBounded. Exactly one of Conn and Elapsed is
// set when DialBounded returns a nil error.
type Attempt struct {
	Conn net.Conn
	// Elapsed reports that the deadline passed before the connection was
	// established.
	Elapsed bool
}

// DialBounded dials address with d, giving up once timeout has passed. A
// zero timeout applies no deadline.
//
// Running out of time is not an error: it is reported as Attempt.Elapsed.
// Cancellation of ctx itself and every other dial failure are returned as
// errors.
func DialBounded(ctx context.Context, d ContextDialer, network, address string, timeout time.Duration) (Attempt, error) {
	if timeout <= 0 {
		c, err := d.DialContext(ctx, network, address)
		if err != nil {
			return Attempt{}, err
		}
		return Attempt{Conn: c}, nil
	}

	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c, err := d.DialContext(dctx, network, address)
	if err != nil {
		if ctx.Err() == nil && errors.Is(dctx.Err(), context.DeadlineExceeded) {
			return Attempt{Elapsed: true}, nil
		}
		return Attempt{}, err
	}
	return Attempt{Conn: c}, nil
}
