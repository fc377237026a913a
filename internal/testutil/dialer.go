package testutil

import (
	"context"
	"net"
	"sync"
)

// RecordingDialer dials with a net.Dialer and records every address it was
// asked for. Addresses listed in BlackHole never connect: the dial blocks
// until its context ends, like a destination that drops SYNs.
type RecordingDialer struct {
	BlackHole map[string]bool

	mu    sync.Mutex
	dials []string
}

func (d *RecordingDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	d.mu.Lock()
	d.dials = append(d.dials, address)
	d.mu.Unlock()

	if d.BlackHole[address] {
		<-ctx.Done()
		return nil, &net.OpError{Op: "dial", Net: network, Err: ctx.Err()}
	}

	var nd net.Dialer
	return nd.DialContext(ctx, network, address)
}

// Dials returns the addresses dialed so far, in order.
func (d *RecordingDialer) Dials() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.dials...)
}

// Count returns how many times address was dialed.
func (d *RecordingDialer) Count(address string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, a := range d.dials {
		if a == address {
			n++
		}
	}
	return n
}
