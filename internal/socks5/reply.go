package socks5

import (
	"fmt"
	"net"

	txsocks5 "github.com/txthinking/socks5"
)

// CmdConnect is the SOCKS5 CONNECT command value.
const CmdConnect = txsocks5.CmdConnect

// Reply codes sent by the server helpers.
const (
	RepConnectionRefused   = txsocks5.RepConnectionRefused
	RepHostUnreachable     = txsocks5.RepHostUnreachable
	RepCommandNotSupported = txsocks5.RepCommandNotSupported
)

// WriteFailureReply answers a request with reply code rep and an unspecified
// bound address of the request's address family.
func WriteFailureReply(conn net.Conn, rep, atyp byte) error {
	bound := []byte(net.IPv4zero.To4())
	if atyp == txsocks5.ATYPIPv6 {
		bound = []byte(net.IPv6zero)
	} else {
		atyp = txsocks5.ATYPIPv4
	}
	if _, err := txsocks5.NewReply(rep, atyp, bound, []byte{0, 0}).WriteTo(conn); err != nil {
		return fmt.Errorf("reply %d: %w", rep, err)
	}
	return nil
}

// WriteSuccessReply answers a CONNECT request with bound as the address the
// server connected from.
func WriteSuccessReply(conn net.Conn, bound net.Addr) error {
	atyp, addr, port, err := txsocks5.ParseAddress(bound.String())
	if err != nil {
		return fmt.Errorf("parse bound address %q: %w", bound, err)
	}
	if atyp == txsocks5.ATYPDomain {
		addr = addr[1:]
	}
	if _, err := txsocks5.NewReply(txsocks5.RepSuccess, atyp, addr, port).WriteTo(conn); err != nil {
		return fmt.Errorf("success reply: %w", err)
	}
	return nil
}
