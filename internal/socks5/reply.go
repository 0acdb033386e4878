package socks5

import (
	"fmt"
	"net"

	txsocks5 "github.com/txthinking/socks5"
)

// Auth holds optional username/password credentials.
type Auth struct {
	Username string
	Password string
}

// WriteReply sends a failure reply with code rep and a zero bound address.
func WriteReply(conn net.Conn, rep byte) {
	_, _ = txsocks5.NewReply(rep, txsocks5.ATYPIPv4, []byte{0, 0, 0, 0}, []byte{0, 0}).WriteTo(conn)
}

// WriteSuccessReply reports a completed CONNECT bound to localAddr.
func WriteSuccessReply(conn net.Conn, localAddr net.Addr) error {
	atyp, addr, port, err := txsocks5.ParseAddress(localAddr.String())
	if err != nil {
		return fmt.Errorf("socks5 parse bound address %q: %w", localAddr, err)
	}
	if atyp == txsocks5.ATYPDomain {
		addr = addr[1:]
	}
	if _, err := txsocks5.NewReply(txsocks5.RepSuccess, atyp, addr, port).WriteTo(conn); err != nil {
		return fmt.Errorf("socks5 write reply: %w", err)
	}
	return nil
}

// replyText names the RFC 1928 reply codes.
func replyText(rep byte) string {
	switch rep {
	case 0x01:
		return "general server failure"
	case 0x02:
		return "connection not allowed by ruleset"
	case 0x03:
		return "network unreachable"
	case 0x04:
		return "host unreachable"
	case 0x05:
		return "connection refused"
	case 0x06:
		return "TTL expired"
	case 0x07:
		return "command not supported"
	case 0x08:
		return "address type not supported"
	default:
		return fmt.Sprintf("reply code %#x", rep)
	}
}
