package socks5

import (
	"errors"
	"fmt"
	"net"

	txsocks5 "github.com/txthinking/socks5"
)

// ErrAuth is returned when the server refuses our credentials or requires
// credentials we do not have.
var ErrAuth = errors.New("socks5 authentication failed")

// Handshake negotiates auth on conn and asks the server to CONNECT to
// address. On success conn carries the tunneled stream.
func Handshake(conn net.Conn, auth Auth, address string) error {
	if err := negotiate(conn, auth); err != nil {
		return err
	}
	return connect(conn, address)
}

func negotiate(conn net.Conn, auth Auth) error {
	methods := []byte{txsocks5.MethodNone}
	if auth.Username != "" {
		methods = append(methods, txsocks5.MethodUsernamePassword)
	}

	if _, err := txsocks5.NewNegotiationRequest(methods).WriteTo(conn); err != nil {
		return fmt.Errorf("socks5 write negotiation: %w", err)
	}
	neg, err := txsocks5.NewNegotiationReplyFrom(conn)
	if err != nil {
		return fmt.Errorf("socks5 read negotiation: %w", err)
	}

	switch neg.Method {
	case txsocks5.MethodNone:
		return nil
	case txsocks5.MethodUsernamePassword:
		if auth.Username == "" {
			return fmt.Errorf("%w: server requires username/password", ErrAuth)
		}
	default:
		return fmt.Errorf("%w: no acceptable method (server chose %#x)", ErrAuth, neg.Method)
	}

	if _, err := txsocks5.NewUserPassNegotiationRequest([]byte(auth.Username), []byte(auth.Password)).WriteTo(conn); err != nil {
		return fmt.Errorf("socks5 write credentials: %w", err)
	}
	rep, err := txsocks5.NewUserPassNegotiationReplyFrom(conn)
	if err != nil {
		return fmt.Errorf("socks5 read credentials reply: %w", err)
	}
	if rep.Status != txsocks5.UserPassStatusSuccess {
		return ErrAuth
	}
	return nil
}

func connect(conn net.Conn, address string) error {
	atyp, addr, port, err := txsocks5.ParseAddress(address)
	if err != nil {
		return fmt.Errorf("socks5 parse address %q: %w", address, err)
	}
	if atyp == txsocks5.ATYPDomain {
		addr = addr[1:]
	}

	if _, err := txsocks5.NewRequest(txsocks5.CmdConnect, atyp, addr, port).WriteTo(conn); err != nil {
		return fmt.Errorf("socks5 write request: %w", err)
	}
	rep, err := txsocks5.NewReplyFrom(conn)
	if err != nil {
		return fmt.Errorf("socks5 read reply: %w", err)
	}
	if rep.Rep != txsocks5.RepSuccess {
		return fmt.Errorf("socks5 connect %s: %s", address, replyText(rep.Rep))
	}
	return nil
}
