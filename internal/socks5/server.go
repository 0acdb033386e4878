package socks5

import (
	"fmt"
	"net"
	"slices"

	txsocks5 "github.com/txthinking/socks5"
)

// Accept runs the server half of a handshake: method negotiation, optional
// username/password check, then the request. It returns the CONNECT target;
// the caller must answer with WriteSuccessReply or WriteReply.
func Accept(conn net.Conn, auth Auth) (string, error) {
	neg, err := txsocks5.NewNegotiationRequestFrom(conn)
	if err != nil {
		return "", fmt.Errorf("socks5 read negotiation: %w", err)
	}

	want := byte(txsocks5.MethodNone)
	if auth.Username != "" {
		want = txsocks5.MethodUsernamePassword
	}
	if !slices.Contains(neg.Methods, want) {
		// RFC 1928: 0xFF means no acceptable methods.
		_, _ = txsocks5.NewNegotiationReply(0xff).WriteTo(conn)
		return "", fmt.Errorf("%w: client lacks method %#x", ErrAuth, want)
	}
	if _, err := txsocks5.NewNegotiationReply(want).WriteTo(conn); err != nil {
		return "", fmt.Errorf("socks5 write negotiation: %w", err)
	}

	if auth.Username != "" {
		urq, err := txsocks5.NewUserPassNegotiationRequestFrom(conn)
		if err != nil {
			return "", fmt.Errorf("socks5 read credentials: %w", err)
		}
		if string(urq.Uname) != auth.Username || string(urq.Passwd) != auth.Password {
			_, _ = txsocks5.NewUserPassNegotiationReply(txsocks5.UserPassStatusFailure).WriteTo(conn)
			return "", ErrAuth
		}
		if _, err := txsocks5.NewUserPassNegotiationReply(txsocks5.UserPassStatusSuccess).WriteTo(conn); err != nil {
			return "", fmt.Errorf("socks5 write credentials reply: %w", err)
		}
	}

	req, err := txsocks5.NewRequestFrom(conn)
	if err != nil {
		return "", fmt.Errorf("socks5 read request: %w", err)
	}
	if req.Cmd != txsocks5.CmdConnect {
		WriteReply(conn, txsocks5.RepCommandNotSupported)
		return "", fmt.Errorf("socks5: unsupported command %#x", req.Cmd)
	}
	return req.Address(), nil
}
