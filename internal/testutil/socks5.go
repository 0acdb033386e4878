package testutil

import (
	"context"
	"io"
	"net"
	"testing"

	txsocks5 "github.com/txthinking/socks5"

	"github.com/die-net/rawprox/internal/socks5"
)

// StartSOCKS5Server runs a SOCKS5 CONNECT server requiring auth (none when
// auth is zero). It stops when the test ends.
func StartSOCKS5Server(t *testing.T, ctx context.Context, auth socks5.Auth) net.Listener {
	t.Helper()

	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go serveSOCKS5(ctx, c, auth)
		}
	}()

	return ln
}

func serveSOCKS5(ctx context.Context, c net.Conn, auth socks5.Auth) {
	defer c.Close()

	target, err := socks5.Accept(c, auth)
	if err != nil {
		return
	}

	var d net.Dialer
	dst, err := d.DialContext(ctx, "tcp", target)
	if err != nil {
		socks5.WriteReply(c, txsocks5.RepHostUnreachable)
		return
	}
	defer dst.Close()

	if err := socks5.WriteSuccessReply(c, dst.LocalAddr()); err != nil {
		return
	}

	go func() {
		_, _ = io.Copy(dst, c)
		_ = dst.(*net.TCPConn).CloseWrite()
	}()
	_, _ = io.Copy(c, dst)
}
