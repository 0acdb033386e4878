package proxy

import (
	"context"
	"fmt"
	"net"
)

// ListenTCP listens on addr and returns a net.Listener that applies
// keepAliveConfig to accepted TCP connections. A positive socketBuffer sizes
// the listening socket's kernel buffers, which accepted sockets inherit.
func ListenTCP(ctx context.Context, network, addr string, keepAliveConfig net.KeepAliveConfig, socketBuffer int) (net.Listener, error) {
	lc := net.ListenConfig{}
	if socketBuffer > 0 {
		lc.Control = socketBufferControl(socketBuffer)
	}

	ln, err := lc.Listen(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s %s: %w", network, addr, err)
	}

	return &KeepAliveListener{Listener: ln, KeepAliveConfig: keepAliveConfig}, nil
}

// KeepAliveListener wraps a net.Listener and applies KeepAliveConfig to any
// accepted *net.TCPConn.
type KeepAliveListener struct {
	net.Listener
	net.KeepAliveConfig
}

func (l *KeepAliveListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}

	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetKeepAliveConfig(l.KeepAliveConfig)
	}

	return conn, nil
}
