package ssh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/sync/singleflight"
)

// ContextDialer reaches the SSH server itself.
type ContextDialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

type ClientConfig struct {
	Username string
	Password string
	Signers  []ssh.Signer

	HostKeyCallback ssh.HostKeyCallback

	// NegotiationTimeout bounds the SSH handshake. Zero means no limit.
	NegotiationTimeout time.Duration
}

// Client multiplexes tunneled connections over one SSH transport.
type Client struct {
	addr   string
	cfg    ClientConfig
	dialer ContextDialer

	mu   sync.Mutex
	conn *ssh.Client
	sf   singleflight.Group
}

// NewClient validates cfg and returns a Client for the server at addr. No
// connection is made until the first DialContext.
func NewClient(addr string, cfg ClientConfig, d ContextDialer) (*Client, error) {
	switch {
	case addr == "":
		return nil, errors.New("ssh: missing ssh address")
	case cfg.Username == "":
		return nil, errors.New("ssh: missing username")
	case cfg.Password == "" && len(cfg.Signers) == 0:
		return nil, errors.New("ssh: missing password or key")
	}
	if cfg.HostKeyCallback == nil {
		cfg.HostKeyCallback = ssh.InsecureIgnoreHostKey() //nolint:gosec // No known_hosts configured.
	}
	if d == nil {
		d = &net.Dialer{}
	}
	return &Client{addr: addr, cfg: cfg, dialer: d}, nil
}

// Addr returns the SSH server address.
func (c *Client) Addr() string {
	return c.addr
}

// DialContext opens a direct-tcpip channel to address. Canceling ctx closes
// only the returned channel, never the shared transport.
func (c *Client) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if !strings.HasPrefix(network, "tcp") {
		return nil, fmt.Errorf("ssh dial %s %s: unsupported network", network, address)
	}

	conn, err := c.transport(ctx)
	if err != nil {
		return nil, err
	}

	ch, err := conn.DialContext(ctx, "tcp", address)
	if err != nil {
		// The transport is fine; the server could not reach address.
		var openErr *ssh.OpenChannelError
		if errors.As(err, &openErr) {
			return nil, fmt.Errorf("ssh dial %s: %w", address, err)
		}

		c.invalidate(conn)
		conn, err2 := c.transport(ctx)
		if err2 != nil {
			return nil, fmt.Errorf("ssh dial %s: %w", address, err)
		}
		ch, err = conn.DialContext(ctx, "tcp", address)
		if err != nil {
			return nil, fmt.Errorf("ssh dial %s: %w", address, err)
		}
	}

	stop := context.AfterFunc(ctx, func() {
		_ = ch.Close()
	})
	return &channelConn{Conn: ch, stop: stop}, nil
}

// Close tears down the shared transport. Open channels fail afterwards.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// transport returns the shared SSH connection, establishing it if needed.
// Concurrent callers share one handshake; a caller whose ctx ends stops
// waiting but the handshake continues for the others.
func (c *Client) transport(ctx context.Context) (*ssh.Client, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		return conn, nil
	}

	ch := c.sf.DoChan("connect", func() (any, error) {
		c.mu.Lock()
		if c.conn != nil {
			conn := c.conn
			c.mu.Unlock()
			return conn, nil
		}
		c.mu.Unlock()

		conn, err := c.handshake(context.Background())
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		return conn, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*ssh.Client), nil
	}
}

func (c *Client) handshake(ctx context.Context) (*ssh.Client, error) {
	tcp, err := c.dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return nil, fmt.Errorf("ssh transport dial: %w", err)
	}

	if c.cfg.NegotiationTimeout > 0 {
		_ = tcp.SetDeadline(time.Now().Add(c.cfg.NegotiationTimeout))
	}

	sc, chans, reqs, err := ssh.NewClientConn(tcp, c.addr, &ssh.ClientConfig{
		User:            c.cfg.Username,
		Auth:            c.cfg.AuthMethods(),
		HostKeyCallback: c.cfg.HostKeyCallback,
	})
	if err != nil {
		_ = tcp.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", c.addr, err)
	}

	if c.cfg.NegotiationTimeout > 0 {
		_ = tcp.SetDeadline(time.Time{})
	}
	return ssh.NewClient(sc, chans, reqs), nil
}

// invalidate drops conn if it is still the shared transport.
func (c *Client) invalidate(conn *ssh.Client) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	_ = conn.Close()
}

type channelConn struct {
	net.Conn
	stop func() bool
}

func (c *channelConn) Close() error {
	c.stop()
	return c.Conn.Close()
}

// CloseWrite sends EOF on the channel so the relay can half-close it.
func (c *channelConn) CloseWrite() error {
	if cw, ok := c.Conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return c.Conn.Close()
}
