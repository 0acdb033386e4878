package dialer

import (
	"net"
	"time"

	"go.uber.org/zap"
)

type Config struct {
	DialTimeout time.Duration

	// NegotiationTimeout bounds TLS, CONNECT, SOCKS5 and SSH handshakes with
	// an upstream. Zero means no limit beyond the caller's context.
	NegotiationTimeout time.Duration

	KeepAlive net.KeepAliveConfig

	// SSHKeyPath is a private key file, "agent", or empty for password only.
	SSHKeyPath string

	// SSHKnownHostsPath enables host key checking with trust on first use.
	SSHKnownHostsPath string

	Log *zap.Logger
}
