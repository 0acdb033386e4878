package dialer

import "net"

// NewDirectDialer connects to targets itself, with no upstream in between.
// Connect errors are *net.OpError values naming the target address.
func NewDirectDialer(cfg Config) Dialer {
	return &net.Dialer{Timeout: cfg.DialTimeout, KeepAliveConfig: cfg.KeepAlive}
}
