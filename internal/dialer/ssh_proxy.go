package dialer

import (
	"fmt"

	"github.com/die-net/rawprox/internal/ssh"
)

// NewSSHProxyDialer returns a dialer that tunnels every target connection
// over one shared SSH transport to sshAddr.
//
// Password and key authentication may both be configured; the server picks.
// cfg.SSHKeyPath is a private key file or "agent". cfg.SSHKnownHostsPath, if
// set, enables host key checking with trust on first use.
func NewSSHProxyDialer(cfg Config, sshAddr, username, password string) (*ssh.Client, error) {
	signers, err := ssh.LoadSigners(cfg.SSHKeyPath)
	if err != nil {
		return nil, fmt.Errorf("ssh dialer: %w", err)
	}

	hostKeyCallback, err := ssh.NewHostKeyCallback(cfg.SSHKnownHostsPath, cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("ssh dialer: %w", err)
	}

	client, err := ssh.NewClient(sshAddr, ssh.ClientConfig{
		Username:           username,
		Password:           password,
		Signers:            signers,
		HostKeyCallback:    hostKeyCallback,
		NegotiationTimeout: cfg.NegotiationTimeout,
	}, NewDirectDialer(cfg))
	if err != nil {
		return nil, fmt.Errorf("ssh dialer: %w", err)
	}
	return client, nil
}
