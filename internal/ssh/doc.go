// Package ssh tunnels rawprox relays through an SSH server.
//
// A [Client] keeps one SSH transport and opens a "direct-tcpip" channel per
// DialContext call, the same way ssh -W or ssh -D do. The transport is
// established lazily, shared by every relay, and re-established once when a
// channel cannot be opened because the transport died.
//
// Authentication accepts a password, a private key file, or every key held by
// the running SSH agent (key path "agent"). Host keys are checked against a
// known_hosts file, adding unknown hosts on first use.
package ssh
