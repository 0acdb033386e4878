// Package dialer opens the target side of rawprox relays, either directly or
// through an upstream proxy (HTTP CONNECT, SOCKS5 or SSH).
//
// The upstream only changes how the target is reached. The bytes a relay logs
// are always the client and target streams.
package dialer
