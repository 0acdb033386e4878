// Package socks5 speaks the SOCKS5 CONNECT handshake on top of the wire
// types in github.com/txthinking/socks5.
//
// The client side lets rawprox reach targets through a SOCKS5 upstream. The
// server side is the minimum needed to stand up an upstream in tests.
package socks5
