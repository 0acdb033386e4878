//go:build !unix

package proxy

import "syscall"

func socketBufferControl(int) func(network, address string, c syscall.RawConn) error {
	return nil
}
