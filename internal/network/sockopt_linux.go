//go:build linux

package network

import (
	"net"
	"syscall"
)

// ListenConfig returns a net.ListenConfig applying opts to the socket
// before it is bound.
func ListenConfig(opts SocketOptions) net.ListenConfig {
	return net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var opErr error
			err := c.Control(func(fd uintptr) {
				if opts.ReuseAddr {
					opErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
				}
				if opErr == nil && opts.RecvBuffer > 0 {
					// The kernel may clamp this to net.core.rmem_max.
					opErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_RCVBUF, opts.RecvBuffer)
				}
			})
			if err != nil {
				return err
			}
			return opErr
		},
	}
}
