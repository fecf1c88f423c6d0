//go:build !linux && !windows

package network

import "net"

// ListenConfig returns a plain net.ListenConfig; socket options are left
// to the platform defaults.
func ListenConfig(opts SocketOptions) net.ListenConfig {
	return net.ListenConfig{}
}
