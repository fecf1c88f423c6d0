package network

import "github.com/micromayhem/mayhem/internal/protocol"

// SocketOptions are applied by ListenConfig before bind.
type SocketOptions struct {
	// ReuseAddr lets a restarted process take its port back immediately.
	ReuseAddr bool
	// RecvBuffer is the kernel receive buffer in bytes; 0 keeps the default.
	RecvBuffer int
}

// udpSocketOptions sizes the receive buffer to hold a full inbound queue
// of maximum-size datagrams.
func udpSocketOptions(queueSize int) SocketOptions {
	return SocketOptions{
		ReuseAddr:  true,
		RecvBuffer: queueSize * (protocol.HeaderSize + protocol.MaxPayload),
	}
}
